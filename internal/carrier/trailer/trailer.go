// Package trailer hides a byte stream after the terminator of a GIF stream.
//
// The output is the original GIF up to and including its 0x3B terminator,
// followed by Magic, an 8 byte big-endian length and the data. Decoders stop
// at the terminator, so frames and playback are unaffected.
package trailer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/atinyakov/GophStego/internal/models"
)

// Magic marks a trailer written by Embed.
var Magic = []byte("\xDE\xAD\xBE\xEFGSTG")

const (
	// HeaderSize is the size of Magic plus the length field.
	HeaderSize = 8 + 8

	// Unbounded is returned by Capacity when no policy cap applies.
	Unbounded = -1

	blockTrailer    = 0x3B
	blockImage      = 0x2C
	blockExtension  = 0x21
	headerLen       = 6
	screenDescLen   = 7
	imageDescLen    = 10
	colorTableFlag  = 0x80
	colorTableSizes = 0x07
)

// Capacity returns the policy cap for a GIF of originalSize bytes: ratio
// times the original size, or Unbounded when ratio is not positive.
func Capacity(originalSize int, ratio float64) int {
	if ratio <= 0 {
		return Unbounded
	}
	return int(float64(originalSize) * ratio)
}

// StreamEnd walks the GIF block structure and returns the offset just past
// the stream terminator. Bytes after that offset are not part of the image.
func StreamEnd(gif []byte) (int, error) {
	if len(gif) < headerLen+screenDescLen {
		return 0, corrupt("file too short")
	}
	if sig := string(gif[:headerLen]); sig != "GIF87a" && sig != "GIF89a" {
		return 0, fmt.Errorf("%w: missing GIF signature", models.ErrUnsupportedFormat)
	}

	pos := headerLen
	packed := gif[pos+4]
	pos += screenDescLen
	if packed&colorTableFlag != 0 {
		pos += colorTableLen(packed)
	}

	for pos < len(gif) {
		switch gif[pos] {
		case blockTrailer:
			return pos + 1, nil
		case blockExtension:
			next, err := skipSubBlocks(gif, pos+2)
			if err != nil {
				return 0, err
			}
			pos = next
		case blockImage:
			if pos+imageDescLen > len(gif) {
				return 0, corrupt("truncated image descriptor")
			}
			packed := gif[pos+9]
			pos += imageDescLen
			if packed&colorTableFlag != 0 {
				pos += colorTableLen(packed)
			}
			// LZW minimum code size, then the image data sub-blocks
			next, err := skipSubBlocks(gif, pos+1)
			if err != nil {
				return 0, err
			}
			pos = next
		default:
			return 0, corrupt(fmt.Sprintf("unexpected block 0x%02x at offset %d", gif[pos], pos))
		}
	}
	return 0, corrupt("missing terminator")
}

// Embed returns a new GIF carrying data. Anything after the original stream
// terminator, including an older trailer, is dropped. gif is not modified.
func Embed(gif, data []byte) ([]byte, error) {
	end, err := StreamEnd(gif)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, end+HeaderSize+len(data))
	out = append(out, gif[:end]...)
	out = append(out, Magic...)
	out = binary.BigEndian.AppendUint64(out, uint64(len(data)))
	return append(out, data...), nil
}

// Extract scans backwards for Magic and returns the data it frames.
// A marker whose length reaches exactly to the end of the file is preferred,
// so marker bytes occurring by chance inside the data are skipped.
func Extract(gif []byte) ([]byte, error) {
	first := -1
	end := len(gif)
	for {
		i := bytes.LastIndex(gif[:end], Magic)
		if i < 0 {
			break
		}
		if first < 0 {
			first = i
		}
		if n, ok := declared(gif, i); ok && uint64(len(gif)-i-HeaderSize) == n {
			return gif[i+HeaderSize:], nil
		}
		end = i + len(Magic) - 1
	}

	if first < 0 {
		return nil, models.ErrNoHiddenData
	}
	n, ok := declared(gif, first)
	if !ok {
		return nil, fmt.Errorf("%w: trailer length header truncated", models.ErrMalformedContainer)
	}
	start := first + HeaderSize
	if n > uint64(len(gif)-start) {
		return nil, fmt.Errorf("%w: trailer declares %d bytes, %d present", models.ErrMalformedContainer, n, len(gif)-start)
	}
	return gif[start : start+int(n)], nil
}

func declared(gif []byte, at int) (uint64, bool) {
	if at+HeaderSize > len(gif) {
		return 0, false
	}
	return binary.BigEndian.Uint64(gif[at+len(Magic) : at+HeaderSize]), true
}

func colorTableLen(packed byte) int {
	return 3 * (1 << ((packed & colorTableSizes) + 1))
}

func skipSubBlocks(gif []byte, pos int) (int, error) {
	for {
		if pos >= len(gif) {
			return 0, corrupt("truncated data sub-block")
		}
		size := int(gif[pos])
		pos++
		if size == 0 {
			return pos, nil
		}
		pos += size
	}
}

func corrupt(msg string) error {
	return fmt.Errorf("%w: corrupt GIF stream: %s", models.ErrUnsupportedFormat, msg)
}
