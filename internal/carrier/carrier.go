// Package carrier detects carrier formats and dispatches to the codec of
// each carrier kind.
package carrier

import (
	"bytes"
	"fmt"

	"github.com/atinyakov/GophStego/internal/models"
)

// Kind is the closed set of carrier kinds.
type Kind int

const (
	// Image carriers hide data in pixel LSBs.
	Image Kind = iota + 1
	// Gif carriers hide data after the stream terminator.
	Gif
)

// String returns "image" or "gif".
func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Gif:
		return "gif"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MaxFiles is the number of files a container for this kind may hold.
func (k Kind) MaxFiles() int {
	switch k {
	case Image:
		return 20
	case Gif:
		return 40
	}
	return 0
}

// ParseKind parses the String form of a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "image":
		return Image, nil
	case "gif":
		return Gif, nil
	}
	return 0, fmt.Errorf("%w: unknown carrier kind %q", models.ErrInvalidInput, s)
}

// Format is a concrete file format.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	GIF  Format = "gif"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
	WebP Format = "webp"
)

// Ext returns the usual file extension, with the dot.
func (f Format) Ext() string {
	if f == JPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	return "image/" + string(f)
}

var signatures = []struct {
	format Format
	magic  []byte
}{
	{PNG, []byte("\x89PNG\r\n\x1a\n")},
	{JPEG, []byte("\xFF\xD8\xFF")},
	{GIF, []byte("GIF87a")},
	{GIF, []byte("GIF89a")},
	{TIFF, []byte("II*\x00")},
	{TIFF, []byte("MM\x00*")},
	{BMP, []byte("BM")},
}

// Detect identifies a carrier from its leading bytes.
func Detect(data []byte) (Kind, Format, error) {
	for _, s := range signatures {
		if bytes.HasPrefix(data, s.magic) {
			if s.format == GIF {
				return Gif, GIF, nil
			}
			return Image, s.format, nil
		}
	}
	if len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return Image, WebP, nil
	}
	return 0, "", models.ErrUnsupportedFormat
}

// OutputFormat is the lossless format an image carrier of format in is
// written back as. Lossy and decode-only inputs become PNG.
func OutputFormat(in Format) Format {
	switch in {
	case BMP, TIFF:
		return in
	}
	return PNG
}

// Codec embeds and extracts data in one kind of carrier. Implementations
// never modify the carrier slice they are given.
type Codec interface {
	// Kind reports which carrier kind the codec handles.
	Kind() Kind
	// Capacity returns the number of data bytes the carrier can take, or
	// trailer.Unbounded when no limit applies.
	Capacity(carrier []byte) (int, error)
	// Embed returns a new carrier holding data.
	Embed(carrier, data []byte) ([]byte, error)
	// Extract returns the data held by the carrier.
	Extract(carrier []byte) ([]byte, error)
}

// Options configures the codecs.
type Options struct {
	// GifCapRatio caps GIF trailers at this multiple of the original GIF size;
	// zero or negative means no cap.
	GifCapRatio float64
}

// For returns the codec for k.
func For(k Kind, opts Options) (Codec, error) {
	switch k {
	case Image:
		return ImageCodec{}, nil
	case Gif:
		return GifCodec{CapRatio: opts.GifCapRatio}, nil
	}
	return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, k)
}
