// Package payload packs a set of files plus provenance metadata into a single
// self-describing byte buffer and parses such buffers back.
//
// Layout (all integers big-endian):
//
//	version(1) ‖ author_len(2) author ‖ created(8, epoch seconds)
//	‖ [version 2 and 3: token_len(1) token]
//	‖ file_count(2) ‖ { entry }*
//	‖ sha256(32) over every preceding byte
//
// where a version 1 or 2 entry is
//
//	name_len(2) name ‖ content_len(8) content
//
// and a version 3 entry is
//
//	name_len(2) name ‖ method(1) ‖ content_len(8) ‖ stored_len(8) stored
//
// with content_len the original size and stored the content after method.
//
// Lengths are always explicit, so names and contents may hold any bytes.
package payload

import (
	"crypto/sha256"
	"fmt"
	"math"
	"time"

	"github.com/atinyakov/GophStego/internal/models"
)

const (
	// Version1 is the plain container layout.
	Version1 uint8 = 1
	// Version2 adds an access-password verification token after the timestamp.
	Version2 uint8 = 2
	// Version3 stores each file either as is or DEFLATE compressed.
	Version3 uint8 = 3

	// MaxAuthorLen bounds the author field in bytes.
	MaxAuthorLen = 255
	// MaxNameLen bounds a file name in bytes.
	MaxNameLen = 255
	// DigestSize is the size of the trailing digest.
	DigestSize = sha256.Size

	// fixed part: version + author_len + created + file_count + digest
	fixedOverhead = 1 + 2 + 8 + 2 + DigestSize
	// per file: name_len + content_len
	perFileOverhead = 2 + 8
	// extra per file in version 3: method + stored_len
	perFileV3Overhead = 1 + 8
)

// File is a single named file carried by a container.
type File struct {
	// Name is the bare file name, without any directory component.
	Name string `json:"name"`
	// Content is the raw file content.
	Content []byte `json:"-"`
}

// Container is the logical payload hidden inside a carrier.
type Container struct {
	// Author is optional provenance text.
	Author string
	// Created is the creation time, stored with one second resolution.
	Created time.Time
	// Token is the optional access-password verification token (see NewAccessToken).
	Token []byte
	// Files are the carried files in order.
	Files []File
	// Compress selects the version 3 layout, which deflates each file whose
	// content shrinks.
	Compress bool
}

// Header is the part of a container that describes it without file contents.
// Sizes are original file sizes, also for compressed entries; Compressed
// reports the version 3 layout.
type Header struct {
	Version    uint8     `json:"version"`
	Author     string    `json:"author"`
	Created    time.Time `json:"created"`
	Protected  bool      `json:"protected"`
	Compressed bool      `json:"compressed"`
	FileCount  int       `json:"file_count"`
	Names      []string  `json:"names"`
	Sizes      []int64   `json:"sizes"`

	token []byte
}

// Token returns the access-password token stored in the container, or nil.
func (h *Header) Token() []byte { return h.token }

// TotalSize returns the sum of all file sizes.
func (h *Header) TotalSize() int64 {
	var n int64
	for _, s := range h.Sizes {
		n += s
	}
	return n
}

// Version returns the layout version Pack will emit for c.
func (c *Container) Version() uint8 {
	if c.Compress {
		return Version3
	}
	if len(c.Token) > 0 {
		return Version2
	}
	return Version1
}

// Size returns the number of bytes Pack produces for c. It is exact for
// versions 1 and 2 and an upper bound for version 3, where compressed
// entries come out smaller.
func (c *Container) Size() int {
	v := c.Version()
	n := fixedOverhead + len(c.Author)
	if v != Version1 {
		n += 1 + len(c.Token)
	}
	for _, f := range c.Files {
		n += perFileOverhead + len(f.Name) + len(f.Content)
		if v == Version3 {
			n += perFileV3Overhead
		}
	}
	return n
}

// Overhead returns the bytes a container adds on top of its file contents
// for the given author, token and file names.
func Overhead(author string, token []byte, names []string) int {
	c := Container{Author: author, Token: token, Files: make([]File, len(names))}
	for i, n := range names {
		c.Files[i].Name = n
	}
	return c.Size()
}

// Header describes c the way UnpackHeader would.
func (c *Container) Header() *Header {
	h := &Header{
		Version:    c.Version(),
		Author:     c.Author,
		Created:    c.Created,
		Protected:  len(c.Token) > 0,
		Compressed: c.Compress,
		FileCount:  len(c.Files),
		Names:      make([]string, len(c.Files)),
		Sizes:      make([]int64, len(c.Files)),
		token:      c.Token,
	}
	for i, f := range c.Files {
		h.Names[i] = f.Name
		h.Sizes[i] = int64(len(f.Content))
	}
	return h
}

// ContentSize returns the sum of all file content sizes.
func (c *Container) ContentSize() int64 {
	var n int64
	for _, f := range c.Files {
		n += int64(len(f.Content))
	}
	return n
}

func limit(maxFiles int) int {
	if maxFiles <= 0 || maxFiles > math.MaxUint16 {
		return math.MaxUint16
	}
	return maxFiles
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{models.ErrMalformedContainer}, args...)...)
}
