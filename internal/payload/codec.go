package payload

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/atinyakov/GophStego/internal/models"
)

// Pack serializes c. File names are normalized to NFC on the way in, so the
// names returned by Unpack may differ in byte form from the ones supplied.
//
//	c:        container to serialize; Created is truncated to whole seconds
//	maxFiles: file limit of the target carrier kind
//
// Returns ErrFileLimitExceeded when c has more than maxFiles files and
// ErrInvalidInput for empty, oversized or unsafe names and authors.
func Pack(c *Container, maxFiles int) ([]byte, error) {
	if len(c.Files) == 0 {
		return nil, fmt.Errorf("%w: no files to pack", models.ErrInvalidInput)
	}
	if len(c.Files) > limit(maxFiles) {
		return nil, fmt.Errorf("%w: %d files, at most %d allowed", models.ErrFileLimitExceeded, len(c.Files), limit(maxFiles))
	}
	if len(c.Author) > MaxAuthorLen || !utf8.ValidString(c.Author) {
		return nil, fmt.Errorf("%w: author must be valid UTF-8 of at most %d bytes", models.ErrInvalidInput, MaxAuthorLen)
	}
	if len(c.Token) > 255 {
		return nil, fmt.Errorf("%w: access token too long", models.ErrInvalidInput)
	}

	names := make([]string, len(c.Files))
	seen := make(map[string]struct{}, len(c.Files))
	for i, f := range c.Files {
		name, err := NormalizeName(f.Name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate file name %q", models.ErrInvalidInput, name)
		}
		seen[name] = struct{}{}
		names[i] = name
	}

	normalized := *c
	normalized.Files = make([]File, len(c.Files))
	for i, f := range c.Files {
		normalized.Files[i] = File{Name: names[i], Content: f.Content}
	}

	buf := make([]byte, 0, normalized.Size())
	buf = append(buf, normalized.Version())
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Author)))
	buf = append(buf, c.Author...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.Created.Unix()))
	version := normalized.Version()
	if version != Version1 {
		buf = append(buf, byte(len(c.Token)))
		buf = append(buf, c.Token...)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(normalized.Files)))
	for _, f := range normalized.Files {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(f.Name)))
		buf = append(buf, f.Name...)
		if version == Version3 {
			method, stored, err := deflate(f.Content)
			if err != nil {
				return nil, err
			}
			buf = append(buf, method)
			buf = binary.BigEndian.AppendUint64(buf, uint64(len(f.Content)))
			buf = binary.BigEndian.AppendUint64(buf, uint64(len(stored)))
			buf = append(buf, stored...)
			continue
		}
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(f.Content)))
		buf = append(buf, f.Content...)
	}
	sum := sha256.Sum256(buf)
	return append(buf, sum[:]...), nil
}

// Unpack parses a buffer produced by Pack. It performs no I/O.
// Stored file contents alias buf; deflated ones are inflated into new slices.
//
// Returns ErrIntegrityCheckFailed when the trailing digest does not match and
// ErrMalformedContainer for any structural problem.
func Unpack(buf []byte, maxFiles int) (*Container, error) {
	h, files, err := parse(buf, maxFiles, true)
	if err != nil {
		return nil, err
	}
	return &Container{
		Author:   h.Author,
		Created:  h.Created,
		Token:    h.token,
		Files:    files,
		Compress: h.Compressed,
	}, nil
}

// UnpackHeader validates buf like Unpack but returns only the header
// fields, file names and original sizes, never the file contents.
// Deflated entries are not inflated.
func UnpackHeader(buf []byte, maxFiles int) (*Header, error) {
	h, _, err := parse(buf, maxFiles, false)
	return h, err
}

func parse(buf []byte, maxFiles int, withContents bool) (*Header, []File, error) {
	if len(buf) < fixedOverhead {
		return nil, nil, malformed("container is %d bytes, shorter than the %d byte minimum", len(buf), fixedOverhead)
	}
	body, digest := buf[:len(buf)-DigestSize], buf[len(buf)-DigestSize:]
	sum := sha256.Sum256(body)
	if subtle.ConstantTimeCompare(sum[:], digest) != 1 {
		return nil, nil, models.ErrIntegrityCheckFailed
	}

	r := &reader{buf: body}
	version, err := r.uint8()
	if err != nil {
		return nil, nil, err
	}
	if version < Version1 || version > Version3 {
		return nil, nil, malformed("unknown version %d", version)
	}
	h := &Header{Version: version, Compressed: version == Version3}

	authorLen, err := r.uint16()
	if err != nil {
		return nil, nil, err
	}
	author, err := r.take(int(authorLen))
	if err != nil {
		return nil, nil, err
	}
	if !utf8.Valid(author) {
		return nil, nil, malformed("author is not valid UTF-8")
	}
	h.Author = string(author)

	created, err := r.uint64()
	if err != nil {
		return nil, nil, err
	}
	h.Created = time.Unix(int64(created), 0).UTC()

	if version != Version1 {
		tokenLen, err := r.uint8()
		if err != nil {
			return nil, nil, err
		}
		token, err := r.take(int(tokenLen))
		if err != nil {
			return nil, nil, err
		}
		if len(token) > 0 {
			h.token = token
			h.Protected = true
		}
	}

	count, err := r.uint16()
	if err != nil {
		return nil, nil, err
	}
	if int(count) > limit(maxFiles) {
		return nil, nil, malformed("file count %d exceeds maximum %d", count, limit(maxFiles))
	}
	h.FileCount = int(count)
	h.Names = make([]string, 0, count)
	h.Sizes = make([]int64, 0, count)

	var files []File
	if withContents {
		files = make([]File, 0, count)
	}
	for i := 0; i < int(count); i++ {
		nameLen, err := r.uint16()
		if err != nil {
			return nil, nil, err
		}
		name, err := r.take(int(nameLen))
		if err != nil {
			return nil, nil, err
		}
		if err := checkStoredName(string(name)); err != nil {
			return nil, nil, err
		}
		method := MethodStore
		if version == Version3 {
			if method, err = r.uint8(); err != nil {
				return nil, nil, err
			}
		}
		size, err := r.uint64()
		if err != nil {
			return nil, nil, err
		}
		stored := size
		if version == Version3 {
			if stored, err = r.uint64(); err != nil {
				return nil, nil, err
			}
		}
		if stored > uint64(r.remaining()) {
			return nil, nil, malformed("file %d declares %d bytes, %d remain", i, stored, r.remaining())
		}
		content, _ := r.take(int(stored))
		if err := checkEntry(method, content, size); err != nil {
			return nil, nil, err
		}
		if withContents && method == MethodDeflate {
			if content, err = inflate(content, size); err != nil {
				return nil, nil, err
			}
		}

		h.Names = append(h.Names, string(name))
		h.Sizes = append(h.Sizes, int64(size))
		if withContents {
			files = append(files, File{Name: string(name), Content: content})
		}
	}
	if r.remaining() != 0 {
		return nil, nil, malformed("%d trailing bytes after last file", r.remaining())
	}
	return h, files, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, malformed("field of %d bytes at offset %d runs past end of buffer", n, r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}
