package payload

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
)

// Storage methods of a version 3 file entry.
const (
	// MethodStore keeps the content as is.
	MethodStore uint8 = 0
	// MethodDeflate stores the content as a raw DEFLATE stream.
	MethodDeflate uint8 = 1

	// maxDeflateRatio bounds how far a DEFLATE stream can expand.
	maxDeflateRatio = 1032
)

// deflate compresses data and returns it with MethodDeflate only when the
// result is smaller than the input.
func deflate(data []byte) (uint8, []byte, error) {
	if len(data) == 0 {
		return MethodStore, data, nil
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return 0, nil, fmt.Errorf("deflate: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return 0, nil, fmt.Errorf("deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, nil, fmt.Errorf("deflate: %w", err)
	}
	if buf.Len() >= len(data) {
		return MethodStore, data, nil
	}
	return MethodDeflate, buf.Bytes(), nil
}

// checkEntry validates the framing of an entry whose original length is size
// without inflating it.
func checkEntry(method uint8, stored []byte, size uint64) error {
	switch method {
	case MethodStore:
		if uint64(len(stored)) != size {
			return malformed("stored entry holds %d bytes, declares %d", len(stored), size)
		}
	case MethodDeflate:
		if size > uint64(len(stored))*maxDeflateRatio+64 {
			return malformed("entry of %d bytes cannot inflate to %d", len(stored), size)
		}
	default:
		return malformed("unknown storage method %d", method)
	}
	return nil
}

// inflate restores a deflated entry whose original length is size.
func inflate(stored []byte, size uint64) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(stored))
	defer r.Close()
	// read one byte past size to notice streams that inflate to more
	out, err := io.ReadAll(io.LimitReader(r, int64(size)+1))
	if err != nil {
		return nil, malformed("inflate: %v", err)
	}
	if uint64(len(out)) != size {
		return nil, malformed("entry inflates to %d bytes, declares %d", len(out), size)
	}
	return out, nil
}
