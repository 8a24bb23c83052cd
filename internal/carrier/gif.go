package carrier

import (
	"fmt"

	"github.com/atinyakov/GophStego/internal/carrier/trailer"
	"github.com/atinyakov/GophStego/internal/models"
)

// GifCodec appends data after the GIF stream terminator.
type GifCodec struct {
	// CapRatio caps the trailer at this multiple of the GIF size; 0 disables it.
	CapRatio float64
}

// Kind implements Codec.
func (GifCodec) Kind() Kind { return Gif }

// Capacity returns the policy cap, measured against the GIF stream without
// any existing trailer.
func (c GifCodec) Capacity(carrier []byte) (int, error) {
	end, err := trailer.StreamEnd(carrier)
	if err != nil {
		return 0, err
	}
	return trailer.Capacity(end, c.CapRatio), nil
}

// Embed implements Codec.
func (c GifCodec) Embed(carrier, data []byte) ([]byte, error) {
	capacity, err := c.Capacity(carrier)
	if err != nil {
		return nil, err
	}
	if capacity != trailer.Unbounded && len(data) > capacity {
		return nil, fmt.Errorf("%w: %d bytes requested, policy allows %d", models.ErrCapacityExceeded, len(data), capacity)
	}
	return trailer.Embed(carrier, data)
}

// Extract implements Codec.
func (GifCodec) Extract(carrier []byte) ([]byte, error) {
	return trailer.Extract(carrier)
}
