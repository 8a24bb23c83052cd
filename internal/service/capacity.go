package service

import (
	"time"

	"github.com/atinyakov/GophStego/internal/carrier"
	"github.com/atinyakov/GophStego/internal/carrier/trailer"
	"github.com/atinyakov/GophStego/internal/envelope"
	"github.com/atinyakov/GophStego/internal/payload"
)

// Calibration factors applied on top of the linear throughput model.
const (
	embedFactor   = 1.10
	extractFactor = 1.05
)

// CapacityReport describes how much a carrier can hold.
type CapacityReport struct {
	Kind   string         `json:"kind"`
	Format carrier.Format `json:"format"`
	// Capacity is the number of hidden bytes the carrier takes, envelope
	// included. Zero with Unbounded set means there is no limit.
	Capacity  int  `json:"capacity"`
	Unbounded bool `json:"unbounded"`
	// Usable is the largest single file, with a one byte name and no author,
	// that fits when a password is used.
	Usable   int `json:"usable"`
	MaxFiles int `json:"max_files"`
}

// EstimateCapacity inspects a carrier without modifying it.
func (s *StegoService) EstimateCapacity(data []byte) (*CapacityReport, error) {
	kind, format, codec, err := s.codecFor(data)
	if err != nil {
		return nil, err
	}
	capacity, err := codec.Capacity(data)
	if err != nil {
		return nil, err
	}

	r := &CapacityReport{Kind: kind.String(), Format: format, MaxFiles: kind.MaxFiles()}
	if capacity == trailer.Unbounded {
		r.Unbounded = true
		return r, nil
	}
	r.Capacity = capacity
	overhead := s.sealer.Overhead(envelope.KeyMaterial{Password: "x"}) + payload.Overhead("", nil, []string{"x"})
	if usable := capacity - overhead; usable > 0 {
		r.Usable = usable
	}
	return r, nil
}

// EstimateTime predicts how long op takes for totalBytes of file content on
// a carrier of kind. It is a display aid only.
func (s *StegoService) EstimateTime(kind carrier.Kind, op Stage, totalBytes int64) time.Duration {
	throughput := s.cfg.ImageThroughput
	if kind == carrier.Gif {
		throughput = s.cfg.GifThroughput
	}
	factor := extractFactor
	if op == StageEmbed {
		factor = embedFactor
	}
	seconds := float64(totalBytes) / throughput * factor
	return time.Duration(seconds * float64(time.Second))
}
