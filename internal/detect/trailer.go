package detect

import (
	"errors"
	"fmt"

	"github.com/atinyakov/GophStego/internal/carrier"
	"github.com/atinyakov/GophStego/internal/carrier/trailer"
	"github.com/atinyakov/GophStego/internal/models"
)

// Trailer looks for bytes after the GIF stream terminator and for the
// trailer marker.
type Trailer struct{}

// Name implements Analyzer.
func (Trailer) Name() string { return "gif-trailer" }

// Description implements Analyzer.
func (Trailer) Description() string { return "data after the GIF stream terminator" }

// Kinds implements Analyzer.
func (Trailer) Kinds() []carrier.Kind { return []carrier.Kind{carrier.Gif} }

// Analyze implements Analyzer.
func (Trailer) Analyze(data []byte) (Finding, error) {
	end, err := trailer.StreamEnd(data)
	if err != nil {
		return Finding{}, err
	}
	extra := len(data) - end
	if extra == 0 {
		return Finding{Details: "nothing after the stream terminator"}, nil
	}

	hidden, err := trailer.Extract(data[end:])
	switch {
	case err == nil:
		return Finding{
			Detected:    true,
			Confidence:  1,
			PayloadSize: int64(len(hidden)),
			Details:     fmt.Sprintf("trailer marker framing %d bytes", len(hidden)),
		}, nil
	case errors.Is(err, models.ErrMalformedContainer):
		return Finding{
			Detected:   true,
			Confidence: 0.9,
			Details:    fmt.Sprintf("truncated trailer in %d bytes after the terminator", extra),
		}, nil
	case errors.Is(err, models.ErrNoHiddenData):
		return Finding{
			Detected:   true,
			Confidence: 0.6,
			Details:    fmt.Sprintf("%d unmarked bytes after the stream terminator", extra),
		}, nil
	}
	return Finding{}, err
}
