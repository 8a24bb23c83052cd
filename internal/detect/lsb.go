package detect

import (
	"fmt"
	"math"

	"github.com/atinyakov/GophStego/internal/carrier"
	"github.com/atinyakov/GophStego/internal/carrier/lsb"
	"github.com/atinyakov/GophStego/internal/envelope"
	"github.com/atinyakov/GophStego/internal/payload"
)

// minHidden is the smallest stream an embed can produce: a key-mode AES-GCM
// envelope around a container with one file of one byte name.
var minHidden = 12 + envelope.TagSize + payload.Overhead("", nil, []string{"x"})

// LSBHeader reads the 32-bit length header from the LSB plane. A value that
// is at least minHidden and fits the image is unlikely by chance.
type LSBHeader struct{}

// Name implements Analyzer.
func (LSBHeader) Name() string { return "lsb-header" }

// Description implements Analyzer.
func (LSBHeader) Description() string {
	return "length header in the RGB least significant bits"
}

// Kinds implements Analyzer.
func (LSBHeader) Kinds() []carrier.Kind { return []carrier.Kind{carrier.Image} }

// Analyze implements Analyzer.
func (LSBHeader) Analyze(data []byte) (Finding, error) {
	img, _, err := carrier.Decode(data)
	if err != nil {
		return Finding{}, err
	}
	capacity := lsb.CapacityOf(img)
	n, err := lsb.Length(img)
	if err != nil {
		return Finding{Details: "image too small for a length header"}, nil
	}
	if int64(n) < int64(minHidden) || int64(n) > int64(capacity) {
		return Finding{Details: fmt.Sprintf("length header %d outside %d..%d", n, minHidden, capacity)}, nil
	}

	// chance that noise lands in the plausible range
	chance := float64(capacity-minHidden+1) / float64(math.MaxUint32)
	return Finding{
		Detected:    true,
		Confidence:  1 - chance,
		PayloadSize: int64(n),
		Details:     fmt.Sprintf("length header declares %d of %d bytes", n, capacity),
	}, nil
}

// LSBEntropy measures the Shannon entropy of the RGB least significant bits.
// Natural images rarely come this close to a fair coin, but noise does, so a
// positive result is weak evidence on its own.
type LSBEntropy struct{}

// entropyLimit is the entropy from which the plane is reported.
const entropyLimit = 0.999

// Name implements Analyzer.
func (LSBEntropy) Name() string { return "lsb-entropy" }

// Description implements Analyzer.
func (LSBEntropy) Description() string {
	return "entropy of the RGB least significant bit plane"
}

// Kinds implements Analyzer.
func (LSBEntropy) Kinds() []carrier.Kind { return []carrier.Kind{carrier.Image} }

// Analyze implements Analyzer.
func (LSBEntropy) Analyze(data []byte) (Finding, error) {
	img, _, err := carrier.Decode(data)
	if err != nil {
		return Finding{}, err
	}
	ones, total := lsb.Ones(img, 0)
	if total == 0 {
		return Finding{Details: "empty image"}, nil
	}
	h := entropy(float64(ones) / float64(total))
	f := Finding{Details: fmt.Sprintf("entropy %.4f over %d samples", h, total)}
	if h >= entropyLimit {
		f.Detected = true
		f.Confidence = 0.3
	}
	return f, nil
}

func entropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}
