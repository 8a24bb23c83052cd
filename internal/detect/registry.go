// Package detect inspects carriers for hidden data without any key. Each
// Analyzer looks for one kind of trace and reports a Finding; a Registry
// runs every analyzer registered for the carrier's kind.
package detect

import (
	"fmt"
	"sort"
	"sync"

	"github.com/atinyakov/GophStego/internal/carrier"
)

// SuspicionThreshold is the confidence from which a positive finding marks
// the whole report as suspicious.
const SuspicionThreshold = 0.5

// Finding is the verdict of a single analyzer. PayloadSize is the size the
// hidden data claims, when known.
type Finding struct {
	Analyzer    string  `json:"analyzer"`
	Detected    bool    `json:"detected"`
	Confidence  float64 `json:"confidence"`
	PayloadSize int64   `json:"payload_size,omitempty"`
	Details     string  `json:"details,omitempty"`
}

// Report collects the findings for one carrier.
type Report struct {
	Kind       string    `json:"kind"`
	Format     string    `json:"format"`
	Suspicious bool      `json:"suspicious"`
	Findings   []Finding `json:"findings"`
}

// Analyzer looks for one kind of trace in a carrier.
type Analyzer interface {
	// Name identifies the analyzer in findings.
	Name() string
	// Description is a one-line human readable summary.
	Description() string
	// Kinds lists the carrier kinds the analyzer understands.
	Kinds() []carrier.Kind
	// Analyze inspects data, which is known to be of one of Kinds.
	Analyze(data []byte) (Finding, error)
}

// Registry maps carrier kinds to analyzers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[carrier.Kind][]Analyzer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[carrier.Kind][]Analyzer)}
}

// Default returns a registry with every built-in analyzer.
func Default() *Registry {
	r := NewRegistry()
	r.Register(LSBHeader{})
	r.Register(LSBEntropy{})
	r.Register(Trailer{})
	return r
}

// Register adds a under each of its kinds.
func (r *Registry) Register(a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range a.Kinds() {
		r.analyzers[k] = append(r.analyzers[k], a)
	}
}

// For returns the analyzers registered for k in registration order.
func (r *Registry) For(k carrier.Kind) []Analyzer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Analyzer(nil), r.analyzers[k]...)
}

// Kinds returns the carrier kinds that have at least one analyzer.
func (r *Registry) Kinds() []carrier.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]carrier.Kind, 0, len(r.analyzers))
	for k := range r.analyzers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Scan detects the carrier format and runs every analyzer for its kind.
// An analyzer error fails the scan; unsupported carriers return
// ErrUnsupportedFormat from carrier.Detect.
func (r *Registry) Scan(data []byte) (*Report, error) {
	kind, format, err := carrier.Detect(data)
	if err != nil {
		return nil, err
	}

	report := &Report{Kind: kind.String(), Format: string(format), Findings: []Finding{}}
	for _, a := range r.For(kind) {
		f, err := a.Analyze(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.Name(), err)
		}
		f.Analyzer = a.Name()
		report.Findings = append(report.Findings, f)
		if f.Detected && f.Confidence >= SuspicionThreshold {
			report.Suspicious = true
		}
	}
	return report, nil
}
