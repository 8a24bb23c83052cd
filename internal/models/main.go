// Package models defines the shared data structures and error taxonomy for
// hiding files in carriers and recording the operations performed.
package models

import "time"

// Operation names a kind of engine operation recorded in history.
type Operation string

const (
	// OpEmbed hides files inside a carrier.
	OpEmbed Operation = "embed"
	// OpExtract recovers files from a carrier.
	OpExtract Operation = "extract"
	// OpPeek reads container metadata without returning file contents.
	OpPeek Operation = "peek"
	// OpKeygen generates a new random key.
	OpKeygen Operation = "keygen"
	// OpDetect scans a carrier for hidden data without a key.
	OpDetect Operation = "detect"
)

// OperationRecord is a single entry of the operation history.
type OperationRecord struct {
	// ID is the unique identifier of the record.
	ID string `json:"id"`
	// Timestamp is when the operation finished.
	Timestamp time.Time `json:"timestamp"`
	// Operation is the kind of operation performed.
	Operation Operation `json:"operation"`
	// CarrierKind is "image" or "gif"; empty when no carrier was involved.
	CarrierKind string `json:"carrier_kind,omitempty"`
	// CarrierName is the caller supplied name of the carrier (file name, upload name).
	CarrierName string `json:"carrier_name,omitempty"`
	// Actor identifies who requested the operation (client certificate CN, local user).
	Actor string `json:"actor,omitempty"`
	// Result is "success" or one of the stable outcome strings returned by Outcome.
	Result string `json:"result"`
	// Detail carries a human readable message for failures.
	Detail string `json:"detail,omitempty"`
	// FileCount is the number of files embedded or recovered.
	FileCount int `json:"file_count"`
	// PayloadBytes is the total size of the file contents involved.
	PayloadBytes int64 `json:"payload_bytes"`
	// DurationMS is the wall clock time the operation took, in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// Succeeded reports whether the record describes a successful operation.
func (r OperationRecord) Succeeded() bool {
	return r.Result == ResultSuccess
}

// DefaultHistoryLimit is the number of records returned when a filter sets no limit.
const DefaultHistoryLimit = 100

// HistoryFilter selects records from the operation history. Records are
// always returned newest first.
type HistoryFilter struct {
	// Limit caps the number of records; zero or less means DefaultHistoryLimit.
	Limit int
	// Operations keeps only the listed operations; empty keeps all.
	Operations []Operation
	// Actor keeps only records of this actor; empty keeps all.
	Actor string
}

// EffectiveLimit returns Limit, or DefaultHistoryLimit when Limit is not positive.
func (f HistoryFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return f.Limit
}

// Match reports whether rec passes the operation and actor filters.
func (f HistoryFilter) Match(rec OperationRecord) bool {
	if f.Actor != "" && rec.Actor != f.Actor {
		return false
	}
	if len(f.Operations) == 0 {
		return true
	}
	for _, op := range f.Operations {
		if rec.Operation == op {
			return true
		}
	}
	return false
}
