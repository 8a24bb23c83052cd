package models

import (
	"context"
	"errors"
)

// Error taxonomy shared by every layer. Callers match with errors.Is; the
// layers wrap these with %w to add context.
var (
	// ErrCapacityExceeded is returned when the encrypted payload does not fit the carrier.
	ErrCapacityExceeded = errors.New("payload exceeds carrier capacity")
	// ErrAuthenticationFailed is returned for a wrong key, wrong password or tampered data.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrMalformedContainer is returned when a payload or container cannot be parsed.
	ErrMalformedContainer = errors.New("malformed container")
	// ErrNoHiddenData is returned when a carrier holds no recognisable payload.
	ErrNoHiddenData = errors.New("no hidden data")
	// ErrUnsupportedFormat is returned for carriers that are neither a decodable image nor a GIF.
	ErrUnsupportedFormat = errors.New("unsupported carrier format")
	// ErrFileLimitExceeded is returned when more files are supplied than the carrier kind allows.
	ErrFileLimitExceeded = errors.New("too many files")
	// ErrIntegrityCheckFailed is returned when the container digest does not match its contents.
	ErrIntegrityCheckFailed = errors.New("integrity check failed")
	// ErrInvalidInput is returned for caller input that can never be valid (empty names, short keys).
	ErrInvalidInput = errors.New("invalid input")
)

// Stable outcome strings written to history and used to pick HTTP statuses.
const (
	ResultSuccess           = "success"
	ResultCapacityExceeded  = "capacity_exceeded"
	ResultAuthentication    = "authentication_failed"
	ResultMalformed         = "malformed_container"
	ResultNoHiddenData      = "no_hidden_data"
	ResultUnsupportedFormat = "unsupported_format"
	ResultFileLimit         = "file_limit_exceeded"
	ResultIntegrity         = "integrity_check_failed"
	ResultInvalidInput      = "invalid_input"
	ResultCanceled          = "canceled"
	ResultError             = "error"
)

var outcomes = []struct {
	err    error
	result string
}{
	{ErrCapacityExceeded, ResultCapacityExceeded},
	{ErrAuthenticationFailed, ResultAuthentication},
	{ErrMalformedContainer, ResultMalformed},
	{ErrNoHiddenData, ResultNoHiddenData},
	{ErrUnsupportedFormat, ResultUnsupportedFormat},
	{ErrFileLimitExceeded, ResultFileLimit},
	{ErrIntegrityCheckFailed, ResultIntegrity},
	{ErrInvalidInput, ResultInvalidInput},
	{context.Canceled, ResultCanceled},
	{context.DeadlineExceeded, ResultCanceled},
}

// Outcome classifies err into one of the Result* strings. A nil error is a success.
func Outcome(err error) string {
	if err == nil {
		return ResultSuccess
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.result
		}
	}
	return ResultError
}

// ErrorFor is the inverse of Outcome: it returns the sentinel for a stable
// result string, or nil for success and unknown strings.
func ErrorFor(result string) error {
	for _, o := range outcomes {
		if o.result == result {
			return o.err
		}
	}
	return nil
}
