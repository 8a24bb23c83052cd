package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atinyakov/GophStego/internal/models"
)

// ErrorResponse is the JSON body of every failed API call. Result is one of
// the stable models.Result* strings, so clients can map it back to an error.
type ErrorResponse struct {
	Error  string `json:"error"`
	Result string `json:"result"`
}

// StatusFor maps an engine error to an HTTP status code.
func StatusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrCapacityExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrMalformedContainer), errors.Is(err, models.ErrIntegrityCheckFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNoHiddenData):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, models.ErrFileLimitExceeded), errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Result: models.Outcome(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
