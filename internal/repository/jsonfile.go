package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/atinyakov/GophStego/internal/atomicfile"
	"github.com/atinyakov/GophStego/internal/models"
)

// JSONHistory keeps the operation history as a JSON array in a single file.
// Every Append rewrites the file atomically. It is safe for concurrent use
// within one process.
type JSONHistory struct {
	// Path is the history file location.
	Path string
	// MaxEntries caps the file; the oldest records are dropped first. Zero keeps everything.
	MaxEntries int

	mu sync.Mutex
}

// NewJSONHistory creates a JSONHistory for path. The file is created on first Append.
func NewJSONHistory(path string, maxEntries int) *JSONHistory {
	return &JSONHistory{Path: path, MaxEntries: maxEntries}
}

// Append adds rec to the end of the history file.
func (h *JSONHistory) Append(ctx context.Context, rec models.OperationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	records, err := h.load()
	if err != nil {
		return err
	}
	records = append(records, rec)
	if h.MaxEntries > 0 && len(records) > h.MaxEntries {
		records = records[len(records)-h.MaxEntries:]
	}

	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := atomicfile.Write(h.Path, data, 0o600); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// List returns the records matching filter, newest first.
func (h *JSONHistory) List(ctx context.Context, filter models.HistoryFilter) ([]models.OperationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	records, err := h.load()
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	limit := filter.EffectiveLimit()
	out := make([]models.OperationRecord, 0, min(limit, len(records)))
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.Match(records[i]) {
			out = append(out, records[i])
		}
	}
	return out, nil
}

// load reads the whole file. A missing file is an empty history; a file that
// does not parse is an error so that it is never silently overwritten.
func (h *JSONHistory) load() ([]models.OperationRecord, error) {
	data, err := os.ReadFile(h.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []models.OperationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", h.Path, err)
	}
	return records, nil
}
