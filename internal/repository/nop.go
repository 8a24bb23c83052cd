package repository

import (
	"context"

	"github.com/atinyakov/GophStego/internal/models"
)

// NopHistory discards every record. It is used when no history is configured.
type NopHistory struct{}

// Append drops rec.
func (NopHistory) Append(context.Context, models.OperationRecord) error { return nil }

// List always returns an empty slice.
func (NopHistory) List(context.Context, models.HistoryFilter) ([]models.OperationRecord, error) {
	return []models.OperationRecord{}, nil
}
