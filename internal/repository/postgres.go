// Package repository provides persistence implementations for the operation
// history: a PostgreSQL table, a JSON file and a sink that drops records.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/atinyakov/GophStego/internal/models"
)

// PostgresHistory stores operation records in the operation_history table.
// It is safe for concurrent use.
type PostgresHistory struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresHistory creates a new PostgresHistory using the provided *sql.DB.
// db must be a valid connection to a PostgreSQL instance with the schema
// created by db.InitPostgres.
func NewPostgresHistory(db *sql.DB) *PostgresHistory {
	return &PostgresHistory{DB: db}
}

// Append inserts a single record.
//
//	ctx: context for cancellation and deadlines
//	rec: the record to store; rec.ID must be unique
//
// Returns an error if the insert fails.
func (h *PostgresHistory) Append(ctx context.Context, rec models.OperationRecord) error {
	_, err := h.DB.ExecContext(ctx, `
		INSERT INTO operation_history
			(id, ts, operation, carrier_kind, carrier_name, actor, result, detail, file_count, payload_bytes, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.Timestamp, string(rec.Operation), rec.CarrierKind, rec.CarrierName, rec.Actor,
		rec.Result, rec.Detail, rec.FileCount, rec.PayloadBytes, rec.DurationMS)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// List returns the records matching filter, newest first.
//
//	ctx:    context for cancellation and deadlines
//	filter: actor, operation and limit selection
//
// Returns the records or an error if the query or scanning fails.
func (h *PostgresHistory) List(ctx context.Context, filter models.HistoryFilter) ([]models.OperationRecord, error) {
	ops := make([]string, len(filter.Operations))
	for i, op := range filter.Operations {
		ops[i] = string(op)
	}

	rows, err := h.DB.QueryContext(ctx, `
		SELECT id, ts, operation, carrier_kind, carrier_name, actor, result, detail, file_count, payload_bytes, duration_ms
		FROM operation_history
		WHERE ($1 = '' OR actor = $1) AND (cardinality($2::text[]) = 0 OR operation = ANY($2))
		ORDER BY ts DESC
		LIMIT $3
	`, filter.Actor, pq.Array(ops), filter.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	records := make([]models.OperationRecord, 0)
	for rows.Next() {
		var rec models.OperationRecord
		var op string
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &op, &rec.CarrierKind, &rec.CarrierName, &rec.Actor,
			&rec.Result, &rec.Detail, &rec.FileCount, &rec.PayloadBytes, &rec.DurationMS); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec.Operation = models.Operation(op)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return records, nil
}
