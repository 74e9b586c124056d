package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ljxpython/noteai/domain/reconcile"
	"github.com/ljxpython/noteai/domain/usage"
	"github.com/ljxpython/noteai/ports"
)

// UsageStore implements ports.UsageStore using SQLite.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// RecordBatch stores multiple usage events in one transaction.
func (s *UsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_events
			(id, user_id, operation, stage, confidence, degraded, billed, latency_ms, input_len, output_len, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare usage insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.ID, e.UserID, string(e.Operation), string(e.Stage),
			e.Confidence, e.Degraded, e.Billed,
			e.LatencyMs, e.InputLen, e.OutputLen, e.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert usage event %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// GetRecent returns the most recent events for a user, newest first.
func (s *UsageStore) GetRecent(ctx context.Context, userID string, limit int) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, operation, stage, confidence, degraded, billed, latency_ms, input_len, output_len, timestamp
		FROM usage_events
		WHERE user_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent usage: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Stats returns aggregated usage for a user since the given time.
func (s *UsageStore) Stats(ctx context.Context, userID string, since time.Time) (usage.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, operation, stage, confidence, degraded, billed, latency_ms, input_len, output_len, timestamp
		FROM usage_events
		WHERE user_id = ? AND timestamp >= ?
	`, userID, since.UTC())
	if err != nil {
		return usage.Stats{}, fmt.Errorf("query usage stats: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return usage.Stats{}, err
	}
	return usage.Aggregate(events), nil
}

// DeleteBefore removes events older than the cutoff (retention sweep).
func (s *UsageStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_events WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old usage events: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows rowScanner) ([]usage.Event, error) {
	var events []usage.Event
	for rows.Next() {
		var e usage.Event
		var op, stage string
		err := rows.Scan(
			&e.ID, &e.UserID, &op, &stage,
			&e.Confidence, &e.Degraded, &e.Billed,
			&e.LatencyMs, &e.InputLen, &e.OutputLen, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		e.Operation = reconcile.Operation(op)
		e.Stage = reconcile.Stage(stage)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage events: %w", err)
	}
	return events, nil
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
