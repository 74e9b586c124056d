package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ljxpython/noteai/ports"
)

// CounterStore implements ports.CounterStore using SQLite for persistence.
// This ensures quota counters survive server restarts.
type CounterStore struct {
	db *DB
}

// NewCounterStore creates a new SQLite counter store.
func NewCounterStore(db *DB) *CounterStore {
	return &CounterStore{db: db}
}

// Get retrieves the current count for a key. Absent keys read as 0.
func (s *CounterStore) Get(ctx context.Context, key string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM quota_counters WHERE key = ?
	`, key).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s: %w", key, err)
	}
	return count, nil
}

// IncrWithCeiling atomically increments the counter by amount only if the
// result stays at or below ceiling. The guarded upsert runs as a single
// statement, so concurrent callers serialize inside SQLite and the stored
// count can never pass the ceiling.
func (s *CounterStore) IncrWithCeiling(ctx context.Context, key string, amount, ceiling int64) (bool, error) {
	if amount > ceiling {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_counters (key, count, updated_at) VALUES (?1, ?2, ?3)
		ON CONFLICT(key) DO UPDATE SET
			count = count + ?2,
			updated_at = ?3
		WHERE count + ?2 <= ?4
	`, key, amount, time.Now().UTC(), ceiling)
	if err != nil {
		return false, fmt.Errorf("increment counter %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return n > 0, nil
}

// Decr decrements the counter by amount, clamping at zero.
func (s *CounterStore) Decr(ctx context.Context, key string, amount int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE quota_counters
		SET count = MAX(0, count - ?2), updated_at = ?3
		WHERE key = ?1
	`, key, amount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("decrement counter %s: %w", key, err)
	}
	return nil
}

// Reset removes the counter entirely.
func (s *CounterStore) Reset(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM quota_counters WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("reset counter %s: %w", key, err)
	}
	return nil
}

// ExpireAt records when the counter may be cleaned up. Expiry is
// best-effort housekeeping; reads always target current window keys.
func (s *CounterStore) ExpireAt(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE quota_counters SET expires_at = ?2 WHERE key = ?1
	`, key, at.UTC())
	if err != nil {
		return fmt.Errorf("expire counter %s: %w", key, err)
	}
	return nil
}

// CleanupExpired removes counters whose expiry has passed.
// This should be called periodically to prevent unbounded table growth.
func (s *CounterStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM quota_counters WHERE expires_at IS NOT NULL AND expires_at < ?
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup counters: %w", err)
	}
	return res.RowsAffected()
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
