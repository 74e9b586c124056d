// Package usage provides AI usage event types and aggregation functions.
// All functions are pure - no side effects.
package usage

import (
	"time"

	"github.com/ljxpython/noteai/domain/reconcile"
)

// Event represents a single AI operation performed for a user
// (immutable value type). Events are recorded for every completed call,
// billed or not, so degraded and race-lost operations remain visible in
// usage history without counting against quota.
type Event struct {
	ID         string
	UserID     string
	Operation  reconcile.Operation
	Stage      reconcile.Stage
	Confidence float64
	Degraded   bool
	Billed     bool
	LatencyMs  int64
	InputLen   int
	OutputLen  int
	Timestamp  time.Time
}

// Stats summarizes a user's activity over a period (value type).
type Stats struct {
	Total    int64
	Billed   int64
	Degraded int64
	ByDay    map[string]int64 // daily window key -> event count
}

// Aggregate folds events into a Stats summary.
// This is a PURE function.
func Aggregate(events []Event) Stats {
	s := Stats{ByDay: make(map[string]int64)}
	for _, e := range events {
		s.Total++
		if e.Billed {
			s.Billed++
		}
		if e.Degraded {
			s.Degraded++
		}
		s.ByDay[e.Timestamp.Format("2006-01-02")]++
	}
	return s
}
