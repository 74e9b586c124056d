// Package quota provides pure functions for per-user usage quota
// enforcement over daily and monthly windows. All functions are
// deterministic with no side effects; the stateful commit path lives
// in the app layer on top of a counter store.
package quota

import (
	"errors"
	"fmt"
	"time"
)

// WindowKind identifies a quota accounting window.
type WindowKind string

const (
	WindowDaily   WindowKind = "daily"
	WindowMonthly WindowKind = "monthly"
)

// Sentinel errors surfaced to callers. ErrExceeded and ErrRaceLost are
// distinct so a caller can choose to retry once after a lost race but
// never after a plain denial.
var (
	// ErrExceeded means the admission check denied the operation.
	ErrExceeded = errors.New("quota exceeded")

	// ErrRaceLost means the commit was rejected after a successful check
	// because a concurrent caller consumed the remaining allowance first.
	// The operation must not be billed or recorded as successful.
	ErrRaceLost = errors.New("quota race lost")
)

// Limits holds the plan-dependent ceilings for one user (value type).
type Limits struct {
	PlanType string
	PerDay   int64
	PerMonth int64
}

// DefaultFreeLimits matches the free plan: 10 operations per day,
// 50 per month.
var DefaultFreeLimits = Limits{PlanType: "free", PerDay: 10, PerMonth: 50}

// Decision is the result of an admission check (immutable value type).
// It is produced fresh on every check and never cached beyond the
// request it serves.
type Decision struct {
	Allowed          bool
	RemainingDaily   int64
	RemainingMonthly int64
	LimitedBy        WindowKind // set only when Allowed is false
	ResetAt          time.Time  // next boundary of the limiting (or daily) window
}

// Info is the full quota snapshot for one user, used by the info surface
// and the admin CLI.
type Info struct {
	PlanType         string    `json:"plan_type"`
	DailyUsed        int64     `json:"daily_used"`
	DailyLimit       int64     `json:"daily_limit"`
	DailyRemaining   int64     `json:"daily_remaining"`
	MonthlyUsed      int64     `json:"monthly_used"`
	MonthlyLimit     int64     `json:"monthly_limit"`
	MonthlyRemaining int64     `json:"monthly_remaining"`
	ResetAt          time.Time `json:"reset_at"`
}

// DailyKey returns the window key for the day containing t.
func DailyKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// MonthlyKey returns the window key for the month containing t.
func MonthlyKey(t time.Time) string {
	return t.Format("2006-01")
}

// WindowKey returns the window key of the given kind for time t.
func WindowKey(kind WindowKind, t time.Time) string {
	if kind == WindowMonthly {
		return MonthlyKey(t)
	}
	return DailyKey(t)
}

// CounterKey composes the store key for a user's counter in the window
// containing t. Counters for stale window keys are simply never read
// again; rollover is lazy and old counters are never mutated in place.
func CounterKey(userID string, kind WindowKind, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s", userID, kind, WindowKey(kind, t))
}

// NextDailyReset returns the start of the day after t, in t's location.
func NextDailyReset(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

// NextMonthlyReset returns the first instant of the month after t.
func NextMonthlyReset(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
}

// NextReset returns the reset boundary of the given window kind after t.
func NextReset(kind WindowKind, t time.Time) time.Time {
	if kind == WindowMonthly {
		return NextMonthlyReset(t)
	}
	return NextDailyReset(t)
}

// Evaluate performs an admission check against current counts.
// This is a PURE function - no side effects.
//
// The daily window is checked first, matching the order counters are
// incremented on commit. A denial identifies the limiting window and
// carries that window's reset boundary.
func Evaluate(dailyUsed, monthlyUsed int64, lim Limits, now time.Time) Decision {
	d := Decision{
		RemainingDaily:   remaining(dailyUsed, lim.PerDay),
		RemainingMonthly: remaining(monthlyUsed, lim.PerMonth),
	}

	switch {
	case dailyUsed >= lim.PerDay:
		d.LimitedBy = WindowDaily
		d.ResetAt = NextDailyReset(now)
	case monthlyUsed >= lim.PerMonth:
		d.LimitedBy = WindowMonthly
		d.ResetAt = NextMonthlyReset(now)
	default:
		d.Allowed = true
		d.ResetAt = NextDailyReset(now)
	}

	return d
}

// Snapshot builds the full quota info view from current counts.
// This is a PURE function.
func Snapshot(dailyUsed, monthlyUsed int64, lim Limits, now time.Time) Info {
	return Info{
		PlanType:         lim.PlanType,
		DailyUsed:        dailyUsed,
		DailyLimit:       lim.PerDay,
		DailyRemaining:   remaining(dailyUsed, lim.PerDay),
		MonthlyUsed:      monthlyUsed,
		MonthlyLimit:     lim.PerMonth,
		MonthlyRemaining: remaining(monthlyUsed, lim.PerMonth),
		ResetAt:          NextMonthlyReset(now),
	}
}

func remaining(used, limit int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}
