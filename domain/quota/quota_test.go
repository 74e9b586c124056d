// Package quota provides pure functions for usage quota enforcement.
// Tests for all public functions and types.
package quota

import (
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Window key tests
// -----------------------------------------------------------------------------

func TestDailyKey(t *testing.T) {
	at := time.Date(2025, 1, 15, 23, 59, 59, 0, time.UTC)
	if got := DailyKey(at); got != "2025-01-15" {
		t.Errorf("expected 2025-01-15, got %s", got)
	}
}

func TestMonthlyKey(t *testing.T) {
	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	if got := MonthlyKey(at); got != "2025-01" {
		t.Errorf("expected 2025-01, got %s", got)
	}
}

func TestCounterKey(t *testing.T) {
	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	if got := CounterKey("user-1", WindowDaily, at); got != "user-1:daily:2025-01-15" {
		t.Errorf("unexpected daily key: %s", got)
	}
	if got := CounterKey("user-1", WindowMonthly, at); got != "user-1:monthly:2025-01" {
		t.Errorf("unexpected monthly key: %s", got)
	}
}

func TestCounterKey_RolloverChangesKey(t *testing.T) {
	before := time.Date(2025, 1, 15, 23, 59, 59, 0, time.UTC)
	after := before.Add(time.Second)

	if CounterKey("u", WindowDaily, before) == CounterKey("u", WindowDaily, after) {
		t.Error("daily key should change across midnight")
	}
	if CounterKey("u", WindowMonthly, before) != CounterKey("u", WindowMonthly, after) {
		t.Error("monthly key should not change mid-month")
	}
}

func TestNextDailyReset(t *testing.T) {
	at := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	want := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
	if got := NextDailyReset(at); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextDailyReset_YearBoundary(t *testing.T) {
	at := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := NextDailyReset(at); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextMonthlyReset(t *testing.T) {
	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	want := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	if got := NextMonthlyReset(at); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextMonthlyReset_December(t *testing.T) {
	at := time.Date(2025, 12, 15, 10, 0, 0, 0, time.UTC)
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := NextMonthlyReset(at); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

// -----------------------------------------------------------------------------
// Evaluate tests
// -----------------------------------------------------------------------------

var testNow = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func TestEvaluate_Allowed(t *testing.T) {
	d := Evaluate(3, 20, DefaultFreeLimits, testNow)

	if !d.Allowed {
		t.Error("expected Allowed=true")
	}
	if d.RemainingDaily != 7 {
		t.Errorf("expected RemainingDaily=7, got %d", d.RemainingDaily)
	}
	if d.RemainingMonthly != 30 {
		t.Errorf("expected RemainingMonthly=30, got %d", d.RemainingMonthly)
	}
	if d.LimitedBy != "" {
		t.Errorf("expected empty LimitedBy, got %s", d.LimitedBy)
	}
	if !d.ResetAt.Equal(NextDailyReset(testNow)) {
		t.Errorf("expected daily reset boundary, got %v", d.ResetAt)
	}
}

func TestEvaluate_DailyExceeded(t *testing.T) {
	d := Evaluate(10, 20, DefaultFreeLimits, testNow)

	if d.Allowed {
		t.Error("expected Allowed=false")
	}
	if d.LimitedBy != WindowDaily {
		t.Errorf("expected LimitedBy=daily, got %s", d.LimitedBy)
	}
	if d.RemainingDaily != 0 {
		t.Errorf("expected RemainingDaily=0, got %d", d.RemainingDaily)
	}
	if !d.ResetAt.Equal(NextDailyReset(testNow)) {
		t.Errorf("expected daily reset boundary, got %v", d.ResetAt)
	}
}

func TestEvaluate_MonthlyExceeded(t *testing.T) {
	d := Evaluate(2, 50, DefaultFreeLimits, testNow)

	if d.Allowed {
		t.Error("expected Allowed=false")
	}
	if d.LimitedBy != WindowMonthly {
		t.Errorf("expected LimitedBy=monthly, got %s", d.LimitedBy)
	}
	if !d.ResetAt.Equal(NextMonthlyReset(testNow)) {
		t.Errorf("expected monthly reset boundary, got %v", d.ResetAt)
	}
}

func TestEvaluate_DailyCheckedFirst(t *testing.T) {
	// Both windows exhausted: the denial names the daily window.
	d := Evaluate(10, 50, DefaultFreeLimits, testNow)

	if d.Allowed {
		t.Error("expected Allowed=false")
	}
	if d.LimitedBy != WindowDaily {
		t.Errorf("expected LimitedBy=daily, got %s", d.LimitedBy)
	}
}

func TestEvaluate_LastUnit(t *testing.T) {
	d := Evaluate(9, 49, DefaultFreeLimits, testNow)

	if !d.Allowed {
		t.Error("expected the last unit to be allowed")
	}
	if d.RemainingDaily != 1 {
		t.Errorf("expected RemainingDaily=1, got %d", d.RemainingDaily)
	}
	if d.RemainingMonthly != 1 {
		t.Errorf("expected RemainingMonthly=1, got %d", d.RemainingMonthly)
	}
}

func TestEvaluate_OverLimitCount(t *testing.T) {
	// Counts above the limit still report zero remaining, never negative.
	d := Evaluate(15, 60, DefaultFreeLimits, testNow)

	if d.RemainingDaily != 0 || d.RemainingMonthly != 0 {
		t.Errorf("expected zero remaining, got %d/%d", d.RemainingDaily, d.RemainingMonthly)
	}
}

// -----------------------------------------------------------------------------
// Snapshot tests
// -----------------------------------------------------------------------------

func TestSnapshot(t *testing.T) {
	info := Snapshot(3, 20, DefaultFreeLimits, testNow)

	if info.PlanType != "free" {
		t.Errorf("expected plan free, got %s", info.PlanType)
	}
	if info.DailyUsed != 3 || info.DailyLimit != 10 || info.DailyRemaining != 7 {
		t.Errorf("unexpected daily snapshot: %+v", info)
	}
	if info.MonthlyUsed != 20 || info.MonthlyLimit != 50 || info.MonthlyRemaining != 30 {
		t.Errorf("unexpected monthly snapshot: %+v", info)
	}
	if !info.ResetAt.Equal(NextMonthlyReset(testNow)) {
		t.Errorf("expected monthly reset boundary, got %v", info.ResetAt)
	}
}
