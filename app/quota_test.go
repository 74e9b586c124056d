package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ljxpython/noteai/adapters/clock"
	"github.com/ljxpython/noteai/adapters/memory"
	"github.com/ljxpython/noteai/domain/quota"
	"github.com/ljxpython/noteai/ports"
)

var testStart = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func newQuotaService(t *testing.T, failOpen bool) (*QuotaService, *clock.Fake) {
	t.Helper()
	store := memory.NewCounterStore(memory.CounterStoreConfig{NumShards: 4})
	t.Cleanup(func() { store.Close() })
	fakeClock := clock.NewFake(testStart)
	svc := NewQuotaService(QuotaDeps{
		Store:  store,
		Clock:  fakeClock,
		Logger: zerolog.Nop(),
	}, failOpen)
	return svc, fakeClock
}

// erroringStore fails every operation, simulating an unreachable backend.
type erroringStore struct{}

var errStoreDown = errors.New("store down")

func (erroringStore) Get(context.Context, string) (int64, error) { return 0, errStoreDown }
func (erroringStore) IncrWithCeiling(context.Context, string, int64, int64) (bool, error) {
	return false, errStoreDown
}
func (erroringStore) Decr(context.Context, string, int64) error      { return errStoreDown }
func (erroringStore) Reset(context.Context, string) error            { return errStoreDown }
func (erroringStore) ExpireAt(context.Context, string, time.Time) error {
	return errStoreDown
}

var _ ports.CounterStore = erroringStore{}

// monthlyRejectStore wraps a real store but rejects monthly increments,
// forcing the compensation path.
type monthlyRejectStore struct {
	ports.CounterStore
}

func (s monthlyRejectStore) IncrWithCeiling(ctx context.Context, key string, amount, ceiling int64) (bool, error) {
	if strings.Contains(key, ":monthly:") {
		return false, nil
	}
	return s.CounterStore.IncrWithCeiling(ctx, key, amount, ceiling)
}

// -----------------------------------------------------------------------------
// Check / Commit flow tests
// -----------------------------------------------------------------------------

func TestQuotaService_CheckAllowsFreshUser(t *testing.T) {
	svc, _ := newQuotaService(t, true)

	dec, err := svc.Check(context.Background(), "u1", quota.DefaultFreeLimits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Error("expected fresh user to be allowed")
	}
	if dec.RemainingDaily != 10 || dec.RemainingMonthly != 50 {
		t.Errorf("unexpected remaining: %d/%d", dec.RemainingDaily, dec.RemainingMonthly)
	}
}

func TestQuotaService_ExhaustDailyLimit(t *testing.T) {
	svc, _ := newQuotaService(t, true)
	ctx := context.Background()
	lim := quota.Limits{PlanType: "free", PerDay: 2, PerMonth: 50}

	for i := 0; i < 2; i++ {
		dec, err := svc.Check(ctx, "u1", lim)
		if err != nil || !dec.Allowed {
			t.Fatalf("check %d: allowed=%v err=%v", i, dec.Allowed, err)
		}
		ok, err := svc.Commit(ctx, "u1", lim, 1)
		if err != nil || !ok {
			t.Fatalf("commit %d: ok=%v err=%v", i, ok, err)
		}
	}

	dec, err := svc.Check(ctx, "u1", lim)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Allowed {
		t.Error("expected denial after exhausting daily limit")
	}
	if dec.LimitedBy != quota.WindowDaily {
		t.Errorf("expected daily window, got %s", dec.LimitedBy)
	}
	if !dec.ResetAt.Equal(quota.NextDailyReset(testStart)) {
		t.Errorf("unexpected reset boundary: %v", dec.ResetAt)
	}
}

func TestQuotaService_DailyRollover(t *testing.T) {
	svc, fakeClock := newQuotaService(t, true)
	ctx := context.Background()
	lim := quota.Limits{PlanType: "free", PerDay: 1, PerMonth: 50}

	svc.Commit(ctx, "u1", lim, 1)
	if dec, _ := svc.Check(ctx, "u1", lim); dec.Allowed {
		t.Fatal("expected denial before rollover")
	}

	// Crossing midnight: the new day's counter reads zero.
	fakeClock.Set(time.Date(2025, 1, 16, 0, 0, 1, 0, time.UTC))

	dec, err := svc.Check(ctx, "u1", lim)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Error("expected allowance after daily rollover")
	}
}

func TestQuotaService_MonthlyLimitSurvivesDailyRollover(t *testing.T) {
	svc, fakeClock := newQuotaService(t, true)
	ctx := context.Background()
	lim := quota.Limits{PlanType: "free", PerDay: 10, PerMonth: 3}

	for i := 0; i < 3; i++ {
		svc.Commit(ctx, "u1", lim, 1)
	}

	fakeClock.Set(time.Date(2025, 1, 16, 8, 0, 0, 0, time.UTC))

	dec, _ := svc.Check(ctx, "u1", lim)
	if dec.Allowed {
		t.Error("expected monthly denial after daily rollover")
	}
	if dec.LimitedBy != quota.WindowMonthly {
		t.Errorf("expected monthly window, got %s", dec.LimitedBy)
	}
}

func TestQuotaService_CommitRaceLostOnDaily(t *testing.T) {
	svc, _ := newQuotaService(t, true)
	ctx := context.Background()
	lim := quota.Limits{PlanType: "free", PerDay: 1, PerMonth: 50}

	ok, err := svc.Commit(ctx, "u1", lim, 1)
	if err != nil || !ok {
		t.Fatalf("first commit: ok=%v err=%v", ok, err)
	}

	// The allowance is gone; another commit loses.
	ok, err = svc.Commit(ctx, "u1", lim, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected commit to lose after exhaustion")
	}
}

func TestQuotaService_CommitCompensatesDailyOnMonthlyLoss(t *testing.T) {
	store := memory.NewCounterStore(memory.CounterStoreConfig{NumShards: 4})
	t.Cleanup(func() { store.Close() })
	fakeClock := clock.NewFake(testStart)
	svc := NewQuotaService(QuotaDeps{
		Store:  monthlyRejectStore{CounterStore: store},
		Clock:  fakeClock,
		Logger: zerolog.Nop(),
	}, true)
	ctx := context.Background()
	lim := quota.DefaultFreeLimits

	ok, err := svc.Commit(ctx, "u1", lim, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected commit to fail when monthly window rejects")
	}

	// The daily increment must have been rolled back.
	n, _ := store.Get(ctx, quota.CounterKey("u1", quota.WindowDaily, testStart))
	if n != 0 {
		t.Errorf("expected daily counter compensated to 0, got %d", n)
	}
}

// -----------------------------------------------------------------------------
// Outage policy tests
// -----------------------------------------------------------------------------

func TestQuotaService_FailOpenAllowsOnStoreError(t *testing.T) {
	svc := NewQuotaService(QuotaDeps{
		Store:  erroringStore{},
		Clock:  clock.NewFake(testStart),
		Logger: zerolog.Nop(),
	}, true)

	dec, err := svc.Check(context.Background(), "u1", quota.DefaultFreeLimits)
	if err != nil {
		t.Fatalf("fail-open check must not error, got %v", err)
	}
	if !dec.Allowed {
		t.Error("fail-open must allow when the store is down")
	}

	ok, err := svc.Commit(context.Background(), "u1", quota.DefaultFreeLimits, 1)
	if err != nil {
		t.Fatalf("fail-open commit must not error, got %v", err)
	}
	if !ok {
		t.Error("fail-open commit must succeed when the store is down")
	}
}

func TestQuotaService_FailClosedDeniesOnStoreError(t *testing.T) {
	svc := NewQuotaService(QuotaDeps{
		Store:  erroringStore{},
		Clock:  clock.NewFake(testStart),
		Logger: zerolog.Nop(),
	}, false)

	_, err := svc.Check(context.Background(), "u1", quota.DefaultFreeLimits)
	if err == nil {
		t.Fatal("fail-closed check must surface the store error")
	}
	if !errors.Is(err, errStoreDown) {
		t.Errorf("expected wrapped store error, got %v", err)
	}

	_, err = svc.Commit(context.Background(), "u1", quota.DefaultFreeLimits, 1)
	if err == nil {
		t.Fatal("fail-closed commit must surface the store error")
	}
}

func TestQuotaService_SetFailOpen(t *testing.T) {
	svc := NewQuotaService(QuotaDeps{
		Store:  erroringStore{},
		Clock:  clock.NewFake(testStart),
		Logger: zerolog.Nop(),
	}, false)

	if _, err := svc.Check(context.Background(), "u1", quota.DefaultFreeLimits); err == nil {
		t.Fatal("expected error while fail-closed")
	}

	svc.SetFailOpen(true)

	dec, err := svc.Check(context.Background(), "u1", quota.DefaultFreeLimits)
	if err != nil || !dec.Allowed {
		t.Errorf("expected allowance after switching to fail-open: allowed=%v err=%v", dec.Allowed, err)
	}
}

// -----------------------------------------------------------------------------
// Reset and Info tests
// -----------------------------------------------------------------------------

func TestQuotaService_Reset(t *testing.T) {
	svc, _ := newQuotaService(t, true)
	ctx := context.Background()
	lim := quota.Limits{PlanType: "free", PerDay: 1, PerMonth: 50}

	svc.Commit(ctx, "u1", lim, 1)
	if dec, _ := svc.Check(ctx, "u1", lim); dec.Allowed {
		t.Fatal("expected denial before reset")
	}

	if err := svc.Reset(ctx, "u1", quota.WindowDaily); err != nil {
		t.Fatalf("reset: %v", err)
	}

	dec, _ := svc.Check(ctx, "u1", lim)
	if !dec.Allowed {
		t.Error("expected allowance after reset")
	}
}

func TestQuotaService_Info(t *testing.T) {
	svc, _ := newQuotaService(t, true)
	ctx := context.Background()

	svc.Commit(ctx, "u1", quota.DefaultFreeLimits, 1)
	svc.Commit(ctx, "u1", quota.DefaultFreeLimits, 1)

	info, err := svc.Info(ctx, "u1", quota.DefaultFreeLimits)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.DailyUsed != 2 || info.MonthlyUsed != 2 {
		t.Errorf("unexpected usage: %d/%d", info.DailyUsed, info.MonthlyUsed)
	}
	if info.DailyRemaining != 8 || info.MonthlyRemaining != 48 {
		t.Errorf("unexpected remaining: %d/%d", info.DailyRemaining, info.MonthlyRemaining)
	}
}

func TestQuotaService_InfoFailOpenReportsZero(t *testing.T) {
	svc := NewQuotaService(QuotaDeps{
		Store:  erroringStore{},
		Clock:  clock.NewFake(testStart),
		Logger: zerolog.Nop(),
	}, true)

	info, err := svc.Info(context.Background(), "u1", quota.DefaultFreeLimits)
	if err != nil {
		t.Fatalf("fail-open info must not error, got %v", err)
	}
	if info.DailyUsed != 0 || info.MonthlyUsed != 0 {
		t.Errorf("expected zero usage, got %d/%d", info.DailyUsed, info.MonthlyUsed)
	}
}
