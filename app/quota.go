// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ljxpython/noteai/adapters/metrics"
	"github.com/ljxpython/noteai/domain/quota"
	"github.com/ljxpython/noteai/ports"
)

// QuotaService enforces per-user daily and monthly usage ceilings on top
// of a counter store. Check and Commit are deliberately separate calls:
// Commit re-validates the limit at increment time, so the stored count
// never exceeds the limit even when concurrent callers all passed Check.
type QuotaService struct {
	store   ports.CounterStore
	clock   ports.Clock
	logger  zerolog.Logger
	metrics *metrics.Collector

	// failOpen is hot-reloadable via SetFailOpen.
	failOpen atomic.Bool
}

// QuotaDeps contains dependencies for QuotaService.
type QuotaDeps struct {
	Store   ports.CounterStore
	Clock   ports.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
}

// NewQuotaService creates a new quota service. failOpen selects the
// policy for counter-store outages: true treats the store being
// unreachable as "allowed" to preserve availability, false denies.
func NewQuotaService(deps QuotaDeps, failOpen bool) *QuotaService {
	s := &QuotaService{
		store:   deps.Store,
		clock:   deps.Clock,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}
	s.failOpen.Store(failOpen)
	return s
}

// SetFailOpen swaps the outage policy. Thread-safe; used by config hot
// reload.
func (s *QuotaService) SetFailOpen(failOpen bool) {
	s.failOpen.Store(failOpen)
}

// Check performs the admission check for one user. It never mutates
// state. On a store error the configured fail-open/fail-closed policy
// decides the outcome; fail-closed surfaces the error to the caller.
func (s *QuotaService) Check(ctx context.Context, userID string, lim quota.Limits) (quota.Decision, error) {
	now := s.clock.Now()

	dailyUsed, err := s.store.Get(ctx, quota.CounterKey(userID, quota.WindowDaily, now))
	if err != nil {
		return s.checkStoreFailure(userID, "daily", err, lim)
	}
	monthlyUsed, err := s.store.Get(ctx, quota.CounterKey(userID, quota.WindowMonthly, now))
	if err != nil {
		return s.checkStoreFailure(userID, "monthly", err, lim)
	}

	dec := quota.Evaluate(dailyUsed, monthlyUsed, lim, now)
	s.observeCheck(dec)
	return dec, nil
}

// Commit atomically consumes amount units of allowance in both the daily
// and the monthly window. It returns false when either increment would
// overshoot its ceiling; a partial daily increment is compensated so the
// two windows stay consistent. A false return means the caller lost the
// race between check and commit and must not bill the operation.
func (s *QuotaService) Commit(ctx context.Context, userID string, lim quota.Limits, amount int64) (bool, error) {
	now := s.clock.Now()
	dailyKey := quota.CounterKey(userID, quota.WindowDaily, now)
	monthlyKey := quota.CounterKey(userID, quota.WindowMonthly, now)

	ok, err := s.store.IncrWithCeiling(ctx, dailyKey, amount, lim.PerDay)
	if err != nil {
		return s.commitStoreFailure(userID, "daily", err)
	}
	if !ok {
		s.observeRaceLost()
		return false, nil
	}

	ok, err = s.store.IncrWithCeiling(ctx, monthlyKey, amount, lim.PerMonth)
	if err != nil {
		s.compensate(ctx, dailyKey, amount)
		return s.commitStoreFailure(userID, "monthly", err)
	}
	if !ok {
		s.compensate(ctx, dailyKey, amount)
		s.observeRaceLost()
		return false, nil
	}

	// Best-effort expiry; window keys guarantee correctness regardless.
	if err := s.store.ExpireAt(ctx, dailyKey, quota.NextDailyReset(now)); err != nil {
		s.logger.Warn().Err(err).Str("key", dailyKey).Msg("failed to set counter expiry")
	}
	if err := s.store.ExpireAt(ctx, monthlyKey, quota.NextMonthlyReset(now)); err != nil {
		s.logger.Warn().Err(err).Str("key", monthlyKey).Msg("failed to set counter expiry")
	}

	return true, nil
}

// Reset zeroes the user's counter for the current window of the given
// kind. Administrative override, not part of normal flow.
func (s *QuotaService) Reset(ctx context.Context, userID string, kind quota.WindowKind) error {
	key := quota.CounterKey(userID, kind, s.clock.Now())
	if err := s.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("reset quota %s: %w", key, err)
	}
	s.logger.Info().Str("user_id", userID).Str("window", string(kind)).Msg("quota reset")
	return nil
}

// Info returns the full quota snapshot for a user. Store errors follow
// the same fail-open policy as Check: unreadable counters report as 0.
func (s *QuotaService) Info(ctx context.Context, userID string, lim quota.Limits) (quota.Info, error) {
	now := s.clock.Now()

	dailyUsed, err := s.store.Get(ctx, quota.CounterKey(userID, quota.WindowDaily, now))
	if err != nil {
		if !s.failOpen.Load() {
			return quota.Info{}, fmt.Errorf("quota info: %w", err)
		}
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("counter store unreachable, reporting zero usage")
		dailyUsed = 0
	}
	monthlyUsed, err := s.store.Get(ctx, quota.CounterKey(userID, quota.WindowMonthly, now))
	if err != nil {
		if !s.failOpen.Load() {
			return quota.Info{}, fmt.Errorf("quota info: %w", err)
		}
		monthlyUsed = 0
	}

	return quota.Snapshot(dailyUsed, monthlyUsed, lim, now), nil
}

// checkStoreFailure applies the outage policy to an admission check.
func (s *QuotaService) checkStoreFailure(userID, window string, err error, lim quota.Limits) (quota.Decision, error) {
	s.logger.Error().Err(err).
		Str("user_id", userID).
		Str("window", window).
		Bool("fail_open", s.failOpen.Load()).
		Msg("counter store unreachable during quota check")

	if s.metrics != nil {
		s.metrics.QuotaChecks.WithLabelValues("error").Inc()
		if s.failOpen.Load() {
			s.metrics.QuotaFailOpens.Inc()
		}
	}

	if s.failOpen.Load() {
		t := s.clock.Now()
		return quota.Decision{
			Allowed:          true,
			RemainingDaily:   lim.PerDay,
			RemainingMonthly: lim.PerMonth,
			ResetAt:          quota.NextDailyReset(t),
		}, nil
	}
	return quota.Decision{}, fmt.Errorf("quota check: %w", err)
}

// commitStoreFailure applies the outage policy to a commit.
func (s *QuotaService) commitStoreFailure(userID, window string, err error) (bool, error) {
	s.logger.Error().Err(err).
		Str("user_id", userID).
		Str("window", window).
		Bool("fail_open", s.failOpen.Load()).
		Msg("counter store unreachable during quota commit")

	if s.failOpen.Load() {
		if s.metrics != nil {
			s.metrics.QuotaFailOpens.Inc()
		}
		return true, nil
	}
	return false, fmt.Errorf("quota commit: %w", err)
}

// compensate undoes a daily increment whose matching monthly increment
// did not land.
func (s *QuotaService) compensate(ctx context.Context, dailyKey string, amount int64) {
	if err := s.store.Decr(ctx, dailyKey, amount); err != nil {
		// Worst case the user loses one daily unit until rollover;
		// the ceiling invariant is not affected.
		s.logger.Warn().Err(err).Str("key", dailyKey).Msg("failed to compensate daily counter")
	}
}

func (s *QuotaService) observeCheck(dec quota.Decision) {
	if s.metrics == nil {
		return
	}
	if dec.Allowed {
		s.metrics.QuotaChecks.WithLabelValues("allowed").Inc()
		return
	}
	s.metrics.QuotaChecks.WithLabelValues("denied").Inc()
	s.metrics.QuotaDenials.WithLabelValues(string(dec.LimitedBy)).Inc()
}

func (s *QuotaService) observeRaceLost() {
	if s.metrics != nil {
		s.metrics.QuotaRaceLost.Inc()
	}
}
