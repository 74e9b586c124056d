package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ljxpython/noteai/adapters/metrics"
	"github.com/ljxpython/noteai/domain/quota"
	"github.com/ljxpython/noteai/domain/reconcile"
	"github.com/ljxpython/noteai/domain/usage"
	"github.com/ljxpython/noteai/ports"
)

// modelCallCeiling is the hard upper bound on any single upstream call,
// regardless of configuration. Expiry is treated identically to a
// transport failure.
const modelCallCeiling = 30 * time.Second

// maxClassifyInput truncates classification input to keep prompts inside
// the model's context budget.
const maxClassifyInput = 2000

// OptimizeOptions tune a text optimization request.
type OptimizeOptions struct {
	// Kind selects the optimization focus: "grammar", "expression",
	// "structure" or "all" (default).
	Kind string
	// UserStyle optionally describes the user's writing style preference.
	UserStyle string
}

// Category describes one existing note category for classification.
type Category struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AIService sequences the core flow: admission check, bounded model
// call, reconciliation, usage commit. Quota errors are the only ones
// that reach the caller as actionable failures; reconciliation problems
// are always absorbed into the result's degraded/error fields.
type AIService struct {
	quota   *QuotaService
	model   ports.ModelClient
	rec     reconcile.Reconciler
	usage   ports.UsageRecorder
	idGen   ports.IDGenerator
	clock   ports.Clock
	logger  zerolog.Logger
	metrics *metrics.Collector
	timeout time.Duration

	// Dynamic configuration (hot-reloadable)
	limits atomic.Pointer[quota.Limits]
}

// AIDeps contains dependencies for AIService.
type AIDeps struct {
	Quota   *QuotaService
	Model   ports.ModelClient
	Rec     reconcile.Reconciler
	Usage   ports.UsageRecorder
	IDGen   ports.IDGenerator
	Clock   ports.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
}

// AIConfig contains configuration for AIService.
type AIConfig struct {
	// Timeout bounds each upstream model call. Values outside
	// (0, 30s] are clamped to 30s.
	Timeout time.Duration
	// Limits are the initial plan limits applied to every user.
	Limits quota.Limits
}

// NewAIService creates a new AI service.
func NewAIService(deps AIDeps, cfg AIConfig) *AIService {
	if cfg.Timeout <= 0 || cfg.Timeout > modelCallCeiling {
		cfg.Timeout = modelCallCeiling
	}
	lim := cfg.Limits
	if lim.PerDay <= 0 || lim.PerMonth <= 0 {
		lim = quota.DefaultFreeLimits
	}

	s := &AIService{
		quota:   deps.Quota,
		model:   deps.Model,
		rec:     deps.Rec,
		usage:   deps.Usage,
		idGen:   deps.IDGen,
		clock:   deps.Clock,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		timeout: cfg.Timeout,
	}
	s.limits.Store(&lim)
	return s
}

// UpdateLimits swaps the plan limits. Thread-safe; used by config hot
// reload.
func (s *AIService) UpdateLimits(lim quota.Limits) {
	s.limits.Store(&lim)
}

// Limits returns the current plan limits.
func (s *AIService) Limits() quota.Limits {
	return *s.limits.Load()
}

// CheckAndReserve runs the admission check without consuming allowance.
// Abandoning the request after this point costs the user nothing: quota
// is consumed only at commit time.
func (s *AIService) CheckAndReserve(ctx context.Context, userID string) (quota.Decision, error) {
	return s.quota.Check(ctx, userID, s.Limits())
}

// QuotaInfo returns the usage snapshot for a user.
func (s *AIService) QuotaInfo(ctx context.Context, userID string) (quota.Info, error) {
	return s.quota.Info(ctx, userID, s.Limits())
}

// OptimizeText runs the full optimization flow for one user.
//
// Returned errors are quota signals only: quota.ErrExceeded when the
// check denies, quota.ErrRaceLost when the commit lost the race after a
// successful check (the result is still returned so the caller may
// choose to keep it, but the operation was not billed). Upstream
// failures never surface as errors - they come back as a degraded result
// with the original text as payload.
func (s *AIService) OptimizeText(ctx context.Context, userID, text string, opts OptimizeOptions) (reconcile.Result, quota.Decision, error) {
	return s.run(ctx, userID, text, reconcile.OpOptimize, buildOptimizePrompt(text, opts))
}

// ClassifyContent runs the full classification flow for one user.
// Error semantics match OptimizeText.
func (s *AIService) ClassifyContent(ctx context.Context, userID, content string, existing []Category) (reconcile.Result, quota.Decision, error) {
	return s.run(ctx, userID, content, reconcile.OpClassify, buildClassifyPrompt(content, existing))
}

func (s *AIService) run(ctx context.Context, userID, original string, op reconcile.Operation, prompt string) (reconcile.Result, quota.Decision, error) {
	lim := s.Limits()

	dec, err := s.quota.Check(ctx, userID, lim)
	if err != nil {
		return reconcile.Result{}, dec, err
	}
	if !dec.Allowed {
		s.logger.Info().
			Str("user_id", userID).
			Str("operation", string(op)).
			Str("window", string(dec.LimitedBy)).
			Msg("quota denied")
		return reconcile.Result{}, dec, quota.ErrExceeded
	}

	res, latency := s.generate(ctx, original, op, prompt)

	billed := false
	var raceErr error
	if res.Stage != reconcile.StageFailed {
		// Upstream produced output; consume allowance. A lost race means
		// a concurrent request took the last unit between check and
		// commit - the result is handed back unbilled.
		ok, err := s.quota.Commit(ctx, userID, lim, 1)
		if err != nil {
			return res, dec, err
		}
		if ok {
			billed = true
		} else {
			raceErr = quota.ErrRaceLost
		}
	}

	s.record(userID, original, res, billed, latency)
	return res, dec, raceErr
}

// generate performs the bounded upstream call and reconciles its output.
func (s *AIService) generate(ctx context.Context, original string, op reconcile.Operation, prompt string) (reconcile.Result, time.Duration) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.clock.Now()
	raw, err := s.model.Generate(cctx, prompt, op)
	latency := s.clock.Now().Sub(start)

	if s.metrics != nil {
		s.metrics.ModelCallDuration.WithLabelValues(string(op)).Observe(latency.Seconds())
	}

	var res reconcile.Result
	if err != nil {
		s.logger.Warn().Err(err).Str("operation", string(op)).Msg("upstream model call failed")
		if s.metrics != nil {
			s.metrics.ModelCallErrors.WithLabelValues(string(op)).Inc()
		}
		res = s.rec.Failed(original, op, err)
	} else {
		res = s.rec.Reconcile(raw, original, op)
	}

	if s.metrics != nil {
		s.metrics.ReconcileResults.WithLabelValues(string(op), string(res.Stage)).Inc()
	}
	return res, latency
}

func (s *AIService) record(userID, original string, res reconcile.Result, billed bool, latency time.Duration) {
	if s.usage == nil {
		return
	}
	s.usage.Record(usage.Event{
		ID:         s.idGen.New(),
		UserID:     userID,
		Operation:  res.Operation,
		Stage:      res.Stage,
		Confidence: res.Confidence,
		Degraded:   res.Degraded,
		Billed:     billed,
		LatencyMs:  latency.Milliseconds(),
		InputLen:   utf8.RuneCountInString(original),
		OutputLen:  utf8.RuneCountInString(res.Payload()),
		Timestamp:  s.clock.Now(),
	})
}

// -----------------------------------------------------------------------------
// Prompts
// -----------------------------------------------------------------------------

var optimizeKindDescriptions = map[string]string{
	"grammar":    "fix grammar, punctuation and typos",
	"expression": "improve clarity and phrasing",
	"structure":  "improve structure and logical flow",
	"all":        "full optimization: grammar, expression and structure",
}

func buildOptimizePrompt(text string, opts OptimizeOptions) string {
	kind := opts.Kind
	if _, ok := optimizeKindDescriptions[kind]; !ok {
		kind = "all"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Optimize the following text (%s):\n\n%s\n", optimizeKindDescriptions[kind], text)
	if opts.UserStyle != "" {
		fmt.Fprintf(&b, "\nPreferred writing style: %s\n", opts.UserStyle)
	}
	b.WriteString("\nReturn the JSON object described in the system message.")
	return b.String()
}

func buildClassifyPrompt(content string, existing []Category) string {
	if utf8.RuneCountInString(content) > maxClassifyInput {
		content = string([]rune(content)[:maxClassifyInput])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Classify the following note:\n\n%s\n\n", content)
	if len(existing) > 0 {
		b.WriteString("Existing categories (prefer these when they fit):\n")
		for i, c := range existing {
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, c.Name, c.Description)
		}
	} else {
		b.WriteString("No existing categories; suggest suitable new category names.\n")
	}
	b.WriteString("\nReturn the JSON object described in the system message.")
	return b.String()
}
