// Package metrics provides Prometheus metrics collection for NoteAI.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for NoteAI.
type Collector struct {
	// Quota metrics
	QuotaChecks    *prometheus.CounterVec // result: allowed, denied, error
	QuotaDenials   *prometheus.CounterVec // window: daily, monthly
	QuotaRaceLost  prometheus.Counter
	QuotaFailOpens prometheus.Counter

	// Reconcile metrics
	ReconcileResults *prometheus.CounterVec // operation x stage

	// Model call metrics
	ModelCallDuration *prometheus.HistogramVec // operation
	ModelCallErrors   *prometheus.CounterVec   // operation
}

// New creates a new metrics collector with all metrics registered.
func New() *Collector {
	return &Collector{
		QuotaChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "noteai",
				Name:      "quota_checks_total",
				Help:      "Total number of quota admission checks",
			},
			[]string{"result"},
		),
		QuotaDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "noteai",
				Name:      "quota_denials_total",
				Help:      "Quota denials by limiting window",
			},
			[]string{"window"},
		),
		QuotaRaceLost: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "noteai",
				Name:      "quota_race_lost_total",
				Help:      "Commits rejected after a successful check",
			},
		),
		QuotaFailOpens: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "noteai",
				Name:      "quota_fail_opens_total",
				Help:      "Quota decisions taken while the counter store was unreachable",
			},
		),
		ReconcileResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "noteai",
				Name:      "reconcile_results_total",
				Help:      "Reconciled model responses by operation and parse stage",
			},
			[]string{"operation", "stage"},
		),
		ModelCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "noteai",
				Name:      "model_call_duration_seconds",
				Help:      "Upstream model call duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"operation"},
		),
		ModelCallErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "noteai",
				Name:      "model_call_errors_total",
				Help:      "Upstream model call failures (transport or timeout)",
			},
			[]string{"operation"},
		),
	}
}

// NewWithRegistry creates a collector registered against a private
// registry (for tests, avoids duplicate registration panics).
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		QuotaChecks: factory.NewCounterVec(
			prometheus.CounterOpts{Namespace: "noteai", Name: "quota_checks_total", Help: "Total number of quota admission checks"},
			[]string{"result"},
		),
		QuotaDenials: factory.NewCounterVec(
			prometheus.CounterOpts{Namespace: "noteai", Name: "quota_denials_total", Help: "Quota denials by limiting window"},
			[]string{"window"},
		),
		QuotaRaceLost: factory.NewCounter(
			prometheus.CounterOpts{Namespace: "noteai", Name: "quota_race_lost_total", Help: "Commits rejected after a successful check"},
		),
		QuotaFailOpens: factory.NewCounter(
			prometheus.CounterOpts{Namespace: "noteai", Name: "quota_fail_opens_total", Help: "Quota decisions taken while the counter store was unreachable"},
		),
		ReconcileResults: factory.NewCounterVec(
			prometheus.CounterOpts{Namespace: "noteai", Name: "reconcile_results_total", Help: "Reconciled model responses by operation and parse stage"},
			[]string{"operation", "stage"},
		),
		ModelCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: "noteai", Name: "model_call_duration_seconds", Help: "Upstream model call duration in seconds", Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30}},
			[]string{"operation"},
		),
		ModelCallErrors: factory.NewCounterVec(
			prometheus.CounterOpts{Namespace: "noteai", Name: "model_call_errors_total", Help: "Upstream model call failures (transport or timeout)"},
			[]string{"operation"},
		),
	}
}
