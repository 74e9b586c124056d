// Package web provides the JSON HTTP API for the AI quota and
// reconciliation service.
package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ljxpython/noteai/app"
)

// Handler provides the public API endpoints.
type Handler struct {
	ai     *app.AIService
	quota  *app.QuotaService
	logger zerolog.Logger

	metricsHandler http.Handler
	maxBodyBytes   int64
}

// Deps contains dependencies for the API handler.
type Deps struct {
	AI     *app.AIService
	Quota  *app.QuotaService
	Logger zerolog.Logger

	// MetricsHandler, when set, is mounted at /metrics. Leave nil to
	// use the default promhttp handler, or disable metrics in Router.
	MetricsHandler http.Handler

	// MaxBodyBytes limits request body size. Zero means 1 MiB.
	MaxBodyBytes int64
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		ai:             deps.AI,
		quota:          deps.Quota,
		logger:         deps.Logger,
		metricsHandler: deps.MetricsHandler,
		maxBodyBytes:   maxBody,
	}
}

// RouterConfig controls optional router features.
type RouterConfig struct {
	MetricsEnabled bool
	MetricsPath    string
}

// Router returns the HTTP router with all API routes mounted.
func (h *Handler) Router(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newLoggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.Health)

	if cfg.MetricsEnabled {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		if h.metricsHandler != nil {
			r.Handle(path, h.metricsHandler)
		} else {
			r.Handle(path, promhttp.Handler())
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)

			r.Post("/ai/optimize", h.Optimize)
			r.Post("/ai/classify", h.Classify)
			r.Get("/quota", h.Quota)
		})

		// Admin routes carry no user scoping and must only be reachable
		// from the internal network; the deployment keeps /api/v1/admin
		// off the public ingress.
		r.Post("/admin/quota/{user_id}/reset", h.ResetQuota)
	})

	return r
}

// requireUser extracts the caller identity from the X-User-ID header.
// Authentication proper happens upstream; this service only needs a
// stable user identifier to scope quotas.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
			return
		}
		ctx := contextWithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
