package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/ljxpython/noteai/app"
	"github.com/ljxpython/noteai/domain/quota"
	"github.com/ljxpython/noteai/domain/reconcile"
)

// maxInputRunes bounds the text accepted by the AI endpoints.
const maxInputRunes = 50000

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

// OptimizeRequest is the body of POST /api/v1/ai/optimize.
type OptimizeRequest struct {
	Text      string `json:"text"`
	Kind      string `json:"kind,omitempty"`
	UserStyle string `json:"user_style,omitempty"`
}

// ClassifyRequest is the body of POST /api/v1/ai/classify.
type ClassifyRequest struct {
	Content    string         `json:"content"`
	Categories []app.Category `json:"existing_categories,omitempty"`
}

// AIResponse wraps a reconciled model result with the quota state after
// the operation.
type AIResponse struct {
	Result reconcile.Result `json:"result"`
	Quota  QuotaState       `json:"quota"`
}

// QuotaState is the remaining-allowance view returned alongside results
// and denials.
type QuotaState struct {
	RemainingDaily   int64  `json:"remaining_daily"`
	RemainingMonthly int64  `json:"remaining_monthly"`
	ResetAt          string `json:"reset_at,omitempty"`
}

func quotaState(dec quota.Decision) QuotaState {
	qs := QuotaState{
		RemainingDaily:   dec.RemainingDaily,
		RemainingMonthly: dec.RemainingMonthly,
	}
	if !dec.ResetAt.IsZero() {
		qs.ResetAt = dec.ResetAt.UTC().Format(time.RFC3339)
	}
	return qs
}

// -----------------------------------------------------------------------------
// AI endpoints
// -----------------------------------------------------------------------------

// Optimize handles POST /api/v1/ai/optimize.
func (h *Handler) Optimize(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	var req OptimizeRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	if utf8.RuneCountInString(req.Text) > maxInputRunes {
		writeError(w, http.StatusRequestEntityTooLarge, "text_too_long", "text exceeds maximum length")
		return
	}

	res, dec, err := h.ai.OptimizeText(r.Context(), userID, req.Text, app.OptimizeOptions{
		Kind:      req.Kind,
		UserStyle: req.UserStyle,
	})
	h.writeAIResult(w, res, dec, err)
}

// Classify handles POST /api/v1/ai/classify.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	var req ClassifyRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "missing_content", "content is required")
		return
	}
	if utf8.RuneCountInString(req.Content) > maxInputRunes {
		writeError(w, http.StatusRequestEntityTooLarge, "content_too_long", "content exceeds maximum length")
		return
	}

	res, dec, err := h.ai.ClassifyContent(r.Context(), userID, req.Content, req.Categories)
	h.writeAIResult(w, res, dec, err)
}

// writeAIResult maps an AI service outcome to HTTP. Denials and lost
// races both return 429 with distinct codes; everything the model or
// parser failed on still comes back 200 with a degraded result.
func (h *Handler) writeAIResult(w http.ResponseWriter, res reconcile.Result, dec quota.Decision, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, AIResponse{Result: res, Quota: quotaState(dec)})
	case errors.Is(err, quota.ErrExceeded):
		writeQuotaDenied(w, "quota_exceeded", "usage limit reached", dec)
	case errors.Is(err, quota.ErrRaceLost):
		writeQuotaDenied(w, "quota_race_lost", "usage limit reached by a concurrent request", dec)
	default:
		h.logger.Error().Err(err).Msg("ai operation failed")
		writeError(w, http.StatusServiceUnavailable, "quota_unavailable", "quota store unavailable")
	}
}

func writeQuotaDenied(w http.ResponseWriter, code, message string, dec quota.Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"limited_by": string(dec.LimitedBy),
		},
		"quota": quotaState(dec),
	})
}

// -----------------------------------------------------------------------------
// Quota endpoints
// -----------------------------------------------------------------------------

// Quota handles GET /api/v1/quota.
func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	info, err := h.ai.QuotaInfo(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("quota info failed")
		writeError(w, http.StatusServiceUnavailable, "quota_unavailable", "quota store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ResetQuota handles POST /api/v1/admin/quota/{user_id}/reset.
// The window query parameter selects daily, monthly or all (default).
func (h *Handler) ResetQuota(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	var kinds []quota.WindowKind
	switch r.URL.Query().Get("window") {
	case "daily":
		kinds = []quota.WindowKind{quota.WindowDaily}
	case "monthly":
		kinds = []quota.WindowKind{quota.WindowMonthly}
	case "", "all":
		kinds = []quota.WindowKind{quota.WindowDaily, quota.WindowMonthly}
	default:
		writeError(w, http.StatusBadRequest, "invalid_window", "window must be daily, monthly or all")
		return
	}

	for _, kind := range kinds {
		if err := h.quota.Reset(r.Context(), userID, kind); err != nil {
			h.logger.Error().Err(err).Str("user_id", userID).Msg("quota reset failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to reset quota")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}
