package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/breaker"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/ratelimit"
)

// AdminHandler serves health and operational introspection endpoints.
type AdminHandler struct {
	breakers *breaker.Registry
	limiter  *ratelimit.Limiter
	log      *slog.Logger
}

func NewAdminHandler(breakers *breaker.Registry, limiter *ratelimit.Limiter, log *slog.Logger) *AdminHandler {
	return &AdminHandler{breakers: breakers, limiter: limiter, log: log}
}

// HandleHealth handles GET /health.
func (h *AdminHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleBreakers handles GET /v1/breakers.
func (h *AdminHandler) HandleBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"breakers": h.breakers.AllStatus(),
	})
}

// HandleBreakersReset handles POST /v1/breakers/reset.
func (h *AdminHandler) HandleBreakersReset(w http.ResponseWriter, _ *http.Request) {
	h.breakers.ResetAll()
	h.log.Info("all circuit breakers reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// HandleRateLimits handles GET /v1/rate_limits for the calling key.
func (h *AdminHandler) HandleRateLimits(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := apiKeyFrom(r.Context())
	if !ok {
		writeOpenAIError(w, http.StatusUnauthorized, "invalid_request_error", "unauthorized")
		return
	}

	info, err := h.limiter.UsageInfo(r.Context(), apiKey.ID, apiKey.Quota)
	if err != nil {
		h.log.Error("rate limit lookup failed", "caller_id", apiKey.ID, "error", err)
		writeOpenAIError(w, http.StatusInternalServerError, "api_error", "rate limit lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
