package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/core"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/translate"
)

// writeOpenAIError renders the OpenAI error envelope.
func writeOpenAIError(w http.ResponseWriter, status int, errType, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeAnthropicError renders the Anthropic error envelope.
func writeAnthropicError(w http.ResponseWriter, status int, errType, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    errType,
			"message": msg,
		},
	})
}

// classify maps gateway errors to a status code and a dialect-neutral error
// type; each surface renders it in its own envelope.
func classify(err error) (status int, errType string) {
	var (
		notFound    *core.ModelNotFoundError
		unavailable *core.ProviderUnavailableError
		upstream    *core.UpstreamError
		limited     *ratelimit.LimitExceededError
		translation *translate.Error
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found_error"
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, "rate_limit_error"
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, "overloaded_error"
	case errors.As(err, &upstream):
		return http.StatusBadGateway, "api_error"
	case errors.As(err, &translation):
		// Client-side parse failures are rejected before the gateway runs;
		// a translation error here means a malformed upstream payload.
		return http.StatusBadGateway, "api_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

// setRateLimitHeaders adds Retry-After for RPM violations. Token ceiling
// violations reset at the window boundary, not within a minute, so no
// retry hint is given for those.
func setRateLimitHeaders(w http.ResponseWriter, err error) {
	var limited *ratelimit.LimitExceededError
	if errors.As(err, &limited) && limited.Kind == ratelimit.LimitRPM {
		w.Header().Set("Retry-After", strconv.Itoa(60))
	}
}
