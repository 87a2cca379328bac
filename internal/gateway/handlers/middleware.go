package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/core"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

// KeyVerifier authenticates a raw API key value and returns the caller
// identity with its resolved quota.
type KeyVerifier interface {
	VerifyKey(ctx context.Context, rawKey string) (*models.APIKey, error)
}

type contextKey int

const apiKeyContextKey contextKey = iota

// apiKeyFrom returns the authenticated key attached by AuthMiddleware.
func apiKeyFrom(ctx context.Context) (*models.APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(*models.APIKey)
	return key, ok
}

// callerFrom builds the gateway caller for the authenticated key.
func callerFrom(r *http.Request) (*core.Caller, *models.APIKey, bool) {
	key, ok := apiKeyFrom(r.Context())
	if !ok {
		return nil, nil, false
	}
	return &core.Caller{
		ID: key.ID,
		IP: clientIP(r),
	}, key, true
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from the forwarding
	// headers before we get here.
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

type Middleware struct {
	verifier KeyVerifier
	limiter  *ratelimit.Limiter
	log      *slog.Logger
}

func NewMiddleware(verifier KeyVerifier, limiter *ratelimit.Limiter, log *slog.Logger) *Middleware {
	return &Middleware{verifier: verifier, limiter: limiter, log: log}
}

// extractKey pulls the raw API key from either auth header convention:
// Authorization: Bearer (OpenAI clients) or x-api-key (Anthropic clients).
func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return r.Header.Get("x-api-key")
}

// Auth validates the API key and attaches the caller identity to the
// request context.
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractKey(r)
		if rawKey == "" {
			writeAuthError(w, r, "missing API key")
			return
		}

		apiKey, err := m.verifier.VerifyKey(r.Context(), rawKey)
		if err != nil || apiKey == nil || !apiKey.Active {
			writeAuthError(w, r, "invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey, apiKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimit enforces the caller's quota before the handler runs, so every
// request is counted whether it is served upstream or from cache.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, ok := apiKeyFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if err := m.limiter.CheckAll(r.Context(), apiKey.ID, apiKey.Quota); err != nil {
			var limited *ratelimit.LimitExceededError
			if !errors.As(err, &limited) {
				// Counter store trouble fails open rather than taking
				// the gateway down with it.
				m.log.Error("rate limit check failed", "caller_id", apiKey.ID, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			setRateLimitHeaders(w, err)
			if strings.HasPrefix(r.URL.Path, "/v1/messages") {
				writeAnthropicError(w, http.StatusTooManyRequests, "rate_limit_error", err.Error())
			} else {
				writeOpenAIError(w, http.StatusTooManyRequests, "rate_limit_error", err.Error())
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeAuthError renders a 401 in the dialect the route speaks.
func writeAuthError(w http.ResponseWriter, r *http.Request, msg string) {
	if strings.HasPrefix(r.URL.Path, "/v1/messages") {
		writeAnthropicError(w, http.StatusUnauthorized, "authentication_error", msg)
		return
	}
	writeOpenAIError(w, http.StatusUnauthorized, "invalid_request_error", msg)
}
