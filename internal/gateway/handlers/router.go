package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the HTTP surface: both completion dialects behind
// auth, plus health and operational endpoints.
func NewRouter(mw *Middleware, chat *ChatHandler, messages *MessagesHandler, admin *AdminHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/health", admin.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(mw.Auth)
		r.With(mw.RateLimit).Post("/v1/chat/completions", chat.HandleChatCompletion)
		r.With(mw.RateLimit).Post("/v1/messages", messages.HandleMessages)
		r.Get("/v1/rate_limits", admin.HandleRateLimits)
		r.Get("/v1/breakers", admin.HandleBreakers)
		r.Post("/v1/breakers/reset", admin.HandleBreakersReset)
	})

	return r
}
