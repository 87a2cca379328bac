package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/core"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/translate"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/usage"
)

// MessagesHandler serves the Anthropic-compatible surface.
type MessagesHandler struct {
	gateway *core.Gateway
	cache   *cache.Cache
	log     *slog.Logger
}

func NewMessagesHandler(gateway *core.Gateway, responseCache *cache.Cache, log *slog.Logger) *MessagesHandler {
	return &MessagesHandler{gateway: gateway, cache: responseCache, log: log}
}

// HandleMessages handles POST /v1/messages.
func (h *MessagesHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, apiKey, ok := callerFrom(r)
	if !ok {
		writeAnthropicError(w, http.StatusUnauthorized, "authentication_error", "unauthorized")
		return
	}

	var wire translate.AnthropicRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}

	req, err := translate.FromAnthropicRequest(&wire)
	if err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	requestID := usage.NewRequestID()
	log := h.log.With("request_id", requestID, "caller_id", caller.ID, "model", req.Model)

	if req.Stream {
		h.streamMessages(w, r, log, requestID, caller, req)
		return
	}

	cacheOK := h.cache != nil && apiKey.CacheEnabled && cache.Cacheable(req)
	if cacheOK {
		if cached, err := h.cache.Get(ctx, req); err == nil {
			log.Info("cache hit")
			cached.ID = requestID
			h.writeResponse(w, cached)
			return
		}
	}

	resp, err := h.gateway.Complete(ctx, requestID, caller, req)
	if err != nil {
		log.Error("completion failed", "error", err)
		status, errType := classify(err)
		setRateLimitHeaders(w, err)
		writeAnthropicError(w, status, errType, err.Error())
		return
	}

	if cacheOK {
		h.cache.Set(ctx, req, resp, apiKey.CacheTTL)
	}

	log.Info("completion served",
		"input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens)
	h.writeResponse(w, resp)
}

func (h *MessagesHandler) writeResponse(w http.ResponseWriter, resp *translate.Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(translate.ToAnthropicResponse(resp))
}

func (h *MessagesHandler) streamMessages(w http.ResponseWriter, r *http.Request, log *slog.Logger, requestID string, caller *core.Caller, req *translate.Request) {
	session, err := h.gateway.StartStream(r.Context(), requestID, caller, req)
	if err != nil {
		log.Error("stream start failed", "error", err)
		status, errType := classify(err)
		setRateLimitHeaders(w, err)
		writeAnthropicError(w, status, errType, err.Error())
		return
	}
	defer session.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAnthropicError(w, http.StatusInternalServerError, "api_error", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	relayStream(r.Context(), log, session, translate.NewAnthropicFrameWriter(w), flusher)
}
