package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/core"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/translate"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

// ChatHandler serves the OpenAI-compatible surface.
type ChatHandler struct {
	gateway *core.Gateway
	cache   *cache.Cache
	log     *slog.Logger
}

func NewChatHandler(gateway *core.Gateway, responseCache *cache.Cache, log *slog.Logger) *ChatHandler {
	return &ChatHandler{gateway: gateway, cache: responseCache, log: log}
}

// HandleChatCompletion handles POST /v1/chat/completions.
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, apiKey, ok := callerFrom(r)
	if !ok {
		writeOpenAIError(w, http.StatusUnauthorized, "invalid_request_error", "unauthorized")
		return
	}

	var wire openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}

	req, err := translate.FromOpenAIRequest(&wire)
	if err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	requestID := usage.NewRequestID()
	log := h.log.With("request_id", requestID, "caller_id", caller.ID, "model", req.Model)

	if req.Stream {
		h.streamCompletion(w, r, log, requestID, caller, req)
		return
	}

	if h.cacheUsable(apiKey, req) {
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
		writeOpenAIError(w, status, errType, err.Error())
		return
	}

	if h.cacheUsable(apiKey, req) {
		h.cache.Set(ctx, req, resp, apiKey.CacheTTL)
	}

	log.Info("completion served",
		"input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens)
	h.writeResponse(w, resp)
}

func (h *ChatHandler) cacheUsable(apiKey *models.APIKey, req *translate.Request) bool {
	return h.cache != nil && apiKey.CacheEnabled && cache.Cacheable(req)
}

func (h *ChatHandler) writeResponse(w http.ResponseWriter, resp *translate.Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(translate.ToOpenAIResponse(resp))
}

func (h *ChatHandler) streamCompletion(w http.ResponseWriter, r *http.Request, log *slog.Logger, requestID string, caller *core.Caller, req *translate.Request) {
	session, err := h.gateway.StartStream(r.Context(), requestID, caller, req)
	if err != nil {
		log.Error("stream start failed", "error", err)
		status, errType := classify(err)
		setRateLimitHeaders(w, err)
		writeOpenAIError(w, status, errType, err.Error())
		return
	}
	defer session.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeOpenAIError(w, http.StatusInternalServerError, "api_error", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	frames := translate.NewOpenAIFrameWriter(w, time.Now().Unix())
	relayStream(r.Context(), log, session, frames, flusher)
}

// relayStream pumps session events through a frame writer until the stream
// ends. Shared by both dialect surfaces. Upstream errors after the first
// frame are reported in-band; before it, as a plain error frame too, since
// headers have already been sent.
func relayStream(ctx context.Context, log *slog.Logger, session *core.StreamSession, frames translate.FrameWriter, flusher http.Flusher) {
	start := func() error {
		return frames.Start(translate.StreamMeta{
			RequestID:   session.RequestID(),
			Model:       session.ModelName(),
			InputTokens: session.InputTokens(),
		})
	}

	started := false
	for {
		ev, err := session.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info("client disconnected mid-stream")
			return
		}
		if err != nil {
			log.Error("stream failed", "error", err)
			_ = frames.Error(err.Error())
			flusher.Flush()
			return
		}

		if !started {
			if err := start(); err != nil {
				return
			}
			started = true
			flusher.Flush()
		}

		if ev.ContentDelta != "" {
			if err := frames.Delta(ev.ContentDelta); err != nil {
				return
			}
			flusher.Flush()
		}
	}

	if !started {
		if err := start(); err != nil {
			return
		}
	}

	out, _ := session.OutputTokens()
	if err := frames.Finish(session.FinishReason(), session.InputTokens(), out); err != nil {
		return
	}
	flusher.Flush()
}
