package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/breaker"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/translate"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/usage"
)

// StreamSession relays upstream stream events to the caller and settles
// breaker state, usage accounting and token consumption exactly once when
// the stream ends, however it ends.
type StreamSession struct {
	gateway   *Gateway
	caller    *Caller
	call      *providers.Call
	requestID string
	upstream  providers.Stream
	breaker   *breaker.Breaker
	start     time.Time

	content      strings.Builder
	inputTokens  int
	outputTokens int
	finishReason string
	settled      bool
}

// RequestID returns the gateway-assigned request ID for this stream.
func (s *StreamSession) RequestID() string { return s.requestID }

// ModelName returns the model actually serving the stream, which differs
// from the requested one after a fallback.
func (s *StreamSession) ModelName() string { return s.call.Model.Name }

// InputTokens returns the prompt token count reported so far; zero until
// the upstream reports usage.
func (s *StreamSession) InputTokens() int { return s.inputTokens }

// Recv returns the next event. io.EOF marks a normally completed stream;
// both EOF and upstream errors settle accounting before returning.
func (s *StreamSession) Recv(ctx context.Context) (translate.StreamEvent, error) {
	ev, err := s.upstream.Recv()
	if errors.Is(err, io.EOF) {
		s.settle(ctx, nil)
		return translate.StreamEvent{}, io.EOF
	}
	if err != nil {
		// Cancellation means the client went away, not that the provider
		// failed. The partial delivery settles as an estimated success so
		// the tokens already generated are still accounted for.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.settle(context.Background(), nil)
			return translate.StreamEvent{}, err
		}
		s.settle(ctx, err)
		return translate.StreamEvent{}, &UpstreamError{Provider: s.call.Provider.Name, Err: err}
	}

	s.content.WriteString(ev.ContentDelta)
	if ev.InputTokens > 0 {
		s.inputTokens = ev.InputTokens
	}
	if ev.OutputTokens > 0 {
		s.outputTokens = ev.OutputTokens
	}
	if ev.FinishReason != "" {
		s.finishReason = ev.FinishReason
	}
	return ev, nil
}

// FinishReason returns the upstream finish reason, or "stop" when the
// upstream never reported one.
func (s *StreamSession) FinishReason() string {
	if s.finishReason == "" {
		return "stop"
	}
	return s.finishReason
}

// OutputTokens returns the completion token count: reported usage when the
// upstream sent it, a text-length estimate otherwise. The second return
// reports whether the count is estimated.
func (s *StreamSession) OutputTokens() (int, bool) {
	if s.outputTokens > 0 {
		return s.outputTokens, false
	}
	return usage.EstimateTokens(s.content.String()), true
}

// Close releases the upstream connection. If the stream has not completed,
// the partial delivery is settled as an estimated success so the tokens
// already generated are still accounted for.
func (s *StreamSession) Close() error {
	if !s.settled {
		s.settle(context.Background(), nil)
	}
	return s.upstream.Close()
}

func (s *StreamSession) settle(ctx context.Context, upstreamErr error) {
	if s.settled {
		return
	}
	s.settled = true

	g := s.gateway
	uc := g.usageCall(s.requestID, s.caller, s.call, s.start, true)

	if upstreamErr != nil {
		s.breaker.RecordFailure()
		g.tracker.TrackError(ctx, uc, upstreamErr.Error())
		return
	}

	out, estimated := s.OutputTokens()
	in := s.inputTokens
	if in == 0 {
		in = estimatePromptTokens(s.call.Request)
		estimated = true
	}

	s.breaker.RecordSuccess()
	g.tracker.TrackSuccess(ctx, uc, in, out, estimated)
	if err := g.limiter.ConsumeTokens(ctx, s.caller.ID, int64(in+out)); err != nil {
		g.log.Error("token consume failed", "request_id", s.requestID, "error", err)
	}
}

// estimatePromptTokens approximates the prompt size from the request text
// when the upstream never reported input usage.
func estimatePromptTokens(req *translate.Request) int {
	var b strings.Builder
	b.WriteString(req.System)
	for _, msg := range req.Messages {
		b.WriteString(msg.Content)
	}
	return usage.EstimateTokens(b.String())
}
