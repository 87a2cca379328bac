package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/breaker"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/translate"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

// Caller is the authenticated identity attached to a request.
type Caller struct {
	ID string
	IP string
}

// Gateway runs the full request path: model resolution, upstream
// invocation, breaker feedback and usage accounting.
type Gateway struct {
	resolver *Resolver
	breakers *breaker.Registry
	limiter  *ratelimit.Limiter
	tracker  *usage.Tracker
	creds    CredentialResolver
	invokers providers.Selector
	log      *slog.Logger
	now      func() time.Time
}

func NewGateway(
	resolver *Resolver,
	breakers *breaker.Registry,
	limiter *ratelimit.Limiter,
	tracker *usage.Tracker,
	creds CredentialResolver,
	invokers providers.Selector,
	log *slog.Logger,
) *Gateway {
	return &Gateway{
		resolver: resolver,
		breakers: breakers,
		limiter:  limiter,
		tracker:  tracker,
		creds:    creds,
		invokers: invokers,
		log:      log,
		now:      time.Now,
	}
}

// prepare runs the shared front half of both paths: model resolution and
// credential lookup. Quota enforcement happens upstream of the gateway so
// cached responses are counted too. The returned call is ready to hand to
// an invoker.
func (g *Gateway) prepare(ctx context.Context, caller *Caller, req *translate.Request) (*providers.Call, error) {
	res, err := g.resolver.Resolve(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	cred, err := g.creds.ResolveCredential(ctx, res.Provider)
	if err != nil {
		// Resolve consumed a breaker admission; it must see an outcome
		// or a half-open trial slot is lost.
		g.breakers.Get(res.Provider.Name).RecordFailure()
		return nil, err
	}

	upstream := *req
	if upstream.MaxTokens <= 0 || (res.Model.MaxTokens > 0 && upstream.MaxTokens > res.Model.MaxTokens) {
		upstream.MaxTokens = res.Model.MaxTokens
	}
	if !res.Model.SupportsTools {
		upstream.Tools = nil
		upstream.ToolChoice = nil
	}

	return &providers.Call{
		Provider:   res.Provider,
		Model:      res.Model,
		WireModel:  wireModelName(res.Provider, res.Model),
		Credential: cred,
		Request:    &upstream,
	}, nil
}

// wireModelName is the model identifier sent upstream. Kinds routed through
// an aggregation layer carry a "<kind>/" prefix.
func wireModelName(provider *models.Provider, model *models.ModelConfig) string {
	if !provider.Kind.NeedsModelPrefix(provider.BaseURL != "") {
		return model.Name
	}
	prefix := string(provider.Kind) + "/"
	if strings.HasPrefix(model.Name, prefix) {
		return model.Name
	}
	return prefix + model.Name
}

func (g *Gateway) usageCall(requestID string, caller *Caller, call *providers.Call, start time.Time, streaming bool) usage.Call {
	return usage.Call{
		RequestID: requestID,
		CallerID:  caller.ID,
		Model:     call.Model,
		Provider:  call.Provider,
		LatencyMs: int(g.now().Sub(start).Milliseconds()),
		Streaming: streaming,
		IPAddress: caller.IP,
	}
}

// Complete runs a non-streaming chat completion end to end.
func (g *Gateway) Complete(ctx context.Context, requestID string, caller *Caller, req *translate.Request) (*translate.Response, error) {
	call, err := g.prepare(ctx, caller, req)
	if err != nil {
		return nil, err
	}

	brk := g.breakers.Get(call.Provider.Name)
	start := g.now()

	resp, err := g.invokers.For(call.Provider.Kind).Complete(ctx, call)
	if err != nil {
		// Malformed payloads are not provider failures; they bypass the
		// breaker and usage accounting.
		var terr *translate.Error
		if errors.As(err, &terr) {
			return nil, err
		}
		brk.RecordFailure()
		g.tracker.TrackError(ctx, g.usageCall(requestID, caller, call, start, false), err.Error())
		return nil, &UpstreamError{Provider: call.Provider.Name, Err: err}
	}

	brk.RecordSuccess()
	g.tracker.TrackSuccess(ctx, g.usageCall(requestID, caller, call, start, false), resp.InputTokens, resp.OutputTokens, false)
	if err := g.limiter.ConsumeTokens(ctx, caller.ID, int64(resp.InputTokens+resp.OutputTokens)); err != nil {
		g.log.Error("token consume failed", "request_id", requestID, "error", err)
	}

	resp.ID = requestID
	// Report the model that actually served the call; it differs from the
	// requested one after a fallback.
	resp.Model = call.Model.Name
	if resp.Created == 0 {
		resp.Created = g.now().Unix()
	}
	return resp, nil
}

// StartStream opens a streaming completion and returns the session that
// relays events and settles accounting when the stream ends.
func (g *Gateway) StartStream(ctx context.Context, requestID string, caller *Caller, req *translate.Request) (*StreamSession, error) {
	call, err := g.prepare(ctx, caller, req)
	if err != nil {
		return nil, err
	}

	brk := g.breakers.Get(call.Provider.Name)
	start := g.now()

	upstream, err := g.invokers.For(call.Provider.Kind).Stream(ctx, call)
	if err != nil {
		brk.RecordFailure()
		g.tracker.TrackError(ctx, g.usageCall(requestID, caller, call, start, true), err.Error())
		return nil, &UpstreamError{Provider: call.Provider.Name, Err: err}
	}

	return &StreamSession{
		gateway:   g,
		caller:    caller,
		call:      call,
		requestID: requestID,
		upstream:  upstream,
		breaker:   brk,
		start:     start,
	}, nil
}
