package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/breaker"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/translate"
	"github.com/mrmushfiq/llm-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	modelsByName map[string]*models.ModelConfig
	modelsByID   map[int64]*models.ModelConfig
	providers    map[int64]*models.Provider
	groups       map[string]*models.ModelGroup
}

func (s *fakeStore) ModelByName(_ context.Context, name string) (*models.ModelConfig, error) {
	return s.modelsByName[name], nil
}

func (s *fakeStore) Model(_ context.Context, id int64) (*models.ModelConfig, error) {
	return s.modelsByID[id], nil
}

func (s *fakeStore) Provider(_ context.Context, id int64) (*models.Provider, error) {
	return s.providers[id], nil
}

func (s *fakeStore) GroupByType(_ context.Context, modelType string) (*models.ModelGroup, error) {
	return s.groups[modelType], nil
}

// newFallbackStore builds three chat models on three providers, grouped in
// order primary, second, third.
func newFallbackStore() *fakeStore {
	mk := func(id, providerID int64, name string, enabled bool) *models.ModelConfig {
		return &models.ModelConfig{
			ID:                id,
			ProviderID:        providerID,
			Name:              name,
			Type:              "chat",
			MaxTokens:         4096,
			InputCostPer1K:    decimal.RequireFromString("0.003"),
			OutputCostPer1K:   decimal.RequireFromString("0.015"),
			SupportsStreaming: true,
			SupportsTools:     true,
			Enabled:           enabled,
		}
	}
	s := &fakeStore{
		modelsByID: map[int64]*models.ModelConfig{
			1: mk(1, 10, "gpt-4o", true),
			2: mk(2, 20, "claude-3-5-sonnet", true),
			3: mk(3, 30, "gpt-4o-mini", true),
		},
		providers: map[int64]*models.Provider{
			10: {ID: 10, Name: "openai-primary", Kind: models.KindOpenAI, CredentialRef: "TEST_OPENAI_KEY", Enabled: true},
			20: {ID: 20, Name: "anthropic-backup", Kind: models.KindAnthropic, CredentialRef: "TEST_ANTHROPIC_KEY", Enabled: true},
			30: {ID: 30, Name: "openai-mini", Kind: models.KindOpenAI, CredentialRef: "TEST_OPENAI_KEY", Enabled: true},
		},
		groups: map[string]*models.ModelGroup{
			"chat": {
				ID: 1, Name: "chat-fallback", Type: "chat",
				ModelIDs:        []int64{1, 2, 3},
				FallbackEnabled: true,
				Enabled:         true,
			},
		},
	}
	s.modelsByName = map[string]*models.ModelConfig{
		"gpt-4o":            s.modelsByID[1],
		"claude-3-5-sonnet": s.modelsByID[2],
		"gpt-4o-mini":       s.modelsByID[3],
	}
	return s
}

type staticCreds struct{}

func (staticCreds) ResolveCredential(_ context.Context, _ *models.Provider) (string, error) {
	return "sk-test", nil
}

type failingCreds struct{}

func (failingCreds) ResolveCredential(_ context.Context, p *models.Provider) (string, error) {
	return "", &ProviderUnavailableError{Provider: p.Name}
}

type fakeInvoker struct {
	resp   *translate.Response
	err    error
	stream *fakeStream
	calls  []*providers.Call
}

func (f *fakeInvoker) Complete(_ context.Context, call *providers.Call) (*translate.Response, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	return &resp, nil
}

func (f *fakeInvoker) Stream(_ context.Context, call *providers.Call) (providers.Stream, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	if f.stream != nil {
		return f.stream, nil
	}
	return &fakeStream{events: f.streamEvents()}, nil
}

func (f *fakeInvoker) streamEvents() []translate.StreamEvent {
	return []translate.StreamEvent{
		{Role: "assistant", InputTokens: f.resp.InputTokens},
		{ContentDelta: f.resp.Content},
		{FinishReason: f.resp.FinishReason, OutputTokens: f.resp.OutputTokens},
	}
}

type fakeStream struct {
	events []translate.StreamEvent
	err    error // returned after the events run out; io.EOF when nil
	pos    int
	closed bool
}

func (s *fakeStream) Recv() (translate.StreamEvent, error) {
	if s.pos >= len(s.events) {
		if s.err != nil {
			return translate.StreamEvent{}, s.err
		}
		return translate.StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type staticSelector struct {
	invoker providers.Invoker
}

func (s staticSelector) For(models.ProviderKind) providers.Invoker { return s.invoker }

type gatewayFixture struct {
	gateway  *Gateway
	breakers *breaker.Registry
	limiter  *ratelimit.Limiter
	sink     *usage.MemorySink
	invoker  *fakeInvoker
}

func newFixture(t *testing.T, cfg *fakeStore, invoker *fakeInvoker) *gatewayFixture {
	t.Helper()
	log := discardLogger()
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	counters := ratelimit.NewMemoryStore()
	limiter := ratelimit.New(counters, "llm")
	sink := usage.NewMemorySink()
	tracker := usage.NewTracker(sink, log)
	resolver := NewResolver(cfg, breakers, log)

	return &gatewayFixture{
		gateway:  NewGateway(resolver, breakers, limiter, tracker, staticCreds{}, staticSelector{invoker}, log),
		breakers: breakers,
		limiter:  limiter,
		sink:     sink,
		invoker:  invoker,
	}
}

func chatRequest(model string) *translate.Request {
	return &translate.Request{
		Model:    model,
		Messages: []translate.Message{{Role: "user", Content: "hello"}},
	}
}

func successInvoker() *fakeInvoker {
	return &fakeInvoker{resp: &translate.Response{
		ID:           "upstream-id",
		Role:         "assistant",
		Content:      "hi there",
		FinishReason: "stop",
		InputTokens:  12,
		OutputTokens: 8,
	}}
}

func TestResolveUnknownModel(t *testing.T) {
	fx := newFixture(t, newFallbackStore(), successInvoker())

	_, err := fx.gateway.Complete(context.Background(), "req-x", &Caller{ID: "k1"}, chatRequest("nope"))

	var notFound *ModelNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.Model)
}

func TestResolveDisabledModelTreatedAsNotFound(t *testing.T) {
	cfg := newFallbackStore()
	cfg.modelsByID[1].Enabled = false
	fx := newFixture(t, cfg, successInvoker())

	_, err := fx.gateway.Complete(context.Background(), "req-x", &Caller{ID: "k1"}, chatRequest("gpt-4o"))

	var notFound *ModelNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDisabledProviderFailsWithoutFallback(t *testing.T) {
	cfg := newFallbackStore()
	cfg.providers[10].Enabled = false
	fx := newFixture(t, cfg, successInvoker())

	_, err := fx.gateway.Complete(context.Background(), "req-x", &Caller{ID: "k1"}, chatRequest("gpt-4o"))

	var unavailable *ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Empty(t, fx.invoker.calls)
}

func TestTranslationErrorBypassesBreakerAndUsage(t *testing.T) {
	invoker := &fakeInvoker{err: &translate.Error{Message: "upstream response has no choices"}}
	fx := newFixture(t, newFallbackStore(), invoker)

	_, err := fx.gateway.Complete(context.Background(), "req-1", &Caller{ID: "k1"}, chatRequest("gpt-4o"))

	var terr *translate.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 0, fx.breakers.Get("openai-primary").Status().FailureCount)
	assert.Empty(t, fx.sink.Records())
}

func TestFallbackSkipsOpenBreakerAndDisabled(t *testing.T) {
	cfg := newFallbackStore()
	cfg.modelsByID[2].Enabled = false
	fx := newFixture(t, cfg, successInvoker())

	// Trip the primary's breaker.
	primary := fx.breakers.Get("openai-primary")
	for i := 0; i < 5; i++ {
		primary.RecordFailure()
	}

	resp, err := fx.gateway.Complete(context.Background(), "req-x", &Caller{ID: "k1"}, chatRequest("gpt-4o"))
	require.NoError(t, err)

	require.Len(t, fx.invoker.calls, 1)
	assert.Equal(t, "openai-mini", fx.invoker.calls[0].Provider.Name)
	assert.Equal(t, "gpt-4o-mini", fx.invoker.calls[0].Model.Name)
	// The response names the model that served the call, not the requested one.
	assert.Equal(t, "gpt-4o-mini", resp.Model)
}

func TestNoFallbackCandidateReturnsUnavailable(t *testing.T) {
	cfg := newFallbackStore()
	cfg.providers[20].Enabled = false
	cfg.providers[30].Enabled = false
	fx := newFixture(t, cfg, successInvoker())

	primary := fx.breakers.Get("openai-primary")
	for i := 0; i < 5; i++ {
		primary.RecordFailure()
	}

	_, err := fx.gateway.Complete(context.Background(), "req-x", &Caller{ID: "k1"}, chatRequest("gpt-4o"))

	var unavailable *ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "openai-primary", unavailable.Provider)
}

func TestFallbackDisabledGroupReturnsUnavailable(t *testing.T) {
	cfg := newFallbackStore()
	cfg.groups["chat"].FallbackEnabled = false
	fx := newFixture(t, cfg, successInvoker())

	primary := fx.breakers.Get("openai-primary")
	for i := 0; i < 5; i++ {
		primary.RecordFailure()
	}

	_, err := fx.gateway.Complete(context.Background(), "req-x", &Caller{ID: "k1"}, chatRequest("gpt-4o"))

	var unavailable *ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestCompleteRecordsUsageAndConsumesTokens(t *testing.T) {
	fx := newFixture(t, newFallbackStore(), successInvoker())
	caller := &Caller{ID: "k1", IP: "10.0.0.1"}

	resp, err := fx.gateway.Complete(context.Background(), "req-1", caller, chatRequest("gpt-4o"))
	require.NoError(t, err)

	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, "gpt-4o", resp.Model)

	recs := fx.sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.UsageSuccess, recs[0].Status)
	assert.Equal(t, 12, recs[0].InputTokens)
	assert.Equal(t, 8, recs[0].OutputTokens)
	assert.Equal(t, 20, recs[0].TotalTokens)
	assert.False(t, recs[0].Estimated)
	assert.Equal(t, "10.0.0.1", recs[0].IPAddress)

	info, err := fx.limiter.UsageInfo(context.Background(), "k1", models.QuotaLimits{DailyTokens: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(20), info.DailyTokensUsed)
}

func TestCompleteUpstreamErrorFeedsBreakerAndUsage(t *testing.T) {
	invoker := &fakeInvoker{err: errors.New("connection refused")}
	fx := newFixture(t, newFallbackStore(), invoker)

	_, err := fx.gateway.Complete(context.Background(), "req-1", &Caller{ID: "k1"}, chatRequest("gpt-4o"))

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "openai-primary", upstream.Provider)

	recs := fx.sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.UsageError, recs[0].Status)
	assert.Equal(t, 0, recs[0].TotalTokens)
	assert.Contains(t, recs[0].ErrorMessage, "connection refused")

	assert.Equal(t, 1, fx.breakers.Get("openai-primary").Status().FailureCount)

	// Failed calls consume no tokens.
	info, err := fx.limiter.UsageInfo(context.Background(), "k1", models.QuotaLimits{DailyTokens: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.DailyTokensUsed)
}

func TestCredentialFailureRecordsBreakerOutcome(t *testing.T) {
	fx := newFixture(t, newFallbackStore(), successInvoker())
	fx.gateway.creds = failingCreds{}

	_, err := fx.gateway.Complete(context.Background(), "req-1", &Caller{ID: "k1"}, chatRequest("gpt-4o"))

	var unavailable *ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Empty(t, fx.invoker.calls)
	// The admission granted during resolution saw an outcome, so no
	// half-open trial slot leaks.
	assert.Equal(t, 1, fx.breakers.Get("openai-primary").Status().FailureCount)
}

func TestMaxTokensClampedToModel(t *testing.T) {
	fx := newFixture(t, newFallbackStore(), successInvoker())
	req := chatRequest("gpt-4o")
	req.MaxTokens = 100000

	_, err := fx.gateway.Complete(context.Background(), "req-1", &Caller{ID: "k1"}, req)
	require.NoError(t, err)

	require.Len(t, fx.invoker.calls, 1)
	assert.Equal(t, 4096, fx.invoker.calls[0].Request.MaxTokens)
	// The caller's request is not mutated.
	assert.Equal(t, 100000, req.MaxTokens)
}

func TestToolsDroppedForNonToolModel(t *testing.T) {
	cfg := newFallbackStore()
	cfg.modelsByID[1].SupportsTools = false
	fx := newFixture(t, cfg, successInvoker())

	req := chatRequest("gpt-4o")
	req.Tools = []translate.Tool{{Name: "get_weather"}}
	req.ToolChoice = "auto"

	_, err := fx.gateway.Complete(context.Background(), "req-1", &Caller{ID: "k1"}, req)
	require.NoError(t, err)

	require.Len(t, fx.invoker.calls, 1)
	assert.Empty(t, fx.invoker.calls[0].Request.Tools)
	assert.Nil(t, fx.invoker.calls[0].Request.ToolChoice)
}

func TestStreamSessionSettlesOnEOF(t *testing.T) {
	fx := newFixture(t, newFallbackStore(), successInvoker())
	ctx := context.Background()

	session, err := fx.gateway.StartStream(ctx, "req-1", &Caller{ID: "k1"}, chatRequest("gpt-4o"))
	require.NoError(t, err)

	var content string
	for {
		ev, err := session.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		content += ev.ContentDelta
	}
	require.NoError(t, session.Close())

	assert.Equal(t, "hi there", content)
	assert.Equal(t, "stop", session.FinishReason())

	recs := fx.sink.Records()
	require.Len(t, recs, 1, "settle must run exactly once")
	assert.Equal(t, models.UsageSuccess, recs[0].Status)
	assert.True(t, recs[0].Streaming)
	assert.Equal(t, 12, recs[0].InputTokens)
	assert.Equal(t, 8, recs[0].OutputTokens)
	assert.False(t, recs[0].Estimated)
}

func TestStreamSessionEstimatesOnEarlyClose(t *testing.T) {
	fx := newFixture(t, newFallbackStore(), successInvoker())
	ctx := context.Background()

	session, err := fx.gateway.StartStream(ctx, "req-1", &Caller{ID: "k1"}, chatRequest("gpt-4o"))
	require.NoError(t, err)

	// Consume only the first two events, then disconnect.
	_, err = session.Recv(ctx)
	require.NoError(t, err)
	_, err = session.Recv(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Close())

	recs := fx.sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.UsageSuccess, recs[0].Status)
	assert.True(t, recs[0].Estimated)
	assert.Equal(t, len("hi there")/4, recs[0].OutputTokens)
}

func TestStreamSessionClientCancelIsNotProviderFailure(t *testing.T) {
	invoker := successInvoker()
	invoker.stream = &fakeStream{
		events: []translate.StreamEvent{
			{Role: "assistant"},
			{ContentDelta: "hi there"},
		},
		err: context.Canceled,
	}
	fx := newFixture(t, newFallbackStore(), invoker)
	ctx := context.Background()

	session, err := fx.gateway.StartStream(ctx, "req-1", &Caller{ID: "k1"}, chatRequest("gpt-4o"))
	require.NoError(t, err)

	_, err = session.Recv(ctx)
	require.NoError(t, err)
	_, err = session.Recv(ctx)
	require.NoError(t, err)
	_, err = session.Recv(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, session.Close())

	// The breaker saw no failure; a disconnecting client says nothing
	// about provider health.
	assert.Equal(t, 0, fx.breakers.Get("openai-primary").Status().FailureCount)

	recs := fx.sink.Records()
	require.Len(t, recs, 1, "settle must run exactly once")
	assert.Equal(t, models.UsageSuccess, recs[0].Status)
	assert.True(t, recs[0].Estimated)
	assert.Equal(t, len("hi there")/4, recs[0].OutputTokens)
}

func TestWireModelPrefix(t *testing.T) {
	bedrock := &models.Provider{Name: "aws", Kind: models.KindBedrock}
	openaiDirect := &models.Provider{Name: "openai", Kind: models.KindOpenAI}
	openaiProxy := &models.Provider{Name: "proxy", Kind: models.KindOpenAI, BaseURL: "http://router:4000/v1"}
	model := &models.ModelConfig{Name: "claude-3-5-sonnet"}

	assert.Equal(t, "bedrock/claude-3-5-sonnet", wireModelName(bedrock, model))
	assert.Equal(t, "claude-3-5-sonnet", wireModelName(openaiDirect, model))
	assert.Equal(t, "openai/claude-3-5-sonnet", wireModelName(openaiProxy, model))
}
