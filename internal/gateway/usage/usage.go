// Package usage computes per-call cost and emits immutable usage records to
// an external sink.
package usage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

// costPlaces is the rounding precision for stored cost values. Rounding is
// applied half-up, once, to the values that are persisted; the partial sums
// stay exact so the total never drifts from input+output. Four places keeps
// sub-cent per-request costs from collapsing to zero.
const costPlaces = 4

var perThousand = decimal.NewFromInt(1000)

// NewRequestID returns a fresh gateway request ID.
func NewRequestID() string {
	return "req-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CalculateCost computes input/output/total cost from token counts and
// per-1K-token rates.
func CalculateCost(inputTokens, outputTokens int, inputPer1K, outputPer1K decimal.Decimal) (inputCost, outputCost, totalCost decimal.Decimal) {
	in := decimal.NewFromInt(int64(inputTokens)).Div(perThousand).Mul(inputPer1K)
	out := decimal.NewFromInt(int64(outputTokens)).Div(perThousand).Mul(outputPer1K)
	return in.Round(costPlaces), out.Round(costPlaces), in.Add(out).Round(costPlaces)
}

// EstimateTokens approximates a token count from text length. Used for
// streaming responses when the provider does not report usage; records built
// from it are marked estimated.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Sink receives completed usage records. Implementations own persistence;
// the gateway treats Record as fire-and-forget.
type Sink interface {
	Record(ctx context.Context, rec *models.UsageRecord) error
}

// Tracker builds usage records and hands them to a sink.
type Tracker struct {
	sink Sink
	log  *slog.Logger
	now  func() time.Time
}

// NewTracker creates a Tracker writing to sink.
func NewTracker(sink Sink, log *slog.Logger) *Tracker {
	return &Tracker{sink: sink, log: log, now: time.Now}
}

// Call identifies one upstream attempt for accounting purposes.
type Call struct {
	RequestID  string
	CallerID   string
	Model      *models.ModelConfig
	Provider   *models.Provider
	LatencyMs  int
	Streaming  bool
	IPAddress  string
}

// TrackSuccess records a completed call with its token usage and cost.
func (t *Tracker) TrackSuccess(ctx context.Context, call Call, inputTokens, outputTokens int, estimated bool) {
	inCost, outCost, totalCost := CalculateCost(
		inputTokens, outputTokens,
		call.Model.InputCostPer1K, call.Model.OutputCostPer1K,
	)

	rec := &models.UsageRecord{
		RequestID:    call.RequestID,
		CallerID:     call.CallerID,
		ModelID:      call.Model.ID,
		ProviderID:   call.Provider.ID,
		ModelName:    call.Model.Name,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		InputCost:    inCost,
		OutputCost:   outCost,
		TotalCost:    totalCost,
		LatencyMs:    call.LatencyMs,
		Status:       models.UsageSuccess,
		Streaming:    call.Streaming,
		Estimated:    estimated,
		IPAddress:    call.IPAddress,
		CreatedAt:    t.now(),
	}

	if err := t.sink.Record(ctx, rec); err != nil {
		t.log.Error("usage record failed",
			"request_id", call.RequestID, "error", err)
	}
}

// TrackError records a failed call. Token counts and costs are zero.
func (t *Tracker) TrackError(ctx context.Context, call Call, errorMessage string) {
	rec := &models.UsageRecord{
		RequestID:    call.RequestID,
		CallerID:     call.CallerID,
		ModelID:      call.Model.ID,
		ProviderID:   call.Provider.ID,
		ModelName:    call.Model.Name,
		InputCost:    decimal.Zero,
		OutputCost:   decimal.Zero,
		TotalCost:    decimal.Zero,
		LatencyMs:    call.LatencyMs,
		Status:       models.UsageError,
		Streaming:    call.Streaming,
		ErrorMessage: errorMessage,
		IPAddress:    call.IPAddress,
		CreatedAt:    t.now(),
	}

	if err := t.sink.Record(ctx, rec); err != nil {
		t.log.Error("usage record failed",
			"request_id", call.RequestID, "error", err)
	}
}
