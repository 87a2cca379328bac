package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderKind identifies the upstream wire dialect a provider speaks.
type ProviderKind string

const (
	KindOpenAI    ProviderKind = "openai"
	KindAnthropic ProviderKind = "anthropic"
	KindAzure     ProviderKind = "azure"
	KindBedrock   ProviderKind = "bedrock"
	KindVertexAI  ProviderKind = "vertex_ai"
)

// Dialect is the protocol family used when invoking a provider upstream.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
)

// Dialect returns the wire dialect used to talk to providers of this kind.
func (k ProviderKind) Dialect() Dialect {
	switch k {
	case KindAnthropic, KindBedrock, KindVertexAI:
		return DialectAnthropic
	default:
		return DialectOpenAI
	}
}

// AutoDetected reports whether the upstream can infer the provider from the
// bare model name. Auto-detected kinds only need a model-name prefix when the
// provider points at a custom base URL.
func (k ProviderKind) AutoDetected() bool {
	return k == KindOpenAI || k == KindAnthropic
}

// NeedsModelPrefix reports whether requests to this kind must carry a
// "<kind>/" prefix on the model identifier.
func (k ProviderKind) NeedsModelPrefix(hasCustomBaseURL bool) bool {
	return !k.AutoDetected() || hasCustomBaseURL
}

// Provider is an upstream LLM provider. Created and edited by the admin
// surface; read-only to the gateway.
type Provider struct {
	ID            int64
	Name          string
	Kind          ProviderKind
	BaseURL       string
	CredentialRef string
	Enabled       bool
}

// ModelConfig describes a single model offered through a provider.
type ModelConfig struct {
	ID                int64
	ProviderID        int64
	Name              string
	Type              string
	MaxTokens         int
	MaxContext        int
	InputCostPer1K    decimal.Decimal
	OutputCostPer1K   decimal.Decimal
	SupportsStreaming bool
	SupportsTools     bool
	SupportsVision    bool
	Priority          int
	Enabled           bool
}

// ModelGroup is an ordered set of interchangeable models for one model type,
// used for fallback when the requested model's provider is unavailable.
type ModelGroup struct {
	ID              int64
	Name            string
	Type            string
	ModelIDs        []int64
	FallbackEnabled bool
	RetryCount      int
	Timeout         time.Duration
	Enabled         bool
}

// QuotaLimits are the per-caller ceilings enforced before each call.
type QuotaLimits struct {
	RPM           int64
	DailyTokens   int64
	MonthlyTokens int64
}

// APIKey is a gateway caller identity with its resolved quota.
type APIKey struct {
	ID           string
	KeyHash      string
	Name         string
	Quota        QuotaLimits
	CacheEnabled bool
	CacheTTL     time.Duration
	Active       bool
	LastUsedAt   *time.Time
	CreatedAt    time.Time
}

// UsageStatus marks a usage record as a completed or failed call.
type UsageStatus string

const (
	UsageSuccess UsageStatus = "success"
	UsageError   UsageStatus = "error"
)

// UsageRecord is the immutable accounting row emitted once per completed or
// failed upstream attempt.
type UsageRecord struct {
	RequestID    string
	CallerID     string
	ModelID      int64
	ProviderID   int64
	ModelName    string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	InputCost    decimal.Decimal
	OutputCost   decimal.Decimal
	TotalCost    decimal.Decimal
	LatencyMs    int
	Status       UsageStatus
	Streaming    bool
	// Estimated is set when token counts were derived from text length
	// rather than reported by the provider.
	Estimated    bool
	ErrorMessage string
	IPAddress    string
	CreatedAt    time.Time
}
