package providers

import (
	"time"

	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

// Registry maps provider kinds to invokers by wire dialect.
type Registry struct {
	openai    Invoker
	anthropic Invoker
}

func NewRegistry(upstreamTimeout time.Duration) *Registry {
	return &Registry{
		openai:    NewOpenAIInvoker(),
		anthropic: NewAnthropicInvoker(upstreamTimeout),
	}
}

func (r *Registry) For(kind models.ProviderKind) Invoker {
	if kind.Dialect() == models.DialectAnthropic {
		return r.anthropic
	}
	return r.openai
}
