// Package providers holds the upstream invokers. Each invoker speaks one
// wire dialect; the registry picks the invoker for a provider kind.
package providers

import (
	"context"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/translate"
	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

// Call is a fully resolved upstream invocation: the provider row, the model
// row, the provider-facing model name and the credential to send.
type Call struct {
	Provider   *models.Provider
	Model      *models.ModelConfig
	WireModel  string
	Credential string
	Request    *translate.Request
}

// Invoker performs chat completions against one upstream dialect.
type Invoker interface {
	Complete(ctx context.Context, call *Call) (*translate.Response, error)
	Stream(ctx context.Context, call *Call) (Stream, error)
}

// Stream yields incremental completion events. Recv returns io.EOF after
// the final event; Close releases the underlying connection and is safe to
// call more than once.
type Stream interface {
	Recv() (translate.StreamEvent, error)
	Close() error
}

// Selector resolves the invoker for a provider kind.
type Selector interface {
	For(kind models.ProviderKind) Invoker
}
