package providers

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/translate"
)

// OpenAIInvoker calls OpenAI-dialect providers (OpenAI itself, Azure and
// any compatible base URL) through the official client.
type OpenAIInvoker struct{}

func NewOpenAIInvoker() *OpenAIInvoker { return &OpenAIInvoker{} }

func (inv *OpenAIInvoker) client(call *Call) *openai.Client {
	cfg := openai.DefaultConfig(call.Credential)
	if call.Provider.BaseURL != "" {
		cfg.BaseURL = call.Provider.BaseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (inv *OpenAIInvoker) buildRequest(call *Call) openai.ChatCompletionRequest {
	req := translate.ToOpenAIRequest(call.Request)
	req.Model = call.WireModel
	return *req
}

func (inv *OpenAIInvoker) Complete(ctx context.Context, call *Call) (*translate.Response, error) {
	resp, err := inv.client(call).CreateChatCompletion(ctx, inv.buildRequest(call))
	if err != nil {
		return nil, err
	}
	return translate.FromOpenAIResponse(&resp)
}

func (inv *OpenAIInvoker) Stream(ctx context.Context, call *Call) (Stream, error) {
	req := inv.buildRequest(call)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	upstream, err := inv.client(call).CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &openaiStream{upstream: upstream}, nil
}

type openaiStream struct {
	upstream *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (translate.StreamEvent, error) {
	for {
		chunk, err := s.upstream.Recv()
		if errors.Is(err, io.EOF) {
			return translate.StreamEvent{}, io.EOF
		}
		if err != nil {
			return translate.StreamEvent{}, err
		}

		var ev translate.StreamEvent
		if chunk.Usage != nil {
			ev.InputTokens = chunk.Usage.PromptTokens
			ev.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			// usage-only chunk, emitted after the final choice
			if chunk.Usage != nil {
				return ev, nil
			}
			continue
		}

		choice := chunk.Choices[0]
		ev.Role = choice.Delta.Role
		ev.ContentDelta = choice.Delta.Content
		ev.FinishReason = string(choice.FinishReason)
		return ev, nil
	}
}

func (s *openaiStream) Close() error {
	return s.upstream.Close()
}
