package translate

import (
	"github.com/sashabaranov/go-openai"
)

// FromOpenAIRequest normalizes an OpenAI chat-completion request into the
// internal shape. A leading system message is lifted into Request.System.
func FromOpenAIRequest(req *openai.ChatCompletionRequest) (*Request, error) {
	if req.Model == "" {
		return nil, newError("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, newError("messages must not be empty")
	}

	out := &Request{
		Model:          req.Model,
		N:              req.N,
		MaxTokens:      req.MaxTokens,
		Stop:           req.Stop,
		ToolChoice:     req.ToolChoice,
		ResponseFormat: req.ResponseFormat,
		Seed:           req.Seed,
		Stream:         req.Stream,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	if req.TopP != 0 {
		p := req.TopP
		out.TopP = &p
	}
	if req.PresencePenalty != 0 {
		p := req.PresencePenalty
		out.PresencePenalty = &p
	}
	if req.FrequencyPenalty != 0 {
		f := req.FrequencyPenalty
		out.FrequencyPenalty = &f
	}

	for i, msg := range req.Messages {
		if i == 0 && msg.Role == "system" && out.System == "" {
			out.System = msg.Content
			continue
		}
		out.Messages = append(out.Messages, Message{
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCalls:  fromOpenAIToolCalls(msg.ToolCalls),
			ToolCallID: msg.ToolCallID,
		})
	}

	for _, tool := range req.Tools {
		if tool.Function == nil {
			return nil, newError("tool definition missing function")
		}
		out.Tools = append(out.Tools, Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}

	return out, nil
}

// ToOpenAIRequest maps the internal shape back onto the OpenAI request
// format, re-folding the system prompt as a leading system message.
func ToOpenAIRequest(req *Request) *openai.ChatCompletionRequest {
	out := &openai.ChatCompletionRequest{
		Model:          req.Model,
		N:              req.N,
		MaxTokens:      req.MaxTokens,
		Stop:           req.Stop,
		ToolChoice:     req.ToolChoice,
		ResponseFormat: req.ResponseFormat,
		Seed:           req.Seed,
		Stream:         req.Stream,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	if req.PresencePenalty != nil {
		out.PresencePenalty = *req.PresencePenalty
	}
	if req.FrequencyPenalty != nil {
		out.FrequencyPenalty = *req.FrequencyPenalty
	}

	if req.System != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    "system",
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCalls:  toOpenAIToolCalls(msg.ToolCalls),
			ToolCallID: msg.ToolCallID,
		})
	}

	for _, tool := range req.Tools {
		fn := openai.FunctionDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type:     openai.ToolTypeFunction,
			Function: &fn,
		})
	}

	return out
}

// FromOpenAIResponse maps an upstream OpenAI response to the internal shape.
func FromOpenAIResponse(resp *openai.ChatCompletionResponse) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, newError("upstream response has no choices")
	}
	choice := resp.Choices[0]

	return &Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Created:      resp.Created,
		Role:         choice.Message.Role,
		Content:      choice.Message.Content,
		ToolCalls:    fromOpenAIToolCalls(choice.Message.ToolCalls),
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// ToOpenAIResponse renders the internal response in the OpenAI wire format.
func ToOpenAIResponse(resp *Response) *openai.ChatCompletionResponse {
	role := resp.Role
	if role == "" {
		role = "assistant"
	}
	return &openai.ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:      role,
					Content:   resp.Content,
					ToolCalls: toOpenAIToolCalls(resp.ToolCalls),
				},
				FinishReason: openai.FinishReason(resp.FinishReason),
			},
		},
		Usage: openai.Usage{
			PromptTokens:     resp.InputTokens,
			CompletionTokens: resp.OutputTokens,
			TotalTokens:      resp.InputTokens + resp.OutputTokens,
		},
	}
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, ToolCall{
			ID:        tc.ID,
			Type:      string(tc.Type),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func toOpenAIToolCalls(calls []ToolCall) []openai.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openai.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolType(tc.Type),
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return out
}
