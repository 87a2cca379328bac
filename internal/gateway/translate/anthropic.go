package translate

import (
	"encoding/json"
	"strings"
)

// AnthropicRequest is the inbound /v1/messages wire format, also used when
// invoking anthropic-dialect providers upstream.
type AnthropicRequest struct {
	Model         string               `json:"model"`
	Messages      []AnthropicMessage   `json:"messages"`
	MaxTokens     int                  `json:"max_tokens"`
	System        string               `json:"system,omitempty"`
	Temperature   *float32             `json:"temperature,omitempty"`
	TopP          *float32             `json:"top_p,omitempty"`
	TopK          *int                 `json:"top_k,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StopSequences []string             `json:"stop_sequences,omitempty"`
	Tools         []AnthropicTool      `json:"tools,omitempty"`
	ToolChoice    *AnthropicToolChoice `json:"tool_choice,omitempty"`
	Metadata      map[string]any       `json:"metadata,omitempty"`
}

// AnthropicMessage is one conversation turn; content is a plain string or a
// list of typed blocks on the wire.
type AnthropicMessage struct {
	Role    string           `json:"role"`
	Content AnthropicContent `json:"content"`
}

// AnthropicContent accepts both wire encodings of message content.
type AnthropicContent []AnthropicContentBlock

func (c *AnthropicContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = AnthropicContent{{Type: "text", Text: text}}
		return nil
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*c = blocks
	return nil
}

// AnthropicContentBlock is a single typed content block.
type AnthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    json.RawMessage `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// AnthropicTool is a tool definition in the Anthropic dialect.
type AnthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// AnthropicToolChoice selects how the model may use tools.
type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// AnthropicUsage carries token counts in the Anthropic dialect.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicResponse is the non-stream /v1/messages response shape.
type AnthropicResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Content      []AnthropicContentBlock `json:"content"`
	Model        string                  `json:"model"`
	StopReason   string                  `json:"stop_reason,omitempty"`
	StopSequence *string                 `json:"stop_sequence,omitempty"`
	Usage        AnthropicUsage          `json:"usage"`
}

// FromAnthropicRequest normalizes a /v1/messages request into the internal
// shape. Text blocks are joined per message; tool_use blocks become tool
// calls, tool_result blocks become tool-role messages.
func FromAnthropicRequest(req *AnthropicRequest) (*Request, error) {
	if req.Model == "" {
		return nil, newError("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, newError("messages must not be empty")
	}
	if req.MaxTokens <= 0 {
		return nil, newError("max_tokens must be positive")
	}

	out := &Request{
		Model:       req.Model,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	for _, msg := range req.Messages {
		var texts []string
		var toolCalls []ToolCall
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					texts = append(texts, block.Text)
				}
			case "tool_use":
				toolCalls = append(toolCalls, ToolCall{
					ID:        block.ID,
					Type:      "function",
					Name:      block.Name,
					Arguments: string(block.Input),
				})
			case "tool_result":
				out.Messages = append(out.Messages, Message{
					Role:       "tool",
					Content:    block.Content,
					ToolCallID: block.ToolUseID,
				})
			}
		}
		if len(texts) > 0 || len(toolCalls) > 0 {
			out.Messages = append(out.Messages, Message{
				Role:      msg.Role,
				Content:   strings.Join(texts, "\n"),
				ToolCalls: toolCalls,
			})
		}
	}
	if len(out.Messages) == 0 {
		return nil, newError("messages contain no usable content")
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, Tool{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		})
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case "auto":
			out.ToolChoice = "auto"
		case "any":
			out.ToolChoice = "required"
		case "tool":
			out.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": req.ToolChoice.Name},
			}
		}
	}

	return out, nil
}

// ToAnthropicRequest maps the internal shape onto the Anthropic dialect for
// an upstream call. defaultMaxTokens applies when the client sent none (the
// dialect requires max_tokens).
func ToAnthropicRequest(req *Request, defaultMaxTokens int) *AnthropicRequest {
	out := &AnthropicRequest{
		Model:         req.Model,
		System:        req.System,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "tool":
			out.Messages = append(out.Messages, AnthropicMessage{
				Role: "user",
				Content: AnthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		default:
			var blocks AnthropicContent
			if msg.Content != "" {
				blocks = append(blocks, AnthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, AnthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: json.RawMessage(tc.Arguments),
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out.Messages = append(out.Messages, AnthropicMessage{
				Role:    msg.Role,
				Content: blocks,
			})
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, AnthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}
	switch choice := req.ToolChoice.(type) {
	case string:
		switch choice {
		case "auto":
			out.ToolChoice = &AnthropicToolChoice{Type: "auto"}
		case "required":
			out.ToolChoice = &AnthropicToolChoice{Type: "any"}
		}
	case map[string]any:
		if fn, ok := choice["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				out.ToolChoice = &AnthropicToolChoice{Type: "tool", Name: name}
			}
		}
	}

	return out
}

// FromAnthropicResponse maps an upstream Anthropic response to the internal
// shape, translating stop reasons to OpenAI vocabulary.
func FromAnthropicResponse(resp *AnthropicResponse) (*Response, error) {
	out := &Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Role:         "assistant",
		FinishReason: FinishReasonFromAnthropic(resp.StopReason),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}

	var texts []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Type:      "function",
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	out.Content = strings.Join(texts, "")

	return out, nil
}

// ToAnthropicResponse renders the internal response in the /v1/messages
// wire format.
func ToAnthropicResponse(resp *Response) *AnthropicResponse {
	out := &AnthropicResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		StopReason: FinishReasonToAnthropic(resp.FinishReason),
		Usage: AnthropicUsage{
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		},
	}

	if resp.Content != "" {
		out.Content = append(out.Content, AnthropicContentBlock{Type: "text", Text: resp.Content})
	}
	for _, tc := range resp.ToolCalls {
		out.Content = append(out.Content, AnthropicContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: json.RawMessage(tc.Arguments),
		})
	}
	if out.Content == nil {
		out.Content = []AnthropicContentBlock{}
	}

	return out
}

// FinishReasonFromAnthropic maps Anthropic stop reasons to OpenAI ones.
func FinishReasonFromAnthropic(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

// FinishReasonToAnthropic maps OpenAI finish reasons to Anthropic ones.
func FinishReasonToAnthropic(reason string) string {
	switch reason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return reason
	}
}
