// Package translate maps the two client-facing wire formats (OpenAI chat
// completions and Anthropic messages) onto one internal request/response
// shape, and frames streaming output back into either protocol.
package translate

import (
	"github.com/sashabaranov/go-openai"
)

// Message is one turn in the internal conversation shape. The system prompt
// is kept out of the message list (see Request.System).
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool is a tool definition in the internal shape.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Request is the internal request shape shared by both inbound dialects.
type Request struct {
	Model            string
	System           string
	Messages         []Message
	Temperature      *float32
	TopP             *float32
	TopK             *int
	N                int
	MaxTokens        int
	Stop             []string
	PresencePenalty  *float32
	FrequencyPenalty *float32
	Tools            []Tool
	ToolChoice       any
	ResponseFormat   *openai.ChatCompletionResponseFormat
	Seed             *int
	Stream           bool
}

// Response is the internal response shape produced by every provider dialect.
// FinishReason uses OpenAI vocabulary ("stop", "length", "tool_calls").
type Response struct {
	ID           string
	Model        string
	Created      int64
	Role         string
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// StreamEvent is one unit of a streaming response. Providers emit token
// counts on whichever events carry them; zero means not reported yet.
type StreamEvent struct {
	Role         string
	ContentDelta string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Error reports a malformed client or upstream payload. It never touches
// breaker or quota state.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return "translation error: " + e.Message
}

func newError(msg string) *Error {
	return &Error{Message: msg}
}
