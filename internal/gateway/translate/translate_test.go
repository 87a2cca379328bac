package translate

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f32(v float32) *float32 { return &v }

func TestFromOpenAIRequestPreservesFields(t *testing.T) {
	in := &openai.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []openai.ChatCompletionMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
		Temperature:      0.7,
		TopP:             0.9,
		MaxTokens:        256,
		Stop:             []string{"END"},
		PresencePenalty:  0.1,
		FrequencyPenalty: 0.2,
		N:                1,
		Stream:           true,
	}

	req, err := FromOpenAIRequest(in)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, "be terse", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.7, float64(*req.Temperature), 1e-6)
	require.NotNil(t, req.TopP)
	assert.InDelta(t, 0.9, float64(*req.TopP), 1e-6)
	assert.Equal(t, 256, req.MaxTokens)
	assert.Equal(t, []string{"END"}, req.Stop)
	require.NotNil(t, req.PresencePenalty)
	assert.InDelta(t, 0.1, float64(*req.PresencePenalty), 1e-6)
	require.NotNil(t, req.FrequencyPenalty)
	assert.InDelta(t, 0.2, float64(*req.FrequencyPenalty), 1e-6)
	assert.True(t, req.Stream)
}

func TestOpenAIRequestRoundTrip(t *testing.T) {
	in := &openai.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []openai.ChatCompletionMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
			{Role: "user", Content: "more"},
		},
		Temperature: 0.7,
		MaxTokens:   256,
	}

	req, err := FromOpenAIRequest(in)
	require.NoError(t, err)
	out := ToOpenAIRequest(req)

	assert.Equal(t, in.Model, out.Model)
	require.Len(t, out.Messages, 4)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "be terse", out.Messages[0].Content)
	for i := 1; i < 4; i++ {
		assert.Equal(t, in.Messages[i].Role, out.Messages[i].Role)
		assert.Equal(t, in.Messages[i].Content, out.Messages[i].Content)
	}
	assert.InDelta(t, float64(in.Temperature), float64(out.Temperature), 1e-6)
	assert.Equal(t, in.MaxTokens, out.MaxTokens)
}

func TestFromOpenAIRequestRejectsInvalid(t *testing.T) {
	_, err := FromOpenAIRequest(&openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "x"}},
	})
	assert.Error(t, err)

	_, err = FromOpenAIRequest(&openai.ChatCompletionRequest{Model: "gpt-4o"})
	assert.Error(t, err)
}

func TestFromOpenAIRequestToolCalls(t *testing.T) {
	in := &openai.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []openai.ChatCompletionMessage{
			{Role: "user", Content: "weather in SF?"},
			{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:   "call_1",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "get_weather",
						Arguments: `{"city":"SF"}`,
					},
				}},
			},
			{Role: "tool", Content: "sunny", ToolCallID: "call_1"},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "get_weather",
				Description: "look up weather",
			},
		}},
	}

	req, err := FromOpenAIRequest(in)
	require.NoError(t, err)

	require.Len(t, req.Messages, 3)
	require.Len(t, req.Messages[1].ToolCalls, 1)
	assert.Equal(t, "call_1", req.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, "get_weather", req.Messages[1].ToolCalls[0].Name)
	assert.Equal(t, `{"city":"SF"}`, req.Messages[1].ToolCalls[0].Arguments)
	assert.Equal(t, "call_1", req.Messages[2].ToolCallID)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "get_weather", req.Tools[0].Name)
}

func TestAnthropicContentUnmarshalBothForms(t *testing.T) {
	var msg AnthropicMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"plain"}`), &msg))
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "text", msg.Content[0].Type)
	assert.Equal(t, "plain", msg.Content[0].Text)

	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`), &msg))
	require.Len(t, msg.Content, 2)
	assert.Equal(t, "b", msg.Content[1].Text)
}

func TestFromAnthropicRequest(t *testing.T) {
	in := &AnthropicRequest{
		Model:     "claude-3-5-sonnet",
		System:    "be terse",
		MaxTokens: 512,
		Messages: []AnthropicMessage{
			{Role: "user", Content: AnthropicContent{{Type: "text", Text: "hello"}}},
		},
		Temperature:   f32(0.5),
		StopSequences: []string{"END"},
	}

	req, err := FromAnthropicRequest(in)
	require.NoError(t, err)

	assert.Equal(t, "claude-3-5-sonnet", req.Model)
	assert.Equal(t, "be terse", req.System)
	assert.Equal(t, 512, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hello", req.Messages[0].Content)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.5, float64(*req.Temperature), 1e-6)
	assert.Equal(t, []string{"END"}, req.Stop)
}

func TestFromAnthropicRequestRequiresMaxTokens(t *testing.T) {
	_, err := FromAnthropicRequest(&AnthropicRequest{
		Model:    "claude-3-5-sonnet",
		Messages: []AnthropicMessage{{Role: "user", Content: AnthropicContent{{Type: "text", Text: "x"}}}},
	})
	assert.Error(t, err)
}

func TestFromAnthropicRequestToolBlocks(t *testing.T) {
	in := &AnthropicRequest{
		Model:     "claude-3-5-sonnet",
		MaxTokens: 256,
		Messages: []AnthropicMessage{
			{Role: "user", Content: AnthropicContent{{Type: "text", Text: "weather?"}}},
			{Role: "assistant", Content: AnthropicContent{{
				Type:  "tool_use",
				ID:    "toolu_1",
				Name:  "get_weather",
				Input: json.RawMessage(`{"city":"SF"}`),
			}}},
			{Role: "user", Content: AnthropicContent{{
				Type:      "tool_result",
				ToolUseID: "toolu_1",
				Content:   "sunny",
			}}},
		},
		Tools: []AnthropicTool{{Name: "get_weather", InputSchema: map[string]any{"type": "object"}}},
	}

	req, err := FromAnthropicRequest(in)
	require.NoError(t, err)

	require.Len(t, req.Messages, 3)
	require.Len(t, req.Messages[1].ToolCalls, 1)
	assert.Equal(t, "toolu_1", req.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, `{"city":"SF"}`, req.Messages[1].ToolCalls[0].Arguments)
	assert.Equal(t, "tool", req.Messages[2].Role)
	assert.Equal(t, "toolu_1", req.Messages[2].ToolCallID)
	assert.Equal(t, "sunny", req.Messages[2].Content)
	require.Len(t, req.Tools, 1)
}

func TestToAnthropicRequestAppliesDefaultMaxTokens(t *testing.T) {
	req := &Request{
		Model:    "claude-3-5-sonnet",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}
	out := ToAnthropicRequest(req, 4096)
	assert.Equal(t, 4096, out.MaxTokens)

	req.MaxTokens = 128
	out = ToAnthropicRequest(req, 4096)
	assert.Equal(t, 128, out.MaxTokens)
}

func TestStopReasonMapping(t *testing.T) {
	assert.Equal(t, "stop", FinishReasonFromAnthropic("end_turn"))
	assert.Equal(t, "stop", FinishReasonFromAnthropic("stop_sequence"))
	assert.Equal(t, "length", FinishReasonFromAnthropic("max_tokens"))
	assert.Equal(t, "tool_calls", FinishReasonFromAnthropic("tool_use"))

	assert.Equal(t, "end_turn", FinishReasonToAnthropic("stop"))
	assert.Equal(t, "end_turn", FinishReasonToAnthropic(""))
	assert.Equal(t, "max_tokens", FinishReasonToAnthropic("length"))
	assert.Equal(t, "tool_use", FinishReasonToAnthropic("tool_calls"))
}

func TestAnthropicResponseRoundTrip(t *testing.T) {
	resp := &Response{
		ID:           "req-abc",
		Model:        "claude-3-5-sonnet",
		Content:      "hello",
		FinishReason: "stop",
		InputTokens:  10,
		OutputTokens: 5,
	}

	wire := ToAnthropicResponse(resp)
	assert.Equal(t, "message", wire.Type)
	assert.Equal(t, "end_turn", wire.StopReason)
	require.Len(t, wire.Content, 1)
	assert.Equal(t, "hello", wire.Content[0].Text)
	assert.Equal(t, 10, wire.Usage.InputTokens)

	back, err := FromAnthropicResponse(wire)
	require.NoError(t, err)
	assert.Equal(t, resp.Content, back.Content)
	assert.Equal(t, "stop", back.FinishReason)
	assert.Equal(t, resp.InputTokens, back.InputTokens)
	assert.Equal(t, resp.OutputTokens, back.OutputTokens)
}

func TestOpenAIFrameWriterSequence(t *testing.T) {
	var buf bytes.Buffer
	fw := NewOpenAIFrameWriter(&buf, 1700000000)

	require.NoError(t, fw.Start(StreamMeta{RequestID: "req-1", Model: "gpt-4o", InputTokens: 12}))
	require.NoError(t, fw.Delta("Hel"))
	require.NoError(t, fw.Delta("lo"))
	require.NoError(t, fw.Delta(""))
	require.NoError(t, fw.Finish("stop", 12, 7))

	out := buf.String()
	frames := strings.Split(strings.TrimSuffix(out, "\n\n"), "\n\n")
	require.Len(t, frames, 5, "empty deltas must not emit frames")

	assert.Equal(t, "data: [DONE]", frames[len(frames)-1])

	var first openai.ChatCompletionStreamResponse
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first))
	assert.Equal(t, "chat.completion.chunk", first.Object)
	assert.Equal(t, "assistant", first.Choices[0].Delta.Role)

	var final openai.ChatCompletionStreamResponse
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[3], "data: ")), &final))
	assert.Equal(t, openai.FinishReason("stop"), final.Choices[0].FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 12, final.Usage.PromptTokens)
	assert.Equal(t, 7, final.Usage.CompletionTokens)
	assert.Equal(t, 19, final.Usage.TotalTokens)
}

func TestAnthropicFrameWriterSequence(t *testing.T) {
	var buf bytes.Buffer
	fw := NewAnthropicFrameWriter(&buf)

	require.NoError(t, fw.Start(StreamMeta{RequestID: "req-2", Model: "claude-3-5-sonnet", InputTokens: 9}))
	require.NoError(t, fw.Delta("Hi"))
	require.NoError(t, fw.Finish("stop", 9, 3))

	out := buf.String()
	var events []string
	for _, line := range strings.Split(out, "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, events)

	assert.Contains(t, out, `"stop_reason":"end_turn"`)
	assert.Contains(t, out, `"output_tokens":3`)
	assert.Contains(t, out, `"input_tokens":9`)
}

func TestAnthropicFrameWriterError(t *testing.T) {
	var buf bytes.Buffer
	fw := NewAnthropicFrameWriter(&buf)
	require.NoError(t, fw.Start(StreamMeta{RequestID: "req-3", Model: "claude-3-5-sonnet"}))
	require.NoError(t, fw.Error("upstream timed out"))

	assert.Contains(t, buf.String(), "event: error\n")
	assert.Contains(t, buf.String(), "upstream timed out")
}
