package translate

import (
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// StreamMeta carries per-response identity for stream framing.
type StreamMeta struct {
	RequestID   string
	Model       string
	InputTokens int
}

// FrameWriter renders a stream of deltas in one client dialect. Start is
// called once before any Delta; exactly one of Finish or Error ends the
// stream.
type FrameWriter interface {
	Start(meta StreamMeta) error
	Delta(text string) error
	// Finish takes the final token counts: upstreams may report usage only
	// at the end of the stream, after Start has been framed.
	Finish(stopReason string, inputTokens, outputTokens int) error
	Error(msg string) error
}

type openaiFrameWriter struct {
	w       io.Writer
	meta    StreamMeta
	created int64
}

// NewOpenAIFrameWriter frames deltas as chat.completion.chunk SSE events
// terminated by a [DONE] sentinel.
func NewOpenAIFrameWriter(w io.Writer, created int64) FrameWriter {
	return &openaiFrameWriter{w: w, created: created}
}

func (f *openaiFrameWriter) writeData(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f.w, "data: %s\n\n", payload)
	return err
}

func (f *openaiFrameWriter) chunk(delta openai.ChatCompletionStreamChoiceDelta, finish openai.FinishReason) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:      f.meta.RequestID,
		Object:  "chat.completion.chunk",
		Created: f.created,
		Model:   f.meta.Model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
	}
}

func (f *openaiFrameWriter) Start(meta StreamMeta) error {
	f.meta = meta
	return f.writeData(f.chunk(openai.ChatCompletionStreamChoiceDelta{Role: "assistant"}, ""))
}

func (f *openaiFrameWriter) Delta(text string) error {
	if text == "" {
		return nil
	}
	return f.writeData(f.chunk(openai.ChatCompletionStreamChoiceDelta{Content: text}, ""))
}

func (f *openaiFrameWriter) Finish(stopReason string, inputTokens, outputTokens int) error {
	final := f.chunk(openai.ChatCompletionStreamChoiceDelta{}, openai.FinishReason(stopReason))
	final.Usage = &openai.Usage{
		PromptTokens:     inputTokens,
		CompletionTokens: outputTokens,
		TotalTokens:      inputTokens + outputTokens,
	}
	if err := f.writeData(final); err != nil {
		return err
	}
	_, err := fmt.Fprint(f.w, "data: [DONE]\n\n")
	return err
}

func (f *openaiFrameWriter) Error(msg string) error {
	return f.writeData(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "gateway_error",
		},
	})
}

type anthropicFrameWriter struct {
	w    io.Writer
	meta StreamMeta
}

// NewAnthropicFrameWriter frames deltas as named Anthropic stream events.
// The message_start, content_block_start, content_block_stop, message_delta
// and message_stop envelopes are synthesized around the delta flow so the
// client always sees a well-formed event sequence regardless of the
// upstream dialect.
func NewAnthropicFrameWriter(w io.Writer) FrameWriter {
	return &anthropicFrameWriter{w: w}
}

func (f *anthropicFrameWriter) writeEvent(event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f.w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

func (f *anthropicFrameWriter) Start(meta StreamMeta) error {
	f.meta = meta
	err := f.writeEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            meta.RequestID,
			"type":          "message",
			"role":          "assistant",
			"content":       []any{},
			"model":         meta.Model,
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": meta.InputTokens, "output_tokens": 0},
		},
	})
	if err != nil {
		return err
	}
	return f.writeEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         0,
		"content_block": map[string]any{"type": "text", "text": ""},
	})
}

func (f *anthropicFrameWriter) Delta(text string) error {
	if text == "" {
		return nil
	}
	return f.writeEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
}

func (f *anthropicFrameWriter) Finish(stopReason string, _, outputTokens int) error {
	if err := f.writeEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": 0,
	}); err != nil {
		return err
	}
	if err := f.writeEvent("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   FinishReasonToAnthropic(stopReason),
			"stop_sequence": nil,
		},
		"usage": map[string]any{"output_tokens": outputTokens},
	}); err != nil {
		return err
	}
	return f.writeEvent("message_stop", map[string]any{"type": "message_stop"})
}

func (f *anthropicFrameWriter) Error(msg string) error {
	return f.writeEvent("error", map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "api_error", "message": msg},
	})
}
