package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mrmushfiq/llm-gateway/internal/gateway/translate"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokensCap   = 4096
)

// AnthropicInvoker calls anthropic-dialect providers over the Messages API.
type AnthropicInvoker struct {
	httpClient *http.Client
	// Streams are bounded by the request context, not a client timeout:
	// a fixed timeout would cut off long generations mid-stream.
	streamClient *http.Client
}

func NewAnthropicInvoker(timeout time.Duration) *AnthropicInvoker {
	return &AnthropicInvoker{
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

func (inv *AnthropicInvoker) endpoint(call *Call) string {
	base := call.Provider.BaseURL
	if base == "" {
		base = anthropicDefaultBaseURL
	}
	return strings.TrimSuffix(base, "/") + "/v1/messages"
}

func (inv *AnthropicInvoker) do(ctx context.Context, call *Call, stream bool) (*http.Response, error) {
	wire := translate.ToAnthropicRequest(call.Request, anthropicMaxTokensCap)
	wire.Model = call.WireModel
	wire.Stream = stream

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inv.endpoint(call), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", call.Credential)
	req.Header.Set("anthropic-version", anthropicVersion)

	client := inv.httpClient
	if stream {
		client = inv.streamClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAnthropicError(resp)
	}
	return resp, nil
}

func readAnthropicError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error.Message != "" {
		return fmt.Errorf("anthropic: %s (%s)", wire.Error.Message, http.StatusText(resp.StatusCode))
	}
	return fmt.Errorf("anthropic: unexpected status %d", resp.StatusCode)
}

func (inv *AnthropicInvoker) Complete(ctx context.Context, call *Call) (*translate.Response, error) {
	resp, err := inv.do(ctx, call, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire translate.AnthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	return translate.FromAnthropicResponse(&wire)
}

func (inv *AnthropicInvoker) Stream(ctx context.Context, call *Call) (Stream, error) {
	resp, err := inv.do(ctx, call, true)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &anthropicStream{
		body:    resp.Body,
		scanner: scanner,
	}, nil
}

type anthropicStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// anthropicStreamEvent is the data payload shared by the event types we
// consume; fields not relevant to a given event stay zero.
type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message struct {
		Role  string                   `json:"role"`
		Usage translate.AnthropicUsage `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage translate.AnthropicUsage `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *anthropicStream) Recv() (translate.StreamEvent, error) {
	if s.done {
		return translate.StreamEvent{}, io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var wire anthropicStreamEvent
		if err := json.Unmarshal([]byte(payload), &wire); err != nil {
			continue
		}

		switch wire.Type {
		case "message_start":
			return translate.StreamEvent{
				Role:        wire.Message.Role,
				InputTokens: wire.Message.Usage.InputTokens,
			}, nil
		case "content_block_delta":
			if wire.Delta.Type != "text_delta" {
				continue
			}
			return translate.StreamEvent{ContentDelta: wire.Delta.Text}, nil
		case "message_delta":
			return translate.StreamEvent{
				FinishReason: translate.FinishReasonFromAnthropic(wire.Delta.StopReason),
				OutputTokens: wire.Usage.OutputTokens,
			}, nil
		case "message_stop":
			s.done = true
			return translate.StreamEvent{}, io.EOF
		case "error":
			s.done = true
			return translate.StreamEvent{}, fmt.Errorf("anthropic: %s", wire.Error.Message)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return translate.StreamEvent{}, err
	}
	s.done = true
	return translate.StreamEvent{}, io.EOF
}

func (s *anthropicStream) Close() error {
	return s.body.Close()
}
