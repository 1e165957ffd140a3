package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"go.uber.org/zap"
)

const anthropicVersion = "2023-06-01"

// ErrNoAPIKey is returned when no key is configured.
var ErrNoAPIKey = errors.New("API key not configured")

// APIError is a non-200 reply from the provider.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("API request failed with status %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Message)
}

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// AnthropicClient calls the Messages API directly over HTTP.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicClient creates a client. Empty fields take defaults.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Complete sends a non-streaming request.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	req.Stream = false
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	internal.Logger().Debug("model call complete",
		zap.String("model", req.Model),
		zap.String("stop_reason", out.StopReason),
		zap.Int("input_tokens", out.Usage.InputTokens),
		zap.Int("output_tokens", out.Usage.OutputTokens))
	return &out, nil
}

// Stream sends a streaming request and assembles the final Response from the
// server-sent events, calling onText for each text delta.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, onText func(string)) (*Response, error) {
	req.Stream = true
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		out      Response
		partials = map[int]*strings.Builder{}
		stopped  bool
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var evt streamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}

		switch evt.Type {
		case "message_start":
			if evt.Message != nil {
				out.ID = evt.Message.ID
				out.Model = evt.Message.Model
				out.Usage.InputTokens = evt.Message.Usage.InputTokens
			}
		case "content_block_start":
			if evt.ContentBlock != nil {
				for len(out.Content) <= evt.Index {
					out.Content = append(out.Content, ContentBlock{})
				}
				out.Content[evt.Index] = *evt.ContentBlock
				if evt.ContentBlock.Type == BlockToolUse {
					partials[evt.Index] = &strings.Builder{}
				}
			}
		case "content_block_delta":
			if evt.Delta == nil || evt.Index >= len(out.Content) {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				out.Content[evt.Index].Text += evt.Delta.Text
				if onText != nil && evt.Delta.Text != "" {
					onText(evt.Delta.Text)
				}
			case "input_json_delta":
				if b, ok := partials[evt.Index]; ok {
					b.WriteString(evt.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if b, ok := partials[evt.Index]; ok && evt.Index < len(out.Content) {
				if raw := strings.TrimSpace(b.String()); raw != "" {
					out.Content[evt.Index].Input = json.RawMessage(raw)
				} else {
					out.Content[evt.Index].Input = json.RawMessage(`{}`)
				}
			}
		case "message_delta":
			if evt.Delta != nil && evt.Delta.StopReason != "" {
				out.StopReason = evt.Delta.StopReason
			}
			if evt.Usage != nil {
				out.Usage.OutputTokens = evt.Usage.OutputTokens
			}
		case "message_stop":
			stopped = true
		case "error":
			if evt.Error != nil {
				return nil, &APIError{StatusCode: http.StatusOK, Type: evt.Error.Type, Message: evt.Error.Message}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream error: %w", err)
	}
	// A stream cut short would otherwise read as a complete answer.
	if !stopped {
		return nil, fmt.Errorf("stream ended before message_stop: %w", io.ErrUnexpectedEOF)
	}
	return &out, nil
}

func (c *AnthropicClient) do(ctx context.Context, req Request) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var env struct {
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &env) == nil && env.Error != nil {
			apiErr.Type = env.Error.Type
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	return resp, nil
}

type streamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage Usage  `json:"usage"`
	} `json:"message,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
