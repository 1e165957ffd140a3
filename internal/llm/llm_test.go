package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicClient_Complete(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = fmt.Fprint(w, `{
			"id": "msg_1",
			"model": "claude-opus-4-6",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Checking your inbox."},
				{"type": "tool_use", "id": "tu_1", "name": "fetch_emails", "input": {"hours": 12}}
			],
			"usage": {"input_tokens": 1200, "output_tokens": 80}
		}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1/"})
	resp, err := c.Complete(context.Background(), Request{
		Model:     "claude-opus-4-6",
		MaxTokens: 1024,
		System:    "be useful",
		Messages:  []Message{UserText("morning sweep")},
		Tools:     []Tool{{Name: "fetch_emails", Description: "d", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)

	assert.Equal(t, "claude-opus-4-6", got.Model)
	assert.Equal(t, "be useful", got.System)
	require.Len(t, got.Tools, 1)
	assert.False(t, got.Stream)

	assert.True(t, resp.WantsTools())
	assert.Equal(t, "Checking your inbox.", resp.Text())
	uses := resp.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "fetch_emails", uses[0].Name)
	assert.JSONEq(t, `{"hours":12}`, string(uses[0].Input))
	assert.Equal(t, Usage{InputTokens: 1200, OutputTokens: 80}, resp.Usage)
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), Request{Model: "m", MaxTokens: 1})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limit_error", apiErr.Type)
	assert.Contains(t, err.Error(), "slow down")
}

func TestAnthropicClient_NoKey(t *testing.T) {
	c := NewAnthropicClient(AnthropicConfig{})
	_, err := c.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestAnthropicClient_Stream(t *testing.T) {
	events := []string{
		`{"type":"message_start","message":{"id":"msg_2","model":"claude-sonnet-4-5-20250929","usage":{"input_tokens":50,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"look."}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_9","name":"fetch_calendar","input":{}}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"days\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":" 2}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":42}}`,
		`{"type":"message_stop"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			var typ struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal([]byte(e), &typ)
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ.Type, e)
		}
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	var chunks []string
	resp, err := c.Stream(context.Background(), Request{Model: "m", MaxTokens: 10}, func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Let me ", "look."}, chunks)
	assert.Equal(t, "Let me look.", resp.Text())
	assert.Equal(t, StopToolUse, resp.StopReason)
	assert.Equal(t, Usage{InputTokens: 50, OutputTokens: 42}, resp.Usage)
	uses := resp.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "tu_9", uses[0].ID)
	assert.JSONEq(t, `{"days": 2}`, string(uses[0].Input))
}

func TestAnthropicClient_StreamCutShort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_3\",\"model\":\"m\",\"usage\":{\"input_tokens\":10}}}\n\n")
		_, _ = fmt.Fprint(w, "event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n")
		_, _ = fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Half a sen\"}}\n\n")
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	var chunks []string
	resp, err := c.Stream(context.Background(), Request{Model: "m", MaxTokens: 10}, func(s string) {
		chunks = append(chunks, s)
	})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Nil(t, resp)
	assert.Equal(t, []string{"Half a sen"}, chunks)
}

func TestPriceTable_Cost(t *testing.T) {
	table := DefaultPriceTable()

	tests := []struct {
		model string
		usage Usage
		want  float64
	}{
		{"claude-opus-4-6", Usage{InputTokens: 1_000_000, OutputTokens: 0}, 15},
		{"claude-opus-4-6", Usage{InputTokens: 0, OutputTokens: 1_000_000}, 75},
		{"claude-haiku-4-5-20251001", Usage{InputTokens: 500_000, OutputTokens: 100_000}, 1},
		{"claude-sonnet-4-5-20250929", Usage{InputTokens: 1000, OutputTokens: 1000}, 0.018},
		{"some-future-model", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 18},
		{"claude-opus-4-6-20260601", Usage{InputTokens: 1_000_000}, 15},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.InDelta(t, tt.want, table.Cost(tt.model, tt.usage), 1e-9)
		})
	}

	custom := table.With(map[string]Price{"local-model": {Input: 0, Output: 0}})
	assert.Zero(t, custom.Cost("local-model", Usage{InputTokens: 10, OutputTokens: 10}))
	_, had := table["local-model"]
	assert.False(t, had, "With must not mutate the receiver")
}

func TestResponseHelpers(t *testing.T) {
	r := &Response{StopReason: StopEndTurn, Content: []ContentBlock{TextBlock("a"), TextBlock(""), TextBlock("b")}}
	assert.Equal(t, "a\nb", r.Text())
	assert.False(t, r.WantsTools())

	b := ToolUseBlock("id", "n", nil)
	assert.JSONEq(t, `{}`, string(b.Input))
	assert.True(t, strings.HasPrefix(string(mustJSON(t, ToolResultBlock("id", "x", true))), `{"type":"tool_result"`))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
