package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/iksnae/chief-of-staff/internal/llm"
)

// ScriptedModel replays canned responses in order and records every request.
// It implements llm.Completer and llm.Streamer.
type ScriptedModel struct {
	mu        sync.Mutex
	responses []scripted
	requests  []llm.Request
	// Fallback is returned once the script runs out. When nil, running out is
	// an error.
	Fallback *llm.Response
}

type scripted struct {
	resp *llm.Response
	err  error
}

// NewScriptedModel creates a model that returns responses in order.
func NewScriptedModel(responses ...*llm.Response) *ScriptedModel {
	m := &ScriptedModel{}
	for _, r := range responses {
		m.responses = append(m.responses, scripted{resp: r})
	}
	return m
}

// Then appends a response.
func (m *ScriptedModel) Then(r *llm.Response) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, scripted{resp: r})
	return m
}

// ThenError appends a failing call.
func (m *ScriptedModel) ThenError(err error) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, scripted{err: err})
	return m
}

// Complete returns the next scripted response.
func (m *ScriptedModel) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, cloneRequest(req))
	if len(m.responses) == 0 {
		if m.Fallback != nil {
			return m.Fallback, nil
		}
		return nil, fmt.Errorf("scripted model: no response left for call %d", len(m.requests))
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	resp := *next.resp
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// Stream returns the next scripted response, delivering its text word by word.
func (m *ScriptedModel) Stream(ctx context.Context, req llm.Request, onText func(string)) (*llm.Response, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if onText != nil {
		for _, b := range resp.Content {
			if b.Type != llm.BlockText || b.Text == "" {
				continue
			}
			words := strings.SplitAfter(b.Text, " ")
			for _, w := range words {
				onText(w)
			}
		}
	}
	return resp, nil
}

// Requests returns the recorded requests.
func (m *ScriptedModel) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// Calls returns the number of model calls made.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Remaining returns the number of unused scripted responses.
func (m *ScriptedModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responses)
}

func cloneRequest(req llm.Request) llm.Request {
	req.Messages = append([]llm.Message(nil), req.Messages...)
	req.Tools = append([]llm.Tool(nil), req.Tools...)
	return req
}

// ToolCall describes one tool_use block for ToolUseResponse.
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// TextResponse is a final answer.
func TextResponse(text string, in, out int) *llm.Response {
	return &llm.Response{
		StopReason: llm.StopEndTurn,
		Content:    []llm.ContentBlock{llm.TextBlock(text)},
		Usage:      llm.Usage{InputTokens: in, OutputTokens: out},
	}
}

// ToolUseResponse asks for the given tool calls.
func ToolUseResponse(in, out int, calls ...ToolCall) *llm.Response {
	resp := &llm.Response{
		StopReason: llm.StopToolUse,
		Usage:      llm.Usage{InputTokens: in, OutputTokens: out},
	}
	for i, c := range calls {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("toolu_%02d", i+1)
		}
		args := c.Args
		if args == "" {
			args = "{}"
		}
		resp.Content = append(resp.Content, llm.ToolUseBlock(id, c.Name, json.RawMessage(args)))
	}
	return resp
}
