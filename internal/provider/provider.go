// Package provider connects to external tool providers: subprocesses that
// speak newline-delimited JSON-RPC over stdio and expose a tool catalog.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Separator joins provider and tool names: "<provider>__<tool>".
const Separator = "__"

// ErrDisconnected is returned for calls on a dropped connection.
var ErrDisconnected = errors.New("provider disconnected")

// Config describes how to launch a provider.
type Config struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// RemoteTool is a tool as the provider describes it.
type RemoteTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Tool is a provider tool exposed under its qualified name.
type Tool struct {
	Provider    string
	Name        string
	Description string
	InputSchema json.RawMessage
}

// QualifiedName returns "<provider>__<tool>".
func (t Tool) QualifiedName() string {
	return QualifiedName(t.Provider, t.Name)
}

// QualifiedName joins a provider and tool name.
func QualifiedName(provider, tool string) string {
	return provider + Separator + tool
}

// SplitName splits a qualified name on the first separator. ok is false when
// the name has no provider prefix.
func SplitName(qualified string) (provider, tool string, ok bool) {
	i := strings.Index(qualified, Separator)
	if i <= 0 || i+len(Separator) >= len(qualified) {
		return "", "", false
	}
	return qualified[:i], qualified[i+len(Separator):], true
}

// ContentItem is one element of a tool call result.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is the provider's reply to a tool call.
type CallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`

	raw json.RawMessage
}

// Text joins the textual content, falling back to the raw JSON result when
// the provider returned no text.
func (r *CallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	if len(r.raw) > 0 {
		return string(r.raw)
	}
	b, _ := json.Marshal(r)
	return string(b)
}

// Client is a live connection to one provider.
type Client interface {
	ListTools(ctx context.Context) ([]RemoteTool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error)
	// Done is closed when the connection drops.
	Done() <-chan struct{}
	Close() error
}

// Dialer opens a connection to a provider.
type Dialer func(ctx context.Context, cfg Config) (Client, error)
