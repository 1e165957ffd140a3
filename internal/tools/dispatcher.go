package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/provider"
)

// Outcome is the result of one tool call as the model sees it: output on
// success, or a tool-level failure that is reported back instead of ending
// the session.
type Outcome struct {
	Output string
	Err    error
}

// Failed reports whether the tool call failed.
func (o Outcome) Failed() bool { return o.Err != nil }

// Text is the tool_result content for the model.
func (o Outcome) Text() string {
	if o.Err != nil {
		return "Error: " + o.Err.Error()
	}
	return o.Output
}

// Dispatcher runs tools by name.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher over a registry.
func NewDispatcher(r *Registry) *Dispatcher {
	return &Dispatcher{registry: r}
}

// Registry returns the registry the dispatcher resolves names against.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Execute runs a tool and returns its output. Built-ins are validated and run
// in-process; "<provider>__<tool>" names are forwarded to the provider.
func (d *Dispatcher) Execute(ctx context.Context, name string, args json.RawMessage, sessionID string) (string, error) {
	if t, ok := d.registry.Builtin(name); ok {
		return t.Run(ctx, sessionID, args)
	}

	providerName, tool, ok := provider.SplitName(name)
	if !ok || d.registry.providers == nil || !d.registry.providers.Has(providerName) {
		return "", &internal.UnknownToolError{Name: name}
	}
	if err := requireObject(name, args); err != nil {
		return "", err
	}
	out, err := d.registry.providers.Call(ctx, providerName, tool, args)
	if err != nil {
		var toolErr *internal.ToolError
		if errors.As(err, &toolErr) {
			return "", err
		}
		return "", &internal.ToolError{Tool: name, Err: err}
	}
	return out, nil
}

// Dispatch runs a tool and folds tool-level failures into the Outcome. The
// returned error is reserved for the caller's own context ending.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage, sessionID string) (Outcome, error) {
	out, err := d.Execute(ctx, name, args, sessionID)
	if err == nil {
		return Outcome{Output: out}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}
	if !internal.IsContained(err) {
		err = &internal.ToolError{Tool: name, Err: err}
	}
	return Outcome{Err: err}, nil
}

// Validate checks args against a tool's input contract without running it.
func (d *Dispatcher) Validate(ctx context.Context, name string, args json.RawMessage) error {
	if t, ok := d.registry.Builtin(name); ok {
		return t.Validate(args)
	}

	providerName, tool, ok := provider.SplitName(name)
	if !ok || d.registry.providers == nil || !d.registry.providers.Has(providerName) {
		return &internal.UnknownToolError{Name: name}
	}
	if err := requireObject(name, args); err != nil {
		return err
	}

	tools, err := d.registry.providers.ProviderTools(ctx, providerName)
	if err != nil {
		// Contract unknown while the provider is down; the call itself will
		// report the failure.
		return nil
	}
	for _, pt := range tools {
		if pt.Name == tool {
			return checkRequired(name, pt.InputSchema, args)
		}
	}
	return &internal.UnknownToolError{Name: name}
}

func requireObject(tool string, args json.RawMessage) error {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil || obj == nil {
		return &internal.ValidationError{Tool: tool, Reason: "arguments must be a JSON object"}
	}
	return nil
}

func checkRequired(tool string, schema, args json.RawMessage) error {
	var s struct {
		Required []string `json:"required"`
	}
	if len(schema) == 0 || json.Unmarshal(schema, &s) != nil {
		return nil
	}
	var obj map[string]json.RawMessage
	if len(bytes.TrimSpace(args)) > 0 {
		_ = json.Unmarshal(args, &obj)
	}
	for _, name := range s.Required {
		if v, ok := obj[name]; !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return &internal.ValidationError{Tool: tool, Field: name, Reason: "is required"}
		}
	}
	return nil
}
