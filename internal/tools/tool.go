// Package tools holds the tool catalog the agent can call: typed built-in
// tools, provider tools discovered at runtime, and the dispatcher that runs
// either kind by name.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/llm"
	"github.com/iksnae/chief-of-staff/internal/safety"
)

// Spec describes a tool to the model.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Risk        safety.Risk     `json:"risk"`
}

// LLMTool converts the spec to the model's tool definition.
func (s Spec) LLMTool() llm.Tool {
	return llm.Tool{Name: s.Name, Description: s.Description, InputSchema: s.InputSchema}
}

// Tool is one built-in tool.
type Tool interface {
	Spec() Spec
	// Validate checks args against the tool's input contract without running it.
	Validate(args json.RawMessage) error
	Run(ctx context.Context, sessionID string, args json.RawMessage) (string, error)
}

type typedTool[A any] struct {
	spec   Spec
	fields []field
	run    func(ctx context.Context, sessionID string, args A) (string, error)
}

// define registers a tool whose arguments decode into A. The input schema is
// generated from A.
func define[A any](name, description string, run func(ctx context.Context, sessionID string, args A) (string, error)) Tool {
	schema, fields := schemaFor(typeOf[A]())
	return &typedTool[A]{
		spec: Spec{
			Name:        name,
			Description: description,
			InputSchema: schema,
			Risk:        safety.RiskOf(name),
		},
		fields: fields,
		run:    run,
	}
}

func (t *typedTool[A]) Spec() Spec { return t.spec }

func (t *typedTool[A]) Validate(args json.RawMessage) error {
	_, err := t.decode(args)
	return err
}

func (t *typedTool[A]) Run(ctx context.Context, sessionID string, args json.RawMessage) (string, error) {
	a, err := t.decode(args)
	if err != nil {
		return "", err
	}
	out, err := t.run(ctx, sessionID, a)
	if err != nil {
		var validation *internal.ValidationError
		if errors.As(err, &validation) {
			return "", err
		}
		return "", &internal.ToolError{Tool: t.spec.Name, Err: err}
	}
	return out, nil
}

func (t *typedTool[A]) decode(args json.RawMessage) (A, error) {
	var a A
	args = bytes.TrimSpace(args)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		args = []byte("{}")
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(args, &present); err != nil {
		return a, &internal.ValidationError{Tool: t.spec.Name, Reason: "arguments must be a JSON object"}
	}
	for _, f := range t.fields {
		v, ok := present[f.name]
		if !f.required {
			continue
		}
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return a, &internal.ValidationError{Tool: t.spec.Name, Field: f.name, Reason: "is required"}
		}
		if f.kind == reflect.String {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return a, &internal.ValidationError{Tool: t.spec.Name, Field: f.name, Reason: "must be a string"}
			}
			if s == "" {
				return a, &internal.ValidationError{Tool: t.spec.Name, Field: f.name, Reason: "must not be empty"}
			}
		}
	}

	if err := json.Unmarshal(args, &a); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return a, &internal.ValidationError{
				Tool:   t.spec.Name,
				Field:  typeErr.Field,
				Reason: fmt.Sprintf("must be of type %s, got %s", jsonKind(typeErr.Type), typeErr.Value),
			}
		}
		return a, &internal.ValidationError{Tool: t.spec.Name, Reason: err.Error()}
	}
	if v, ok := any(&a).(validator); ok {
		if err := v.validate(); err != nil {
			err.Tool = t.spec.Name
			return a, err
		}
	}
	return a, nil
}

// validator is implemented by argument structs with cross-field rules.
type validator interface {
	validate() *internal.ValidationError
}

func jsonKind(t reflect.Type) string {
	if s, ok := typeSchema(t)["type"].(string); ok {
		return s
	}
	return t.String()
}
