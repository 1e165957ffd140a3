package internal

import (
	"errors"
	"fmt"
)

// StorageError represents errors reading or writing the local database
type StorageError struct {
	Op  string // "open", "migrate", "query", "update"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// GateError is returned when the governor refuses to start a session.
type GateError struct {
	Gate   string // "rate", "cost", "cooldown"
	Reason string
}

func (e *GateError) Error() string {
	return e.Reason
}

// ModelError wraps a failed model call.
type ModelError struct {
	Model string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model error [%s]: %v", e.Model, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// ValidationError reports tool arguments that do not satisfy the tool's input contract.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: %s %s", e.Tool, e.Field, e.Reason)
}

// ToolError wraps a failure raised while a tool was running.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// UnknownToolError is returned for names that resolve to neither a built-in nor a provider tool.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// ExportError represents errors during export
type ExportError struct {
	Format string
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [%s] %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// IsGateError reports whether err is a governor refusal.
func IsGateError(err error) bool {
	var gate *GateError
	return errors.As(err, &gate)
}

// IsContained reports whether err is the kind of failure that is fed back to
// the model as a tool result instead of failing the session.
func IsContained(err error) bool {
	var (
		validation *ValidationError
		tool       *ToolError
		unknown    *UnknownToolError
	)
	return errors.As(err, &validation) || errors.As(err, &tool) || errors.As(err, &unknown)
}
