package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iksnae/chief-of-staff/internal/provider"
	"github.com/iksnae/chief-of-staff/internal/safety"
)

// CatalogVersion identifies the built-in tool set. Bump it when a built-in is
// added, removed or changes its input contract.
const CatalogVersion = "2026.10.1"

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Providers is the part of the provider pool the registry needs.
type Providers interface {
	Has(name string) bool
	Tools(ctx context.Context) []provider.Tool
	ProviderTools(ctx context.Context, name string) ([]provider.Tool, error)
	Call(ctx context.Context, providerName, tool string, args []byte) (string, error)
}

// Registry merges the built-in tools with provider tools.
type Registry struct {
	builtins  []Tool
	byName    map[string]Tool
	providers Providers
}

// NewRegistry creates a registry. providers may be nil.
func NewRegistry(builtins []Tool, providers Providers) (*Registry, error) {
	r := &Registry{
		byName:    make(map[string]Tool, len(builtins)),
		providers: providers,
	}
	for _, t := range builtins {
		name := t.Spec().Name
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		r.byName[name] = t
		r.builtins = append(r.builtins, t)
	}
	return r, nil
}

// List returns the full catalog: built-ins first, then provider tools.
// Providers that cannot be reached are left out.
func (r *Registry) List(ctx context.Context) []Spec {
	specs := make([]Spec, 0, len(r.builtins))
	for _, t := range r.builtins {
		specs = append(specs, t.Spec())
	}
	if r.providers == nil {
		return specs
	}
	for _, pt := range r.providers.Tools(ctx) {
		specs = append(specs, providerSpec(pt))
	}
	return specs
}

// Builtin looks up a built-in tool by name.
func (r *Registry) Builtin(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

func providerSpec(pt provider.Tool) Spec {
	schema := pt.InputSchema
	if len(schema) == 0 {
		schema = emptySchema
	}
	desc := pt.Description
	if desc == "" {
		desc = pt.Name
	}
	return Spec{
		Name:        pt.QualifiedName(),
		Description: fmt.Sprintf("[%s] %s", pt.Provider, desc),
		InputSchema: schema,
		Risk:        safety.RiskOf(pt.QualifiedName()),
	}
}
