// Package registry holds the rule types available to build definition
// files. New kinds of build steps plug in here; the engine itself holds no
// type-specific logic.
package registry

import (
	"fmt"
	"sort"

	"github.com/anvil-build/anvil/internal/graph"
)

// Module is the interface a rule library implements to contribute its rule
// types to an invocation's registry.
type Module interface {
	Register(r *Registry)
}

// Registry maps rule type names to their implementations for a single
// invocation.
type Registry struct {
	types map[string]graph.RuleType
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{types: make(map[string]graph.RuleType)}
}

// Register adds a rule type. Registering the same name twice is a
// programming error and panics.
func (r *Registry) Register(t graph.RuleType) {
	if _, exists := r.types[t.Name()]; exists {
		panic(fmt.Sprintf("rule type %q already registered", t.Name()))
	}
	r.types[t.Name()] = t
}

// Lookup returns the rule type for a name.
func (r *Registry) Lookup(name string) (graph.RuleType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Names returns the registered rule type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
