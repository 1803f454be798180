package nodes

import (
	"fmt"
	"sort"
	"sync"

	"github.com/flowmesh-io/flowmesh/internal/schema"
)

// Registry maps node type identifiers to their definitions. It is an
// explicit dependency of the engine rather than process-global state, so
// tests and embedders can assemble their own.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Identifier == "" {
		return fmt.Errorf("node definition must have an identifier")
	}
	if def.Execute == nil {
		return fmt.Errorf("node %q has no execute function", def.Identifier)
	}
	if !def.IsTrigger() && len(def.Inputs) == 0 {
		return fmt.Errorf("node %q declares no input ports", def.Identifier)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Identifier]; exists {
		return fmt.Errorf("node %q already registered", def.Identifier)
	}
	r.defs[def.Identifier] = def
	return nil
}

// MustRegister panics on registration failure; for wiring built-in sets at
// startup.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(identifier string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[identifier]
	return def, ok
}

// List returns all registered identifiers, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for id := range r.defs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ValidateParameters checks values against the type's property schema,
// respecting displayOptions visibility.
func (r *Registry) ValidateParameters(identifier string, values map[string]interface{}) ([]schema.FieldError, error) {
	def, ok := r.Get(identifier)
	if !ok {
		return nil, fmt.Errorf("unknown node type %q", identifier)
	}
	return schema.Validate(def.Properties, values), nil
}

// ApplyDefaults fills in declared defaults for the type's visible properties.
func (r *Registry) ApplyDefaults(identifier string, values map[string]interface{}) (map[string]interface{}, error) {
	def, ok := r.Get(identifier)
	if !ok {
		return nil, fmt.Errorf("unknown node type %q", identifier)
	}
	return schema.ApplyDefaults(def.Properties, values), nil
}
