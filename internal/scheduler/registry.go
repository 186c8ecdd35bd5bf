package scheduler

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a task of one kind from its params.
type Factory func(Params) (Task, error)

// Registry maps task kinds to factories. It lets a stored workflow be
// rebuilt from kind names and params.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a kind twice is an error.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" {
		return fmt.Errorf("task kind cannot be empty")
	}
	if f == nil {
		return fmt.Errorf("nil factory for kind %q", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("task kind %q already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

// MustRegister is Register that panics on error, for package-level setup.
func (r *Registry) MustRegister(kind string, f Factory) {
	if err := r.Register(kind, f); err != nil {
		panic(err)
	}
}

// Build constructs a task. Unknown kinds fail with *ConfigurationError.
func (r *Registry) Build(kind string, params Params) (Task, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, &ConfigurationError{Kind: kind, Reason: "unknown task kind"}
	}
	return f(params.Clone())
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
