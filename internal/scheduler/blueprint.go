package scheduler

import (
	"fmt"

	"github.com/mohae/deepcopy"
)

// NodeSpec describes one node of a Blueprint. Parents name other specs of the
// same blueprint by Key.
type NodeSpec struct {
	Key     string
	Name    string
	Task    Task
	Parents []string
	Seed    map[string]any // Layered over the shared store for this node only
}

// WithSeed sets a value that only this node sees in its snapshot.
func (s *NodeSpec) WithSeed(key string, value any) *NodeSpec {
	if s.Seed == nil {
		s.Seed = make(map[string]any)
	}
	s.Seed[key] = value
	return s
}

// Blueprint is a declarative sub-graph. It is used to build a Workflow and
// to describe a detour.
type Blueprint struct {
	Name  string
	Nodes []*NodeSpec
}

// NewBlueprint creates an empty blueprint.
func NewBlueprint(name string) *Blueprint {
	return &Blueprint{Name: name}
}

// Add appends a node spec and returns it so callers can seed it.
func (b *Blueprint) Add(key, name string, task Task, parents ...string) *NodeSpec {
	spec := &NodeSpec{
		Key:     key,
		Name:    name,
		Task:    task,
		Parents: append([]string(nil), parents...),
	}
	b.Nodes = append(b.Nodes, spec)
	return spec
}

// Terminal returns the most recently added spec, or nil if empty.
func (b *Blueprint) Terminal() *NodeSpec {
	if len(b.Nodes) == 0 {
		return nil
	}
	return b.Nodes[len(b.Nodes)-1]
}

// Spec returns the spec with the given key.
func (b *Blueprint) Spec(key string) (*NodeSpec, bool) {
	for _, s := range b.Nodes {
		if s.Key == key {
			return s, true
		}
	}
	return nil, false
}

// Validate checks keys are unique and non-empty, every parent exists, every
// spec has a task and the specs form a DAG.
func (b *Blueprint) Validate() error {
	name := b.Name
	if name == "" {
		name = "blueprint"
	}

	keys := make(map[string]bool, len(b.Nodes))
	for _, s := range b.Nodes {
		if s.Key == "" {
			return &ConfigurationError{Kind: name, Reason: "node key cannot be empty"}
		}
		if keys[s.Key] {
			return &ConfigurationError{Kind: name, Reason: fmt.Sprintf("duplicate node key %q", s.Key)}
		}
		if s.Task == nil {
			return &ConfigurationError{Kind: name, Reason: fmt.Sprintf("node %q has no task", s.Key)}
		}
		keys[s.Key] = true
	}

	ids := make([]string, 0, len(b.Nodes))
	parents := make(map[string][]string, len(b.Nodes))
	for _, s := range b.Nodes {
		for _, p := range s.Parents {
			if !keys[p] {
				return &ConfigurationError{Kind: name, Reason: fmt.Sprintf("node %q depends on non-existent node %q", s.Key, p)}
			}
		}
		ids = append(ids, s.Key)
		parents[s.Key] = s.Parents
	}

	if _, err := topoOrder(ids, parents); err != nil {
		return &ConfigurationError{Kind: name, Reason: err.Error()}
	}
	return nil
}

// roots returns keys with no parents inside the blueprint, in spec order.
func (b *Blueprint) roots() []string {
	var out []string
	for _, s := range b.Nodes {
		if len(s.Parents) == 0 {
			out = append(out, s.Key)
		}
	}
	return out
}

// leaves returns keys that no other spec depends on, in spec order.
func (b *Blueprint) leaves() []string {
	hasChild := make(map[string]bool)
	for _, s := range b.Nodes {
		for _, p := range s.Parents {
			hasChild[p] = true
		}
	}
	var out []string
	for _, s := range b.Nodes {
		if !hasChild[s.Key] {
			out = append(out, s.Key)
		}
	}
	return out
}

func cloneSeed(seed map[string]any) map[string]any {
	if seed == nil {
		return nil
	}
	cp, _ := deepcopy.Copy(seed).(map[string]any)
	return cp
}
