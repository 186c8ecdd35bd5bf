package scheduler

import "github.com/aristath/taskflow/internal/results"

// Action is the declarative outcome of a successful task execution: store
// writes and an optional detour. It is consumed once by the engine.
type Action struct {
	writes []results.Write
	detour *Blueprint
}

// NewAction returns an empty action.
func NewAction() *Action {
	return &Action{}
}

// Replace overwrites store[key] with value.
func (a *Action) Replace(key string, value any) *Action {
	a.writes = append(a.writes, results.Replace(key, value))
	return a
}

// Merge writes value into a nested path such as "md_results->structure3".
func (a *Action) Merge(path string, value any) *Action {
	a.writes = append(a.writes, results.Merge(path, value))
	return a
}

// MergePath is Merge with a pre-split path.
func (a *Action) MergePath(path []string, value any) *Action {
	a.writes = append(a.writes, results.MergePath(path, value))
	return a
}

// Detour splices bp between the executing node and its current children.
func (a *Action) Detour(bp *Blueprint) *Action {
	a.detour = bp
	return a
}

// Writes returns the store writes carried by the action.
func (a *Action) Writes() []results.Write {
	if a == nil {
		return nil
	}
	return append([]results.Write(nil), a.writes...)
}

// DetourBlueprint returns the detour, or nil.
func (a *Action) DetourBlueprint() *Blueprint {
	if a == nil {
		return nil
	}
	return a.detour
}
