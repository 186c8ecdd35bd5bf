package scheduler

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a malformed task or workflow. It is raised while
// a workflow is being built, never while it runs.
type ConfigurationError struct {
	Kind    string   // Task kind or blueprint name
	Missing []string // Required inputs that were not provided
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("configuring %s: missing required inputs: %s", e.Kind, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("configuring %s: %s", e.Kind, e.Reason)
}

// TaskExecutionError records a failure of a task's own logic. It marks exactly
// one node Failed and is never returned from the engine loop.
type TaskExecutionError struct {
	NodeID string
	Kind   string
	Err    error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("node %q (%s): %v", e.NodeID, e.Kind, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// SpliceError reports a detour that could not be inserted. The originating
// node is failed and the graph is left as it was.
type SpliceError struct {
	Origin string
	Reason string
	Err    error
}

func (e *SpliceError) Error() string {
	msg := fmt.Sprintf("splicing detour after %q: %s", e.Origin, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SpliceError) Unwrap() error { return e.Err }
