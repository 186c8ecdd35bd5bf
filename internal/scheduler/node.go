package scheduler

import (
	"time"

	"github.com/aristath/taskflow/internal/results"
)

// Node is a graph vertex wrapping one Task. Its edges belong to the Workflow.
type Node struct {
	ID         string
	Name       string
	Task       Task
	Seed       map[string]any
	Origin     string // Node whose detour created this one, empty for initial nodes
	Status     NodeStatus
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Kind returns the kind of the wrapped task.
func (n *Node) Kind() string {
	if n.Task == nil {
		return ""
	}
	return n.Task.Kind()
}

// Claim is a node handed to the engine for execution together with the
// snapshot its task must read. When Err is set the node's seed could not be
// layered over the store: the node is Running but must not execute, and the
// caller is expected to Fail it with Err.
type Claim struct {
	Node  *Node
	Input results.Snapshot
	Err   error
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Seed = cloneSeed(n.Seed)
	return &cp
}
