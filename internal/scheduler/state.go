package scheduler

import "github.com/aristath/taskflow/internal/results"

// State is a consistent copy of a workflow taken under one lock: a node and
// the edges that name it are always captured together.
type State struct {
	ID      string
	Name    string
	Status  WorkflowStatus
	Nodes   []*Node             // Insertion order
	Parents map[string][]string // nodeID -> parent IDs
	Results results.Snapshot
}

// Export returns the current state of the workflow.
func (w *Workflow) Export() *State {
	w.mu.RLock()
	defer w.mu.RUnlock()

	st := &State{
		ID:      w.id,
		Name:    w.name,
		Nodes:   make([]*Node, 0, len(w.order)),
		Parents: make(map[string][]string, len(w.order)),
		Results: w.store.Snapshot(),
	}

	blocked := w.blockedSet()
	p := Progress{Total: len(w.order)}
	for _, id := range w.order {
		n := w.nodes[id]
		st.Nodes = append(st.Nodes, cloneNode(n))
		if ps := w.edges.parents[id]; len(ps) > 0 {
			st.Parents[id] = append([]string(nil), ps...)
		}
		switch n.Status {
		case NodePending:
			p.Pending++
			if blocked[id] {
				p.Blocked++
			}
		case NodeReady:
			p.Ready++
		case NodeRunning:
			p.Running++
		case NodeCompleted:
			p.Completed++
		case NodeFailed:
			p.Failed++
		}
	}
	st.Status = statusOf(p)
	return st
}
