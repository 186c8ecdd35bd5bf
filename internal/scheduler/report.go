package scheduler

import (
	"time"

	"github.com/aristath/taskflow/internal/results"
)

// WorkflowStatus is the terminal (or current) state of a whole workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"   // Nothing has run yet
	WorkflowRunning   WorkflowStatus = "running"   // Nodes are Ready or Running
	WorkflowCompleted WorkflowStatus = "completed" // Every node Completed
	WorkflowFailed    WorkflowStatus = "failed"    // A node Failed and nothing is left to run
	WorkflowBlocked   WorkflowStatus = "blocked"   // Pending nodes are unreachable behind a failure
	WorkflowStopped   WorkflowStatus = "stopped"   // Runnable nodes were left unstarted by a stop
)

// NodeReport is the user-visible outcome of one node.
type NodeReport struct {
	ID         string
	Name       string
	Kind       string
	Origin     string
	Status     NodeStatus
	Err        error
	Blocked    bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Report summarises a workflow run.
type Report struct {
	WorkflowID string
	Name       string
	Status     WorkflowStatus
	Nodes      []NodeReport // Topological order
	Results    results.Snapshot
	Progress   Progress
}

// Node returns the report of a single node.
func (r *Report) Node(id string) (NodeReport, bool) {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeReport{}, false
}

// Failed returns the reports of Failed nodes.
func (r *Report) Failed() []NodeReport {
	var out []NodeReport
	for _, n := range r.Nodes {
		if n.Status == NodeFailed {
			out = append(out, n)
		}
	}
	return out
}

// Report builds a report of the workflow's current state.
func (w *Workflow) Report() *Report {
	w.mu.RLock()
	defer w.mu.RUnlock()

	order, err := topoOrder(w.order, w.edges.parents)
	if err != nil {
		order = w.order
	}

	blocked := w.blockedSet()
	rep := &Report{
		WorkflowID: w.id,
		Name:       w.name,
		Results:    w.store.Snapshot(),
		Progress:   Progress{Total: len(order)},
	}

	for _, id := range order {
		n := w.nodes[id]
		rep.Nodes = append(rep.Nodes, NodeReport{
			ID:         n.ID,
			Name:       n.Name,
			Kind:       n.Kind(),
			Origin:     n.Origin,
			Status:     n.Status,
			Err:        n.Err,
			Blocked:    blocked[id],
			StartedAt:  n.StartedAt,
			FinishedAt: n.FinishedAt,
		})

		switch n.Status {
		case NodePending:
			rep.Progress.Pending++
			if blocked[id] {
				rep.Progress.Blocked++
			}
		case NodeReady:
			rep.Progress.Ready++
		case NodeRunning:
			rep.Progress.Running++
		case NodeCompleted:
			rep.Progress.Completed++
		case NodeFailed:
			rep.Progress.Failed++
		}
	}

	rep.Status = statusOf(rep.Progress)
	return rep
}

func statusOf(p Progress) WorkflowStatus {
	switch {
	case p.Completed == p.Total:
		return WorkflowCompleted
	case p.Running > 0 || p.Ready > 0:
		return WorkflowRunning
	case p.Pending > p.Blocked:
		if p.Completed == 0 && p.Failed == 0 {
			return WorkflowPending
		}
		return WorkflowStopped
	case p.Blocked > 0:
		return WorkflowBlocked
	default:
		return WorkflowFailed
	}
}
