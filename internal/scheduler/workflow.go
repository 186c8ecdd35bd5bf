package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/taskflow/internal/results"
)

// Workflow is a DAG of nodes plus the Result Store of one execution.
//
// A single lock guards node states and the edge set, so "check ready, then
// mark running" and detour splices are atomic with respect to each other.
type Workflow struct {
	mu    sync.RWMutex
	id    string
	name  string
	nodes map[string]*Node // All nodes indexed by ID
	order []string         // Insertion order, detour nodes appended
	edges *edgeSet
	store *results.Store
}

// NewWorkflow builds a workflow from a blueprint. Node IDs are the spec keys.
func NewWorkflow(bp *Blueprint) (*Workflow, error) {
	if bp == nil {
		return nil, &ConfigurationError{Kind: "workflow", Reason: "nil blueprint"}
	}
	if err := bp.Validate(); err != nil {
		return nil, err
	}

	wf := &Workflow{
		name:  bp.Name,
		nodes: make(map[string]*Node, len(bp.Nodes)),
		edges: newEdgeSet(),
		store: results.NewStore(),
	}

	for _, spec := range bp.Nodes {
		wf.nodes[spec.Key] = &Node{
			ID:     spec.Key,
			Name:   nodeName(spec),
			Task:   spec.Task,
			Seed:   cloneSeed(spec.Seed),
			Status: NodePending,
		}
		wf.order = append(wf.order, spec.Key)
	}
	for _, spec := range bp.Nodes {
		for _, p := range spec.Parents {
			wf.edges.link(p, spec.Key)
		}
	}

	return wf, nil
}

// Restore rebuilds a workflow from persisted state. nodes must be in insertion
// order and parents must only name nodes in the list.
func Restore(id, name string, nodes []*Node, parents map[string][]string, store *results.Store) (*Workflow, error) {
	if store == nil {
		store = results.NewStore()
	}

	wf := &Workflow{
		id:    id,
		name:  name,
		nodes: make(map[string]*Node, len(nodes)),
		edges: newEdgeSet(),
		store: store,
	}

	for _, n := range nodes {
		if _, exists := wf.nodes[n.ID]; exists {
			return nil, fmt.Errorf("node with ID %q already exists", n.ID)
		}
		wf.nodes[n.ID] = cloneNode(n)
		wf.order = append(wf.order, n.ID)
	}
	for _, id := range wf.order {
		for _, p := range parents[id] {
			wf.edges.link(p, id)
		}
	}

	if _, err := topoOrder(wf.order, wf.edges.parents); err != nil {
		return nil, err
	}
	return wf, nil
}

func nodeName(spec *NodeSpec) string {
	if spec.Name != "" {
		return spec.Name
	}
	return spec.Key
}

// ID returns the workflow identifier assigned by the workflow store.
func (w *Workflow) ID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.id
}

// SetID assigns the workflow identifier.
func (w *Workflow) SetID(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.id = id
}

// Name returns the blueprint name.
func (w *Workflow) Name() string {
	return w.name
}

// Results returns a snapshot of the Result Store.
func (w *Workflow) Results() results.Snapshot {
	return w.store.Snapshot()
}

// Node returns a copy of the node with the given ID.
func (w *Workflow) Node(id string) (*Node, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n, ok := w.nodes[id]
	if !ok {
		return nil, false
	}
	return cloneNode(n), true
}

// Nodes returns copies of all nodes in insertion order.
func (w *Workflow) Nodes() []*Node {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]*Node, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, cloneNode(w.nodes[id]))
	}
	return out
}

// Parents returns the parent IDs of a node.
func (w *Workflow) Parents(id string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.edges.parents[id]...)
}

// Children returns the child IDs of a node.
func (w *Workflow) Children(id string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.edges.children[id]...)
}

// Order returns node IDs in topological order.
func (w *Workflow) Order() ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return topoOrder(w.order, w.edges.parents)
}

// Claim promotes Pending nodes whose parents are all Completed to Ready, then
// marks up to limit Ready nodes Running and returns them. A limit <= 0 claims
// every Ready node. Nodes with a Failed ancestor never become Ready.
// Seeding failures come back as claims with Err set.
func (w *Workflow) Claim(limit int) []Claim {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.promote()

	snap := w.store.Snapshot()
	now := time.Now()

	var claims []Claim
	for _, id := range w.order {
		if limit > 0 && len(claims) >= limit {
			break
		}
		n := w.nodes[id]
		if n.Status != NodeReady {
			continue
		}

		n.Status = NodeRunning
		n.StartedAt = now

		input, err := snap.With(n.Seed)
		if err != nil {
			err = &TaskExecutionError{NodeID: id, Kind: n.Kind(), Err: fmt.Errorf("seeding input: %w", err)}
			claims = append(claims, Claim{Node: cloneNode(n), Err: err})
			continue
		}
		claims = append(claims, Claim{Node: cloneNode(n), Input: input})
	}

	return claims
}

// promote moves Pending nodes with all parents Completed to Ready.
// Caller must hold w.mu.
func (w *Workflow) promote() {
	for _, id := range w.order {
		n := w.nodes[id]
		if n.Status != NodePending {
			continue
		}
		ready := true
		for _, p := range w.edges.parents[id] {
			if w.nodes[p].Status != NodeCompleted {
				ready = false
				break
			}
		}
		if ready {
			n.Status = NodeReady
		}
	}
}

// Complete applies a node's action and marks it Completed. Store writes and
// the detour splice are all-or-nothing: if either fails the node is marked
// Failed, nothing is applied and the error is returned. The IDs of spliced
// detour nodes are returned on success.
func (w *Workflow) Complete(id string, action *Action) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, ok := w.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %q not found", id)
	}
	if n.Status != NodeRunning {
		return nil, fmt.Errorf("node %q is not running (status: %s)", id, n.Status)
	}

	var plan *splicePlan
	if bp := action.DetourBlueprint(); bp != nil {
		var err error
		plan, err = w.planSplice(id, bp)
		if err != nil {
			w.markFailed(n, err)
			return nil, err
		}
	}

	if err := w.store.Apply(action.Writes()...); err != nil {
		err = fmt.Errorf("applying results of %q: %w", id, err)
		w.markFailed(n, err)
		return nil, err
	}

	var added []string
	if plan != nil {
		w.commitSplice(plan)
		added = plan.ids
	}

	n.Status = NodeCompleted
	n.FinishedAt = time.Now()
	return added, nil
}

// Fail marks a node Failed with the captured error.
func (w *Workflow) Fail(id string, err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, ok := w.nodes[id]
	if !ok {
		return fmt.Errorf("node %q not found", id)
	}
	if n.Status == NodeCompleted || n.Status == NodeFailed {
		return fmt.Errorf("node %q already finished (status: %s)", id, n.Status)
	}
	w.markFailed(n, err)
	return nil
}

func (w *Workflow) markFailed(n *Node, err error) {
	n.Status = NodeFailed
	n.Err = err
	n.FinishedAt = time.Now()
}

// ResetInterrupted returns Ready and Running nodes to Pending so a reloaded
// workflow can be resumed. Returns the IDs that were reset.
func (w *Workflow) ResetInterrupted() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var reset []string
	for _, id := range w.order {
		n := w.nodes[id]
		if n.Status == NodeReady || n.Status == NodeRunning {
			n.Status = NodePending
			n.StartedAt = time.Time{}
			reset = append(reset, id)
		}
	}
	return reset
}

// Progress counts nodes by status.
type Progress struct {
	Total     int
	Pending   int
	Ready     int
	Running   int
	Completed int
	Failed    int
	Blocked   int // Pending nodes with a Failed ancestor
}

// Progress returns the current status counts.
func (w *Workflow) Progress() Progress {
	w.mu.RLock()
	defer w.mu.RUnlock()

	blocked := w.blockedSet()
	p := Progress{Total: len(w.order)}
	for _, id := range w.order {
		switch w.nodes[id].Status {
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
	return p
}

// blockedSet returns the Pending nodes that have a Failed ancestor.
// Caller must hold w.mu.
func (w *Workflow) blockedSet() map[string]bool {
	order, err := topoOrder(w.order, w.edges.parents)
	if err != nil {
		order = w.order
	}

	// doomed: failed, or downstream of a failure
	doomed := make(map[string]bool)
	blocked := make(map[string]bool)
	for _, id := range order {
		n := w.nodes[id]
		if n.Status == NodeFailed {
			doomed[id] = true
			continue
		}
		for _, p := range w.edges.parents[id] {
			if doomed[p] {
				doomed[id] = true
				break
			}
		}
		if doomed[id] && n.Status == NodePending {
			blocked[id] = true
		}
	}
	return blocked
}
