package scheduler

import "fmt"

// splicePlan is a fully validated detour, ready to be swapped in.
type splicePlan struct {
	nodes []*Node
	ids   []string
	edges *edgeSet
}

// planSplice computes the graph that results from inserting bp between
// origin and its current children. The live graph is not touched.
// Caller must hold w.mu.
//
// Detour roots hang off origin. Every pre-existing child of origin swaps
// origin for the detour leaves in its parent list, so A -> B with detour
// D1 -> D2 becomes A -> D1 -> D2 -> B.
func (w *Workflow) planSplice(origin string, bp *Blueprint) (*splicePlan, error) {
	if _, ok := w.nodes[origin]; !ok {
		return nil, &SpliceError{Origin: origin, Reason: "unknown originating node"}
	}
	if err := bp.Validate(); err != nil {
		return nil, &SpliceError{Origin: origin, Reason: "invalid detour", Err: err}
	}
	if len(bp.Nodes) == 0 {
		return nil, nil
	}

	ids := make(map[string]string, len(bp.Nodes)) // key -> node ID
	plan := &splicePlan{}
	for _, spec := range bp.Nodes {
		id := origin + "/" + spec.Key
		if _, exists := w.nodes[id]; exists {
			return nil, &SpliceError{Origin: origin, Reason: fmt.Sprintf("node %q already exists", id)}
		}
		ids[spec.Key] = id
		plan.ids = append(plan.ids, id)
		plan.nodes = append(plan.nodes, &Node{
			ID:     id,
			Name:   nodeName(spec),
			Task:   spec.Task,
			Seed:   cloneSeed(spec.Seed),
			Origin: origin,
			Status: NodePending,
		})
	}

	edges := w.edges.clone()
	children := edges.children[origin]
	edges.children[origin] = nil

	for _, spec := range bp.Nodes {
		if len(spec.Parents) == 0 {
			edges.link(origin, ids[spec.Key])
			continue
		}
		for _, p := range spec.Parents {
			edges.link(ids[p], ids[spec.Key])
		}
	}

	var leaves []string
	for _, key := range bp.leaves() {
		leaves = append(leaves, ids[key])
	}

	for _, child := range children {
		var parents []string
		for _, p := range edges.parents[child] {
			if p == origin {
				for _, l := range leaves {
					parents = appendUnique(parents, l)
				}
				continue
			}
			parents = appendUnique(parents, p)
		}
		edges.parents[child] = parents
		for _, l := range leaves {
			edges.children[l] = appendUnique(edges.children[l], child)
		}
	}

	all := append(append([]string(nil), w.order...), plan.ids...)
	if _, err := topoOrder(all, edges.parents); err != nil {
		return nil, &SpliceError{Origin: origin, Reason: "detour would create a cycle", Err: err}
	}

	plan.edges = edges
	return plan, nil
}

// commitSplice publishes a plan. Caller must hold w.mu.
func (w *Workflow) commitSplice(plan *splicePlan) {
	for _, n := range plan.nodes {
		w.nodes[n.ID] = n
	}
	w.order = append(w.order, plan.ids...)
	w.edges = plan.edges
}
