package scheduler

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// edgeSet is the graph topology. A Workflow never edits an edgeSet it has
// published; a splice builds a new one and swaps it in.
type edgeSet struct {
	parents  map[string][]string // nodeID -> parent IDs
	children map[string][]string // nodeID -> child IDs
}

func newEdgeSet() *edgeSet {
	return &edgeSet{
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}
}

func (e *edgeSet) clone() *edgeSet {
	cp := newEdgeSet()
	for id, ps := range e.parents {
		cp.parents[id] = append([]string(nil), ps...)
	}
	for id, cs := range e.children {
		cp.children[id] = append([]string(nil), cs...)
	}
	return cp
}

// link adds the edge parent -> child.
func (e *edgeSet) link(parent, child string) {
	e.parents[child] = appendUnique(e.parents[child], parent)
	e.children[parent] = appendUnique(e.children[parent], child)
}

// topoOrder returns ids in topological order using gammazero/toposort.
// Returns error if a cycle exists or an edge references an unknown id.
func topoOrder(ids []string, parents map[string][]string) ([]string, error) {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	// Build edges for topological sort
	var edges []toposort.Edge
	for _, id := range ids {
		ps := parents[id]
		if len(ps) == 0 {
			// Node with no parents - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, p := range ps {
			if !known[p] {
				return nil, fmt.Errorf("node %q depends on non-existent node %q", id, p)
			}
			edges = append(edges, toposort.Edge{p, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	// Nodes that only appear inside a cycle are dropped by the sort
	if len(order) != len(ids) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("graph contains cycle through: %s", strings.Join(missing, ", "))
	}

	return order, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
