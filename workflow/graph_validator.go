package workflow

import (
	"fmt"
	"strings"

	"github.com/gateflow/gateflow/types"
)

// GraphValidator validates dependency graphs and produces topological orders.
type GraphValidator struct{}

// NewGraphValidator creates a new graph validator.
func NewGraphValidator() *GraphValidator {
	return &GraphValidator{}
}

// Validate checks the graph for dangling edges and cycles, and returns a
// topological order of the nodes on success.
//
// The order is deterministic: among nodes that are simultaneously eligible,
// the one declared first comes first. Dangling-edge detection runs before any
// topological computation so a malformed graph never reaches the sort.
func (v *GraphValidator) Validate(g *DependencyGraph) ([]string, error) {
	if err := v.checkEdges(g); err != nil {
		return nil, err
	}
	return v.topologicalOrder(g)
}

// checkEdges rejects edges referencing undeclared nodes.
func (v *GraphValidator) checkEdges(g *DependencyGraph) error {
	for from, tos := range g.Edges() {
		if !g.HasNode(from) {
			return types.Errorf(types.ErrDanglingEdge,
				"edge references undeclared source node %q", from)
		}
		for _, to := range tos {
			if !g.HasNode(to) {
				return types.Errorf(types.ErrDanglingEdge,
					"edge %s->%s references undeclared node %q", from, to, to)
			}
		}
	}
	return nil
}

// topologicalOrder runs Kahn's algorithm with declaration-order tie-breaking.
func (v *GraphValidator) topologicalOrder(g *DependencyGraph) ([]string, error) {
	nodes := g.Nodes()
	inDegree := make(map[string]int, len(nodes))
	for _, id := range nodes {
		inDegree[id] = 0
	}
	for _, tos := range g.Edges() {
		for _, to := range tos {
			inDegree[to]++
		}
	}

	order := make([]string, 0, len(nodes))
	removed := make(map[string]bool, len(nodes))

	for len(order) < len(nodes) {
		// Pick the earliest-declared node with no remaining dependencies.
		next := ""
		for _, id := range nodes {
			if !removed[id] && inDegree[id] == 0 {
				next = id
				break
			}
		}
		if next == "" {
			// No zero in-degree node left: the remainder contains a cycle.
			cycle := v.findCycle(g, removed)
			return nil, types.Errorf(types.ErrCycleDetected,
				"dependency cycle detected: %s", strings.Join(cycle, " -> "))
		}

		removed[next] = true
		order = append(order, next)
		for _, to := range g.Dependents(next) {
			inDegree[to]--
		}
	}

	return order, nil
}

// findCycle reconstructs one concrete cycle among the nodes left over after
// Kahn's algorithm stalls. Every remaining node sits on or downstream of a
// cycle, so a depth-first walk restricted to remaining nodes must revisit a
// node on its own path.
func (v *GraphValidator) findCycle(g *DependencyGraph, removed map[string]bool) []string {
	for _, start := range g.Nodes() {
		if removed[start] {
			continue
		}

		onPath := make(map[string]int)
		path := []string{}

		var walk func(id string) []string
		walk = func(id string) []string {
			if pos, ok := onPath[id]; ok {
				// Close the loop back to the first occurrence.
				cycle := make([]string, 0, len(path)-pos+1)
				cycle = append(cycle, path[pos:]...)
				cycle = append(cycle, id)
				return cycle
			}
			onPath[id] = len(path)
			path = append(path, id)
			for _, to := range g.Dependents(id) {
				if removed[to] {
					continue
				}
				if cycle := walk(to); cycle != nil {
					return cycle
				}
			}
			delete(onPath, id)
			path = path[:len(path)-1]
			return nil
		}

		if cycle := walk(start); cycle != nil {
			return cycle
		}
	}
	// Unreachable for graphs that stalled Kahn's algorithm.
	return []string{fmt.Sprintf("unresolved cycle among %d remaining nodes", g.Len()-len(removed))}
}
