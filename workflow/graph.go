package workflow

// DependencyGraph represents step dependencies as a directed graph.
// Edges point from a dependency to its dependents, so a topological order of
// the graph is a valid execution order. Node declaration order is preserved
// and used for deterministic tie-breaking during ordering.
type DependencyGraph struct {
	// nodes tracks declared node ids for membership checks
	nodes map[string]bool
	// order preserves node declaration order
	order []string
	// edges maps a node id to its dependent node ids
	// edges[nodeID] = [dependentID1, dependentID2, ...]
	edges map[string][]string
}

// NewDependencyGraph creates a new empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]bool),
		edges: make(map[string][]string),
	}
}

// AddNode declares a node. Re-adding an existing node is a no-op so that
// declaration order stays stable.
func (g *DependencyGraph) AddNode(id string) {
	if g.nodes[id] {
		return
	}
	g.nodes[id] = true
	g.order = append(g.order, id)
}

// AddEdge adds a directed edge from a dependency to a dependent.
// Edges may reference undeclared nodes; the validator rejects those.
func (g *DependencyGraph) AddEdge(fromID, toID string) {
	g.edges[fromID] = append(g.edges[fromID], toID)
}

// HasNode reports whether the node id has been declared.
func (g *DependencyGraph) HasNode(id string) bool {
	return g.nodes[id]
}

// Nodes returns all node ids in declaration order.
func (g *DependencyGraph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Dependents returns the outgoing edges for a node.
func (g *DependencyGraph) Dependents(id string) []string {
	return g.edges[id]
}

// Dependencies returns the node ids the given node depends on.
func (g *DependencyGraph) Dependencies(id string) []string {
	var deps []string
	for _, from := range g.order {
		for _, to := range g.edges[from] {
			if to == id {
				deps = append(deps, from)
			}
		}
	}
	return deps
}

// Edges returns a copy of the adjacency map.
func (g *DependencyGraph) Edges() map[string][]string {
	out := make(map[string][]string, len(g.edges))
	for from, tos := range g.edges {
		cp := make([]string, len(tos))
		copy(cp, tos)
		out[from] = cp
	}
	return out
}

// Len returns the number of declared nodes.
func (g *DependencyGraph) Len() int {
	return len(g.order)
}

// graphFromSteps builds a dependency graph from workflow steps.
// Each step becomes a node; each declared dependency becomes an edge from the
// dependency to the step.
func graphFromSteps(steps []*Step) *DependencyGraph {
	g := NewDependencyGraph()
	for _, step := range steps {
		g.AddNode(step.ID)
	}
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			g.AddEdge(dep, step.ID)
		}
	}
	return g
}
