package graph

import (
	"sort"
	"sync"

	forgeerrors "github.com/forgebuild/forge/internal/errors"
)

// BuildGraph is a directed acyclic graph of BuildNodes keyed by TargetId.
// Construction fails on the first detected cycle or unresolved
// dependency. After construction, dependents are immutable except through
// the single write lock taken for dynamic discovery (§5): normal
// execution mutates only atomic per-node counters and needs no
// coordination.
type BuildGraph struct {
	mu    sync.Mutex // graph-wide lock; held only for dynamic discovery
	nodes map[TargetId]*BuildNode
	// order is the last computed deterministic topological order.
	order []TargetId
}

// New constructs a BuildGraph from a set of targets. It resolves every
// declared dependency, rejects duplicate TargetIds, detects cycles, and
// computes a deterministic topological order with pendingDeps seeded from
// in-degree.
func New(targets []Target) (*BuildGraph, error) {
	g := &BuildGraph{nodes: make(map[TargetId]*BuildNode, len(targets))}

	for _, t := range targets {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := g.nodes[t.ID]; dup {
			return nil, forgeerrors.New(forgeerrors.KindInput, "duplicate target id: "+t.ID.String())
		}
		g.nodes[t.ID] = NewBuildNode(t)
	}

	if err := g.resolveEdges(); err != nil {
		return nil, err
	}
	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	order, err := g.computeTopologicalOrder()
	if err != nil {
		return nil, err
	}
	g.order = order
	g.seedPendingDeps()

	return g, nil
}

// resolveEdges wires each node's DependencyIDs from its Target.Deps,
// failing if any dependency does not resolve to a declared target, and
// builds DependentIDs as the exact reverse relation.
func (g *BuildGraph) resolveEdges() error {
	for id, node := range g.nodes {
		node.DependencyIDs = append([]TargetId(nil), node.Target.Deps...)
		for _, dep := range node.Target.Deps {
			if _, ok := g.nodes[dep]; !ok {
				return forgeerrors.NewMissingDependencyError(id.String(), dep.String())
			}
		}
	}
	for _, node := range g.nodes {
		node.DependentIDs = nil
	}
	for id, node := range g.nodes {
		for _, dep := range node.DependencyIDs {
			depNode := g.nodes[dep]
			depNode.DependentIDs = append(depNode.DependentIDs, id)
		}
	}
	return nil
}

type color int

const (
	white color = iota
	gray
	black
)

// detectCycles runs a DFS with three-colour marking. On finding a cycle it
// returns a Graph error whose message contains every target in the cycle,
// in cycle-path order.
func (g *BuildGraph) detectCycles() error {
	colors := make(map[TargetId]color, len(g.nodes))
	var stack []TargetId

	ids := g.sortedIDs()

	var visit func(id TargetId) error
	visit = func(id TargetId) error {
		colors[id] = gray
		stack = append(stack, id)

		deps := append([]TargetId(nil), g.nodes[id].DependencyIDs...)
		sort.Slice(deps, func(i, j int) bool { return deps[i].String() < deps[j].String() })

		for _, dep := range deps {
			switch colors[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				cyclePath := cyclePathFrom(stack, dep)
				return forgeerrors.NewCycleError(stringIDs(cyclePath))
			case black:
				// already fully explored, safe
			}
		}

		colors[id] = black
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, id := range ids {
		if colors[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func cyclePathFrom(stack []TargetId, start TargetId) []TargetId {
	for i, id := range stack {
		if id == start {
			path := append([]TargetId(nil), stack[i:]...)
			return append(path, start)
		}
	}
	return stack
}

func stringIDs(ids []TargetId) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// computeTopologicalOrder runs Kahn's algorithm with deterministic
// tie-break by TargetId string, so the order is stable across runs for
// the same graph shape.
func (g *BuildGraph) computeTopologicalOrder() ([]TargetId, error) {
	inDegree := make(map[TargetId]int, len(g.nodes))
	for id, node := range g.nodes {
		inDegree[id] = len(node.DependencyIDs)
	}

	ready := make([]TargetId, 0, len(g.nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].String() < ready[j].String() })

	order := make([]TargetId, 0, len(g.nodes))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		newlyReady := make([]TargetId, 0)
		for _, dependent := range g.nodes[next].DependentIDs {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		sort.Slice(newlyReady, func(i, j int) bool { return newlyReady[i].String() < newlyReady[j].String() })

		merged := make([]TargetId, 0, len(ready)+len(newlyReady))
		merged = append(merged, ready...)
		merged = append(merged, newlyReady...)
		sort.Slice(merged, func(i, j int) bool { return merged[i].String() < merged[j].String() })
		ready = merged
	}

	if len(order) != len(g.nodes) {
		// Edges survived Kahn's algorithm: a cycle exists that the DFS
		// pass somehow missed (defensive; detectCycles runs first).
		return nil, forgeerrors.New(forgeerrors.KindGraph, "topological sort did not cover all nodes; cycle present")
	}
	return order, nil
}

func (g *BuildGraph) seedPendingDeps() {
	for _, node := range g.nodes {
		node.PendingDeps.Store(int32(len(node.DependencyIDs)))
	}
}

func (g *BuildGraph) sortedIDs() []TargetId {
	ids := make([]TargetId, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Node returns the BuildNode for id, or nil if not present.
func (g *BuildGraph) Node(id TargetId) *BuildNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[id]
}

// Nodes returns every node in the graph, unordered.
func (g *BuildGraph) Nodes() []*BuildNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*BuildNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// TopologicalOrder returns the last computed deterministic topological
// order (forward: every edge points from earlier to later in the slice).
func (g *BuildGraph) TopologicalOrder() []TargetId {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]TargetId(nil), g.order...)
}

// Len returns the number of nodes in the graph.
func (g *BuildGraph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Extend integrates newly discovered targets (e.g. from generated code)
// atomically: it adds nodes and edges, recomputes topological order, and
// reseeds pendingDeps for the affected subset. Nodes that depended on the
// discoverer are reset to Pending and must be rescheduled by the caller
// (the Scheduler); Extend returns their ids.
func (g *BuildGraph) Extend(discoverer TargetId, newTargets []Target) (resetNodes []TargetId, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[discoverer]; !ok {
		return nil, forgeerrors.New(forgeerrors.KindGraph, "unknown discoverer target: "+discoverer.String())
	}

	for _, t := range newTargets {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := g.nodes[t.ID]; dup {
			return nil, forgeerrors.New(forgeerrors.KindInput, "duplicate discovered target id: "+t.ID.String())
		}
		g.nodes[t.ID] = NewBuildNode(t)
	}

	if err := g.resolveEdges(); err != nil {
		return nil, err
	}
	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	order, err := g.computeTopologicalOrder()
	if err != nil {
		return nil, err
	}
	g.order = order

	// Reseed pendingDeps only for discovered nodes and anything that
	// depended on the discoverer (they must wait on the new edges too).
	resetNodes = append(resetNodes, g.nodes[discoverer].DependentIDs...)
	for _, id := range resetNodes {
		node := g.nodes[id]
		node.SetStatus(StatusPending)
		node.PendingDeps.Store(int32(len(node.DependencyIDs)))
	}
	for _, t := range newTargets {
		node := g.nodes[t.ID]
		node.PendingDeps.Store(int32(len(node.DependencyIDs)))
	}

	return resetNodes, nil
}

// DOT renders the graph in Graphviz DOT form for the `forge graph`
// command, grounded on github.com/emicklei/dot.
func (g *BuildGraph) DOT() string {
	return renderDOT(g)
}
