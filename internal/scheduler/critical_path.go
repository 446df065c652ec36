package scheduler

import "github.com/forgebuild/forge/internal/graph"

// CriticalPathAnalyzer estimates the longest dependency chain in a
// graph, weighted by a per-target duration estimate, to report the
// minimum possible wall-clock time for a build regardless of worker
// count.
type CriticalPathAnalyzer struct {
	durations map[graph.TargetId]float64
}

// NewCriticalPathAnalyzer builds an analyzer from observed or estimated
// per-target durations; the analyzer is unit-agnostic and the engine
// passes milliseconds. Targets absent from durations are
// treated as zero-cost (e.g. a not-yet-built target on a fresh
// workspace).
func NewCriticalPathAnalyzer(durations map[graph.TargetId]float64) *CriticalPathAnalyzer {
	return &CriticalPathAnalyzer{durations: durations}
}

// Path is the critical path through g: the sequence of targets and the
// total weighted length of the longest chain from a source to a sink.
type Path struct {
	Targets []graph.TargetId
	Length  float64
}

// Analyze computes the critical path over g's current topological
// order using a single forward dynamic-programming pass: for each node
// in topological order, its longest-path-to-here is its own duration
// plus the max over its dependencies' longest-path-to-here.
func (a *CriticalPathAnalyzer) Analyze(g *graph.BuildGraph) Path {
	order := g.TopologicalOrder()
	longest := make(map[graph.TargetId]float64, len(order))
	prev := make(map[graph.TargetId]graph.TargetId, len(order))

	var best graph.TargetId
	bestLen := -1.0

	for _, id := range order {
		node := g.Node(id)
		if node == nil {
			continue
		}
		self := a.durations[id]

		maxDep := 0.0
		var maxDepID graph.TargetId
		hasDep := false
		for _, dep := range node.DependencyIDs {
			if l, ok := longest[dep]; ok && l >= maxDep {
				maxDep = l
				maxDepID = dep
				hasDep = true
			}
		}

		total := self + maxDep
		longest[id] = total
		if hasDep {
			prev[id] = maxDepID
		}
		if total > bestLen {
			bestLen = total
			best = id
		}
	}

	if bestLen < 0 {
		return Path{}
	}

	var chain []graph.TargetId
	for cur, ok := best, true; ok; {
		chain = append([]graph.TargetId{cur}, chain...)
		cur, ok = prev[cur]
	}

	return Path{Targets: chain, Length: bestLen}
}
