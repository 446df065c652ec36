// Package incremental classifies each target in a BuildGraph as requiring
// a full rebuild (Compile) or eligible for a cached result (Cached),
// and computes an aggregate reduction rate describing how much work an
// incremental build skipped relative to a from-scratch build. The
// Compile/Cached decision rule — a node is cache-eligible iff its own
// content is unchanged AND every dependency is cache-eligible — mirrors
// script-weaver's BuildIncrementalPlan (internal/incremental/plan.go):
// "ReuseCache iff not invalidated, present in cache, and all upstream
// dependencies are ReuseCache", adapted from a generic task DAG onto
// graph.BuildGraph and targetcache.Cache.
package incremental

import (
	"github.com/forgebuild/forge/internal/filetracker"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/hashing"
	"github.com/forgebuild/forge/internal/targetcache"
)

// Decision is the classification assigned to one target.
type Decision string

const (
	// DecisionCompile means the target (or something it depends on)
	// changed and must be rebuilt.
	DecisionCompile Decision = "Compile"
	// DecisionCached means the target's last build output can be reused
	// unmodified.
	DecisionCached Decision = "Cached"
)

// Strategy controls how aggressively the engine trusts cached
// dependency outputs when deciding whether a dependent needs rebuilding.
type Strategy int

const (
	// StrategyFull ignores all caching and marks every target Compile;
	// used for `forge build --rebuild`.
	StrategyFull Strategy = iota
	// StrategyIncremental is the default: a target is Cached iff its own
	// content hash is unchanged and every dependency is Cached.
	StrategyIncremental
	// StrategyMinimal does not propagate Compile decisions to dependents:
	// a target is Cached iff its own content hash has a cache entry,
	// whatever its dependencies' decisions. Dependency output hashes are
	// not compared, so a dependent stays Cached even when a dependency
	// recompiles to different output.
	StrategyMinimal
)

// Plan is the classification for every target in a build, plus a
// human-readable reason for each target's decision.
type Plan struct {
	Order      []graph.TargetId
	Decisions  map[graph.TargetId]Decision
	Reasons    map[graph.TargetId]string
	compiled   int
	cached     int
}

// ReductionRate returns the fraction of targets classified Cached, in
// [0, 1]. Returns 0 if the plan covers no targets.
func (p *Plan) ReductionRate() float64 {
	total := p.compiled + p.cached
	if total == 0 {
		return 0
	}
	return float64(p.cached) / float64(total)
}

// Engine computes incremental build plans.
type Engine struct {
	tracker *filetracker.Tracker
	cache   *targetcache.Cache
}

// New constructs an Engine.
func New(tracker *filetracker.Tracker, cache *targetcache.Cache) *Engine {
	return &Engine{tracker: tracker, cache: cache}
}

// Plan classifies every target in g following strategy, processing
// targets in their topological order so a dependency's decision is
// always known before its dependents are evaluated.
func (e *Engine) Plan(g *graph.BuildGraph, strategy Strategy) *Plan {
	order := g.TopologicalOrder()
	plan := &Plan{
		Order:     order,
		Decisions: make(map[graph.TargetId]Decision, len(order)),
		Reasons:   make(map[graph.TargetId]string, len(order)),
	}

	for _, id := range order {
		node := g.Node(id)
		if node == nil {
			continue
		}

		if strategy == StrategyFull {
			plan.Decisions[id] = DecisionCompile
			plan.Reasons[id] = "full rebuild requested"
			plan.compiled++
			continue
		}

		decision, reason := e.classify(node, plan, strategy)
		plan.Decisions[id] = decision
		plan.Reasons[id] = reason
		if decision == DecisionCompile {
			plan.compiled++
		} else {
			plan.cached++
		}
	}

	return plan
}

func (e *Engine) classify(node *graph.BuildNode, plan *Plan, strategy Strategy) (Decision, string) {
	for _, dep := range node.DependencyIDs {
		depDecision, ok := plan.Decisions[dep]
		if !ok {
			return DecisionCompile, "dependency " + dep.String() + " not yet classified"
		}
		if depDecision == DecisionCompile && strategy != StrategyMinimal {
			return DecisionCompile, "dependency " + dep.String() + " must rebuild"
		}
	}

	if node.ContentHash == (hashing.Hash{}) {
		return DecisionCompile, "no recorded content hash"
	}

	if _, hit := e.cache.Lookup(node.ContentHash); !hit {
		return DecisionCompile, "no cached output for current content hash"
	}

	return DecisionCached, "content and dependencies unchanged"
}

// CompileTargets returns the TargetIds classified Compile, in
// topological order.
func (p *Plan) CompileTargets() []graph.TargetId {
	return p.filterBy(DecisionCompile)
}

// CachedTargets returns the TargetIds classified Cached, in topological
// order.
func (p *Plan) CachedTargets() []graph.TargetId {
	return p.filterBy(DecisionCached)
}

func (p *Plan) filterBy(d Decision) []graph.TargetId {
	out := make([]graph.TargetId, 0, len(p.Order))
	for _, id := range p.Order {
		if p.Decisions[id] == d {
			out = append(out, id)
		}
	}
	return out
}
