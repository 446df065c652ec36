package incremental

import (
	"testing"

	"github.com/forgebuild/forge/internal/filetracker"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/hashing"
	"github.com/forgebuild/forge/internal/targetcache"
)

func mkTarget(name string, deps ...string) graph.Target {
	id := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: name}
	var depIDs []graph.TargetId
	for _, d := range deps {
		depIDs = append(depIDs, graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: d})
	}
	return graph.Target{ID: id, Kind: graph.KindLibrary, Language: "go", Sources: []string{name + ".go"}, Deps: depIDs}
}

func newTestEngine(t *testing.T) (*Engine, *targetcache.Cache) {
	t.Helper()
	var key [hashing.Size]byte
	cache, err := targetcache.Open(t.TempDir(), key, 0)
	if err != nil {
		t.Fatal(err)
	}
	return New(filetracker.New(), cache), cache
}

func TestPlanMarksUncachedTargetCompile(t *testing.T) {
	g, err := graph.New([]graph.Target{mkTarget("a")})
	if err != nil {
		t.Fatal(err)
	}
	engine, _ := newTestEngine(t)

	node := g.Node(graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "a"})
	node.ContentHash = hashing.HashBytes([]byte("source a"))

	plan := engine.Plan(g, StrategyIncremental)
	if plan.Decisions[node.Target.ID] != DecisionCompile {
		t.Errorf("Decisions[a] = %v, want Compile (no cache entry yet)", plan.Decisions[node.Target.ID])
	}
}

func TestPlanMarksCachedWhenOutputPresent(t *testing.T) {
	g, err := graph.New([]graph.Target{mkTarget("a")})
	if err != nil {
		t.Fatal(err)
	}
	engine, cache := newTestEngine(t)

	aID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "a"}
	node := g.Node(aID)
	contentHash := hashing.HashBytes([]byte("source a"))
	node.ContentHash = contentHash

	if err := cache.Put(contentHash, hashing.HashBytes([]byte("output")), 10, nil); err != nil {
		t.Fatal(err)
	}

	plan := engine.Plan(g, StrategyIncremental)
	if plan.Decisions[aID] != DecisionCached {
		t.Errorf("Decisions[a] = %v, want Cached", plan.Decisions[aID])
	}
}

func TestPlanPropagatesCompileToDependents(t *testing.T) {
	g, err := graph.New([]graph.Target{mkTarget("a"), mkTarget("b", "a")})
	if err != nil {
		t.Fatal(err)
	}
	engine, cache := newTestEngine(t)

	aID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "a"}
	bID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "b"}

	aNode := g.Node(aID)
	aNode.ContentHash = hashing.HashBytes([]byte("a changed"))
	// a has no cache entry -> Compile.

	bNode := g.Node(bID)
	bContentHash := hashing.HashBytes([]byte("b unchanged"))
	bNode.ContentHash = bContentHash
	if err := cache.Put(bContentHash, hashing.HashBytes([]byte("b output")), 10, nil); err != nil {
		t.Fatal(err)
	}

	plan := engine.Plan(g, StrategyIncremental)
	if plan.Decisions[aID] != DecisionCompile {
		t.Fatalf("Decisions[a] = %v, want Compile", plan.Decisions[aID])
	}
	if plan.Decisions[bID] != DecisionCompile {
		t.Errorf("Decisions[b] = %v, want Compile (dependency a must rebuild)", plan.Decisions[bID])
	}
}

func TestStrategyFullMarksEverythingCompile(t *testing.T) {
	g, err := graph.New([]graph.Target{mkTarget("a"), mkTarget("b", "a")})
	if err != nil {
		t.Fatal(err)
	}
	engine, cache := newTestEngine(t)

	aID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "a"}
	contentHash := hashing.HashBytes([]byte("a"))
	g.Node(aID).ContentHash = contentHash
	if err := cache.Put(contentHash, hashing.HashBytes([]byte("out")), 5, nil); err != nil {
		t.Fatal(err)
	}

	plan := engine.Plan(g, StrategyFull)
	for _, id := range plan.Order {
		if plan.Decisions[id] != DecisionCompile {
			t.Errorf("Decisions[%v] = %v under StrategyFull, want Compile", id, plan.Decisions[id])
		}
	}
}

func TestReductionRateComputedFromDecisions(t *testing.T) {
	g, err := graph.New([]graph.Target{mkTarget("a"), mkTarget("b")})
	if err != nil {
		t.Fatal(err)
	}
	engine, cache := newTestEngine(t)

	aID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "a"}
	bID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "b"}

	contentHashA := hashing.HashBytes([]byte("a"))
	g.Node(aID).ContentHash = contentHashA
	if err := cache.Put(contentHashA, hashing.HashBytes([]byte("out-a")), 5, nil); err != nil {
		t.Fatal(err)
	}
	g.Node(bID).ContentHash = hashing.HashBytes([]byte("b changed"))

	plan := engine.Plan(g, StrategyIncremental)
	if got := plan.ReductionRate(); got != 0.5 {
		t.Errorf("ReductionRate() = %f, want 0.5", got)
	}

	if len(plan.CachedTargets()) != 1 || plan.CachedTargets()[0] != aID {
		t.Errorf("CachedTargets() = %v, want [%v]", plan.CachedTargets(), aID)
	}
	if len(plan.CompileTargets()) != 1 || plan.CompileTargets()[0] != bID {
		t.Errorf("CompileTargets() = %v, want [%v]", plan.CompileTargets(), bID)
	}
}
