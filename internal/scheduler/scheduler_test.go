package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgebuild/forge/internal/graph"
)

func mkTarget(name string, deps ...string) graph.Target {
	id := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: name}
	var depIDs []graph.TargetId
	for _, d := range deps {
		depIDs = append(depIDs, graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: d})
	}
	return graph.Target{ID: id, Kind: graph.KindLibrary, Language: "go", Sources: []string{name + ".go"}, Deps: depIDs}
}

// recordingRunner records the order in which Run is invoked and
// optionally fails a configured set of targets a fixed number of times
// before succeeding, to exercise the retry path.
type recordingRunner struct {
	mu        sync.Mutex
	order     []graph.TargetId
	failUntil map[graph.TargetId]int
	attempts  map[graph.TargetId]int
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{
		failUntil: make(map[graph.TargetId]int),
		attempts:  make(map[graph.TargetId]int),
	}
}

func (r *recordingRunner) Run(ctx context.Context, node *graph.BuildNode) error {
	r.mu.Lock()
	r.order = append(r.order, node.Target.ID)
	r.attempts[node.Target.ID]++
	attempt := r.attempts[node.Target.ID]
	needed := r.failUntil[node.Target.ID]
	r.mu.Unlock()

	if attempt <= needed {
		return fmt.Errorf("transient failure attempt %d", attempt)
	}
	return nil
}

func buildGraph(t *testing.T, targets []graph.Target) *graph.BuildGraph {
	t.Helper()
	g, err := graph.New(targets)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestRunCompletesAllNodesInDependencyOrder(t *testing.T) {
	g := buildGraph(t, []graph.Target{
		mkTarget("a"),
		mkTarget("b", "a"),
		mkTarget("c", "b"),
	})
	runner := newRecordingRunner()
	s := New(g, runner, 4)

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Succeeded) != 3 {
		t.Fatalf("Succeeded = %v, want 3 targets", result.Succeeded)
	}

	pos := make(map[graph.TargetId]int)
	runner.mu.Lock()
	for i, id := range runner.order {
		pos[id] = i
	}
	runner.mu.Unlock()

	aID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "a"}
	bID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "b"}
	cID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "c"}
	if !(pos[aID] < pos[bID] && pos[bID] < pos[cID]) {
		t.Errorf("execution order %v violates dependency order a<b<c", runner.order)
	}
}

func TestRunParallelizesIndependentTargets(t *testing.T) {
	var targets []graph.Target
	for i := 0; i < 8; i++ {
		targets = append(targets, mkTarget(fmt.Sprintf("t%d", i)))
	}
	g := buildGraph(t, targets)

	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32
	blocker := make(chan struct{})
	var once sync.Once

	runner := runnerFunc(func(ctx context.Context, node *graph.BuildNode) error {
		cur := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			old := maxConcurrent.Load()
			if cur <= old || maxConcurrent.CompareAndSwap(old, cur) {
				break
			}
		}
		once.Do(func() { close(blocker) })
		<-blocker
		return nil
	})

	s := New(g, runner, 8)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if maxConcurrent.Load() < 2 {
		t.Errorf("maxConcurrent = %d, want >= 2 (targets should run in parallel)", maxConcurrent.Load())
	}
}

func TestRunRetriesTransientFailureThenSucceeds(t *testing.T) {
	g := buildGraph(t, []graph.Target{mkTarget("a")})
	aID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "a"}

	runner := newRecordingRunner()
	runner.failUntil[aID] = 2

	s := New(g, runner, 2, WithRetryPolicy(RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}))
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Failed) != 0 {
		t.Errorf("Failed = %v, want none (should succeed after retry)", result.Failed)
	}
	if runner.attempts[aID] != 3 {
		t.Errorf("attempts = %d, want 3 (2 failures + 1 success)", runner.attempts[aID])
	}
}

func TestRunReportsFailureAfterExhaustingRetries(t *testing.T) {
	g := buildGraph(t, []graph.Target{mkTarget("a")})
	aID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "a"}

	runner := newRecordingRunner()
	runner.failUntil[aID] = 100

	s := New(g, runner, 1, WithRetryPolicy(RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}))
	result, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run() to return an error when a target exhausts retries")
	}
	if len(result.Failed) != 1 || result.Failed[0] != aID {
		t.Errorf("Failed = %v, want [%v]", result.Failed, aID)
	}
}

func TestCriticalPathAnalyzerFindsLongestChain(t *testing.T) {
	g := buildGraph(t, []graph.Target{
		mkTarget("a"),
		mkTarget("b", "a"),
		mkTarget("c", "b"),
		mkTarget("d"), // independent, shorter chain
	})
	aID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "a"}
	bID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "b"}
	cID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "c"}
	dID := graph.TargetId{Workspace: "ws", Pkg: "pkg", Name: "d"}

	durations := map[graph.TargetId]float64{aID: 1, bID: 1, cID: 1, dID: 2}
	analyzer := NewCriticalPathAnalyzer(durations)
	path := analyzer.Analyze(g)

	if path.Length != 3 {
		t.Errorf("Length = %f, want 3 (a+b+c chain beats single d)", path.Length)
	}
	want := []graph.TargetId{aID, bID, cID}
	if len(path.Targets) != len(want) {
		t.Fatalf("Targets = %v, want %v", path.Targets, want)
	}
	for i := range want {
		if path.Targets[i] != want[i] {
			t.Errorf("Targets[%d] = %v, want %v", i, path.Targets[i], want[i])
		}
	}
}

// runnerFunc adapts a function to the TaskRunner interface.
type runnerFunc func(ctx context.Context, node *graph.BuildNode) error

func (f runnerFunc) Run(ctx context.Context, node *graph.BuildNode) error {
	return f(ctx, node)
}
