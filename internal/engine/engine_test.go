package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/incremental"
)

func writeGoSource(t *testing.T, root, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOpenAppliesDefaultsForEmptyWorkspace(t *testing.T) {
	root := t.TempDir()
	os.Clearenv()
	_ = os.Setenv("HOME", t.TempDir())

	e, err := Open(root, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if e.Config.Version != 1 {
		t.Errorf("Config.Version = %d, want 1", e.Config.Version)
	}
	if e.Registry == nil || e.Cache == nil || e.Incremental == nil || e.Executor == nil {
		t.Fatal("Open() left a subsystem nil")
	}
}

func TestBuildCompilesIndependentTargets(t *testing.T) {
	root := t.TempDir()
	os.Clearenv()
	_ = os.Setenv("HOME", t.TempDir())

	writeGoSource(t, root, "a.go", "package main\n\nfunc main() {}\n")
	writeGoSource(t, root, "b.go", "package main\n\nfunc helper() {}\n")

	e, err := Open(root, map[string]interface{}{"scheduler.workers": 2})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	targets := []graph.Target{
		{
			ID:       graph.TargetId{Workspace: "ws", Pkg: "p", Name: "a"},
			Kind:     graph.KindExecutable,
			Language: "go",
			Sources:  []string{"a.go"},
		},
		{
			ID:       graph.TargetId{Workspace: "ws", Pkg: "p", Name: "b"},
			Kind:     graph.KindLibrary,
			Language: "go",
			Sources:  []string{"b.go"},
		},
	}

	result, err := e.Build(context.Background(), targets, incremental.StrategyIncremental)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(result.Scheduler.Failed) != 0 {
		t.Errorf("Scheduler.Failed = %v, want none", result.Scheduler.Failed)
	}
	if len(result.Scheduler.Succeeded) != 2 {
		t.Errorf("len(Scheduler.Succeeded) = %d, want 2", len(result.Scheduler.Succeeded))
	}
	if len(result.Plan.CompileTargets()) != 2 {
		t.Errorf("len(CompileTargets()) = %d, want 2 on first build", len(result.Plan.CompileTargets()))
	}
}

func TestBuildSecondRunReusesCacheForUnchangedTarget(t *testing.T) {
	root := t.TempDir()
	os.Clearenv()
	_ = os.Setenv("HOME", t.TempDir())

	writeGoSource(t, root, "a.go", "package main\n\nfunc main() {}\n")

	e, err := Open(root, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	targets := []graph.Target{
		{
			ID:       graph.TargetId{Workspace: "ws", Pkg: "p", Name: "a"},
			Kind:     graph.KindExecutable,
			Language: "go",
			Sources:  []string{"a.go"},
		},
	}

	if _, err := e.Build(context.Background(), targets, incremental.StrategyIncremental); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}

	second, err := e.Build(context.Background(), targets, incremental.StrategyIncremental)
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	if len(second.Plan.CachedTargets()) != 1 {
		t.Errorf("len(CachedTargets()) = %d, want 1 on unchanged rebuild", len(second.Plan.CachedTargets()))
	}
	if second.Plan.ReductionRate() != 1 {
		t.Errorf("ReductionRate() = %v, want 1", second.Plan.ReductionRate())
	}
}

func TestBuildRebuildsWhenSourceChanges(t *testing.T) {
	root := t.TempDir()
	os.Clearenv()
	_ = os.Setenv("HOME", t.TempDir())

	writeGoSource(t, root, "a.go", "package main\n\nfunc main() {}\n")

	e, err := Open(root, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	targets := []graph.Target{
		{
			ID:       graph.TargetId{Workspace: "ws", Pkg: "p", Name: "a"},
			Kind:     graph.KindExecutable,
			Language: "go",
			Sources:  []string{"a.go"},
		},
	}

	if _, err := e.Build(context.Background(), targets, incremental.StrategyIncremental); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}

	writeGoSource(t, root, "a.go", "package main\n\nfunc main() { println(1) }\n")

	second, err := e.Build(context.Background(), targets, incremental.StrategyIncremental)
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	if len(second.Plan.CompileTargets()) != 1 {
		t.Errorf("len(CompileTargets()) = %d, want 1 after source change", len(second.Plan.CompileTargets()))
	}
}
