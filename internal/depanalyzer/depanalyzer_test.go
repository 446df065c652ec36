package depanalyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/handler"
)

func TestAnalyzeResolvesKnownImportToTargetDependency(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "lib.go")
	if err := os.WriteFile(libPath, []byte("package lib\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mainPath := filepath.Join(dir, "main.go")
	src := "package main\n\nimport (\n\t\"fmt\"\n\t\"github.com/forgebuild/forge/examplelib\"\n)\n\nfunc main() { fmt.Println(examplelib.X) }\n"
	if err := os.WriteFile(mainPath, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	libTarget := graph.Target{
		ID:       graph.TargetId{Workspace: "ws", Pkg: "lib", Name: "lib"},
		Language: "go",
		Sources:  []string{"lib.go"},
		Config:   map[string]string{"import_path": "github.com/forgebuild/forge/examplelib"},
	}
	mainTarget := graph.Target{
		ID:       graph.TargetId{Workspace: "ws", Pkg: "main", Name: "main"},
		Language: "go",
		Sources:  []string{"main.go"},
		Deps:     []graph.TargetId{libTarget.ID},
	}

	registry := handler.NewRegistry()
	registry.Register(handler.NewGoHandler())
	index := BuildIndex([]graph.Target{libTarget, mainTarget})

	analyzer := New(registry, index)
	result, err := analyzer.Analyze(context.Background(), mainTarget, dir)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if len(result.Dependencies) != 1 || result.Dependencies[0] != libTarget.ID {
		t.Errorf("Dependencies = %v, want [%v]", result.Dependencies, libTarget.ID)
	}
	found := false
	for _, u := range result.Unresolved {
		if u == "fmt" {
			found = true
		}
	}
	if !found {
		t.Errorf("Unresolved = %v, want to contain fmt", result.Unresolved)
	}
}

func TestAnalyzeErrorsForUnregisteredLanguage(t *testing.T) {
	registry := handler.NewRegistry()
	index := BuildIndex(nil)
	analyzer := New(registry, index)

	target := graph.Target{
		ID:       graph.TargetId{Workspace: "ws", Pkg: "p", Name: "n"},
		Language: "rust",
	}
	if _, err := analyzer.Analyze(context.Background(), target, t.TempDir()); err == nil {
		t.Fatal("expected error for unregistered language")
	}
}

func TestAnalyzeAllRunsConcurrently(t *testing.T) {
	dir := t.TempDir()
	var targets []graph.Target
	for i := 0; i < 5; i++ {
		name := string(rune('a' + i))
		path := filepath.Join(dir, name+".go")
		if err := os.WriteFile(path, []byte("package "+name+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		targets = append(targets, graph.Target{
			ID:       graph.TargetId{Workspace: "ws", Pkg: name, Name: name},
			Language: "go",
			Sources:  []string{name + ".go"},
		})
	}

	registry := handler.NewRegistry()
	registry.Register(handler.NewGoHandler())
	index := BuildIndex(targets)
	analyzer := New(registry, index)

	results, err := analyzer.AnalyzeAll(context.Background(), targets, dir)
	if err != nil {
		t.Fatalf("AnalyzeAll() error = %v", err)
	}
	if len(results) != len(targets) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(targets))
	}
}
