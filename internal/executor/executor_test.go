package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgebuild/forge/internal/actioncache"
	"github.com/forgebuild/forge/internal/blobstore"
	"github.com/forgebuild/forge/internal/cachecoordinator"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/handler"
	"github.com/forgebuild/forge/internal/hashing"
	"github.com/forgebuild/forge/internal/logging"
	"github.com/forgebuild/forge/internal/targetcache"
)

func newTestExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	workspaceRoot := t.TempDir()
	scratchRoot := t.TempDir()

	var key [hashing.Size]byte
	blobs, err := blobstore.Open(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	targets, err := targetcache.Open(filepath.Join(t.TempDir(), "targets"), key, 0)
	if err != nil {
		t.Fatal(err)
	}
	actions, err := actioncache.Open(filepath.Join(t.TempDir(), "actions"), key, 0)
	if err != nil {
		t.Fatal(err)
	}
	coordinator := cachecoordinator.New(targets, actions, blobs, nil, nil)

	registry := handler.NewRegistry()
	registry.Register(handler.NewGoHandler())

	exec := New(registry, coordinator, workspaceRoot, scratchRoot, "test-tool-v1", logging.NewNopLogger())
	return exec, workspaceRoot
}

func writeGoSource(t *testing.T, root, name string) {
	t.Helper()
	src := "package main\n\nfunc main() {}\n"
	if err := os.WriteFile(filepath.Join(root, name), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunBuildsAndCachesOnMiss(t *testing.T) {
	exec, root := newTestExecutor(t)
	writeGoSource(t, root, "main.go")

	target := graph.Target{
		ID:       graph.TargetId{Workspace: "ws", Pkg: "p", Name: "main"},
		Kind:     graph.KindExecutable,
		Language: "go",
		Sources:  []string{"main.go"},
	}
	node := graph.NewBuildNode(target)
	node.ContentHash = hashing.HashBytes([]byte("main.go contents v1"))

	if err := exec.Run(context.Background(), node); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, _, ok := exec.cache.LookupTarget(context.Background(), node.ContentHash)
	if !ok {
		t.Fatal("expected target cache to hold an entry after Run()")
	}
	if len(data) == 0 {
		t.Error("cached output is empty")
	}
}

func TestRunSecondCallHitsCacheAndSkipsBuild(t *testing.T) {
	exec, root := newTestExecutor(t)
	writeGoSource(t, root, "main.go")

	target := graph.Target{
		ID:       graph.TargetId{Workspace: "ws", Pkg: "p", Name: "main"},
		Kind:     graph.KindExecutable,
		Language: "go",
		Sources:  []string{"main.go"},
	}
	contentHash := hashing.HashBytes([]byte("main.go contents v2"))

	first := graph.NewBuildNode(target)
	first.ContentHash = contentHash
	if err := exec.Run(context.Background(), first); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	second := graph.NewBuildNode(target)
	second.ContentHash = contentHash
	if err := exec.Run(context.Background(), second); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.Status() != graph.StatusCached {
		t.Errorf("second.Status() = %v, want Cached", second.Status())
	}
}

func TestRunErrorsForUnregisteredLanguage(t *testing.T) {
	exec, _ := newTestExecutor(t)

	target := graph.Target{
		ID:       graph.TargetId{Workspace: "ws", Pkg: "p", Name: "main"},
		Language: "rust",
	}
	node := graph.NewBuildNode(target)
	node.ContentHash = hashing.HashBytes([]byte("irrelevant"))

	if err := exec.Run(context.Background(), node); err == nil {
		t.Fatal("expected error for unregistered language")
	}
}
