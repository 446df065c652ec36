// Package depanalyzer resolves a target's source-level imports into
// TargetIds, using each source language's registered
// handler.AnalyzeImports and a package-path-to-target-owner index built
// from the workspace's declared targets. The two-pass shape (collect
// raw import strings, then resolve against an index) mirrors the
// stored-hash-then-diff shape of vjache-cie's HashDeltaDetector
// (pkg/ingestion/hash_delta.go): gather the current facts first, then
// reconcile against what the workspace declares.
package depanalyzer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/handler"
)

// Index maps an importable package/module path to the TargetId that
// provides it, so resolved imports become graph dependency edges.
type Index struct {
	providers map[string]graph.TargetId
}

// BuildIndex constructs an Index from every known target's declared
// Config["import_path"] (the path other sources import it by). Targets
// with no import_path entry are not importable and are skipped.
func BuildIndex(targets []graph.Target) *Index {
	idx := &Index{providers: make(map[string]graph.TargetId, len(targets))}
	for _, t := range targets {
		if path, ok := t.Config["import_path"]; ok && path != "" {
			idx.providers[path] = t.ID
		}
	}
	return idx
}

// Resolve looks up the TargetId providing importPath, if any.
func (idx *Index) Resolve(importPath string) (graph.TargetId, bool) {
	id, ok := idx.providers[importPath]
	return id, ok
}

// Result is the outcome of analyzing one target's sources.
type Result struct {
	Target       graph.TargetId
	Dependencies []graph.TargetId
	// Unresolved lists import paths that did not match any known
	// target's import_path — typically third-party or stdlib imports,
	// which the caller is expected to ignore rather than treat as
	// errors.
	Unresolved []string
}

// Analyzer resolves source imports to target dependencies using a
// handler.Registry for per-language import extraction.
type Analyzer struct {
	registry *handler.Registry
	index    *Index
}

// New constructs an Analyzer.
func New(registry *handler.Registry, index *Index) *Analyzer {
	return &Analyzer{registry: registry, index: index}
}

// Analyze resolves every import in t's declared sources into target
// dependencies, using the handler registered for t.Language.
func (a *Analyzer) Analyze(ctx context.Context, t graph.Target, workspaceRoot string) (Result, error) {
	h, err := a.registry.Get(handler.Language(t.Language))
	if err != nil {
		return Result{}, fmt.Errorf("depanalyzer: %w", err)
	}

	result := Result{Target: t.ID}
	seen := make(map[graph.TargetId]struct{})

	for _, src := range t.Sources {
		imports, err := h.AnalyzeImports(ctx, joinWorkspacePath(workspaceRoot, src))
		if err != nil {
			return Result{}, fmt.Errorf("depanalyzer: analyze %s: %w", src, err)
		}
		for _, imp := range imports {
			id, ok := a.index.Resolve(imp)
			if !ok {
				result.Unresolved = append(result.Unresolved, imp)
				continue
			}
			if id == t.ID {
				continue // self-import, e.g. a package importing its own path in a doc example
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			result.Dependencies = append(result.Dependencies, id)
		}
	}

	return result, nil
}

// AnalyzeAll resolves imports for every target concurrently, one
// goroutine per target, matching the worker-per-item shape used
// elsewhere in the core (hashing.HashMany, filetracker.CheckBatch) rather
// than introducing a new concurrency pattern for this package.
func (a *Analyzer) AnalyzeAll(ctx context.Context, targets []graph.Target, workspaceRoot string) ([]Result, error) {
	results := make([]Result, len(targets))
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, t := range targets {
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := a.Analyze(ctx, t, workspaceRoot)
			results[i] = r
			errs[i] = err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func joinWorkspacePath(root, rel string) string {
	if root == "" {
		return rel
	}
	return filepath.Join(root, rel)
}
