// Package executor adapts a handler.Registry and a
// cachecoordinator.Coordinator into a scheduler.TaskRunner: for each
// graph node it checks the cache coordinator first, and only on a miss
// invokes the target's language handler, hashes the result, and writes
// it back through the coordinator. This cache-check-then-build shape is
// the same one the teacher's internal/cache/cache.go applies before an
// LLM call (check AnalysisCache before invoking the provider); here the
// "provider call" is a LanguageHandler.Build instead of an LLM request.
package executor

import (
	"context"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/forgebuild/forge/internal/actioncache"
	"github.com/forgebuild/forge/internal/cachecoordinator"
	forgeerrors "github.com/forgebuild/forge/internal/errors"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/handler"
	"github.com/forgebuild/forge/internal/hashing"
	"github.com/forgebuild/forge/internal/logging"
)

// DurationMetadataKey is the StoreTarget metadata key holding the
// measured build duration for the content hash that produced it, read
// back by scheduler.CriticalPathAnalyzer as a per-target duration
// estimate for priority promotion (see SPEC_FULL.md §6.9). Because
// TargetCache is keyed by content hash, this is a last-measured-duration
// rather than a cross-rebuild EWMA: a literal rebuild under an unchanged
// hash is always served from cache and never re-measured, so there is
// nothing to blend.
const DurationMetadataKey = "build_duration_ms"

// Executor runs one target's build action, consulting the cache
// coordinator before falling through to the registered LanguageHandler.
type Executor struct {
	registry      *handler.Registry
	cache         *cachecoordinator.Coordinator
	workspaceRoot string
	scratchRoot   string
	toolVersion   string
	logger        *logging.Logger

	graph atomic.Pointer[graph.BuildGraph]
}

// SetGraph records the BuildGraph the current build is running over, so
// Run can resolve a node's dependency output paths. Engine.Build calls
// this once per build, before the scheduler starts dispatching nodes.
func (e *Executor) SetGraph(g *graph.BuildGraph) {
	e.graph.Store(g)
}

// New constructs an Executor. scratchRoot is the parent directory under
// which each action gets a private scratch subdirectory; toolVersion is
// mixed into the ActionDigest so a toolchain upgrade invalidates stale
// action-cache entries without needing an explicit cache flush.
func New(registry *handler.Registry, cache *cachecoordinator.Coordinator, workspaceRoot, scratchRoot, toolVersion string, logger *logging.Logger) *Executor {
	return &Executor{
		registry:      registry,
		cache:         cache,
		workspaceRoot: workspaceRoot,
		scratchRoot:   scratchRoot,
		toolVersion:   toolVersion,
		logger:        logger,
	}
}

// Run implements scheduler.TaskRunner. It is safe to call concurrently
// for distinct nodes; each invocation gets its own scratch directory.
func (e *Executor) Run(ctx context.Context, node *graph.BuildNode) error {
	if data, _, ok := e.cache.LookupTarget(ctx, node.ContentHash); ok {
		node.SetStatus(graph.StatusCached)
		return e.materializeOutputs(node, data)
	}

	h, err := e.registry.Get(handler.Language(node.Target.Language))
	if err != nil {
		return forgeerrors.Wrap(forgeerrors.KindInput, err, "unregistered language handler").WithTarget(node.Target.ID.String())
	}

	scratchDir, err := os.MkdirTemp(e.scratchRoot, "forge-action-*")
	if err != nil {
		return forgeerrors.Wrap(forgeerrors.KindSystem, err, "create scratch dir").WithTarget(node.Target.ID.String())
	}
	defer os.RemoveAll(scratchDir)

	bctx := handler.BuildContext{
		Ctx:               ctx,
		Target:            node.Target,
		WorkspaceRoot:     e.workspaceRoot,
		ScratchDir:        scratchDir,
		DependencyOutputs: e.resolveDependencyOutputs(node),
		SimdTier:          hashing.ActiveTier(),
	}

	started := time.Now()
	result, err := h.Build(bctx)
	if err != nil {
		// A handler build failure is a deterministic compile error
		// unless the handler itself signals otherwise; per spec.md §7 it
		// is propagated as a node failure rather than retried. Handlers
		// that want a transient failure (linker lock, temp file race)
		// retried should return a *errors.BuildError with Transient set.
		if be, ok := forgeerrors.As(err); ok {
			return be.WithTarget(node.Target.ID.String())
		}
		return forgeerrors.Wrap(forgeerrors.KindHandler, err, "build failed").WithTarget(node.Target.ID.String())
	}
	durationMs := time.Since(started).Milliseconds()

	output, err := concatOutputs(result.OutputPaths)
	if err != nil {
		return forgeerrors.Wrap(forgeerrors.KindIO, err, "read outputs").WithTarget(node.Target.ID.String())
	}

	if err := e.cache.StoreTarget(ctx, node.ContentHash, output, map[string]string{
		"target":            node.Target.ID.String(),
		DurationMetadataKey: strconv.FormatInt(durationMs, 10),
	}); err != nil {
		e.logger.Warn("executor: failed to store target cache entry",
			logging.String("target", node.Target.ID.String()),
			logging.Err("error", err))
	}

	digest := actioncache.ActionDigest{
		Command:     "build:" + node.Target.ID.String(),
		InputHashes: []hashing.Hash{node.ContentHash},
		ToolVersion: e.toolVersion,
	}
	if err := e.cache.StoreAction(digest, output); err != nil {
		e.logger.Warn("executor: failed to store action cache entry",
			logging.String("target", node.Target.ID.String()),
			logging.Err("error", err))
	}

	return nil
}

// resolveDependencyOutputs builds the DependencyOutputs map BuildContext
// expects from each dependency's declared OutputPath. A dependency with
// no OutputPath (e.g. a header-only library) is simply omitted. Requires
// SetGraph to have been called for the build this node belongs to.
func (e *Executor) resolveDependencyOutputs(node *graph.BuildNode) map[string]string {
	out := make(map[string]string, len(node.DependencyIDs))
	g := e.graph.Load()
	if g == nil {
		return out
	}
	for _, depID := range node.DependencyIDs {
		depNode := g.Node(depID)
		if depNode == nil || depNode.Target.OutputPath == "" {
			continue
		}
		out[depID.String()] = depNode.Target.OutputPath
	}
	return out
}

// materializeOutputs writes a cache hit's bytes into the target's
// declared OutputPath, if any, so downstream consumers see a build
// artifact on disk even though no handler ran.
func (e *Executor) materializeOutputs(node *graph.BuildNode, data []byte) error {
	if node.Target.OutputPath == "" {
		return nil
	}
	return os.WriteFile(node.Target.OutputPath, data, 0o644)
}

// concatOutputs reads and concatenates every output file, in order, into
// a single byte slice representing the target's cacheable result. Only
// the combined bytes are stored; a target with more than one output path
// cannot be split back into individual files from a cache hit alone.
func concatOutputs(paths []string) ([]byte, error) {
	var out []byte
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}
