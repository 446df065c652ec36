// Package engine wires the core subsystems — graph, filetracker,
// depanalyzer, incremental, scheduler, executor, cachecoordinator,
// events and config — into the single Build entrypoint a CLI or
// long-running server calls. The wiring order (config -> caches ->
// handlers -> graph -> incremental plan -> scheduler) mirrors the
// teacher's own top-level orchestration in cmd/root.go, where
// PersistentPreRunE loads config and constructs the logger before any
// command body runs.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/forgebuild/forge/internal/actioncache"
	"github.com/forgebuild/forge/internal/blobstore"
	"github.com/forgebuild/forge/internal/cachecoordinator"
	"github.com/forgebuild/forge/internal/config"
	"github.com/forgebuild/forge/internal/events"
	"github.com/forgebuild/forge/internal/executor"
	"github.com/forgebuild/forge/internal/filetracker"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/handler"
	"github.com/forgebuild/forge/internal/hashing"
	"github.com/forgebuild/forge/internal/incremental"
	"github.com/forgebuild/forge/internal/logging"
	"github.com/forgebuild/forge/internal/remotecache"
	"github.com/forgebuild/forge/internal/scheduler"
	"github.com/forgebuild/forge/internal/targetcache"
)

// Engine owns every long-lived subsystem for one workspace and exposes
// Build, the operation the CLI's build command runs.
type Engine struct {
	WorkspaceRoot string
	Config        *config.WorkspaceConfig
	Logger        *logging.Logger
	Bus           *events.Bus

	Tracker     *filetracker.Tracker
	Registry    *handler.Registry
	Cache       *cachecoordinator.Coordinator
	Incremental *incremental.Engine
	Executor    *executor.Executor

	toolVersion string
}

// Option configures engine construction.
type Option func(*openParams)

type openParams struct {
	toolVersion string
}

// WithToolVersion sets the version string mixed into every ActionDigest;
// bumping it invalidates the action cache across a toolchain upgrade.
func WithToolVersion(v string) Option {
	return func(p *openParams) { p.toolVersion = v }
}

// Open constructs an Engine for workspaceRoot: loads configuration,
// opens the cache tiers at the configured root, and registers the
// built-in language handlers. Callers that need additional languages
// should call Registry.Register after Open returns.
func Open(workspaceRoot string, cliOverrides map[string]interface{}, opts ...Option) (*Engine, error) {
	params := &openParams{toolVersion: "dev"}
	for _, opt := range opts {
		opt(params)
	}

	cfg, err := config.NewLoader().Load(workspaceRoot, cliOverrides)
	if err != nil {
		return nil, fmt.Errorf("engine: load config: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		LogDir:         filepath.Join(workspaceRoot, cfg.Logging.LogDir),
		FileLevel:      logging.LevelFromString(cfg.Logging.FileLevel),
		ConsoleLevel:   logging.LevelFromString(cfg.Logging.ConsoleLevel),
		EnableCaller:   true,
		ConsoleEnabled: true,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: init logger: %w", err)
	}

	cacheRoot := filepath.Join(workspaceRoot, cfg.Cache.RootOrDefault())
	signKey, err := loadOrCreateSignKey(filepath.Join(cacheRoot, "sign.key"), cfg.Cache.SignKeyHex)
	if err != nil {
		return nil, err
	}

	blobs, err := blobstore.Open(filepath.Join(cacheRoot, "cas"))
	if err != nil {
		return nil, fmt.Errorf("engine: open blobstore: %w", err)
	}
	targets, err := targetcache.Open(filepath.Join(cacheRoot, "targets"), signKey, cfg.Cache.MaxTargetCacheBytes)
	if err != nil {
		return nil, fmt.Errorf("engine: open targetcache: %w", err)
	}
	actions, err := actioncache.Open(filepath.Join(cacheRoot, "actions"), signKey, cfg.Cache.MaxActionCacheBytes)
	if err != nil {
		return nil, fmt.Errorf("engine: open actioncache: %w", err)
	}

	var remote *remotecache.Client
	if cfg.Remote.Enabled && cfg.Remote.BaseURL != "" {
		remoteCfg := remotecache.DefaultClientConfig(cfg.Remote.BaseURL)
		remoteCfg.RateLimitPerSecond = cfg.Remote.RateLimitPerSecond
		remoteCfg.RateLimitBurst = cfg.Remote.RateLimitBurst
		remoteCfg.CircuitBreakerThreshold = cfg.Remote.CircuitBreakerThreshold
		remote = remotecache.NewClient(remoteCfg)
	}

	bus := events.NewBus()
	coordinator := cachecoordinator.New(targets, actions, blobs, remote, bus)

	registry := handler.NewRegistry()
	registry.Register(handler.NewGoHandler())
	registry.Register(handler.NewPythonHandler())

	tracker := filetracker.New()
	incrementalEngine := incremental.New(tracker, targets)

	scratchRoot := filepath.Join(cacheRoot, "scratch")
	if err := os.MkdirAll(scratchRoot, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create scratch dir: %w", err)
	}
	exec := executor.New(registry, coordinator, workspaceRoot, scratchRoot, params.toolVersion, logger)

	return &Engine{
		WorkspaceRoot: workspaceRoot,
		Config:        cfg,
		Logger:        logger,
		Bus:           bus,
		Tracker:       tracker,
		Registry:      registry,
		Cache:         coordinator,
		Incremental:   incrementalEngine,
		Executor:      exec,
		toolVersion:   params.toolVersion,
	}, nil
}

// Result is the outcome of one Build call.
type Result struct {
	Plan      *incremental.Plan
	Scheduler *scheduler.Result
}

// Build computes a content hash for every target's sources, plans which
// targets need compiling against the current cache state, and runs the
// Compile set through the work-stealing scheduler. strategy controls
// how aggressively cached dependency outputs are trusted (see
// incremental.Strategy).
func (e *Engine) Build(ctx context.Context, targets []graph.Target, strategy incremental.Strategy) (*Result, error) {
	g, err := graph.New(targets)
	if err != nil {
		return nil, fmt.Errorf("engine: build graph: %w", err)
	}

	if err := e.hashTargets(g); err != nil {
		return nil, err
	}

	e.Executor.SetGraph(g)

	e.Bus.Publish(events.Event{Kind: events.BuildStarted})
	e.promoteCriticalPath(g)
	plan := e.Incremental.Plan(g, strategy)
	e.Logger.Info("build plan computed",
		logging.Int("compile", len(plan.CompileTargets())),
		logging.Int("cached", len(plan.CachedTargets())))

	workers := e.Config.Scheduler.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	sched := scheduler.New(g, e.Executor, workers,
		scheduler.WithEventBus(e.Bus),
		scheduler.WithRetryPolicy(scheduler.RetryPolicy{
			MaxRetries:      e.Config.Scheduler.Retries(),
			InitialInterval: e.Config.Scheduler.InitialInterval(),
			MaxInterval:     e.Config.Scheduler.MaxInterval(),
		}))

	// Targets already classified Cached are marked StatusCached up front
	// so the scheduler only dispatches the Compile set; their dependents'
	// PendingDeps were seeded against the full graph, so this must run
	// before Run() seeds the initial ready queue. Run() excludes nodes
	// already in a terminal state from its remaining-work counter and
	// publishes TargetCached for each one.
	for _, id := range plan.CachedTargets() {
		node := g.Node(id)
		if node == nil {
			continue
		}
		node.SetStatus(graph.StatusCached)
		for _, depID := range node.DependentIDs {
			if dep := g.Node(depID); dep != nil {
				dep.DecrementPendingDeps()
			}
		}
	}

	schedResult, err := sched.Run(ctx)
	e.Bus.Publish(events.Event{Kind: events.BuildCompleted})

	if e.Cache.ShouldGC() {
		if gcErr := e.Cache.GC(ctx); gcErr != nil {
			e.Logger.Warn("post-build GC failed", logging.Err("error", gcErr))
		}
	}

	return &Result{Plan: plan, Scheduler: schedResult}, err
}

// promoteCriticalPath loads each node's last measured build duration
// from the target cache's metadata (see executor.DurationMetadataKey),
// runs the critical path analyzer over the graph, and promotes every
// node on the longest weighted chain to PriorityCritical. The scheduler
// does not read Priority, so the promotion does not change dispatch
// order.
func (e *Engine) promoteCriticalPath(g *graph.BuildGraph) {
	durations := make(map[graph.TargetId]float64, g.Len())
	for _, node := range g.Nodes() {
		meta, ok := e.Cache.Targets.LookupMetadata(node.ContentHash)
		if !ok {
			continue
		}
		if raw, ok := meta[executor.DurationMetadataKey]; ok {
			if ms, err := strconv.ParseFloat(raw, 64); err == nil {
				durations[node.Target.ID] = ms
			}
		}
	}

	path := scheduler.NewCriticalPathAnalyzer(durations).Analyze(g)
	for _, id := range path.Targets {
		if node := g.Node(id); node != nil {
			node.SetPriority(graph.PriorityCritical)
		}
	}
}

// hashTargets computes each target's content hash from its declared
// sources via the filetracker's content-hash path, storing the result
// directly on the graph node for the incremental planner and executor
// to consume.
func (e *Engine) hashTargets(g *graph.BuildGraph) error {
	for _, node := range g.Nodes() {
		h := hashing.HashBytes([]byte(node.Target.ID.String()))
		for _, src := range node.Target.Sources {
			absPath := filepath.Join(e.WorkspaceRoot, src)
			result := e.Tracker.Check(absPath)
			if result.Err != nil {
				return fmt.Errorf("engine: hash %s: %w", src, result.Err)
			}
			h = combineHash(h, result.NewState.ContentHash)
		}
		node.ContentHash = h
	}
	return nil
}

// combineHash folds b into the running hash a by hashing their
// concatenation, giving an order-dependent accumulator suitable for
// building one target content hash out of many source file hashes.
func combineHash(a, b hashing.Hash) hashing.Hash {
	buf := make([]byte, 0, hashing.Size*2)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return hashing.HashBytes(buf)
}

func loadOrCreateSignKey(path string, configuredHex string) ([hashing.Size]byte, error) {
	var key [hashing.Size]byte
	if configuredHex != "" {
		return decodeHexKey(configuredHex)
	}

	if data, err := os.ReadFile(path); err == nil && len(data) == hashing.Size {
		copy(key[:], data)
		return key, nil
	}

	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("engine: generate sign key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return key, fmt.Errorf("engine: create cache root: %w", err)
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return key, fmt.Errorf("engine: persist sign key: %w", err)
	}
	return key, nil
}

func decodeHexKey(s string) ([hashing.Size]byte, error) {
	var key [hashing.Size]byte
	decoded, err := hex.DecodeString(s)
	if err != nil || len(decoded) != hashing.Size {
		return key, fmt.Errorf("engine: sign_key_hex must be %d hex-encoded bytes", hashing.Size)
	}
	copy(key[:], decoded)
	return key, nil
}
