// Package handler defines the LanguageHandler extension point:
// everything the build core needs from a per-language toolchain
// implementation, plus a registry keyed by Language enum. The registry
// shape is grounded on the teacher's internal/llm/factory.go provider
// switch (CreateClient dispatching on cfg.Provider), generalized from a
// fixed three-provider switch into an open, registerable map so a new
// language can be added without modifying this package.
package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/hashing"
)

// Language identifies a supported source language.
type Language string

const (
	LanguageGo         Language = "go"
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageRust       Language = "rust"
	LanguageCustom     Language = "custom"
)

// BuildContext carries everything a LanguageHandler needs to execute one
// target: its declared Target, the resolved dependency output paths, a
// scratch directory, and the platform string threaded through unexamined
// from graph.Target.Platform.
type BuildContext struct {
	Ctx context.Context

	Target graph.Target

	// WorkspaceRoot is the absolute path to the workspace root; all
	// Target.Sources are relative to it.
	WorkspaceRoot string

	// ScratchDir is a private, per-action temporary directory the
	// handler may freely write intermediate files into; it is removed
	// after the action completes regardless of outcome.
	ScratchDir string

	// DependencyOutputs maps each dependency TargetId's string form to
	// its resolved output path, so a handler can construct include/link
	// paths without re-querying the graph.
	DependencyOutputs map[string]string

	// SimdTier reports the active hashing SIMD tier, available to
	// handlers that want to log or branch on host capability.
	SimdTier hashing.Tier
}

// BuildResult is what a LanguageHandler returns from Build.
type BuildResult struct {
	// OutputPaths are the paths this build produced, to be hashed and
	// stored as the target's cached output. Each path is read as given,
	// so a relative path resolves against the process working directory.
	OutputPaths []string

	// DiscoveredDeps lists additional TargetIds this build discovered it
	// needs (e.g. a generated-code import). The executor does not read
	// this field; nothing passes it to graph.BuildGraph.Extend.
	DiscoveredDeps []graph.TargetId
}

// LanguageHandler is the extension-point contract a language integration
// implements. AnalyzeImports lets the depanalyzer package ask a handler
// to resolve a source file's imports into TargetIds without running a
// full build; Build performs the actual compilation/link/test step;
// GetOutputs reports the expected output paths for a target without
// building it.
type LanguageHandler interface {
	Language() Language
	AnalyzeImports(ctx context.Context, sourcePath string) ([]string, error)
	Build(bctx BuildContext) (BuildResult, error)
	GetOutputs(t graph.Target) []string
}

// Registry holds the set of registered LanguageHandlers, keyed by
// Language.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Language]LanguageHandler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Language]LanguageHandler)}
}

// Register adds or replaces the handler for its Language().
func (r *Registry) Register(h LanguageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Language()] = h
}

// Get returns the handler registered for lang, or an error naming every
// currently registered language if none matches.
func (r *Registry) Get(lang Language) (LanguageHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[lang]
	if !ok {
		return nil, fmt.Errorf("handler: unsupported language %q (supported: %v)", lang, r.languagesLocked())
	}
	return h, nil
}

// Languages returns every currently registered Language.
func (r *Registry) Languages() []Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.languagesLocked()
}

func (r *Registry) languagesLocked() []Language {
	out := make([]Language, 0, len(r.handlers))
	for lang := range r.handlers {
		out = append(out, lang)
	}
	return out
}
