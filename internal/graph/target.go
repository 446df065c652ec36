// Package graph implements the dependency graph: TargetId parsing, the
// immutable Target descriptor, the mutable BuildNode execution-state
// wrapper, and BuildGraph's topological ordering and cycle detection.
package graph

import (
	"fmt"
	"strings"

	forgeerrors "github.com/forgebuild/forge/internal/errors"
)

// TargetId is a fully-qualified target identifier of the form
// "workspace//path:name". It is comparable and usable as a map key, and
// its string form is stable hash input (see Hasher usages elsewhere).
type TargetId struct {
	Workspace string
	Pkg       string
	Name      string
}

// String renders the canonical "workspace//path:name" form.
func (t TargetId) String() string {
	return fmt.Sprintf("%s//%s:%s", t.Workspace, t.Pkg, t.Name)
}

// IsZero reports whether t is the unset TargetId.
func (t TargetId) IsZero() bool {
	return t == TargetId{}
}

// ParseTargetId parses a fully-qualified or relative target string.
// Absolute form: "workspace//path:name" or "//path:name" (workspace
// defaults to defaultWorkspace). Relative form (valid only inside a
// package context): ":name" or "name", resolved against currentPkg.
func ParseTargetId(s, defaultWorkspace, currentPkg string) (TargetId, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TargetId{}, forgeerrors.NewMalformedPatternError(s, fmt.Errorf("empty target string"))
	}

	workspace := defaultWorkspace
	rest := s

	if idx := strings.Index(s, "//"); idx >= 0 {
		if idx > 0 {
			workspace = s[:idx]
		}
		rest = s[idx+2:]
	} else if !strings.HasPrefix(s, ":") {
		// Bare name with no package separator and no leading ':' is only
		// valid as a relative reference resolved against currentPkg.
		if currentPkg == "" {
			return TargetId{}, forgeerrors.NewMalformedPatternError(s, fmt.Errorf("relative target outside package context"))
		}
		return TargetId{Workspace: workspace, Pkg: currentPkg, Name: s}, nil
	}

	colonIdx := strings.LastIndex(rest, ":")
	if colonIdx < 0 {
		return TargetId{}, forgeerrors.NewMalformedPatternError(s, fmt.Errorf("missing ':name' component"))
	}

	pkg := rest[:colonIdx]
	name := rest[colonIdx+1:]
	if name == "" {
		return TargetId{}, forgeerrors.NewMalformedPatternError(s, fmt.Errorf("empty target name"))
	}

	if pkg == "" {
		if currentPkg == "" {
			return TargetId{}, forgeerrors.NewMalformedPatternError(s, fmt.Errorf("relative target %q outside package context", s))
		}
		pkg = currentPkg
	}

	return TargetId{Workspace: workspace, Pkg: pkg, Name: name}, nil
}

// Kind classifies what a Target produces.
type Kind int

const (
	KindExecutable Kind = iota
	KindLibrary
	KindTest
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindExecutable:
		return "Executable"
	case KindLibrary:
		return "Library"
	case KindTest:
		return "Test"
	case KindCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// Target is an immutable descriptor of a buildable unit. Sources are
// paths relative to the workspace root; no source may appear twice within
// one target.
type Target struct {
	ID         TargetId
	Kind       Kind
	Language   string
	Sources    []string
	Deps       []TargetId
	Config     map[string]string
	OutputPath string
	// Platform is an opaque cross-compilation descriptor (e.g.
	// "linux/amd64"), threaded through to BuildContext so a handler can
	// make toolchain decisions. The core never interprets it.
	Platform string
}

// Validate checks the Target invariants that don't require graph context:
// no duplicate source paths.
func (t Target) Validate() error {
	seen := make(map[string]struct{}, len(t.Sources))
	for _, src := range t.Sources {
		if _, dup := seen[src]; dup {
			return forgeerrors.New(forgeerrors.KindInput,
				fmt.Sprintf("target %s declares source %q more than once", t.ID, src))
		}
		seen[src] = struct{}{}
	}
	return nil
}
