package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/forgebuild/forge/internal/graph"
)

// manifestTarget mirrors graph.Target with string-friendly fields for
// YAML decoding; TargetId and Kind need parsing rather than a direct
// unmarshal.
type manifestTarget struct {
	Name       string            `yaml:"name"`
	Pkg        string            `yaml:"pkg"`
	Kind       string            `yaml:"kind"`
	Language   string            `yaml:"language"`
	Sources    []string          `yaml:"sources"`
	Deps       []string          `yaml:"deps"`
	Config     map[string]string `yaml:"config"`
	OutputPath string            `yaml:"output_path"`
	Platform   string            `yaml:"platform"`
}

type manifestFile struct {
	Workspace string           `yaml:"workspace"`
	Targets   []manifestTarget `yaml:"targets"`
}

// LoadTargets reads a declarative workspace target manifest (a plain
// YAML file, not a build DSL) and resolves it into graph.Targets. This
// is the CLI's only source of targets; the core never discovers build
// files itself (§1's handler-command-construction Non-goal extends to
// manifest authoring).
func LoadTargets(path string) ([]graph.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: read manifest %s: %w", path, err)
	}

	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("engine: parse manifest %s: %w", path, err)
	}
	if mf.Workspace == "" {
		mf.Workspace = "ws"
	}

	targets := make([]graph.Target, 0, len(mf.Targets))
	for _, mt := range mf.Targets {
		kind, err := parseKind(mt.Kind)
		if err != nil {
			return nil, fmt.Errorf("engine: target %s: %w", mt.Name, err)
		}

		deps := make([]graph.TargetId, 0, len(mt.Deps))
		for _, depStr := range mt.Deps {
			depID, err := graph.ParseTargetId(depStr, mf.Workspace, mt.Pkg)
			if err != nil {
				return nil, fmt.Errorf("engine: target %s dep %q: %w", mt.Name, depStr, err)
			}
			deps = append(deps, depID)
		}

		target := graph.Target{
			ID:         graph.TargetId{Workspace: mf.Workspace, Pkg: mt.Pkg, Name: mt.Name},
			Kind:       kind,
			Language:   mt.Language,
			Sources:    mt.Sources,
			Deps:       deps,
			Config:     mt.Config,
			OutputPath: mt.OutputPath,
			Platform:   mt.Platform,
		}
		if err := target.Validate(); err != nil {
			return nil, fmt.Errorf("engine: target %s: %w", mt.Name, err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func parseKind(s string) (graph.Kind, error) {
	switch s {
	case "", "library":
		return graph.KindLibrary, nil
	case "executable":
		return graph.KindExecutable, nil
	case "test":
		return graph.KindTest, nil
	case "custom":
		return graph.KindCustom, nil
	default:
		return 0, fmt.Errorf("unknown target kind %q", s)
	}
}
