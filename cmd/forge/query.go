package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgebuild/forge/internal/engine"
	forgeerrors "github.com/forgebuild/forge/internal/errors"
	"github.com/forgebuild/forge/internal/graph"
)

var queryCmd = &cobra.Command{
	Use:   "query [pattern]",
	Short: "List targets and their dependencies matching a pattern",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVar(&manifestFlag, "manifest", "targets.yaml", "Path to the target manifest, relative to repo-path")
}

func runQuery(cmd *cobra.Command, args []string) error {
	targets, err := engine.LoadTargets(manifestPath())
	if err != nil {
		return forgeerrors.Wrap(forgeerrors.KindInput, err, "failed to load manifest")
	}

	g, err := graph.New(targets)
	if err != nil {
		return forgeerrors.Wrap(forgeerrors.KindGraph, err, "failed to build dependency graph")
	}

	var pattern string
	if len(args) == 1 {
		pattern = args[0]
	}

	matched := 0
	for _, id := range g.TopologicalOrder() {
		if pattern != "" && !strings.Contains(id.String(), pattern) {
			continue
		}
		node := g.Node(id)
		deps := make([]string, 0, len(node.DependencyIDs))
		for _, dep := range node.DependencyIDs {
			deps = append(deps, dep.String())
		}
		fmt.Printf("%s\n  kind: %s\n  language: %s\n  deps: %s\n", id, node.Target.Kind, node.Target.Language, strings.Join(deps, ", "))
		matched++
	}
	if matched == 0 {
		return forgeerrors.New(forgeerrors.KindInput, fmt.Sprintf("no target matched pattern %q", pattern))
	}
	return nil
}
