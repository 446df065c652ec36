package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgebuild/forge/internal/engine"
	forgeerrors "github.com/forgebuild/forge/internal/errors"
	"github.com/forgebuild/forge/internal/graph"
)

var graphDOTFlag bool

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the dependency graph in topological order, or as Graphviz DOT",
	RunE:  runGraph,
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringVar(&manifestFlag, "manifest", "targets.yaml", "Path to the target manifest, relative to repo-path")
	graphCmd.Flags().BoolVar(&graphDOTFlag, "dot", false, "Render as Graphviz DOT instead of a topological listing")
}

func runGraph(cmd *cobra.Command, args []string) error {
	targets, err := engine.LoadTargets(manifestPath())
	if err != nil {
		return forgeerrors.Wrap(forgeerrors.KindInput, err, "failed to load manifest")
	}

	g, err := graph.New(targets)
	if err != nil {
		return forgeerrors.Wrap(forgeerrors.KindGraph, err, "failed to build dependency graph")
	}

	if graphDOTFlag {
		fmt.Println(g.DOT())
		return nil
	}

	for _, id := range g.TopologicalOrder() {
		node := g.Node(id)
		fmt.Printf("%s\t%s\t%d dep(s)\n", id, node.Target.Kind, len(node.DependencyIDs))
	}
	return nil
}
