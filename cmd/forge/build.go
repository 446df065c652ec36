package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgebuild/forge/internal/engine"
	forgeerrors "github.com/forgebuild/forge/internal/errors"
	"github.com/forgebuild/forge/internal/incremental"
)

var (
	manifestFlag string
	rebuildFlag  bool
	minimalFlag  bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build targets from a workspace manifest",
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVar(&manifestFlag, "manifest", "targets.yaml", "Path to the target manifest, relative to repo-path")
	buildCmd.Flags().BoolVar(&rebuildFlag, "rebuild", false, "Ignore the cache and rebuild every target")
	buildCmd.Flags().BoolVar(&minimalFlag, "minimal", false, "Use the minimal incremental strategy (do not rebuild dependents of recompiled targets)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	e, err := engine.Open(repoPathFlag, cliOverrides(cmd))
	if err != nil {
		return forgeerrors.Wrap(forgeerrors.KindInput, err, "failed to open workspace")
	}
	defer e.Logger.Sync()

	targets, err := engine.LoadTargets(manifestPath())
	if err != nil {
		return forgeerrors.Wrap(forgeerrors.KindInput, err, "failed to load manifest")
	}

	strategy := incremental.StrategyIncremental
	switch {
	case rebuildFlag:
		strategy = incremental.StrategyFull
	case minimalFlag:
		strategy = incremental.StrategyMinimal
	}

	result, err := e.Build(context.Background(), targets, strategy)
	if err != nil {
		return err
	}

	fmt.Printf("build: %d compiled, %d cached (%.0f%% reduction)\n",
		len(result.Plan.CompileTargets()), len(result.Plan.CachedTargets()), result.Plan.ReductionRate()*100)
	if result.Scheduler != nil && len(result.Scheduler.Failed) > 0 {
		for _, id := range result.Scheduler.Failed {
			fmt.Printf("FAILED %s: %v\n", id, result.Scheduler.Errors[id])
		}
		return forgeerrors.New(forgeerrors.KindHandler, fmt.Sprintf("%d target(s) failed", len(result.Scheduler.Failed)))
	}
	return nil
}

func manifestPath() string {
	if repoPathFlag == "." || repoPathFlag == "" {
		return manifestFlag
	}
	return repoPathFlag + "/" + manifestFlag
}
