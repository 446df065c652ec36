package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	forgeerrors "github.com/forgebuild/forge/internal/errors"
)

var (
	repoPathFlag string
	verboseFlag  bool
	workersFlag  int
)

// rootCmd is the base command, named and structured the way the
// teacher's rootCmd carries shared persistent flags and registers each
// subcommand in its own file's init().
var rootCmd = &cobra.Command{
	Use:     "forge",
	Short:   "Polyglot incremental build system",
	Long:    `forge builds dependency graphs across languages with content-addressed caching and a work-stealing parallel scheduler.`,
	Version: "0.1.0",
}

// Execute runs the root command, mapping any returned *BuildError to its
// declared exit code and any other error to the generic build-failure
// code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		os.Exit(exitCodeFor(err))
	}
}

func describeError(err error) string {
	if be, ok := forgeerrors.As(err); ok {
		return be.UserMessage()
	}
	return fmt.Sprintf("Error: %v", err)
}

func exitCodeFor(err error) int {
	if be, ok := forgeerrors.As(err); ok {
		return be.ExitCode.Int()
	}
	return forgeerrors.ExitBuildFailure.Int()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoPathFlag, "repo-path", ".", "Path to the workspace root")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output (accepted by every command; no command's output depends on it)")
	rootCmd.PersistentFlags().IntVar(&workersFlag, "parallelism", 0, "Scheduler worker count (0 = number of CPUs)")
}

// cliOverrides builds the config.Load cliOverrides map from persistent
// flags actually set by the user, so an unset flag never shadows a
// workspace or user config value.
func cliOverrides(cmd *cobra.Command) map[string]interface{} {
	overrides := map[string]interface{}{}
	if cmd.Flags().Changed("parallelism") {
		overrides["scheduler.workers"] = workersFlag
	}
	return overrides
}
