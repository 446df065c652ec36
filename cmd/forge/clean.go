package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgebuild/forge/internal/config"
	forgeerrors "github.com/forgebuild/forge/internal/errors"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the local cache directory",
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().Load(repoPathFlag, cliOverrides(cmd))
	if err != nil {
		return forgeerrors.Wrap(forgeerrors.KindInput, err, "failed to load config")
	}

	cacheRoot := filepath.Join(repoPathFlag, cfg.Cache.RootOrDefault())
	if _, err := os.Stat(cacheRoot); os.IsNotExist(err) {
		fmt.Printf("cache directory not found: %s\n", cacheRoot)
		return nil
	}

	if err := os.RemoveAll(cacheRoot); err != nil {
		return forgeerrors.Wrap(forgeerrors.KindIO, err, "failed to remove cache directory")
	}
	fmt.Printf("removed cache directory: %s\n", cacheRoot)
	return nil
}
