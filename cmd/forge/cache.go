package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgebuild/forge/internal/actioncache"
	"github.com/forgebuild/forge/internal/blobstore"
	"github.com/forgebuild/forge/internal/cachecoordinator"
	"github.com/forgebuild/forge/internal/config"
	forgeerrors "github.com/forgebuild/forge/internal/errors"
	"github.com/forgebuild/forge/internal/hashing"
	"github.com/forgebuild/forge/internal/targetcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or reclaim the local cache tiers",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display target/action/blob cache entry counts",
	RunE:  runCacheStats,
}

var cacheGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Force a garbage-collection sweep of the blob store",
	RunE:  runCacheGC,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheGCCmd)
}

func openCacheTiers(cmd *cobra.Command) (*targetcache.Cache, *actioncache.Cache, *blobstore.Store, error) {
	cfg, err := config.NewLoader().Load(repoPathFlag, cliOverrides(cmd))
	if err != nil {
		return nil, nil, nil, forgeerrors.Wrap(forgeerrors.KindInput, err, "failed to load config")
	}

	cacheRoot := filepath.Join(repoPathFlag, cfg.Cache.RootOrDefault())
	var key [hashing.Size]byte
	if cfg.Cache.SignKeyHex != "" {
		decoded, err := hex.DecodeString(cfg.Cache.SignKeyHex)
		if err != nil || len(decoded) != hashing.Size {
			return nil, nil, nil, forgeerrors.New(forgeerrors.KindInput, fmt.Sprintf("sign_key_hex must be %d hex-encoded bytes", hashing.Size))
		}
		copy(key[:], decoded)
	} else if data, err := os.ReadFile(filepath.Join(cacheRoot, "sign.key")); err == nil && len(data) == hashing.Size {
		copy(key[:], data)
	}

	blobs, err := blobstore.Open(filepath.Join(cacheRoot, "cas"))
	if err != nil {
		return nil, nil, nil, forgeerrors.Wrap(forgeerrors.KindCache, err, "failed to open blobstore")
	}
	targets, err := targetcache.Open(filepath.Join(cacheRoot, "targets"), key, cfg.Cache.MaxTargetCacheBytes)
	if err != nil {
		return nil, nil, nil, forgeerrors.Wrap(forgeerrors.KindCache, err, "failed to open targetcache")
	}
	actions, err := actioncache.Open(filepath.Join(cacheRoot, "actions"), key, cfg.Cache.MaxActionCacheBytes)
	if err != nil {
		return nil, nil, nil, forgeerrors.Wrap(forgeerrors.KindCache, err, "failed to open actioncache")
	}
	return targets, actions, blobs, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	targets, actions, blobs, err := openCacheTiers(cmd)
	if err != nil {
		return err
	}
	fmt.Printf("target cache entries: %d\n", targets.Len())
	fmt.Printf("action cache entries: %d\n", actions.Len())
	fmt.Printf("blob store entries:   %d\n", blobs.Count())
	return nil
}

func runCacheGC(cmd *cobra.Command, args []string) error {
	targets, actions, blobs, err := openCacheTiers(cmd)
	if err != nil {
		return err
	}
	coordinator := cachecoordinator.New(targets, actions, blobs, nil, nil)
	if err := coordinator.GC(context.Background()); err != nil {
		return forgeerrors.Wrap(forgeerrors.KindCache, err, "gc sweep failed")
	}
	fmt.Println("gc sweep complete")
	return nil
}
