// Package targetcache maps a target's content hash to its last
// successful build outputs, stored as cachecore Entries signed with a
// workspace-local BLAKE3 key and persisted under a cache root directory,
// one file per entry keyed by target content hash.
package targetcache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forgebuild/forge/internal/cachecore"
	"github.com/forgebuild/forge/internal/hashing"
)

// Cache is a disk-backed store of TargetId -> build-output blob hash,
// keyed by the target's content hash so a rebuild of identical sources
// against identical dependency outputs is recognized as a cache hit
// without re-running the handler.
type Cache struct {
	root    string
	signKey [hashing.Size]byte
	policy  *cachecore.EvictionPolicy
}

// Open opens (creating if absent) a target cache rooted at root, evicting
// entries once the stored byte total exceeds maxBytes (0 disables
// eviction).
func Open(root string, signKey [hashing.Size]byte, maxBytes int64) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("targetcache: create root: %w", err)
	}
	c := &Cache{root: root, signKey: signKey, policy: cachecore.NewEvictionPolicy(maxBytes)}
	if err := c.hydratePolicy(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) hydratePolicy() error {
	entries, err := os.ReadDir(c.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("targetcache: list root: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.root, de.Name()))
		if err != nil {
			continue
		}
		entry, err := cachecore.Decode(data, c.signKey)
		if err != nil {
			continue
		}
		c.policy.Touch(entry.Key, entry.SizeBytes, entry.LastAccessUnix)
	}
	return nil
}

func (c *Cache) pathFor(contentHash hashing.Hash) string {
	return filepath.Join(c.root, contentHash.String())
}

// Put records that a target with the given content hash produced output
// stored at outputHash, of sizeBytes.
func (c *Cache) Put(contentHash hashing.Hash, outputHash hashing.Hash, sizeBytes int64, metadata map[string]string) error {
	now := time.Now().UnixNano()
	entry := cachecore.Entry{
		Key:            contentHash.String(),
		BlobHash:       outputHash,
		CreatedUnix:    now,
		LastAccessUnix: now,
		SizeBytes:      sizeBytes,
		Metadata:       metadata,
	}
	data := cachecore.Encode(entry, c.signKey)
	if err := os.WriteFile(c.pathFor(contentHash), data, 0o644); err != nil {
		return fmt.Errorf("targetcache: write entry: %w", err)
	}
	c.policy.Touch(entry.Key, sizeBytes, now)

	if c.policy.NeedsEviction() {
		for _, key := range c.policy.EvictUntilUnderBudget() {
			_ = os.Remove(filepath.Join(c.root, key))
		}
	}
	return nil
}

// Lookup returns the cached output hash for contentHash, and whether it
// was found. A corrupt or tampered on-disk entry is treated as a miss.
func (c *Cache) Lookup(contentHash hashing.Hash) (hashing.Hash, bool) {
	data, err := os.ReadFile(c.pathFor(contentHash))
	if err != nil {
		return hashing.Hash{}, false
	}
	entry, err := cachecore.Decode(data, c.signKey)
	if err != nil {
		return hashing.Hash{}, false
	}

	now := time.Now().UnixNano()
	entry.LastAccessUnix = now
	if updated, werr := os.Create(c.pathFor(contentHash)); werr == nil {
		updated.Write(cachecore.Encode(entry, c.signKey))
		updated.Close()
	}
	c.policy.Touch(entry.Key, entry.SizeBytes, now)

	return entry.BlobHash, true
}

// LookupMetadata returns the metadata stored alongside contentHash's
// cache entry, if any, without affecting LRU recency (unlike Lookup).
// CriticalPathAnalyzer uses this to read a target's last measured build
// duration.
func (c *Cache) LookupMetadata(contentHash hashing.Hash) (map[string]string, bool) {
	data, err := os.ReadFile(c.pathFor(contentHash))
	if err != nil {
		return nil, false
	}
	entry, err := cachecore.Decode(data, c.signKey)
	if err != nil {
		return nil, false
	}
	return entry.Metadata, true
}

// Invalidate removes a single cache entry.
func (c *Cache) Invalidate(contentHash hashing.Hash) error {
	c.policy.Remove(contentHash.String())
	if err := os.Remove(c.pathFor(contentHash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("targetcache: invalidate: %w", err)
	}
	return nil
}

// Len returns the number of tracked entries.
func (c *Cache) Len() int {
	return c.policy.Len()
}
