// Package actioncache caches individual action executions (one compiler
// invocation, one link step) keyed by an action digest — the hash of the
// command, its declared input hashes, and the tool version — rather than
// a whole target's content hash. This lets two different targets that
// happen to invoke an identical sub-step (e.g. compiling the same shared
// header) share a cache entry, which internal/targetcache cannot express
// since it is keyed one level higher, at target granularity.
package actioncache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forgebuild/forge/internal/cachecore"
	"github.com/forgebuild/forge/internal/hashing"
)

// Cache is a disk-backed store of action digest -> produced output blob
// hash.
type Cache struct {
	root    string
	signKey [hashing.Size]byte
	policy  *cachecore.EvictionPolicy
}

// ActionDigest identifies one cacheable action invocation.
type ActionDigest struct {
	Command    string
	InputHashes []hashing.Hash
	ToolVersion string
}

// Hash derives the content-addressed digest hash for an ActionDigest.
func (d ActionDigest) Hash() hashing.Hash {
	buf := []byte(d.Command + "\x00" + d.ToolVersion + "\x00")
	for _, h := range d.InputHashes {
		buf = append(buf, h[:]...)
	}
	return hashing.HashBytes(buf)
}

// Open opens (creating if absent) an action cache rooted at root.
func Open(root string, signKey [hashing.Size]byte, maxBytes int64) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("actioncache: create root: %w", err)
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
		return fmt.Errorf("actioncache: list root: %w", err)
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

func (c *Cache) pathFor(digest hashing.Hash) string {
	return filepath.Join(c.root, digest.String())
}

// Put records that the given action digest produced outputHash.
func (c *Cache) Put(digest ActionDigest, outputHash hashing.Hash, sizeBytes int64) error {
	key := digest.Hash()
	now := time.Now().UnixNano()
	entry := cachecore.Entry{
		Key:            key.String(),
		BlobHash:       outputHash,
		CreatedUnix:    now,
		LastAccessUnix: now,
		SizeBytes:      sizeBytes,
		Metadata:       map[string]string{"command": digest.Command, "tool_version": digest.ToolVersion},
	}
	data := cachecore.Encode(entry, c.signKey)
	if err := os.WriteFile(c.pathFor(key), data, 0o644); err != nil {
		return fmt.Errorf("actioncache: write entry: %w", err)
	}
	c.policy.Touch(entry.Key, sizeBytes, now)

	if c.policy.NeedsEviction() {
		for _, evictKey := range c.policy.EvictUntilUnderBudget() {
			_ = os.Remove(filepath.Join(c.root, evictKey))
		}
	}
	return nil
}

// Lookup returns the cached output hash for digest, and whether it was
// found.
func (c *Cache) Lookup(digest ActionDigest) (hashing.Hash, bool) {
	key := digest.Hash()
	data, err := os.ReadFile(c.pathFor(key))
	if err != nil {
		return hashing.Hash{}, false
	}
	entry, err := cachecore.Decode(data, c.signKey)
	if err != nil {
		return hashing.Hash{}, false
	}

	now := time.Now().UnixNano()
	entry.LastAccessUnix = now
	if f, werr := os.Create(c.pathFor(key)); werr == nil {
		f.Write(cachecore.Encode(entry, c.signKey))
		f.Close()
	}
	c.policy.Touch(entry.Key, entry.SizeBytes, now)

	return entry.BlobHash, true
}

// Len returns the number of tracked entries.
func (c *Cache) Len() int {
	return c.policy.Len()
}
