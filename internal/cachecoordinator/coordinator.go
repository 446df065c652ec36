// Package cachecoordinator unifies the cache tiers (TargetCache,
// ActionCache, BlobStore, and an optional RemoteCache) behind a single
// lookup path and drives garbage collection of the blob store. The
// fan-out/aggregate-errors shape is grounded on the teacher's general use
// of go.uber.org/multierr for aggregating independent failures, extended
// here with golang.org/x/sync/errgroup to run the per-blob GC deletions
// concurrently.
package cachecoordinator

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/forgebuild/forge/internal/actioncache"
	"github.com/forgebuild/forge/internal/blobstore"
	"github.com/forgebuild/forge/internal/events"
	"github.com/forgebuild/forge/internal/hashing"
	"github.com/forgebuild/forge/internal/remotecache"
	"github.com/forgebuild/forge/internal/targetcache"
)

// orphanGCRatio is the orphanBytes/totalBytes threshold past which
// ShouldGC reports that a GC pass is due; the engine checks it after
// every build.
const orphanGCRatio = 0.2

// Coordinator composes the cache tiers into the single path the executor
// consults before running an action: TargetCache (content hash ->
// output), ActionCache (action digest -> output) as a secondary index
// over the same blobs, the local BlobStore, and an optional RemoteCache
// for cross-machine sharing.
type Coordinator struct {
	Targets *targetcache.Cache
	Actions *actioncache.Cache
	Blobs   *blobstore.Store
	Remote  *remotecache.Client // nil if remote caching is disabled

	bus *events.Bus
}

// New constructs a Coordinator. remote may be nil.
func New(targets *targetcache.Cache, actions *actioncache.Cache, blobs *blobstore.Store, remote *remotecache.Client, bus *events.Bus) *Coordinator {
	return &Coordinator{Targets: targets, Actions: actions, Blobs: blobs, Remote: remote, bus: bus}
}

// LookupTarget resolves a target's content hash to build output bytes,
// trying the local target cache, then (if configured) the remote cache,
// in that order. It returns the bytes, whether this was a remote hit
// (for event/metrics purposes), and whether anything was found at all.
func (c *Coordinator) LookupTarget(ctx context.Context, contentHash hashing.Hash) (data []byte, remoteHit bool, ok bool) {
	if outputHash, hit := c.Targets.Lookup(contentHash); hit {
		if bytes, err := c.Blobs.Get(outputHash); err == nil {
			c.publish(events.CacheHit, contentHash)
			return bytes, false, true
		}
	}

	if c.Remote != nil {
		outputHash := contentHash // remote keys by the same content-hash convention
		if remoteData, err := c.Remote.Get(ctx, outputHash); err == nil {
			c.publish(events.RemoteHit, contentHash)
			if _, putErr := c.Blobs.Put(remoteData); putErr == nil {
				_ = c.Targets.Put(contentHash, hashing.HashBytes(remoteData), int64(len(remoteData)), nil)
			}
			return remoteData, true, true
		}
	}

	c.publish(events.CacheMiss, contentHash)
	return nil, false, false
}

// StoreTarget records a successful build's output for contentHash,
// writing through to the blob store, the target cache, and (if
// configured) pushing to the remote cache.
func (c *Coordinator) StoreTarget(ctx context.Context, contentHash hashing.Hash, output []byte, metadata map[string]string) error {
	outputHash, err := c.Blobs.Put(output)
	if err != nil {
		return err
	}
	if err := c.Targets.Put(contentHash, outputHash, int64(len(output)), metadata); err != nil {
		return err
	}
	c.publish(events.CacheUpdate, contentHash)

	if c.Remote != nil {
		if _, err := c.Remote.Put(ctx, output); err == nil {
			c.publish(events.RemotePush, contentHash)
		}
		// A remote push failure is non-fatal: the local cache still has
		// the entry, so the build is not blocked on remote availability.
	}
	return nil
}

// LookupAction resolves a cached action's output, analogous to
// LookupTarget but keyed by ActionDigest for sub-target-granularity
// sharing.
func (c *Coordinator) LookupAction(digest actioncache.ActionDigest) ([]byte, bool) {
	outputHash, hit := c.Actions.Lookup(digest)
	if !hit {
		return nil, false
	}
	data, err := c.Blobs.Get(outputHash)
	if err != nil {
		return nil, false
	}
	return data, true
}

// StoreAction records an action's output.
func (c *Coordinator) StoreAction(digest actioncache.ActionDigest, output []byte) error {
	outputHash, err := c.Blobs.Put(output)
	if err != nil {
		return err
	}
	return c.Actions.Put(digest, outputHash, int64(len(output)))
}

func (c *Coordinator) publish(kind events.Kind, contentHash hashing.Hash) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{Kind: kind, Timestamp: time.Now(), Attributes: map[string]string{"content_hash": contentHash.String()}})
}

// ShouldGC reports whether the orphaned-byte ratio exceeds the trigger
// threshold, for an automatic GC check after every build.
func (c *Coordinator) ShouldGC() bool {
	total := c.Blobs.TotalBytes()
	if total == 0 {
		return false
	}
	return float64(c.Blobs.OrphanBytes())/float64(total) > orphanGCRatio
}

// GC deletes every blob whose refcount in the local store is zero. It
// does not walk the target or action caches to mark reachable blobs: the
// blob store's refcount is the only reachability signal it uses. Each
// deletion runs independently via errgroup
// so one failing delete does not abort the rest of the sweep; every
// per-blob failure is aggregated with multierr so the caller sees the
// full picture instead of only the first error.
func (c *Coordinator) GC(ctx context.Context) error {
	c.publish(events.GCStarted, hashing.Hash{})

	candidates := c.Blobs.ListUnreferenced()

	g, _ := errgroup.WithContext(ctx)
	errs := make([]error, len(candidates))
	for i, h := range candidates {
		i, h := i, h
		g.Go(func() error {
			errs[i] = c.Blobs.Delete(h)
			return nil
		})
	}
	_ = g.Wait()

	var combined error
	for _, err := range errs {
		combined = multierr.Append(combined, err)
	}

	c.publish(events.GCCompleted, hashing.Hash{})
	return combined
}
