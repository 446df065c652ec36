// Package blobstore implements the content-addressable blob layer (CAS):
// a sharded on-disk tree keyed by BLAKE3 hash, an in-memory LRU front
// (grounded on the other_examples BLAKE3Store design, using
// github.com/hashicorp/golang-lru/v2 in place of its hand-rolled
// generic cache), and a persisted refcount index modeled on the
// teacher's JSON-cache-file persistence pattern in internal/cache.go
// (AnalysisCache's version/load/save shape) so garbage collection can
// reclaim unreferenced blobs between builds.
package blobstore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/forgebuild/forge/internal/hashing"
)

const (
	// indexVersion is bumped whenever the on-disk index format changes.
	indexVersion = 1
	indexFile    = "index.json"
	shardDirLen  = 2
)

// indexEntry is the persisted refcount record for one blob.
type indexEntry struct {
	RefCount int   `json:"ref_count"`
	Size     int64 `json:"size"`
}

type onDiskIndex struct {
	Version int                   `json:"version"`
	Entries map[string]indexEntry `json:"entries"`
}

// Store is a sharded content-addressable blob store: blobs are written
// under "<root>/aa/bb/<full-hash-hex>" (the first four hex characters
// split into two shard directory levels) to keep any one directory from
// growing unbounded, with a bounded in-memory LRU cache of recently
// accessed blob bytes in front of disk reads.
type Store struct {
	root string

	mu    sync.Mutex
	index onDiskIndex

	cache *lru.Cache[hashing.Hash, []byte]
}

// Option configures a Store.
type Option func(*options)

type options struct {
	cacheSize int
}

// WithCacheSize overrides the default in-memory LRU cache capacity.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

const defaultCacheSize = 4096

// Open opens (creating if absent) a Store rooted at root.
func Open(root string, opts ...Option) (*Store, error) {
	o := options{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root %s: %w", root, err)
	}

	cache, err := lru.New[hashing.Hash, []byte](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("blobstore: create lru cache: %w", err)
	}

	s := &Store{
		root:  root,
		cache: cache,
		index: onDiskIndex{Version: indexVersion, Entries: make(map[string]indexEntry)},
	}

	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, indexFile)
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("blobstore: read index: %w", err)
	}
	var idx onDiskIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("blobstore: corrupt index: %w", err)
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]indexEntry)
	}
	s.index = idx
	return nil
}

// saveIndex persists the refcount index using write-to-temp-then-rename
// so a crash mid-write never leaves a truncated index behind.
func (s *Store) saveIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("blobstore: marshal index: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("blobstore: write index tmp: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		return fmt.Errorf("blobstore: rename index: %w", err)
	}
	return nil
}

func (s *Store) shardPath(h hashing.Hash) string {
	hex := h.String()
	return filepath.Join(s.root, hex[0:shardDirLen], hex[shardDirLen:2*shardDirLen], hex)
}

// Put stores data, returning its BLAKE3 hash. If the blob already exists
// its refcount is incremented rather than the bytes rewritten.
func (s *Store) Put(data []byte) (hashing.Hash, error) {
	h := hashing.HashBytes(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := h.String()
	if entry, ok := s.index.Entries[key]; ok {
		entry.RefCount++
		s.index.Entries[key] = entry
		return h, s.saveIndex()
	}

	path := s.shardPath(h)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return hashing.Hash{}, fmt.Errorf("blobstore: mkdir for %s: %w", key, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return hashing.Hash{}, fmt.Errorf("blobstore: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return hashing.Hash{}, fmt.Errorf("blobstore: rename %s: %w", key, err)
	}

	s.index.Entries[key] = indexEntry{RefCount: 1, Size: int64(len(data))}
	s.cache.Add(h, data)
	return h, s.saveIndex()
}

// Get retrieves a blob's bytes, checking the in-memory LRU before
// falling back to disk.
func (s *Store) Get(h hashing.Hash) ([]byte, error) {
	if data, ok := s.cache.Get(h); ok {
		return data, nil
	}

	path := s.shardPath(h)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blobstore: blob %s not found: %w", h, errBlobMiss)
		}
		return nil, fmt.Errorf("blobstore: read %s: %w", h, err)
	}
	s.cache.Add(h, data)
	return data, nil
}

// errBlobMiss is wrapped into the error returned by Get/errors.NewCASMissError
// callers so a miss can be distinguished from other I/O failures.
var errBlobMiss = fmt.Errorf("blob missing from store")

// IsMiss reports whether err indicates the requested blob does not
// exist, as opposed to some other I/O failure.
func IsMiss(err error) bool {
	return err != nil && (err == errBlobMiss || unwrapIs(err, errBlobMiss))
}

func unwrapIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Has reports whether a blob with hash h is present, without reading its
// contents.
func (s *Store) Has(h hashing.Hash) bool {
	if _, ok := s.cache.Get(h); ok {
		return true
	}
	s.mu.Lock()
	_, ok := s.index.Entries[h.String()]
	s.mu.Unlock()
	return ok
}

// IncRef increments the refcount of an existing blob, returning an error
// if it does not exist.
func (s *Store) IncRef(h hashing.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := h.String()
	entry, ok := s.index.Entries[key]
	if !ok {
		return fmt.Errorf("blobstore: IncRef unknown blob %s", h)
	}
	entry.RefCount++
	s.index.Entries[key] = entry
	return s.saveIndex()
}

// DecRef decrements the refcount of a blob. It does not delete the blob
// even at zero: reclamation is deferred to the GC pass run by the cache
// coordinator, which deletes every blob whose refcount is zero.
func (s *Store) DecRef(h hashing.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := h.String()
	entry, ok := s.index.Entries[key]
	if !ok {
		return fmt.Errorf("blobstore: DecRef unknown blob %s", h)
	}
	if entry.RefCount > 0 {
		entry.RefCount--
	}
	s.index.Entries[key] = entry
	return s.saveIndex()
}

// RefCount returns the current refcount for h, or 0 if unknown.
func (s *Store) RefCount(h hashing.Hash) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Entries[h.String()].RefCount
}

// Delete removes a blob from disk and the index unconditionally,
// intended to be called only by the GC sweep phase after determining the
// blob is unreferenced.
func (s *Store) Delete(h hashing.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.index.Entries, h.String())
	s.cache.Remove(h)

	path := s.shardPath(h)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: delete %s: %w", h, err)
	}
	return s.saveIndex()
}

// ListUnreferenced returns the hashes of every blob whose persisted
// refcount is zero, candidates for the GC sweep phase.
func (s *Store) ListUnreferenced() []hashing.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []hashing.Hash
	for key, entry := range s.index.Entries {
		if entry.RefCount <= 0 {
			if h, ok := parseHashKey(key); ok {
				out = append(out, h)
			}
		}
	}
	return out
}

// TotalBytes returns the sum of every recorded blob size, used by the
// cache coordinator's orphanBytes/totalBytes GC trigger ratio.
func (s *Store) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, entry := range s.index.Entries {
		total += entry.Size
	}
	return total
}

// OrphanBytes returns the sum of sizes of blobs with zero refcount.
func (s *Store) OrphanBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, entry := range s.index.Entries {
		if entry.RefCount <= 0 {
			total += entry.Size
		}
	}
	return total
}

func parseHashKey(key string) (hashing.Hash, bool) {
	var h hashing.Hash
	decoded, err := hex.DecodeString(key)
	if err != nil || len(decoded) != hashing.Size {
		return hashing.Hash{}, false
	}
	copy(h[:], decoded)
	return h, true
}

// Count returns the number of distinct blobs currently indexed.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index.Entries)
}
