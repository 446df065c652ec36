package cachecore

import (
	"sync"

	"github.com/google/btree"
)

// ageRecord orders entries by last-access time, then by key as a
// deterministic tie-break, so the btree gives a stable "oldest first"
// iteration order for eviction sweeps.
type ageRecord struct {
	lastAccessUnix int64
	key            string
}

func (a ageRecord) Less(than btree.Item) bool {
	b := than.(ageRecord)
	if a.lastAccessUnix != b.lastAccessUnix {
		return a.lastAccessUnix < b.lastAccessUnix
	}
	return a.key < b.key
}

// EvictionPolicy tracks entry age and cumulative size to decide what to
// evict once a cache exceeds its configured byte budget. It is the
// generalized LRU: a plain hashicorp/golang-lru would only track access
// order, not byte-size budget, so entries are ordered in a
// github.com/google/btree BTree keyed on (lastAccess, key) and evicted
// oldest-first until the size budget is satisfied.
type EvictionPolicy struct {
	mu          sync.Mutex
	tree        *btree.BTree
	sizeOf      map[string]int64
	accessOf    map[string]int64
	maxBytes    int64
	totalBytes  int64
}

// NewEvictionPolicy returns a policy that evicts once tracked bytes
// exceed maxBytes.
func NewEvictionPolicy(maxBytes int64) *EvictionPolicy {
	return &EvictionPolicy{
		tree:     btree.New(32),
		sizeOf:   make(map[string]int64),
		accessOf: make(map[string]int64),
		maxBytes: maxBytes,
	}
}

// Touch records (or updates) an entry's size and last-access time.
func (p *EvictionPolicy) Touch(key string, sizeBytes, lastAccessUnix int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.accessOf[key]; ok {
		p.tree.Delete(ageRecord{lastAccessUnix: old, key: key})
		p.totalBytes -= p.sizeOf[key]
	}

	p.accessOf[key] = lastAccessUnix
	p.sizeOf[key] = sizeBytes
	p.totalBytes += sizeBytes
	p.tree.ReplaceOrInsert(ageRecord{lastAccessUnix: lastAccessUnix, key: key})
}

// Remove drops a key from tracking entirely, e.g. after an explicit
// delete or a successful eviction.
func (p *EvictionPolicy) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(key)
}

func (p *EvictionPolicy) removeLocked(key string) {
	access, ok := p.accessOf[key]
	if !ok {
		return
	}
	p.tree.Delete(ageRecord{lastAccessUnix: access, key: key})
	p.totalBytes -= p.sizeOf[key]
	delete(p.accessOf, key)
	delete(p.sizeOf, key)
}

// TotalBytes returns the sum of tracked entry sizes.
func (p *EvictionPolicy) TotalBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBytes
}

// NeedsEviction reports whether tracked bytes exceed the configured
// budget.
func (p *EvictionPolicy) NeedsEviction() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxBytes > 0 && p.totalBytes > p.maxBytes
}

// EvictUntilUnderBudget removes the oldest entries, in ascending
// last-access order, until total tracked bytes falls at or below the
// byte budget (or no entries remain), returning the evicted keys in
// eviction order.
func (p *EvictionPolicy) EvictUntilUnderBudget() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []string
	for p.maxBytes > 0 && p.totalBytes > p.maxBytes && p.tree.Len() > 0 {
		oldest := p.tree.Min().(ageRecord)
		evicted = append(evicted, oldest.key)
		p.removeLocked(oldest.key)
	}
	return evicted
}

// Len returns the number of tracked entries.
func (p *EvictionPolicy) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.Len()
}
