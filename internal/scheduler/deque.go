// Package scheduler implements work-stealing parallel execution over a
// graph.BuildGraph: each worker owns a local LIFO deque, overflow spills
// to a shared FIFO queue, and idle workers steal from a random victim
// chosen by power-of-two-choices. The ready/terminal polling loop shape
// is grounded on script-weaver's Executor.RunSerial
// (other_examples/.../internal-dag-executor.go.go): poll ready tasks
// under lock, dispatch, repeat until every node is terminal; this
// package generalizes that single-threaded poll loop into N worker
// goroutines each pulling from their own deque instead of one serial
// loop pulling from a single ready list.
package scheduler

import (
	"sync"

	"github.com/forgebuild/forge/internal/graph"
)

// deque is a single worker's local double-ended work queue. The owning
// worker pushes and pops from the tail (LIFO, for cache locality on
// recently-discovered work); a thief pops from the head (FIFO from the
// thief's perspective), which is the standard work-stealing split.
type deque struct {
	mu    sync.Mutex
	items []graph.TargetId
}

func newDeque() *deque {
	return &deque{}
}

// PushBottom adds an item to the tail, called only by the owning worker.
func (d *deque) PushBottom(id graph.TargetId) {
	d.mu.Lock()
	d.items = append(d.items, id)
	d.mu.Unlock()
}

// PopBottom removes and returns the tail item, called only by the owning
// worker.
func (d *deque) PopBottom() (graph.TargetId, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return graph.TargetId{}, false
	}
	last := len(d.items) - 1
	item := d.items[last]
	d.items = d.items[:last]
	return item, true
}

// StealTop removes and returns the head item, called by a thief worker.
func (d *deque) StealTop() (graph.TargetId, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return graph.TargetId{}, false
	}
	item := d.items[0]
	d.items = d.items[1:]
	return item, true
}

// Len returns the current number of queued items.
func (d *deque) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
