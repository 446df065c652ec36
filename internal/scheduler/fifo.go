package scheduler

import (
	"sync"

	"github.com/forgebuild/forge/internal/graph"
)

// fifo is the shared overflow queue that Run seeds with the nodes that
// are Ready at start; nodes released later by releaseDependents go to a
// worker's own deque instead. Any idle worker may pop from it.
type fifo struct {
	mu    sync.Mutex
	items []graph.TargetId
}

func newFIFO() *fifo {
	return &fifo{}
}

func (f *fifo) Push(id graph.TargetId) {
	f.mu.Lock()
	f.items = append(f.items, id)
	f.mu.Unlock()
}

func (f *fifo) Pop() (graph.TargetId, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return graph.TargetId{}, false
	}
	id := f.items[0]
	f.items = f.items[1:]
	return id, true
}

func (f *fifo) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
