package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	forgeerrors "github.com/forgebuild/forge/internal/errors"
	"github.com/forgebuild/forge/internal/events"
	"github.com/forgebuild/forge/internal/graph"
)

// TaskRunner executes one graph node's build action. It is the
// scheduler's sole extension point, named after script-weaver's
// TaskRunner interface (Probe/Run) but collapsed to a single Run method
// since this scheduler delegates the cache-hit-or-run decision to the
// caller's incremental.Plan rather than re-probing per node.
type TaskRunner interface {
	Run(ctx context.Context, node *graph.BuildNode) error
}

// RetryPolicy controls whether and how a failed node is retried.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries transient failures (e.g. a flaky compiler
// invocation, a remote cache timeout surfaced through the runner) up to
// three times with exponential backoff starting at the 200ms spec.md
// §4.10 default.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}

// Scheduler runs a graph.BuildGraph to completion using a fixed pool of
// work-stealing workers. Each worker owns a local deque; the nodes that
// are Ready when Run starts are seeded into a shared overflow FIFO, and
// every node that becomes Ready later is pushed to the deque of the
// worker whose completion released it. Idle workers
// steal from a random peer chosen by power-of-two-choices: two deques
// are sampled and the longer one is targeted, which spreads load better
// than pure random victim selection without the cost of scanning all
// peers.
type Scheduler struct {
	graph   *graph.BuildGraph
	runner  TaskRunner
	bus     *events.Bus
	retry   RetryPolicy
	workers int

	deques    []*deque
	overflow  *fifo
	active    atomic.Int64 // count of nodes Running or queued, for termination detection
	remaining atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers overrides the worker pool size (default: runtime.NumCPU()
// equivalent chosen by the caller via workers argument to New).
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Scheduler) { s.retry = p }
}

// WithEventBus attaches an events.Bus that receives TargetStarted /
// TargetCompleted / TargetFailed notifications as the scheduler runs.
func WithEventBus(bus *events.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// New constructs a Scheduler over g with the given TaskRunner and
// worker count.
func New(g *graph.BuildGraph, runner TaskRunner, workers int, opts ...Option) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		graph:    g,
		runner:   runner,
		retry:    DefaultRetryPolicy(),
		workers:  workers,
		overflow: newFIFO(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.deques = make([]*deque, s.workers)
	for i := range s.deques {
		s.deques[i] = newDeque()
	}
	return s
}

// Result is the outcome of a completed Run.
type Result struct {
	Succeeded []graph.TargetId
	Failed    []graph.TargetId
	Errors    map[graph.TargetId]error
}

// Run executes every node in the graph to a terminal state, dispatching
// ready nodes across the worker pool until none remain pending. It
// returns once every node is Completed, Cached, Failed or Cancelled, or
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	nodes := s.graph.Nodes()

	result := &Result{Errors: make(map[graph.TargetId]error)}
	var resMu sync.Mutex

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Nodes the caller already drove to a terminal state before Run was
	// called (e.g. engine.Build pre-marking incremental-plan cache hits
	// as StatusCached) never pass through workerLoop's terminal
	// transition, so they must not be counted in remaining or they would
	// leave it permanently above zero.
	var pending int64
	for _, n := range nodes {
		status := n.Status()
		if !status.Terminal() {
			pending++
		} else if status == graph.StatusCached {
			s.publish(events.TargetCached, n, nil)
		}
	}
	s.remaining.Store(pending)

	// Seed every node with zero PendingDeps (sources with no
	// dependencies) onto the overflow queue so workers have initial
	// work without needing a designated "owner" worker.
	for _, n := range nodes {
		if n.PendingDeps.Load() == 0 && n.CompareAndSwapStatus(graph.StatusPending, graph.StatusReady) {
			s.overflow.Push(n.Target.ID)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			s.workerLoop(ctx, idx, &resMu, result)
		}(i)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if len(result.Failed) > 0 {
		return result, fmt.Errorf("scheduler: %d target(s) failed", len(result.Failed))
	}
	return result, nil
}

func (s *Scheduler) workerLoop(ctx context.Context, idx int, resMu *sync.Mutex, result *Result) {
	own := s.deques[idx]
	for {
		if ctx.Err() != nil {
			return
		}
		if s.remaining.Load() == 0 {
			return
		}

		id, ok := own.PopBottom()
		if !ok {
			id, ok = s.overflow.Pop()
		}
		if !ok {
			id, ok = s.steal(idx)
		}
		if !ok {
			if s.remaining.Load() == 0 {
				return
			}
			time.Sleep(time.Millisecond)
			continue
		}

		node := s.graph.Node(id)
		if node == nil {
			continue
		}
		if !node.CompareAndSwapStatus(graph.StatusReady, graph.StatusRunning) {
			continue
		}

		s.publish(events.TargetStarted, node, nil)
		err := s.runWithRetry(ctx, node)
		resMu.Lock()
		if err != nil {
			node.LastError = err
			node.SetStatus(graph.StatusFailed)
			result.Failed = append(result.Failed, id)
			result.Errors[id] = err
			s.publish(events.TargetFailed, node, err)
		} else if node.Status() == graph.StatusCached {
			// The runner (executor.Run) already set StatusCached on a
			// cache hit; preserve it instead of overwriting it to
			// Completed, and publish the cache-hit event rather than
			// TargetCompleted.
			result.Succeeded = append(result.Succeeded, id)
			s.publish(events.TargetCached, node, nil)
		} else {
			node.SetStatus(graph.StatusCompleted)
			result.Succeeded = append(result.Succeeded, id)
			s.publish(events.TargetCompleted, node, nil)
		}
		resMu.Unlock()

		s.remaining.Add(-1)
		s.releaseDependents(idx, node)
	}
}

// runWithRetry runs the node's action, retrying only errors that
// forgeerrors.ShouldRetry classifies as transient or system per
// spec.md §7: a deterministic handler failure (a genuine compile error)
// is wrapped in backoff.Permanent so it fails immediately instead of
// consuming the retry budget on an error that will never succeed.
func (s *Scheduler) runWithRetry(ctx context.Context, node *graph.BuildNode) error {
	var lastErr error
	op := func() error {
		err := s.runner.Run(ctx, node)
		if err == nil {
			return nil
		}
		node.RetryCount.Add(1)
		lastErr = err
		if !forgeerrors.ShouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, s.retry.newBackOff()); err != nil {
		return lastErr
	}
	return nil
}

// releaseDependents decrements PendingDeps on every dependent of node
// that just finished successfully, pushing each dependent that reaches
// zero onto the releasing worker's own deque (LIFO locality: a worker
// that just finished A is likely to want A's dependent B next).
func (s *Scheduler) releaseDependents(byWorker int, node *graph.BuildNode) {
	if node.Status() != graph.StatusCompleted && node.Status() != graph.StatusCached {
		return
	}
	for _, depID := range node.DependentIDs {
		dep := s.graph.Node(depID)
		if dep == nil {
			continue
		}
		if dep.DecrementPendingDeps() {
			if dep.CompareAndSwapStatus(graph.StatusPending, graph.StatusReady) {
				s.pushByPriority(byWorker, dep)
			}
		}
	}
}

// pushByPriority always pushes to the completing worker's own local
// deque for producer locality (spec.md §4.10 step 6: "a worker that
// just finished A is likely to want A's dependent B next"). PushBottom
// appends to the tail, which PopBottom drains first. The node's Priority
// is not consulted: every node, whatever its priority, is pushed the
// same way.
func (s *Scheduler) pushByPriority(byWorker int, node *graph.BuildNode) {
	s.deques[byWorker].PushBottom(node.Target.ID)
}

// steal attempts to take work from a peer deque using power-of-two
// choices: sample two random peers and steal from whichever currently
// holds more items, which approximates always-steal-from-the-busiest
// without scanning every peer on each empty cycle.
func (s *Scheduler) steal(self int) (graph.TargetId, bool) {
	if len(s.deques) < 2 {
		return graph.TargetId{}, false
	}
	a := randPeer(self, len(s.deques))
	b := randPeer(self, len(s.deques))
	victim := a
	if s.deques[b].Len() > s.deques[a].Len() {
		victim = b
	}
	return s.deques[victim].StealTop()
}

func randPeer(self, n int) int {
	for {
		p := rand.Intn(n)
		if p != self {
			return p
		}
		if n == 1 {
			return self
		}
	}
}

func (s *Scheduler) publish(kind events.Kind, node *graph.BuildNode, err error) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		TargetID:  node.Target.ID.String(),
		Err:       err,
	})
}
