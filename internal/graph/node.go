package graph

import (
	"sync/atomic"
)

// Status is a BuildNode's execution state. The legal transitions are
// Pending -> Ready -> Running -> {Completed, Cached, Failed, Cancelled}.
// Retries of a failing build run while the node stays Running; a node
// that reaches Failed is never moved back to Ready.
type Status int32

const (
	StatusPending Status = iota
	StatusReady
	StatusRunning
	StatusCompleted
	StatusCached
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusReady:
		return "Ready"
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusCached:
		return "Cached"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a terminal state the scheduler does not
// transition out of.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCached, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority ranks a node for scheduling once it becomes Ready. The
// scheduler does not read it: every released node is pushed to the tail
// of the releasing worker's deque whatever its priority.
type Priority int32

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// BuildNode is the mutable execution-state wrapper around a Target. The
// BuildGraph owns every BuildNode exclusively; nodes reference each other
// only by TargetId, never by pointer, so the graph can be serialized and
// so dynamic discovery never has to worry about dangling references.
type BuildNode struct {
	Target Target

	status   atomic.Int32
	priority atomic.Int32

	// ContentHash is the BLAKE3 hash of this node's declared sources,
	// computed once per build and used as TargetCache key input.
	ContentHash [32]byte

	// DependencyIDs and DependentIDs are the forward and reverse edge
	// sets. DependentIDs is maintained as exactly the reverse of
	// DependencyIDs by the owning BuildGraph.
	DependencyIDs []TargetId
	DependentIDs  []TargetId

	// PendingDeps counts dependencies not yet in a terminal success state
	// (Completed or Cached). It reaches zero exactly when the node
	// becomes schedulable, and is the only per-node counter the
	// scheduler mutates without taking the graph-wide lock.
	PendingDeps atomic.Int32

	RetryCount atomic.Int32
	LastError  error
}

// NewBuildNode creates a BuildNode in StatusPending for the given target.
func NewBuildNode(t Target) *BuildNode {
	n := &BuildNode{Target: t}
	n.status.Store(int32(StatusPending))
	n.priority.Store(int32(PriorityNormal))
	return n
}

func (n *BuildNode) Status() Status {
	return Status(n.status.Load())
}

func (n *BuildNode) SetStatus(s Status) {
	n.status.Store(int32(s))
}

// CompareAndSwapStatus atomically transitions the node from `from` to
// `to`, returning false if the node was not in `from`.
func (n *BuildNode) CompareAndSwapStatus(from, to Status) bool {
	return n.status.CompareAndSwap(int32(from), int32(to))
}

func (n *BuildNode) Priority() Priority {
	return Priority(n.priority.Load())
}

func (n *BuildNode) SetPriority(p Priority) {
	n.priority.Store(int32(p))
}

// DecrementPendingDeps atomically decrements PendingDeps and reports
// whether this call was the one that brought it to zero (i.e. this
// goroutine is responsible for marking the node Ready).
func (n *BuildNode) DecrementPendingDeps() (reachedZero bool) {
	return n.PendingDeps.Add(-1) == 0
}
