package distributed

import (
	"sync"
	"time"
)

// WorkerState is a remote worker's position in the registry state
// machine: Unregistered -> Registered -> (Healthy <-> Degraded) ->
// Failed, exactly as specified for the distributed coordinator.
type WorkerState int

const (
	WorkerUnregistered WorkerState = iota
	WorkerRegistered
	WorkerHealthy
	WorkerDegraded
	WorkerFailed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerUnregistered:
		return "Unregistered"
	case WorkerRegistered:
		return "Registered"
	case WorkerHealthy:
		return "Healthy"
	case WorkerDegraded:
		return "Degraded"
	case WorkerFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

const (
	// heartbeatInterval is the cadence workers are expected to send
	// heartbeats at.
	heartbeatInterval = 2 * time.Second
	// missedHeartbeatLimit is the number of consecutive missed
	// heartbeats that demotes a worker to Failed.
	missedHeartbeatLimit = 3
)

// WorkerRecord is the registry's view of one remote worker.
type WorkerRecord struct {
	ID              string
	Address         string
	Capabilities    []string
	State           WorkerState
	QueueSize       int
	Inflight        int
	HealthScore     float64
	LastHeartbeat   time.Time
	MissedHeartbeats int
	// AssignedActions is the set of action IDs currently dispatched to
	// this worker, used to requeue work when the worker is marked
	// Failed.
	AssignedActions map[string]struct{}
}

// Registry tracks every worker's lifecycle state and assigned work.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*WorkerRecord
	now     func() time.Time
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*WorkerRecord), now: time.Now}
}

// Register transitions a worker from Unregistered to Registered,
// recording its address and advertised capabilities. Re-registering an
// already-known worker resets it to Registered (e.g. after a restart).
func (r *Registry) Register(reg Registration, workerID string) *WorkerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &WorkerRecord{
		ID:              workerID,
		Address:         reg.Address,
		Capabilities:    reg.Capabilities,
		State:           WorkerRegistered,
		LastHeartbeat:   r.now(),
		AssignedActions: make(map[string]struct{}),
	}
	r.workers[workerID] = rec
	return rec
}

// Heartbeat records a heartbeat from workerID, promoting it to Healthy
// if it was Registered or Degraded, and resetting its missed-heartbeat
// counter. Returns false if workerID is unknown.
func (r *Registry) Heartbeat(hb Heartbeat) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.workers[hb.WorkerID]
	if !ok {
		return false
	}
	rec.LastHeartbeat = r.now()
	rec.MissedHeartbeats = 0
	rec.Inflight = hb.Inflight
	rec.QueueSize = hb.QueueSize
	rec.HealthScore = hb.HealthScore
	if rec.State == WorkerRegistered || rec.State == WorkerDegraded {
		rec.State = WorkerHealthy
	}
	return true
}

// SweepMissedHeartbeats checks every non-terminal worker's last
// heartbeat age against heartbeatInterval, demoting to Degraded on one
// missed beat and to Failed after missedHeartbeatLimit consecutive
// misses. It returns the IDs of workers that transitioned to Failed in
// this sweep, whose assigned actions the caller must requeue.
func (r *Registry) SweepMissedHeartbeats() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newlyFailed []string
	now := r.now()
	for id, rec := range r.workers {
		if rec.State == WorkerFailed || rec.State == WorkerUnregistered {
			continue
		}
		if now.Sub(rec.LastHeartbeat) <= heartbeatInterval {
			continue
		}
		rec.MissedHeartbeats++
		if rec.MissedHeartbeats >= missedHeartbeatLimit {
			rec.State = WorkerFailed
			newlyFailed = append(newlyFailed, id)
		} else {
			rec.State = WorkerDegraded
		}
	}
	return newlyFailed
}

// AssignAction records that actionID was dispatched to workerID.
func (r *Registry) AssignAction(workerID, actionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.workers[workerID]; ok {
		rec.AssignedActions[actionID] = struct{}{}
	}
}

// CompleteAction removes actionID from workerID's assigned set once a
// result is received.
func (r *Registry) CompleteAction(workerID, actionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.workers[workerID]; ok {
		delete(rec.AssignedActions, actionID)
	}
}

// RequeueActions returns the action IDs assigned to workerID at the
// moment it was marked Failed, clearing its assignment set. The caller
// is responsible for pushing these back onto the scheduler as Ready
// with an incremented retry count, per the spec's Failed-state
// recovery rule.
func (r *Registry) RequeueActions(workerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.workers[workerID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rec.AssignedActions))
	for id := range rec.AssignedActions {
		out = append(out, id)
	}
	rec.AssignedActions = make(map[string]struct{})
	return out
}

// Get returns a copy of a worker's record, or false if unknown.
func (r *Registry) Get(workerID string) (WorkerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.workers[workerID]
	if !ok {
		return WorkerRecord{}, false
	}
	return *rec, true
}

// Healthy returns the IDs of every worker currently Healthy.
func (r *Registry) Healthy() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, rec := range r.workers {
		if rec.State == WorkerHealthy {
			out = append(out, id)
		}
	}
	return out
}

// StealVictim picks a steal target for requester using power-of-two
// choices among Healthy peers (excluding requester): sample two
// candidates and return whichever reports the larger QueueSize. With
// exactly one healthy peer (other than requester) it returns that peer;
// it returns false only when there is none.
func (r *Registry) StealVictim(requester string, pick2 func(n int) (int, int)) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var peers []*WorkerRecord
	for id, rec := range r.workers {
		if id == requester || rec.State != WorkerHealthy {
			continue
		}
		peers = append(peers, rec)
	}
	if len(peers) < 2 {
		if len(peers) == 1 {
			return peers[0].ID, true
		}
		return "", false
	}

	i, j := pick2(len(peers))
	a, b := peers[i], peers[j]
	if b.QueueSize > a.QueueSize {
		return b.ID, true
	}
	return a.ID, true
}

// ShouldSteal reports whether a worker with localQueueSize should
// initiate a steal, per the spec's threshold: local queue empty AND at
// least one Healthy peer reports queueSize > 2x local (local treated as
// 1 to make the comparison meaningful when local is exactly 0).
func (r *Registry) ShouldSteal(requester string, localQueueSize int) bool {
	if localQueueSize > 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	threshold := 2
	for id, rec := range r.workers {
		if id == requester || rec.State != WorkerHealthy {
			continue
		}
		if rec.QueueSize > threshold {
			return true
		}
	}
	return false
}
