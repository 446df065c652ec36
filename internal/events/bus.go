// Package events implements the EventBus: the single human-facing
// surface of the build core (per SPEC_FULL.md §1, CLI/TUI/LSP rendering
// are external collaborators that only consume these events). The
// pub/sub shape is a plain fan-out over buffered channels; no pack
// library implements exactly this (the teacher's own TUI update loop
// instead reads directly off bubbletea's Msg channel, which does not
// generalize to multiple independent subscribers), so it is hand-rolled
// on sync.RWMutex + channels.
package events

import (
	"sync"
	"time"
)

// Kind names an event type published on the bus.
type Kind int

const (
	BuildStarted Kind = iota
	BuildCompleted
	TargetStarted
	TargetCompleted
	TargetFailed
	TargetCached
	CacheHit
	CacheMiss
	CacheUpdate
	CacheEviction
	RemoteHit
	RemotePush
	GCStarted
	GCCompleted
)

func (k Kind) String() string {
	switch k {
	case BuildStarted:
		return "BuildStarted"
	case BuildCompleted:
		return "BuildCompleted"
	case TargetStarted:
		return "TargetStarted"
	case TargetCompleted:
		return "TargetCompleted"
	case TargetFailed:
		return "TargetFailed"
	case TargetCached:
		return "TargetCached"
	case CacheHit:
		return "CacheHit"
	case CacheMiss:
		return "CacheMiss"
	case CacheUpdate:
		return "CacheUpdate"
	case CacheEviction:
		return "CacheEviction"
	case RemoteHit:
		return "RemoteHit"
	case RemotePush:
		return "RemotePush"
	case GCStarted:
		return "GCStarted"
	case GCCompleted:
		return "GCCompleted"
	default:
		return "Unknown"
	}
}

// Event is one published occurrence. TargetID and Attributes are
// optional and populated per Kind (e.g. TargetStarted sets TargetID,
// CacheHit sets Attributes["content_hash"]).
type Event struct {
	Kind       Kind
	Timestamp  time.Time
	TargetID   string
	Attributes map[string]string
	Err        error
}

// subscriberBufferSize bounds each subscriber's channel so one slow
// consumer (e.g. a TUI redraw) cannot block the build pipeline; once
// full, further events to that subscriber are dropped rather than
// blocking the publisher.
const subscriberBufferSize = 256

// Bus is a multi-subscriber event fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscription is a handle returned by Subscribe; call Unsubscribe (or
// range Events until the bus closes it) to stop receiving.
type Subscription struct {
	id     int
	bus    *Bus
	Events <-chan Event
}

// Subscribe registers a new subscriber and returns a Subscription whose
// Events channel receives every event published after this call.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBufferSize)
	b.subscribers[id] = ch

	return &Subscription{id: id, bus: b, Events: ch}
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if ch, ok := s.bus.subscribers[s.id]; ok {
		delete(s.bus.subscribers, s.id)
		close(ch)
	}
}

// Publish fans an event out to every current subscriber, non-blocking:
// a subscriber with a full buffer misses the event rather than stalling
// the publisher.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions, mostly for
// tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber's channel and clears the subscriber set.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
