package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Publish(Event{Kind: TargetStarted, Timestamp: time.Now(), TargetID: "ws//pkg:t"})

	select {
	case e := <-sub.Events:
		if e.Kind != TargetStarted || e.TargetID != "ws//pkg:t" {
			t.Errorf("got %+v, want TargetStarted for ws//pkg:t", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	bus := NewBus()
	sub1 := bus.Subscribe()
	sub2 := bus.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	bus.Publish(Event{Kind: BuildStarted})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case e := <-sub.Events:
			if e.Kind != BuildStarted {
				t.Errorf("got %v, want BuildStarted", e.Kind)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event on a subscriber")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	sub.Unsubscribe()

	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0 after Unsubscribe", bus.SubscriberCount())
	}

	_, open := <-sub.Events
	if open {
		t.Error("Events channel still open after Unsubscribe")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize+10; i++ {
			bus.Publish(Event{Kind: CacheHit})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	bus.Close()

	_, open := <-sub.Events
	if open {
		t.Error("Events channel still open after bus Close")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d after Close, want 0", bus.SubscriberCount())
	}
}
