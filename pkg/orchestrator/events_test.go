package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversToSubscriber(t *testing.T) {
	bus := NewEventBus()
	received := make(chan Event, 1)
	bus.Subscribe(TopicStarted, func(e Event) { received <- e })

	bus.Publish(Event{Topic: TopicStarted, ProjectID: "proj-1"})

	select {
	case evt := <-received:
		assert.Equal(t, TopicStarted, evt.Topic)
		assert.Equal(t, "proj-1", evt.ProjectID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestEventBusIgnoresOtherTopics(t *testing.T) {
	bus := NewEventBus()
	received := make(chan Event, 1)
	bus.Subscribe(TopicCompleted, func(e Event) { received <- e })

	bus.Publish(Event{Topic: TopicStarted, ProjectID: "proj-1"})

	select {
	case <-received:
		t.Fatal("subscriber on a different topic should not receive the event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBusSubscriberPanicIsolated(t *testing.T) {
	bus := NewEventBus()
	done := make(chan struct{})

	bus.Subscribe(TopicAborted, func(e Event) { panic("boom") })
	bus.Subscribe(TopicAborted, func(e Event) { close(done) })

	require.NotPanics(t, func() {
		bus.Publish(Event{Topic: TopicAborted, ProjectID: "proj-2"})
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second subscriber should still be invoked despite the first panicking")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	count := make(chan struct{}, 2)
	bus.Subscribe(TopicPaused, func(e Event) { count <- struct{}{} })
	bus.Subscribe(TopicPaused, func(e Event) { count <- struct{}{} })

	bus.Publish(Event{Topic: TopicPaused, ProjectID: "proj-3"})

	for i := 0; i < 2; i++ {
		select {
		case <-count:
		case <-time.After(time.Second):
			t.Fatalf("expected 2 deliveries, got %d", i)
		}
	}
}
