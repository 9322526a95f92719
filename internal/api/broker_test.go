package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	runID := "r1"
	ch := b.Subscribe(runID)
	other := b.Subscribe("r2")

	evt := SSEEvent{Type: EventImproved, Data: map[string]any{"bestDistance": 42}}
	b.Publish(runID, evt)

	select {
	case got := <-ch:
		assert.Equal(t, evt, got)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-other:
		t.Fatalf("event leaked to another run: %+v", got)
	default:
	}

	b.Unsubscribe(runID, ch)
	_, ok := <-ch
	assert.False(t, ok, "channel closed after unsubscribe")
	b.Unsubscribe(runID, ch)
	b.Publish(runID, evt)
}

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r1")
	for i := 0; i < 100; i++ {
		b.Publish("r1", SSEEvent{Type: EventCheckpoint, Data: map[string]any{"i": i}})
	}
	require.Len(t, ch, cap(ch))
	first := <-ch
	assert.Equal(t, 0, first.Data["i"])
}

func TestBrokerDeliversDoneToAFullSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r1")
	for i := 0; i < 100; i++ {
		b.Publish("r1", SSEEvent{Type: EventCheckpoint, Data: map[string]any{"i": i}})
	}
	require.Len(t, ch, cap(ch))

	published := make(chan struct{})
	go func() {
		b.Publish("r1", SSEEvent{Type: EventDone, Data: map[string]any{"status": "completed"}})
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	var last SSEEvent
	n := len(ch)
	for i := 0; i < n; i++ {
		last = <-ch
	}
	assert.Equal(t, cap(ch), n)
	assert.Equal(t, EventDone, last.Type)
	assert.Equal(t, "completed", last.Data["status"])
}
