package api

import (
	"sync"
)

// SSEEvent is one progress message for a run.
type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type EventBroker interface {
	Subscribe(runID string) chan SSEEvent
	Unsubscribe(runID string, ch chan SSEEvent)
	Publish(runID string, evt SSEEvent)
}

// Broker fans events out in process. Slow subscribers drop events rather
// than block the publisher, except the done event: it replaces the oldest
// queued event so that followers always see the end of a run.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // runId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(runID string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(runID string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[runID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, runID)
	}
	close(ch)
}

func (b *Broker) Publish(runID string, evt SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[runID] {
		deliver(ch, evt)
	}
}

// deliver never blocks. A full channel drops evt, or its oldest event when
// evt is the done event. Callers must be the only sender on ch.
func deliver(ch chan SSEEvent, evt SSEEvent) {
	select {
	case ch <- evt:
		return
	default:
	}
	if evt.Type != EventDone {
		return
	}
	select {
	case <-ch:
	default:
	}
	ch <- evt
}
