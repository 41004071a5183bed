// Package inmem provides an in-process stream backend. Events are retained
// per run so a subscriber attaching at any point replays the full sequence
// then follows live publishes, matching the Pulse-backed behavior.
package inmem

import (
	"context"
	"sync"

	"github.com/threadrun/threadrun/runtime/stream"
)

// Hub implements both stream.Sink and stream.Subscriber in memory.
type Hub struct {
	mu     sync.Mutex
	events map[string][]stream.Event
	subs   map[string][]*subscription
}

type subscription struct {
	ch     chan stream.Event
	done   chan struct{}
	closed bool
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{
		events: make(map[string][]stream.Event),
		subs:   make(map[string][]*subscription),
	}
}

// Send implements stream.Sink.
func (h *Hub) Send(_ context.Context, ev stream.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[ev.RunID] = append(h.events[ev.RunID], ev)
	for _, sub := range h.subs[ev.RunID] {
		sub.deliver(ev)
	}
	return nil
}

// Close implements stream.Sink.
func (h *Hub) Close(context.Context) error {
	return nil
}

// Subscribe implements stream.Subscriber. The returned channel replays the
// retained events then follows live publishes; it is closed after a done
// event or when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, runID string) (<-chan stream.Event, error) {
	sub := &subscription{
		ch:   make(chan stream.Event, 256),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	for _, ev := range h.events[runID] {
		sub.deliver(ev)
	}
	if !sub.closed {
		h.subs[runID] = append(h.subs[runID], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
		}
		h.drop(runID, sub)
	}()
	return sub.ch, nil
}

// RunIDs returns the ids of every run with retained events. Test helper.
func (h *Hub) RunIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.events))
	for id := range h.events {
		ids = append(ids, id)
	}
	return ids
}

// Events returns the retained events for the run. Test helper.
func (h *Hub) Events(runID string) []stream.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]stream.Event(nil), h.events[runID]...)
}

func (h *Hub) drop(runID string, sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[runID]
	for i, s := range subs {
		if s == sub {
			h.subs[runID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// deliver is called with the hub lock held.
func (s *subscription) deliver(ev stream.Event) {
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// A subscriber that stops draining loses the stream rather than
		// blocking publishers.
		s.closed = true
		close(s.ch)
		return
	}
	if ev.Name == stream.Done {
		s.closed = true
		close(s.ch)
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
}
