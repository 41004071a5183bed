// Package inmem provides an in-process signal bus with the same delivery
// contract as the Redis implementation: a publish reaches current subscribers
// only, and subscribing completes before Subscribe returns.
package inmem

import (
	"context"
	"sync"
)

// Bus implements gate.Bus in memory.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]chan string
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]chan string)}
}

// Publish implements gate.Bus. Delivery is asynchronous per subscriber.
func (b *Bus) Publish(_ context.Context, channel, payload string) error {
	b.mu.Lock()
	targets := append([]chan string(nil), b.subs[channel]...)
	b.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe implements gate.Bus.
func (b *Bus) Subscribe(_ context.Context, channel string) (<-chan string, func(), error) {
	ch := make(chan string, 1)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[channel]
			for i, sub := range subs {
				if sub == ch {
					b.subs[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}
	return ch, stop, nil
}
