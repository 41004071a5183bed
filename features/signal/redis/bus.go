// Package redis implements the signal bus on Redis pub/sub. Subscribe blocks
// until the server confirms the subscription, so a caller that announces a
// channel after Subscribe returns is guaranteed a publish to that channel
// will be delivered.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the bus.
type Options struct {
	// Client is the Redis connection. Required.
	Client *redis.Client
	// Buffer is the per-subscription channel capacity. Defaults to 16.
	Buffer int
	// PublishTimeout bounds Publish operations. Zero means no timeout.
	PublishTimeout time.Duration
}

// Bus implements gate.Bus on Redis pub/sub.
type Bus struct {
	client  *redis.Client
	buffer  int
	timeout time.Duration
}

// New validates opts and returns a bus.
func New(opts Options) (*Bus, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{client: opts.Client, buffer: buffer, timeout: opts.PublishTimeout}, nil
}

// Publish implements gate.Bus.
func (b *Bus) Publish(ctx context.Context, channel, payload string) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements gate.Bus.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	sub := b.client.Subscribe(ctx, channel)
	// Receive returns once the server acknowledges the subscription. Without
	// it a publish racing Subscribe could be lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan string, b.buffer)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = sub.Close()
		})
	}
	return out, stop, nil
}
