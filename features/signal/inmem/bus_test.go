package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadrun/threadrun/features/signal/inmem"
)

func receive(t *testing.T, msgs <-chan string) string {
	t.Helper()
	select {
	case payload := <-msgs:
		return payload
	case <-time.After(5 * time.Second):
		t.Fatal("no signal delivered")
		return ""
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := inmem.New()
	ctx := context.Background()

	msgs, stop, err := bus.Subscribe(ctx, "run:1:call:1:approve")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, bus.Publish(ctx, "run:1:call:1:approve", "true"))
	assert.Equal(t, "true", receive(t, msgs))
}

func TestPublishWithoutSubscriberIsDropped(t *testing.T) {
	bus := inmem.New()
	ctx := context.Background()

	// Matches the pub/sub contract: no retention for absent subscribers.
	require.NoError(t, bus.Publish(ctx, "run:1:call:1:approve", "true"))

	msgs, stop, err := bus.Subscribe(ctx, "run:1:call:1:approve")
	require.NoError(t, err)
	defer stop()

	select {
	case payload := <-msgs:
		t.Fatalf("unexpected delivery %q", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelsAreIsolated(t *testing.T) {
	bus := inmem.New()
	ctx := context.Background()

	approve, stopApprove, err := bus.Subscribe(ctx, "run:1:call:1:approve")
	require.NoError(t, err)
	defer stopApprove()
	output, stopOutput, err := bus.Subscribe(ctx, "run:1:call:1:output")
	require.NoError(t, err)
	defer stopOutput()

	require.NoError(t, bus.Publish(ctx, "run:1:call:1:output", "result"))
	assert.Equal(t, "result", receive(t, output))

	select {
	case payload := <-approve:
		t.Fatalf("unexpected delivery %q", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopUnsubscribes(t *testing.T) {
	bus := inmem.New()
	ctx := context.Background()

	msgs, stop, err := bus.Subscribe(ctx, "run:1:call:1:approve")
	require.NoError(t, err)
	stop()
	stop() // idempotent

	require.NoError(t, bus.Publish(ctx, "run:1:call:1:approve", "true"))
	select {
	case payload := <-msgs:
		t.Fatalf("unexpected delivery %q", payload)
	case <-time.After(50 * time.Millisecond):
	}
}
