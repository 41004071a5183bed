package cancelation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	runinmem "github.com/threadrun/threadrun/features/run/inmem"
	"github.com/threadrun/threadrun/runtime/cancelation"
	"github.com/threadrun/threadrun/runtime/run"
)

func newWatchedRun(t *testing.T, store *runinmem.Store, ttl time.Duration) *run.Run {
	t.Helper()
	r := run.New(run.NewInput{ThreadID: "thread_1", AssistantID: "asst_1", TTL: ttl})
	require.NoError(t, r.Start())
	require.NoError(t, store.SaveRun(context.Background(), r))
	return r
}

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watch context never cancelled")
	}
}

func TestWatchObservesCancellationRequest(t *testing.T) {
	store := runinmem.New()
	r := newWatchedRun(t, store, time.Hour)
	ctrl := cancelation.New(store, cancelation.WithPollInterval(10*time.Millisecond))

	ctx, cause, stop := ctrl.Watch(context.Background(), r)
	defer stop()

	// Flip the durable status the way the run service does.
	stored, err := store.LoadRun(context.Background(), r.ID)
	require.NoError(t, err)
	require.NoError(t, stored.StartCancel())
	require.NoError(t, store.SaveRun(context.Background(), stored))

	waitDone(t, ctx)
	assert.Equal(t, cancelation.CauseCancelled, cause())
}

func TestWatchFiresAtDeadline(t *testing.T) {
	store := runinmem.New()
	r := newWatchedRun(t, store, 20*time.Millisecond)
	ctrl := cancelation.New(store, cancelation.WithPollInterval(time.Hour))

	ctx, cause, stop := ctrl.Watch(context.Background(), r)
	defer stop()

	waitDone(t, ctx)
	assert.Equal(t, cancelation.CauseExpired, cause())
}

func TestWatchReportsShutdown(t *testing.T) {
	store := runinmem.New()
	r := newWatchedRun(t, store, time.Hour)
	ctrl := cancelation.New(store, cancelation.WithPollInterval(time.Hour))

	parent, cancel := context.WithCancel(context.Background())
	ctx, cause, stop := ctrl.Watch(parent, r)
	defer stop()

	cancel()
	waitDone(t, ctx)
	stop()
	assert.Equal(t, cancelation.CauseShutdown, cause())
}

func TestWatchTreatsDeletedRunAsCancellation(t *testing.T) {
	store := runinmem.New()
	r := run.New(run.NewInput{ThreadID: "thread_1", AssistantID: "asst_1", TTL: time.Hour})
	require.NoError(t, r.Start())
	// Never saved: the poll sees not-found.
	ctrl := cancelation.New(store, cancelation.WithPollInterval(10*time.Millisecond))

	ctx, cause, stop := ctrl.Watch(context.Background(), r)
	defer stop()

	waitDone(t, ctx)
	assert.Equal(t, cancelation.CauseCancelled, cause())
}

func TestStopWithoutCauseLeavesNone(t *testing.T) {
	store := runinmem.New()
	r := newWatchedRun(t, store, time.Hour)
	ctrl := cancelation.New(store, cancelation.WithPollInterval(time.Hour))

	ctx, cause, stop := ctrl.Watch(context.Background(), r)
	stop()
	waitDone(t, ctx)
	assert.Equal(t, cancelation.CauseNone, cause())
}

func TestFirstCauseWins(t *testing.T) {
	store := runinmem.New()
	r := newWatchedRun(t, store, 15*time.Millisecond)
	ctrl := cancelation.New(store, cancelation.WithPollInterval(time.Hour))

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, cause, stop := ctrl.Watch(parent, r)
	defer stop()

	waitDone(t, ctx)
	first := cause()
	assert.Equal(t, cancelation.CauseExpired, first)

	// A later shutdown must not overwrite the recorded cause.
	cancel()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, first, cause())
}
