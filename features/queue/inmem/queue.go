// Package inmem provides an in-process job queue. Jobs run on their own
// goroutine as soon as they are enqueued; it backs tests and single-process
// deployments.
package inmem

import (
	"context"
	"sync"

	"goa.design/clue/log"
)

// Handler executes the job for one run id.
type Handler func(ctx context.Context, runID string) error

// Queue implements service.Queue in process.
type Queue struct {
	handler Handler

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	baseCtx context.Context
	stop    context.CancelFunc
}

// New returns a queue dispatching jobs to handler.
func New(handler Handler) *Queue {
	ctx, stop := context.WithCancel(context.Background())
	return &Queue{
		handler: handler,
		cancels: make(map[string]context.CancelFunc),
		baseCtx: ctx,
		stop:    stop,
	}
}

// Enqueue implements service.Queue.
func (q *Queue) Enqueue(_ context.Context, runID string) error {
	jctx, cancel := context.WithCancel(q.baseCtx)
	q.mu.Lock()
	q.cancels[runID] = cancel
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() {
			q.mu.Lock()
			delete(q.cancels, runID)
			q.mu.Unlock()
			cancel()
		}()
		if err := q.handler(jctx, runID); err != nil {
			log.Error(jctx, err, log.KV{K: "run_id", V: runID})
		}
	}()
	return nil
}

// Remove implements service.Queue.
func (q *Queue) Remove(_ context.Context, runID string) error {
	q.mu.Lock()
	cancel, ok := q.cancels[runID]
	q.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Shutdown cancels all running jobs and waits for them to return.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.stop()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
