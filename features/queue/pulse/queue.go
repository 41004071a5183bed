// Package pulse implements the run job queue on a Pulse worker pool. The run
// id is the job key: dispatching the same run twice is rejected by the pool,
// and a requeued terminal run is a no-op at the executor. Jobs are finite;
// the handler reports completion back to the pool by stopping its own job.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"goa.design/pulse/pool"
)

// Executor runs the job for one run id.
type Executor interface {
	Execute(ctx context.Context, runID string) error
}

// Options configures the queue.
type Options struct {
	// Redis is the Redis connection backing the pool. Required.
	Redis *redis.Client
	// PoolName identifies the worker pool. Defaults to "runs".
	PoolName string
	// NodeOptions are additional options for the Pulse pool node.
	NodeOptions []pool.NodeOption
}

const defaultPoolName = "runs"

// Queue implements service.Queue on a Pulse pool node.
type Queue struct {
	node *pool.Node
}

// jobPayload is the wire shape of a run job.
type jobPayload struct {
	RunID string `json:"runId"`
}

// New joins the worker pool. Call Work to also execute jobs on this node;
// a node that never calls Work only dispatches.
func New(ctx context.Context, opts Options) (*Queue, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	name := opts.PoolName
	if name == "" {
		name = defaultPoolName
	}
	node, err := pool.AddNode(ctx, name, opts.Redis, opts.NodeOptions...)
	if err != nil {
		return nil, fmt.Errorf("add pool node: %w", err)
	}
	return &Queue{node: node}, nil
}

// Enqueue implements service.Queue.
func (q *Queue) Enqueue(ctx context.Context, runID string) error {
	if runID == "" {
		return errors.New("run id is required")
	}
	payload, err := json.Marshal(jobPayload{RunID: runID})
	if err != nil {
		return err
	}
	if err := q.node.DispatchJob(ctx, runID, payload); err != nil {
		return fmt.Errorf("dispatch run job: %w", err)
	}
	return nil
}

// Remove implements service.Queue.
func (q *Queue) Remove(ctx context.Context, runID string) error {
	return q.node.StopJob(ctx, runID)
}

// Work registers this node as a job executor. Jobs assigned to the node run
// on their own goroutine; when the pool stops a job (rebalance or shutdown)
// the goroutine's context is cancelled and the executor finalizes the run.
func (q *Queue) Work(ctx context.Context, exec Executor) error {
	h := &handler{
		exec: exec,
		node: q.node,
		base: ctx,
		jobs: make(map[string]context.CancelFunc),
	}
	if _, err := q.node.AddWorker(ctx, h); err != nil {
		return fmt.Errorf("add pool worker: %w", err)
	}
	return nil
}

// Shutdown drains the node and stops its jobs.
func (q *Queue) Shutdown(ctx context.Context) error {
	return q.node.Shutdown(ctx)
}

// handler implements pool.JobHandler.
type handler struct {
	exec Executor
	node *pool.Node
	base context.Context

	mu   sync.Mutex
	jobs map[string]context.CancelFunc
}

// Start implements pool.JobHandler. It returns once the job goroutine is
// launched; the goroutine stops its own job when the run reaches a terminal
// status so the pool does not redeliver it.
func (h *handler) Start(job *pool.Job) error {
	var p jobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	if p.RunID == "" {
		return errors.New("job payload missing run id")
	}

	ctx, cancel := context.WithCancel(h.base)
	h.mu.Lock()
	h.jobs[job.Key] = cancel
	h.mu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			h.mu.Lock()
			delete(h.jobs, job.Key)
			h.mu.Unlock()
		}()
		if err := h.exec.Execute(ctx, p.RunID); err != nil {
			log.Error(ctx, err, log.KV{K: "run_id", V: p.RunID})
		}
		if err := h.node.StopJob(context.WithoutCancel(ctx), job.Key); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "stop job failed"},
				log.KV{K: "run_id", V: p.RunID},
				log.KV{K: "err", V: err.Error()})
		}
	}()
	return nil
}

// Stop implements pool.JobHandler.
func (h *handler) Stop(key string) error {
	h.mu.Lock()
	cancel := h.jobs[key]
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
