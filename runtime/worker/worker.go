// Package worker executes runs. A worker owns a run for its whole execution:
// it is the only writer of the run document between Start and the terminal
// commit, so every persisted transition and every published event for the run
// flows through one goroutine in order.
package worker

import (
	"context"
	"fmt"
	"time"

	"goa.design/clue/log"

	"github.com/threadrun/threadrun/runtime/apierrors"
	"github.com/threadrun/threadrun/runtime/cancelation"
	"github.com/threadrun/threadrun/runtime/engine"
	"github.com/threadrun/threadrun/runtime/gate"
	"github.com/threadrun/threadrun/runtime/run"
	"github.com/threadrun/threadrun/runtime/stream"
	"github.com/threadrun/threadrun/runtime/telemetry"
)

// Options holds the worker dependencies.
type Options struct {
	Store      run.Store
	Engine     engine.Engine
	Sink       stream.Sink
	Signals    gate.Bus
	Controller *cancelation.Controller
	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
	// Metrics is optional.
	Metrics *telemetry.Metrics
}

// Worker drives runs from QUEUED to a terminal status.
type Worker struct {
	store      run.Store
	eng        engine.Engine
	sink       stream.Sink
	signals    gate.Bus
	controller *cancelation.Controller
	clock      func() time.Time
	metrics    *telemetry.Metrics
}

// New validates opts and returns a worker.
func New(opts Options) (*Worker, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("missing store")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("missing engine")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("missing sink")
	}
	if opts.Signals == nil {
		return nil, fmt.Errorf("missing signal bus")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("missing cancelation controller")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Worker{
		store:      opts.Store,
		eng:        opts.Engine,
		sink:       opts.Sink,
		signals:    opts.Signals,
		controller: opts.Controller,
		clock:      clock,
		metrics:    opts.Metrics,
	}, nil
}

// Execute runs the job for one run id. It is idempotent: a redelivered job
// for a terminal run is a no-op. Any failure before or during engine
// execution that is not a cancellation or expiration parks the run FAILED
// with a normalized error so no run is left non-terminal.
func (w *Worker) Execute(ctx context.Context, runID string) (err error) {
	ctx = log.With(ctx, log.KV{K: "run_id", V: runID})

	r, err := w.store.LoadRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	r.WithClock(w.clock)
	if r.Terminal() {
		log.Info(ctx, log.KV{K: "msg", V: "run already terminal"},
			log.KV{K: "status", V: string(r.Status)})
		return nil
	}

	pub := stream.NewPublisher(w.sink, runID)
	defer pub.TryDone(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("run handler panic: %v", rec)
			w.park(ctx, r, pub, err)
		}
	}()

	if r.Expired(w.clock()) {
		return w.expire(ctx, r, pub)
	}

	if err := r.Start(); err != nil {
		w.park(ctx, r, pub, err)
		return err
	}
	if err := w.store.SaveRun(ctx, r); err != nil {
		w.park(ctx, r, pub, err)
		return err
	}
	pub.TrySend(ctx, stream.RunInProgress, stream.ToRunDTO(r))
	started := w.clock()

	wctx, cause, stopWatch := w.controller.Watch(ctx, r)
	defer stopWatch()

	events, err := w.eng.Run(wctx, engine.Input{
		RunID:        r.ID,
		ThreadID:     r.ThreadID,
		Instructions: r.Instructions,
		Model:        r.Model,
		Tools:        toolNames(r.Tools),
	})
	if err != nil {
		w.park(ctx, r, pub, err)
		return err
	}

	d := newDispatcher(w, r, pub, cause)
	runErr := d.consume(wctx, ctx, events)
	stopWatch()

	err = w.finish(ctx, r, pub, cause(), runErr)
	w.metrics.RecordRun(ctx, string(r.Status), w.clock().Sub(started))
	return err
}

// finish commits the terminal transition. The winning cancellation cause
// takes precedence over the engine outcome, and an elapsed deadline beats a
// successful result that has not been committed yet.
func (w *Worker) finish(ctx context.Context, r *run.Run, pub *stream.Publisher, cause cancelation.Cause, runErr error) error {
	switch {
	case cause == cancelation.CauseExpired || (runErr == nil && r.Expired(w.clock())):
		return w.expire(ctx, r, pub)

	case cause == cancelation.CauseCancelled, cause == cancelation.CauseShutdown:
		if r.Status != run.StatusCancelling {
			if err := r.StartCancel(); err != nil {
				w.park(ctx, r, pub, err)
				return err
			}
		}
		if err := r.Cancel(); err != nil {
			w.park(ctx, r, pub, err)
			return err
		}
		if err := w.store.SaveRun(ctx, r); err != nil {
			return err
		}
		pub.TrySend(ctx, stream.RunCancelled, stream.ToRunDTO(r))
		log.Info(ctx, log.KV{K: "msg", V: "run cancelled"}, log.KV{K: "cause", V: string(cause)})
		return nil

	case runErr != nil:
		w.park(ctx, r, pub, runErr)
		return runErr

	default:
		if err := r.Complete(); err != nil {
			w.park(ctx, r, pub, err)
			return err
		}
		if err := w.store.SaveRun(ctx, r); err != nil {
			return err
		}
		pub.TrySend(ctx, stream.RunCompleted, stream.ToRunDTO(r))
		log.Info(ctx, log.KV{K: "msg", V: "run completed"})
		return nil
	}
}

// expire commits the EXPIRED terminal status.
func (w *Worker) expire(ctx context.Context, r *run.Run, pub *stream.Publisher) error {
	if err := r.Expire(); err != nil {
		w.park(ctx, r, pub, err)
		return err
	}
	if err := w.store.SaveRun(ctx, r); err != nil {
		return err
	}
	pub.TrySend(ctx, stream.RunExpired, stream.ToRunDTO(r))
	log.Info(ctx, log.KV{K: "msg", V: "run expired"})
	return nil
}

// park fails the run with a normalized error. It is the safeguard of last
// resort, so it tolerates a run that already reached a terminal status.
func (w *Worker) park(ctx context.Context, r *run.Run, pub *stream.Publisher, cause error) {
	log.Error(ctx, cause, log.KV{K: "msg", V: "run failed"})
	if r.Terminal() {
		return
	}
	apiErr := apierrors.From(cause)
	if err := r.Fail(&run.RunError{Code: string(apiErr.Code), Message: apiErr.Message}); err != nil {
		log.Error(ctx, err)
		return
	}
	if err := w.store.SaveRun(ctx, r); err != nil {
		log.Error(ctx, err)
		return
	}
	pub.TrySend(ctx, stream.RunFailed, stream.ToRunDTO(r))
}

func toolNames(usages []run.ToolUsage) []string {
	names := make([]string, len(usages))
	for i, u := range usages {
		names[i] = u.CallName()
	}
	return names
}
