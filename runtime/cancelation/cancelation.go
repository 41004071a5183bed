// Package cancelation turns durable run state into context cancellation for
// the owning worker. Cancellation requests are level-triggered: the run
// service flips the run to CANCELLING in storage and the controller's poll
// observes the status, so a request lands even if a pub/sub notification
// would have been lost. Expiration uses a local timer armed at the run's
// deadline. The first cause to fire wins and is the one the worker routes on.
package cancelation

import (
	"context"
	"errors"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/threadrun/threadrun/runtime/run"
)

// Cause identifies why a watched context was cancelled.
type Cause string

const (
	// CauseNone means the context is still live or ended with the run.
	CauseNone Cause = ""
	// CauseCancelled means a client cancellation request was observed.
	CauseCancelled Cause = "cancelled"
	// CauseExpired means the run's deadline elapsed.
	CauseExpired Cause = "expired"
	// CauseShutdown means the worker process is stopping.
	CauseShutdown Cause = "shutdown"
)

// DefaultPollInterval is how often the controller re-reads the run status.
const DefaultPollInterval = 5 * time.Second

// Controller watches runs for cancellation and expiration.
type Controller struct {
	store run.Store
	poll  time.Duration
	clock func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollInterval overrides the status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.poll = d }
}

// WithClock overrides the expiration clock.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

// New returns a controller reading run state from store.
func New(store run.Store, opts ...Option) *Controller {
	c := &Controller{store: store, poll: DefaultPollInterval, clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Watch derives a context that is cancelled when the run is asked to cancel,
// when its deadline elapses, or when parent is cancelled (shutdown). The
// returned cause function reports the winning cause once the context ends;
// stop releases the watch.
func (c *Controller) Watch(parent context.Context, r *run.Run) (context.Context, func() Cause, func()) {
	ctx, cancel := context.WithCancel(parent)
	w := &watch{cancel: cancel}

	var timer <-chan time.Time
	var stopTimer func() bool
	if !r.ExpiresAt.IsZero() {
		t := time.NewTimer(r.ExpiresAt.Sub(c.clock()))
		timer = t.C
		stopTimer = t.Stop
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if stopTimer != nil {
			defer stopTimer()
		}
		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if parent.Err() != nil {
					w.fire(CauseShutdown)
				}
				return
			case <-timer:
				w.fire(CauseExpired)
				return
			case <-ticker.C:
				if c.cancellationRequested(parent, r.ID) {
					w.fire(CauseCancelled)
					return
				}
			}
		}
	}()

	stop := func() {
		cancel()
		<-done
	}
	return ctx, w.cause, stop
}

// cancellationRequested re-reads the run and reports whether a cancellation
// is pending. A deleted run counts as a request so the worker stops work
// nobody can observe anymore.
func (c *Controller) cancellationRequested(ctx context.Context, runID string) bool {
	current, err := c.store.LoadRun(ctx, runID)
	if err != nil {
		if errors.Is(err, run.ErrNotFound) {
			return true
		}
		log.Warn(ctx, log.KV{K: "msg", V: "cancellation poll failed"},
			log.KV{K: "run_id", V: runID},
			log.KV{K: "err", V: err.Error()})
		return false
	}
	return current.Status == run.StatusCancelling
}

type watch struct {
	once   sync.Once
	cancel context.CancelFunc
	mu     sync.Mutex
	c      Cause
}

func (w *watch) fire(cause Cause) {
	w.once.Do(func() {
		w.mu.Lock()
		w.c = cause
		w.mu.Unlock()
		w.cancel()
	})
}

func (w *watch) cause() Cause {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c
}
