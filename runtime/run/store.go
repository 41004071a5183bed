package run

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store persists runs and their derived records. The worker is the only
// writer for a run after it is queued, so implementations need atomicity per
// document but no cross-run coordination.
type Store interface {
	// LoadRun returns the run with the given id or ErrNotFound.
	LoadRun(ctx context.Context, id string) (*Run, error)
	// SaveRun upserts the run document.
	SaveRun(ctx context.Context, r *Run) error
	// SaveStep upserts a run step.
	SaveStep(ctx context.Context, s *Step) error
	// SaveMessage upserts a message.
	SaveMessage(ctx context.Context, m *Message) error
	// CountRunsCreatedSince counts runs created by the given principal at or
	// after the given instant. The run service uses it to enforce the daily
	// creation quota.
	CountRunsCreatedSince(ctx context.Context, createdBy string, since time.Time) (int, error)
}
