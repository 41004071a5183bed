// Package run defines the run, run step, and tool call records together with
// the run state machine. The run is the top-level unit of execution: it is
// created QUEUED by the run service, owned and mutated by exactly one job
// worker for its whole lifetime, and never reopened once terminal.
//
// State transitions are methods on Run. Each one asserts its precondition and
// returns a *StateError on violation; a StateError is a programming or
// client-contract error, never a condition to retry.
package run

import (
	"fmt"
	"time"
)

// Status enumerates the run lifecycle states.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusInProgress     Status = "in_progress"
	StatusRequiresAction Status = "requires_action"
	StatusCancelling     Status = "cancelling"
	StatusCancelled      Status = "cancelled"
	StatusFailed         Status = "failed"
	StatusCompleted      Status = "completed"
	StatusExpired        Status = "expired"
)

// DefaultTTL is the wall-clock budget granted to a run at creation.
// ExpiresAt = CreatedAt + TTL; a run may expire from any non-terminal state.
const DefaultTTL = 10 * time.Minute

// Policy is a tool approval policy declared at run creation.
type Policy string

const (
	// PolicyNever lets the tool execute without an approval gate.
	PolicyNever Policy = "never"
	// PolicyAlways suspends the run for an operator decision on every call.
	PolicyAlways Policy = "always"
)

// Run is the durable record for one agent execution.
type Run struct {
	ID          string
	ThreadID    string
	AssistantID string
	CreatedBy   string

	Status Status

	// Tools is the ordered list of tool usages declared for this run. Tool
	// call classification (ToolCallFor) resolves engine tool names against
	// this list.
	Tools []ToolUsage

	// ToolApprovals maps a tool identity (ApprovalKey) to its policy.
	ToolApprovals map[string]Policy

	// RequiredAction is set while the run is REQUIRES_ACTION and nil
	// otherwise.
	RequiredAction *RequiredAction

	// LastError is the normalized error for FAILED runs.
	LastError *RunError

	Instructions string
	Model        string
	Metadata     map[string]string

	CreatedAt   time.Time
	ExpiresAt   time.Time
	StartedAt   time.Time
	CancelledAt time.Time
	FailedAt    time.Time
	CompletedAt time.Time

	// now stamps transition timestamps; injectable for tests.
	now func() time.Time
}

// RunError is the structured error shape persisted on a run. It mirrors
// apierrors.Error without importing it so the record package stays leaf.
type RunError struct {
	Code    string `json:"code" bson:"code"`
	Message string `json:"message" bson:"message"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInput carries the caller-provided fields for New.
type NewInput struct {
	ThreadID      string
	AssistantID   string
	CreatedBy     string
	Tools         []ToolUsage
	ToolApprovals map[string]Policy
	Instructions  string
	Model         string
	Metadata      map[string]string
	// TTL overrides DefaultTTL when positive.
	TTL time.Duration
	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
}

// New builds a QUEUED run with its expiration deadline stamped.
func New(in NewInput) *Run {
	clock := in.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := clock().UTC()
	return &Run{
		ID:            NewID("run"),
		ThreadID:      in.ThreadID,
		AssistantID:   in.AssistantID,
		CreatedBy:     in.CreatedBy,
		Status:        StatusQueued,
		Tools:         in.Tools,
		ToolApprovals: in.ToolApprovals,
		Instructions:  in.Instructions,
		Model:         in.Model,
		Metadata:      in.Metadata,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		now:           clock,
	}
}

// WithClock sets the transition clock. Records loaded from storage use it to
// regain a clock after deserialization; tests use it for determinism.
func (r *Run) WithClock(clock func() time.Time) *Run {
	r.now = clock
	return r
}

// StateError reports a transition attempted from a status outside its
// precondition set. It is a programming-error-class failure.
type StateError struct {
	Status  Status
	Allowed []Status
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("run status %q is not in %v", e.Status, e.Allowed)
}

func (r *Run) assertStatus(allowed ...Status) error {
	for _, s := range allowed {
		if r.Status == s {
			return nil
		}
	}
	return &StateError{Status: r.Status, Allowed: allowed}
}

func (r *Run) clock() time.Time {
	if r.now == nil {
		return time.Now().UTC()
	}
	return r.now().UTC()
}

// Terminal reports whether the run has reached a terminal status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusCancelled, StatusFailed, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// Start moves a queued run into execution.
func (r *Run) Start() error {
	if err := r.assertStatus(StatusQueued); err != nil {
		return err
	}
	r.Status = StatusInProgress
	r.StartedAt = r.clock()
	return nil
}

// StartCancel records a cancellation request. The owning worker observes the
// CANCELLING status and completes the transition with Cancel.
func (r *Run) StartCancel() error {
	if err := r.assertStatus(StatusInProgress, StatusRequiresAction); err != nil {
		return err
	}
	r.Status = StatusCancelling
	return nil
}

// Cancel finalizes a cancellation already in flight.
func (r *Run) Cancel() error {
	if err := r.assertStatus(StatusCancelling); err != nil {
		return err
	}
	r.Status = StatusCancelled
	r.CancelledAt = r.clock()
	r.RequiredAction = nil
	return nil
}

// Fail terminates the run with a structured error. Permitted from any
// non-terminal status so infrastructure guards can always park a run.
func (r *Run) Fail(runErr *RunError) error {
	if err := r.assertStatus(StatusQueued, StatusInProgress, StatusRequiresAction, StatusCancelling); err != nil {
		return err
	}
	r.Status = StatusFailed
	r.FailedAt = r.clock()
	r.LastError = runErr
	r.RequiredAction = nil
	return nil
}

// Expire terminates a run whose deadline elapsed. A run can expire while
// waiting on anything, including a pending cancellation.
func (r *Run) Expire() error {
	if err := r.assertStatus(StatusQueued, StatusInProgress, StatusRequiresAction, StatusCancelling); err != nil {
		return err
	}
	r.Status = StatusExpired
	r.RequiredAction = nil
	return nil
}

// Complete terminates a successful run.
func (r *Run) Complete() error {
	if err := r.assertStatus(StatusInProgress); err != nil {
		return err
	}
	r.Status = StatusCompleted
	r.CompletedAt = r.clock()
	return nil
}

// RequireAction suspends the run pending a client decision.
func (r *Run) RequireAction(action *RequiredAction) error {
	if err := r.assertStatus(StatusInProgress); err != nil {
		return err
	}
	if action == nil || len(action.ToolCalls) == 0 {
		return fmt.Errorf("required action must reference at least one tool call")
	}
	r.Status = StatusRequiresAction
	r.RequiredAction = action
	return nil
}

// SubmitAction clears the pending action and resumes execution.
func (r *Run) SubmitAction() error {
	if err := r.assertStatus(StatusRequiresAction); err != nil {
		return err
	}
	r.Status = StatusInProgress
	r.RequiredAction = nil
	return nil
}

// ApprovalPolicy returns the policy declared for the given tool identity,
// defaulting to PolicyNever.
func (r *Run) ApprovalPolicy(key string) Policy {
	if p, ok := r.ToolApprovals[key]; ok {
		return p
	}
	return PolicyNever
}

// Expired reports whether the deadline elapsed at the given instant.
func (r *Run) Expired(at time.Time) bool {
	return !r.ExpiresAt.IsZero() && at.After(r.ExpiresAt)
}
