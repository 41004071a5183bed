package run

import "time"

// StepStatus enumerates the run step lifecycle states.
type StepStatus string

const (
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepCancelled  StepStatus = "cancelled"
)

// StepKind discriminates the step detail union.
type StepKind string

const (
	StepMessageCreation StepKind = "message_creation"
	StepToolCalls       StepKind = "tool_calls"
	StepThought         StepKind = "thought"
)

// StepDetails is the closed union of step payloads.
type StepDetails interface {
	StepKind() StepKind
	sealedStepDetails()
}

// MessageCreationDetails records the message a step produced.
type MessageCreationDetails struct {
	MessageID string
}

func (MessageCreationDetails) StepKind() StepKind { return StepMessageCreation }
func (MessageCreationDetails) sealedStepDetails() {}

// ToolCallsDetails records the tool calls a step executed.
type ToolCallsDetails struct {
	ToolCalls []ToolCall
}

func (ToolCallsDetails) StepKind() StepKind { return StepToolCalls }
func (ToolCallsDetails) sealedStepDetails() {}

// ThoughtDetails records intermediate reasoning text.
type ThoughtDetails struct {
	Text string
}

func (ThoughtDetails) StepKind() StepKind { return StepThought }
func (ThoughtDetails) sealedStepDetails() {}

// Step is one observable unit of work inside a run. Steps are created by the
// owning worker as the engine progresses and are never mutated after the run
// reaches a terminal status.
type Step struct {
	ID       string
	RunID    string
	ThreadID string

	Status  StepStatus
	Details StepDetails

	// LastError is set when the step failed.
	LastError *RunError

	// Event carries engine trace metadata attached at creation.
	Event map[string]string

	CreatedAt   time.Time
	CompletedAt time.Time

	now func() time.Time
}

// NewStep builds an in-progress step for the given run.
func NewStep(r *Run, details StepDetails) *Step {
	clock := r.now
	if clock == nil {
		clock = time.Now
	}
	return &Step{
		ID:        NewID("step"),
		RunID:     r.ID,
		ThreadID:  r.ThreadID,
		Status:    StepInProgress,
		Details:   details,
		CreatedAt: clock().UTC(),
		now:       clock,
	}
}

func (s *Step) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// Complete marks the step finished.
func (s *Step) Complete() {
	s.Status = StepCompleted
	s.CompletedAt = s.clock()
}

// Fail marks the step failed with the given error.
func (s *Step) Fail(runErr *RunError) {
	s.Status = StepFailed
	s.LastError = runErr
	s.CompletedAt = s.clock()
}

// Cancel marks the step cancelled.
func (s *Step) Cancel() {
	s.Status = StepCancelled
	s.CompletedAt = s.clock()
}
