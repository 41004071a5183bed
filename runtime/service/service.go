// Package service implements the client-facing run operations: creating and
// enqueuing runs, reading them, requesting cancellation and submitting the
// decisions a suspended run waits for. The service never executes runs; it
// writes the QUEUED record, hands the run id to the job queue and signals the
// owning worker through the bus.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/clue/log"

	"github.com/threadrun/threadrun/runtime/apierrors"
	"github.com/threadrun/threadrun/runtime/gate"
	"github.com/threadrun/threadrun/runtime/run"
	"github.com/threadrun/threadrun/runtime/stream"
)

// Queue dispatches run jobs to workers.
type Queue interface {
	// Enqueue schedules execution of the run. The run id is the job key, so
	// redelivery of the same run is idempotent at the worker.
	Enqueue(ctx context.Context, runID string) error
	// Remove withdraws a scheduled job if it has not started.
	Remove(ctx context.Context, runID string) error
}

// Options holds the service dependencies.
type Options struct {
	Store   run.Store
	Queue   Queue
	Sink    stream.Sink
	Signals gate.Bus
	// DailyLimit caps runs created per principal per UTC day. Zero disables
	// the quota.
	DailyLimit int
	// TTL overrides run.DefaultTTL when positive.
	TTL time.Duration
	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
}

// Service exposes the run operations.
type Service struct {
	store      run.Store
	queue      Queue
	sink       stream.Sink
	signals    gate.Bus
	dailyLimit int
	ttl        time.Duration
	clock      func() time.Time
}

// New validates opts and returns a service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("missing store")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("missing queue")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("missing sink")
	}
	if opts.Signals == nil {
		return nil, fmt.Errorf("missing signal bus")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:      opts.Store,
		queue:      opts.Queue,
		sink:       opts.Sink,
		signals:    opts.Signals,
		dailyLimit: opts.DailyLimit,
		ttl:        opts.TTL,
		clock:      clock,
	}, nil
}

// CreateInput carries the fields for CreateRun.
type CreateInput struct {
	ThreadID      string
	AssistantID   string
	CreatedBy     string
	Tools         []run.ToolUsage
	ToolApprovals map[string]run.Policy
	Instructions  string
	Model         string
	Metadata      map[string]string
}

// CreateRun persists a QUEUED run and schedules its execution. If the job
// cannot be enqueued the run is immediately failed so clients never observe a
// QUEUED run that no worker will ever pick up.
func (s *Service) CreateRun(ctx context.Context, in CreateInput) (*run.Run, error) {
	if in.ThreadID == "" {
		return nil, apierrors.New(apierrors.CodeInvalidInput, "thread id is required")
	}
	if in.AssistantID == "" {
		return nil, apierrors.New(apierrors.CodeInvalidInput, "assistant id is required")
	}
	if err := s.checkQuota(ctx, in.CreatedBy); err != nil {
		return nil, err
	}

	r := run.New(run.NewInput{
		ThreadID:      in.ThreadID,
		AssistantID:   in.AssistantID,
		CreatedBy:     in.CreatedBy,
		Tools:         in.Tools,
		ToolApprovals: in.ToolApprovals,
		Instructions:  in.Instructions,
		Model:         in.Model,
		Metadata:      in.Metadata,
		TTL:           s.ttl,
		Clock:         s.clock,
	})
	if err := s.store.SaveRun(ctx, r); err != nil {
		return nil, apierrors.From(err)
	}
	pub := stream.NewPublisher(s.sink, r.ID)
	pub.TrySend(ctx, stream.RunCreated, stream.ToRunDTO(r))

	if err := s.queue.Enqueue(ctx, r.ID); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "enqueue failed"}, log.KV{K: "run_id", V: r.ID})
		apiErr := apierrors.From(err)
		if failErr := r.Fail(&run.RunError{Code: string(apiErr.Code), Message: apiErr.Message}); failErr == nil {
			if saveErr := s.store.SaveRun(ctx, r); saveErr != nil {
				log.Error(ctx, saveErr, log.KV{K: "run_id", V: r.ID})
			}
		}
		pub.TrySend(ctx, stream.RunFailed, stream.ToRunDTO(r))
		pub.TryDone(ctx)
		return nil, apiErr
	}
	pub.TrySend(ctx, stream.RunQueued, stream.ToRunDTO(r))

	log.Info(ctx, log.KV{K: "msg", V: "run created"},
		log.KV{K: "run_id", V: r.ID},
		log.KV{K: "thread_id", V: r.ThreadID})
	return r, nil
}

// checkQuota enforces the per-principal daily creation ceiling.
func (s *Service) checkQuota(ctx context.Context, createdBy string) error {
	if s.dailyLimit <= 0 {
		return nil
	}
	dayStart := s.clock().UTC().Truncate(24 * time.Hour)
	count, err := s.store.CountRunsCreatedSince(ctx, createdBy, dayStart)
	if err != nil {
		return apierrors.From(err)
	}
	if count >= s.dailyLimit {
		return apierrors.Newf(apierrors.CodeTooManyRequests,
			"daily run limit of %d reached", s.dailyLimit)
	}
	return nil
}

// ReadRun returns the run with the given id.
func (s *Service) ReadRun(ctx context.Context, id string) (*run.Run, error) {
	r, err := s.store.LoadRun(ctx, id)
	if err != nil {
		if errors.Is(err, run.ErrNotFound) {
			return nil, apierrors.Newf(apierrors.CodeNotFound, "run %s not found", id)
		}
		return nil, apierrors.From(err)
	}
	return r, nil
}

// CancelRun requests cancellation of a running run. The transition to
// CANCELLING is committed here; the owning worker observes it and finalizes
// the cancellation.
func (s *Service) CancelRun(ctx context.Context, id string) (*run.Run, error) {
	r, err := s.ReadRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.StartCancel(); err != nil {
		return nil, apierrors.Newf(apierrors.CodeInvalidInput,
			"run %s cannot be cancelled from status %s", id, r.Status)
	}
	if err := s.store.SaveRun(ctx, r); err != nil {
		return nil, apierrors.From(err)
	}
	pub := stream.NewPublisher(s.sink, r.ID)
	pub.TrySend(ctx, stream.RunCancelling, stream.ToRunDTO(r))
	log.Info(ctx, log.KV{K: "msg", V: "run cancellation requested"}, log.KV{K: "run_id", V: id})
	return r, nil
}

// ApprovalSubmission is one approval decision.
type ApprovalSubmission struct {
	ToolCallID string
	Approve    bool
}

// SubmitApprovals answers a pending approval action. Every tool call listed
// on the action must be covered and no unknown call may be referenced.
func (s *Service) SubmitApprovals(ctx context.Context, runID string, approvals []ApprovalSubmission) error {
	action, err := s.pendingAction(ctx, runID, run.ActionApprove)
	if err != nil {
		return err
	}
	if err := coverage(action, len(approvals), func(i int) string { return approvals[i].ToolCallID }); err != nil {
		return err
	}
	for _, a := range approvals {
		payload := "false"
		if a.Approve {
			payload = "true"
		}
		if err := s.signals.Publish(ctx, gate.ApproveChannel(runID, a.ToolCallID), payload); err != nil {
			return apierrors.From(err)
		}
	}
	return nil
}

// InputsSubmission carries input values for one tool call.
type InputsSubmission struct {
	ToolCallID string
	Fields     []gate.InputField
}

// SubmitInputs answers a pending input action.
func (s *Service) SubmitInputs(ctx context.Context, runID string, inputs []InputsSubmission) error {
	action, err := s.pendingAction(ctx, runID, run.ActionInput)
	if err != nil {
		return err
	}
	if err := coverage(action, len(inputs), func(i int) string { return inputs[i].ToolCallID }); err != nil {
		return err
	}
	for _, in := range inputs {
		if err := requireFields(action.InputFields, in.Fields); err != nil {
			return err
		}
		payload, err := json.Marshal(in.Fields)
		if err != nil {
			return apierrors.From(err)
		}
		if err := s.signals.Publish(ctx, gate.InputChannel(runID, in.ToolCallID), string(payload)); err != nil {
			return apierrors.From(err)
		}
	}
	return nil
}

// OutputSubmission carries the client-computed output of one tool call.
type OutputSubmission struct {
	ToolCallID string
	Output     string
}

// SubmitToolOutputs answers a pending output action.
func (s *Service) SubmitToolOutputs(ctx context.Context, runID string, outputs []OutputSubmission) error {
	action, err := s.pendingAction(ctx, runID, run.ActionOutput)
	if err != nil {
		return err
	}
	if err := coverage(action, len(outputs), func(i int) string { return outputs[i].ToolCallID }); err != nil {
		return err
	}
	for _, out := range outputs {
		if err := s.signals.Publish(ctx, gate.OutputChannel(runID, out.ToolCallID), out.Output); err != nil {
			return apierrors.From(err)
		}
	}
	return nil
}

// pendingAction loads the run and asserts it is suspended on an action of
// the given type.
func (s *Service) pendingAction(ctx context.Context, runID string, typ run.ActionType) (*run.RequiredAction, error) {
	r, err := s.ReadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Status != run.StatusRequiresAction || r.RequiredAction == nil {
		return nil, apierrors.Newf(apierrors.CodeInvalidInput,
			"run %s is not waiting for an action", runID)
	}
	if r.RequiredAction.Type != typ {
		return nil, apierrors.Newf(apierrors.CodeInvalidInput,
			"run %s is waiting for a %s action, not %s", runID, r.RequiredAction.Type, typ)
	}
	return r.RequiredAction, nil
}

// coverage asserts the submission references exactly the action's tool calls.
func coverage(action *run.RequiredAction, n int, id func(int) string) error {
	covered := make(map[string]bool, len(action.ToolCalls))
	for i := 0; i < n; i++ {
		callID := id(i)
		if _, ok := action.Call(callID); !ok {
			return apierrors.Newf(apierrors.CodeInvalidInput,
				"tool call %s is not part of the pending action", callID)
		}
		covered[callID] = true
	}
	for _, tc := range action.ToolCalls {
		if !covered[tc.CallID()] {
			return apierrors.Newf(apierrors.CodeInvalidInput,
				"tool call %s is missing from the submission", tc.CallID())
		}
	}
	return nil
}

// requireFields asserts every declared input field was submitted.
func requireFields(required []string, fields []gate.InputField) error {
	submitted := make(map[string]bool, len(fields))
	for _, f := range fields {
		submitted[f.Name] = true
	}
	for _, name := range required {
		if !submitted[name] {
			return apierrors.Newf(apierrors.CodeInvalidInput,
				"input field %q is missing from the submission", name)
		}
	}
	return nil
}
