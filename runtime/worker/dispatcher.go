package worker

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"goa.design/clue/log"

	"github.com/threadrun/threadrun/runtime/apierrors"
	"github.com/threadrun/threadrun/runtime/cancelation"
	"github.com/threadrun/threadrun/runtime/engine"
	"github.com/threadrun/threadrun/runtime/gate"
	"github.com/threadrun/threadrun/runtime/run"
	"github.com/threadrun/threadrun/runtime/stream"
)

// dispatcher consumes the engine event stream for one run. It translates
// engine events into persisted steps and messages plus their client-facing
// stream events, and answers tool starts after consulting the approval,
// input, and output gates.
type dispatcher struct {
	w     *Worker
	r     *run.Run
	pub   *stream.Publisher
	gate  *gate.Gate
	cause func() cancelation.Cause

	// pending tool call state between ToolStarted and its outcome event.
	call      run.ToolCall
	callStep  *run.Step
	callBegan time.Time

	// open message state between the first MessageDelta and MessageCompleted.
	msg     *run.Message
	msgStep *run.Step

	// open thought state between the first ThoughtDelta and ThoughtCompleted.
	thought     *run.Step
	thoughtText string

	// fatal records a dispatcher-level programming error that must fail the
	// run even when the engine reports success.
	fatal error
}

func newDispatcher(w *Worker, r *run.Run, pub *stream.Publisher, cause func() cancelation.Cause) *dispatcher {
	return &dispatcher{
		w:     w,
		r:     r,
		pub:   pub,
		gate:  gate.New(w.signals, w.store, pub),
		cause: cause,
	}
}

// consume drains the event channel until RunFinished and returns the engine
// outcome. wctx carries run cancellation and gates block on it; pctx is the
// job context used for persistence and publishing.
func (d *dispatcher) consume(wctx, pctx context.Context, events <-chan engine.Event) error {
	var runErr error
	for ev := range events {
		switch e := ev.(type) {
		case engine.ToolStarted:
			d.onToolStarted(wctx, pctx, e)
		case engine.ToolSucceeded:
			d.onToolSucceeded(pctx, e)
		case engine.ToolFailed:
			d.onToolFailed(pctx, e)
		case engine.MessageDelta:
			d.onMessageDelta(pctx, e)
		case engine.MessageCompleted:
			d.onMessageCompleted(pctx)
		case engine.ThoughtDelta:
			d.onThoughtDelta(pctx, e)
		case engine.ThoughtCompleted:
			d.onThoughtCompleted(pctx)
		case engine.RunFinished:
			runErr = e.Err
		}
	}
	d.closeOpen(pctx)
	if runErr == nil {
		runErr = d.fatal
	}
	return runErr
}

// onToolStarted classifies the call, records its step, walks the gates and
// answers the engine. Exactly one decision is sent per event.
func (d *dispatcher) onToolStarted(wctx, pctx context.Context, ev engine.ToolStarted) {
	usage, ok := d.r.UsageFor(ev.Call.Name)
	if !ok {
		ev.Decision <- engine.Decision{Err: apierrors.Newf(apierrors.CodeInternalServerError, "tool %q is not declared for this run", ev.Call.Name)}
		return
	}

	call, err := run.NewToolCall(usage, ev.Call.Arguments)
	if err != nil {
		ev.Decision <- engine.Decision{Err: apierrors.From(err)}
		return
	}
	step := run.NewStep(d.r, run.ToolCallsDetails{ToolCalls: []run.ToolCall{call}})
	d.call, d.callStep, d.callBegan = call, step, d.w.clock()
	d.saveStep(pctx, step)
	d.pub.TrySend(pctx, stream.StepCreated, stream.ToStepDTO(step))

	if err := validateArguments(usage, ev.Call.Arguments); err != nil {
		d.failStep(pctx, step, apierrors.From(err))
		ev.Decision <- engine.Decision{Err: err}
		return
	}

	if d.r.ApprovalPolicy(call.ApprovalKey()) == run.PolicyAlways {
		if err := d.gate.AwaitApproval(wctx, d.r, call); err != nil {
			d.resolveGateError(pctx, step, err)
			ev.Decision <- engine.Decision{Err: err}
			return
		}
	}

	step.Status = run.StepInProgress
	d.saveStep(pctx, step)
	d.pub.TrySend(pctx, stream.StepInProgress, stream.ToStepDTO(step))

	var inputs map[string]string
	if len(usage.RequiredInputs) > 0 {
		values, err := d.gate.AwaitInputs(wctx, d.r, call, usage.RequiredInputs)
		if err != nil {
			d.resolveGateError(pctx, step, err)
			ev.Decision <- engine.Decision{Err: err}
			return
		}
		inputs = values
	}

	// Function tools are executed by the client: suspend for the output and
	// short-circuit the engine with it.
	if usage.Kind == run.ToolFunction {
		output, err := d.gate.AwaitOutput(wctx, d.r, call)
		if err != nil {
			d.resolveGateError(pctx, step, err)
			ev.Decision <- engine.Decision{Err: err}
			return
		}
		ev.Decision <- engine.Decision{Inputs: inputs, Output: &output}
		return
	}

	ev.Decision <- engine.Decision{Inputs: inputs}
}

func (d *dispatcher) onToolSucceeded(pctx context.Context, ev engine.ToolSucceeded) {
	call, step := d.takeCall()
	if step == nil {
		log.Warn(pctx, log.KV{K: "msg", V: "tool result without a pending call"})
		return
	}
	if err := attachResult(call, ev.Result); err != nil {
		d.failStep(pctx, step, apierrors.From(err))
		d.fatal = err
		return
	}
	step.Complete()
	d.saveStep(pctx, step)
	d.pub.TrySend(pctx, stream.StepCompleted, stream.ToStepDTO(step))
	d.w.metrics.RecordToolCall(pctx, string(call.Kind()), d.w.clock().Sub(d.callBegan))
}

func (d *dispatcher) onToolFailed(pctx context.Context, ev engine.ToolFailed) {
	call, step := d.takeCall()
	if step == nil {
		return
	}
	if step.Status != run.StepInProgress {
		// The step was already resolved when the gate failed.
		return
	}
	d.resolveGateError(pctx, step, ev.Err)
	d.w.metrics.RecordToolCall(pctx, string(call.Kind()), d.w.clock().Sub(d.callBegan))
}

func (d *dispatcher) onMessageDelta(pctx context.Context, ev engine.MessageDelta) {
	if d.msg == nil {
		msg := run.NewMessage(d.r)
		step := run.NewStep(d.r, run.MessageCreationDetails{MessageID: msg.ID})
		d.msg, d.msgStep = msg, step
		d.saveStep(pctx, step)
		d.pub.TrySend(pctx, stream.StepCreated, stream.ToStepDTO(step))
		d.pub.TrySend(pctx, stream.StepInProgress, stream.ToStepDTO(step))
		d.saveMessage(pctx, msg)
		d.pub.TrySend(pctx, stream.MessageCreated, stream.ToMessageDTO(msg))
		d.pub.TrySend(pctx, stream.MessageInProgress, stream.ToMessageDTO(msg))
	}
	d.msg.Append(ev.Text)
	d.pub.TrySend(pctx, stream.MessageDelta, stream.ToMessageDeltaDTO(d.msg, ev.Text))
}

func (d *dispatcher) onMessageCompleted(pctx context.Context) {
	if d.msg == nil {
		return
	}
	d.msg.Complete()
	d.saveMessage(pctx, d.msg)
	d.pub.TrySend(pctx, stream.MessageCompleted, stream.ToMessageDTO(d.msg))
	d.msgStep.Complete()
	d.saveStep(pctx, d.msgStep)
	d.pub.TrySend(pctx, stream.StepCompleted, stream.ToStepDTO(d.msgStep))
	d.msg, d.msgStep = nil, nil
}

func (d *dispatcher) onThoughtDelta(pctx context.Context, ev engine.ThoughtDelta) {
	if d.thought == nil {
		step := run.NewStep(d.r, run.ThoughtDetails{})
		d.thought, d.thoughtText = step, ""
		d.saveStep(pctx, step)
		d.pub.TrySend(pctx, stream.StepCreated, stream.ToStepDTO(step))
		d.pub.TrySend(pctx, stream.StepInProgress, stream.ToStepDTO(step))
	}
	d.thoughtText += ev.Text
	d.pub.TrySend(pctx, stream.StepDelta, stream.ToStepDeltaDTO(d.thought, ev.Text))
}

func (d *dispatcher) onThoughtCompleted(pctx context.Context) {
	if d.thought == nil {
		return
	}
	d.thought.Details = run.ThoughtDetails{Text: d.thoughtText}
	d.thought.Complete()
	d.saveStep(pctx, d.thought)
	d.pub.TrySend(pctx, stream.StepCompleted, stream.ToStepDTO(d.thought))
	d.thought, d.thoughtText = nil, ""
}

// closeOpen resolves records left open by a run that ended mid-stream.
func (d *dispatcher) closeOpen(pctx context.Context) {
	if d.msg != nil {
		d.msg.MarkIncomplete()
		d.saveMessage(pctx, d.msg)
		d.pub.TrySend(pctx, stream.MessageIncomplete, stream.ToMessageDTO(d.msg))
		d.msgStep.Cancel()
		d.saveStep(pctx, d.msgStep)
		d.pub.TrySend(pctx, stream.StepCancelled, stream.ToStepDTO(d.msgStep))
		d.msg, d.msgStep = nil, nil
	}
	if d.thought != nil {
		d.thought.Details = run.ThoughtDetails{Text: d.thoughtText}
		d.thought.Cancel()
		d.saveStep(pctx, d.thought)
		d.pub.TrySend(pctx, stream.StepCancelled, stream.ToStepDTO(d.thought))
		d.thought = nil
	}
	if _, step := d.takeCall(); step != nil && step.Status == run.StepInProgress {
		step.Cancel()
		d.saveStep(pctx, step)
		d.pub.TrySend(pctx, stream.StepCancelled, stream.ToStepDTO(step))
	}
}

// resolveGateError closes a tool step according to why its gate or execution
// failed: cancellation and expiration cancel the step, a denial or any other
// error fails it.
func (d *dispatcher) resolveGateError(pctx context.Context, step *run.Step, err error) {
	if errors.Is(err, context.Canceled) || d.cause() != cancelation.CauseNone {
		step.Cancel()
		d.saveStep(pctx, step)
		d.pub.TrySend(pctx, stream.StepCancelled, stream.ToStepDTO(step))
		return
	}
	d.failStep(pctx, step, apierrors.From(err))
}

func (d *dispatcher) failStep(pctx context.Context, step *run.Step, apiErr *apierrors.Error) {
	step.Fail(&run.RunError{Code: string(apiErr.Code), Message: apiErr.Message})
	d.saveStep(pctx, step)
	d.pub.TrySend(pctx, stream.StepFailed, stream.ToStepDTO(step))
}

func (d *dispatcher) takeCall() (run.ToolCall, *run.Step) {
	call, step := d.call, d.callStep
	d.call, d.callStep = nil, nil
	return call, step
}

func (d *dispatcher) saveStep(pctx context.Context, step *run.Step) {
	if err := d.w.store.SaveStep(pctx, step); err != nil {
		log.Error(pctx, err, log.KV{K: "step_id", V: step.ID})
	}
}

func (d *dispatcher) saveMessage(pctx context.Context, msg *run.Message) {
	if err := d.w.store.SaveMessage(pctx, msg); err != nil {
		log.Error(pctx, err, log.KV{K: "message_id", V: msg.ID})
	}
}

// validateArguments checks function call arguments against the declared
// parameter schema. Invalid arguments fail the call, not the run.
func validateArguments(usage run.ToolUsage, args []byte) error {
	if usage.Kind != run.ToolFunction || len(usage.Parameters) == 0 {
		return nil
	}
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(usage.Parameters))
	if err != nil {
		return apierrors.Newf(apierrors.CodeInternalServerError, "tool %q parameter schema: %s", usage.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("parameters.json", schemaDoc); err != nil {
		return apierrors.Newf(apierrors.CodeInternalServerError, "tool %q parameter schema: %s", usage.Name, err)
	}
	schema, err := compiler.Compile("parameters.json")
	if err != nil {
		return apierrors.Newf(apierrors.CodeInternalServerError, "tool %q parameter schema: %s", usage.Name, err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return apierrors.Newf(apierrors.CodeInvalidInput, "tool %q arguments: %s", usage.Name, err)
	}
	if err := schema.Validate(instance); err != nil {
		return apierrors.Newf(apierrors.CodeInvalidInput, "tool %q arguments: %s", usage.Name, err)
	}
	return nil
}

// attachResult binds an engine result to its call variant. A shape mismatch
// is a programming error and fails the run.
func attachResult(call run.ToolCall, result engine.ToolResult) error {
	switch c := call.(type) {
	case *run.CodeInterpreterCall:
		res, ok := result.(engine.CodeInterpreterResult)
		if !ok {
			return mismatch(call, result)
		}
		c.Logs = append(res.Stdout, res.Stderr...)
		c.OutputFileIDs = res.OutputFileIDs
	case *run.FileSearchCall:
		res, ok := result.(engine.FileSearchResults)
		if !ok {
			return mismatch(call, result)
		}
		for _, hit := range res.Hits {
			c.Results = append(c.Results, run.FileSearchResult{FileID: hit.FileID, Content: hit.Content, Score: hit.Score})
		}
	case *run.FunctionCall:
		res, ok := result.(engine.StringResult)
		if !ok {
			return mismatch(call, result)
		}
		c.Output = res.Value
	case *run.SystemCall:
		res, ok := result.(engine.StringResult)
		if !ok {
			return mismatch(call, result)
		}
		c.Output = res.Value
	case *run.UserCall:
		res, ok := result.(engine.StringResult)
		if !ok {
			return mismatch(call, result)
		}
		c.Output = res.Value
	}
	return nil
}

func mismatch(call run.ToolCall, result engine.ToolResult) error {
	return apierrors.Newf(apierrors.CodeInternalServerError,
		"tool call %s (%s) received result of type %T", call.CallID(), call.Kind(), result)
}
