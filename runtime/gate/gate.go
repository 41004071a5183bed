// Package gate suspends a run pending a client decision and resumes it when
// the decision arrives on the signal bus. The gate always subscribes before
// it persists and announces the REQUIRES_ACTION status, so a client reacting
// to the announcement can never publish into a channel nobody listens on.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"goa.design/clue/log"

	"github.com/threadrun/threadrun/runtime/run"
	"github.com/threadrun/threadrun/runtime/stream"
)

// ErrApprovalRejected reports a denied approval gate. It is a final client
// decision, never retried.
var ErrApprovalRejected = errors.New("tool call approval rejected")

// Bus delivers one-shot decision payloads on named channels.
type Bus interface {
	// Publish sends payload to every current subscriber of channel.
	Publish(ctx context.Context, channel, payload string) error
	// Subscribe starts listening on channel. The returned stop function
	// releases the subscription; it is safe to call more than once.
	Subscribe(ctx context.Context, channel string) (<-chan string, func(), error)
}

// ApproveChannel names the approval channel for a tool call.
func ApproveChannel(runID, callID string) string {
	return fmt.Sprintf("run:%s:call:%s:approve", runID, callID)
}

// InputChannel names the input channel for a tool call.
func InputChannel(runID, callID string) string {
	return fmt.Sprintf("run:%s:call:%s:input", runID, callID)
}

// OutputChannel names the output channel for a tool call.
func OutputChannel(runID, callID string) string {
	return fmt.Sprintf("run:%s:call:%s:output", runID, callID)
}

// InputField is one submitted input value.
type InputField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Gate suspends and resumes a run around client decisions.
type Gate struct {
	bus   Bus
	store run.Store
	pub   *stream.Publisher
}

// New returns a gate bound to one run's publishing session.
func New(bus Bus, store run.Store, pub *stream.Publisher) *Gate {
	return &Gate{bus: bus, store: store, pub: pub}
}

// AwaitApproval suspends the run until the call is approved or denied.
// Returns ErrApprovalRejected on denial.
func (g *Gate) AwaitApproval(ctx context.Context, r *run.Run, call run.ToolCall) error {
	payload, err := g.await(ctx, r, call, run.ActionApprove, ApproveChannel(r.ID, call.CallID()), nil)
	if err != nil {
		return err
	}
	approved, err := parseBool(payload)
	if err != nil {
		return err
	}
	if !approved {
		return ErrApprovalRejected
	}
	return nil
}

// AwaitInputs suspends the run until values for the given fields arrive.
func (g *Gate) AwaitInputs(ctx context.Context, r *run.Run, call run.ToolCall, fields []string) (map[string]string, error) {
	payload, err := g.await(ctx, r, call, run.ActionInput, InputChannel(r.ID, call.CallID()), fields)
	if err != nil {
		return nil, err
	}
	var submitted []InputField
	if err := json.Unmarshal([]byte(payload), &submitted); err != nil {
		return nil, fmt.Errorf("decode input submission: %w", err)
	}
	values := make(map[string]string, len(submitted))
	for _, f := range submitted {
		values[f.Name] = f.Value
	}
	return values, nil
}

// AwaitOutput suspends the run until the client submits the call's output.
func (g *Gate) AwaitOutput(ctx context.Context, r *run.Run, call run.ToolCall) (string, error) {
	return g.await(ctx, r, call, run.ActionOutput, OutputChannel(r.ID, call.CallID()), nil)
}

// await is the shared suspend/resume sequence: subscribe, persist the
// pending action, announce it, block for the decision, clear the action.
func (g *Gate) await(ctx context.Context, r *run.Run, call run.ToolCall, typ run.ActionType, channel string, fields []string) (string, error) {
	msgs, stop, err := g.bus.Subscribe(ctx, channel)
	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w", channel, err)
	}
	defer stop()

	action := run.NewRequiredAction(typ, []run.ToolCall{call})
	action.InputFields = fields
	if err := r.RequireAction(action); err != nil {
		return "", err
	}
	if err := g.store.SaveRun(ctx, r); err != nil {
		return "", err
	}
	g.pub.TrySend(ctx, stream.RunRequiresAction, stream.ToRunDTO(r))
	g.pub.TryDone(ctx)
	log.Info(ctx, log.KV{K: "msg", V: "run suspended"},
		log.KV{K: "run_id", V: r.ID},
		log.KV{K: "action", V: string(typ)},
		log.KV{K: "tool_call_id", V: call.CallID()})

	var payload string
	select {
	case payload = <-msgs:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if err := r.SubmitAction(); err != nil {
		return "", err
	}
	if err := g.store.SaveRun(ctx, r); err != nil {
		return "", err
	}
	g.pub.TrySend(ctx, stream.RunInProgress, stream.ToRunDTO(r))
	return payload, nil
}

func parseBool(payload string) (bool, error) {
	switch payload {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("unexpected approval payload %q", payload)
}
