// Package inmem provides a scripted engine. Each step of the script becomes
// the corresponding event sequence on the run channel, honoring the decision
// protocol and context cancellation exactly like a real engine. It backs the
// worker tests and local development.
package inmem

import (
	"context"
	"encoding/json"

	"github.com/threadrun/threadrun/runtime/engine"
)

// Step is one scripted engine action.
type Step interface {
	sealedStep()
}

// ToolStep emits a tool call and, unless the decision aborts or
// short-circuits it, the scripted result.
type ToolStep struct {
	Name      string
	Arguments json.RawMessage
	// Result is emitted on success when the decision does not supply an
	// output. Nil defaults to an empty StringResult.
	Result engine.ToolResult
	// Err makes the call fail after the decision, simulating a tool
	// execution error.
	Err error
}

// MessageStep streams an assistant message in the given chunks.
type MessageStep struct {
	Deltas []string
}

// ThoughtStep streams a thought in the given chunks.
type ThoughtStep struct {
	Deltas []string
}

func (ToolStep) sealedStep()    {}
func (MessageStep) sealedStep() {}
func (ThoughtStep) sealedStep() {}

// Engine replays a fixed script.
type Engine struct {
	Script []Step
	// Err, when set, finishes the run with this error after the script.
	Err error
}

// New returns an engine that replays the given script.
func New(script ...Step) *Engine {
	return &Engine{Script: script}
}

// Run implements engine.Engine.
func (e *Engine) Run(ctx context.Context, _ engine.Input) (<-chan engine.Event, error) {
	ch := make(chan engine.Event)
	go func() {
		defer close(ch)
		for _, step := range e.Script {
			if err := e.play(ctx, ch, step); err != nil {
				emit(ctx, ch, engine.RunFinished{Err: err})
				return
			}
		}
		emit(ctx, ch, engine.RunFinished{Err: e.Err})
	}()
	return ch, nil
}

func (e *Engine) play(ctx context.Context, ch chan<- engine.Event, step Step) error {
	switch s := step.(type) {
	case ToolStep:
		return e.playTool(ctx, ch, s)
	case MessageStep:
		for _, d := range s.Deltas {
			if err := emit(ctx, ch, engine.MessageDelta{Text: d}); err != nil {
				return err
			}
		}
		return emit(ctx, ch, engine.MessageCompleted{})
	case ThoughtStep:
		for _, d := range s.Deltas {
			if err := emit(ctx, ch, engine.ThoughtDelta{Text: d}); err != nil {
				return err
			}
		}
		return emit(ctx, ch, engine.ThoughtCompleted{})
	}
	return nil
}

func (e *Engine) playTool(ctx context.Context, ch chan<- engine.Event, s ToolStep) error {
	decision := make(chan engine.Decision, 1)
	started := engine.ToolStarted{
		Call:     engine.ToolRequest{Name: s.Name, Arguments: s.Arguments},
		Decision: decision,
	}
	if err := emit(ctx, ch, started); err != nil {
		return err
	}
	var d engine.Decision
	select {
	case d = <-decision:
	case <-ctx.Done():
		return ctx.Err()
	}
	switch {
	case d.Err != nil:
		// An aborted call terminates the script, like an agent loop
		// unwinding on a rejected tool.
		if err := emit(ctx, ch, engine.ToolFailed{Err: d.Err}); err != nil {
			return err
		}
		return d.Err
	case d.Output != nil:
		return emit(ctx, ch, engine.ToolSucceeded{Result: engine.StringResult{Value: *d.Output}})
	case s.Err != nil:
		if err := emit(ctx, ch, engine.ToolFailed{Err: s.Err}); err != nil {
			return err
		}
		return s.Err
	}
	result := s.Result
	if result == nil {
		result = engine.StringResult{}
	}
	return emit(ctx, ch, engine.ToolSucceeded{Result: result})
}

func emit(ctx context.Context, ch chan<- engine.Event, ev engine.Event) error {
	select {
	case ch <- ev:
		return nil
	case <-ctx.Done():
		// Deliver RunFinished even under cancellation so consumers always
		// observe the final event.
		if _, ok := ev.(engine.RunFinished); ok {
			ch <- ev
			return nil
		}
		return ctx.Err()
	}
}
