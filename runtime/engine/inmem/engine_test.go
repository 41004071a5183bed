package inmem_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadrun/threadrun/runtime/engine"
	"github.com/threadrun/threadrun/runtime/engine/inmem"
)

func drain(t *testing.T, events <-chan engine.Event, decide func(engine.ToolStarted) engine.Decision) []engine.Event {
	t.Helper()
	var seen []engine.Event
	for ev := range events {
		if ts, ok := ev.(engine.ToolStarted); ok {
			ts.Decision <- decide(ts)
		}
		seen = append(seen, ev)
	}
	return seen
}

func TestScriptedMessageAndThought(t *testing.T) {
	eng := inmem.New(
		inmem.ThoughtStep{Deltas: []string{"let me ", "think"}},
		inmem.MessageStep{Deltas: []string{"hello ", "world"}},
	)
	events, err := eng.Run(context.Background(), engine.Input{RunID: "run_1"})
	require.NoError(t, err)

	seen := drain(t, events, nil)
	require.Len(t, seen, 7)
	assert.Equal(t, engine.ThoughtDelta{Text: "let me "}, seen[0])
	assert.Equal(t, engine.ThoughtDelta{Text: "think"}, seen[1])
	assert.Equal(t, engine.ThoughtCompleted{}, seen[2])
	assert.Equal(t, engine.MessageDelta{Text: "hello "}, seen[3])
	assert.Equal(t, engine.MessageDelta{Text: "world"}, seen[4])
	assert.Equal(t, engine.MessageCompleted{}, seen[5])
	assert.Equal(t, engine.RunFinished{}, seen[6])
}

func TestToolDecisionAllows(t *testing.T) {
	eng := inmem.New(inmem.ToolStep{
		Name:      "web_search",
		Arguments: json.RawMessage(`{"query":"redis"}`),
		Result:    engine.StringResult{Value: "ok"},
	})
	events, err := eng.Run(context.Background(), engine.Input{RunID: "run_1"})
	require.NoError(t, err)

	seen := drain(t, events, func(engine.ToolStarted) engine.Decision {
		return engine.Decision{}
	})
	require.Len(t, seen, 3)
	assert.Equal(t, engine.ToolSucceeded{Result: engine.StringResult{Value: "ok"}}, seen[1])
	assert.Equal(t, engine.RunFinished{}, seen[2])
}

func TestToolDecisionShortCircuitsWithOutput(t *testing.T) {
	eng := inmem.New(inmem.ToolStep{Name: "get_weather"})
	events, err := eng.Run(context.Background(), engine.Input{RunID: "run_1"})
	require.NoError(t, err)

	output := "sunny"
	seen := drain(t, events, func(engine.ToolStarted) engine.Decision {
		return engine.Decision{Output: &output}
	})
	require.Len(t, seen, 3)
	assert.Equal(t, engine.ToolSucceeded{Result: engine.StringResult{Value: "sunny"}}, seen[1])
}

func TestToolDecisionAbortEndsRun(t *testing.T) {
	abort := errors.New("rejected")
	eng := inmem.New(
		inmem.ToolStep{Name: "web_search"},
		inmem.MessageStep{Deltas: []string{"never sent"}},
	)
	events, err := eng.Run(context.Background(), engine.Input{RunID: "run_1"})
	require.NoError(t, err)

	seen := drain(t, events, func(engine.ToolStarted) engine.Decision {
		return engine.Decision{Err: abort}
	})
	require.Len(t, seen, 3)
	assert.Equal(t, engine.ToolFailed{Err: abort}, seen[1])
	assert.Equal(t, engine.RunFinished{Err: abort}, seen[2])
}

func TestRunFinishedDeliveredOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eng := inmem.New(inmem.ToolStep{Name: "web_search"})
	events, err := eng.Run(ctx, engine.Input{RunID: "run_1"})
	require.NoError(t, err)

	_, ok := (<-events).(engine.ToolStarted)
	require.True(t, ok)
	cancel()

	var last engine.Event
	for ev := range events {
		last = ev
	}
	finished, ok := last.(engine.RunFinished)
	require.True(t, ok)
	assert.ErrorIs(t, finished.Err, context.Canceled)
}
