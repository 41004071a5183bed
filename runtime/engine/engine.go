// Package engine defines the contract between the run worker and the agent
// engine that drives a run. The engine emits a strictly ordered stream of
// typed events on a channel; the worker consumes them one at a time and, for
// tool starts, answers on a per-call decision channel before the engine
// proceeds. The protocol keeps the worker the single writer for the run while
// still letting it gate individual tool calls.
package engine

import (
	"context"
	"encoding/json"
)

// Engine runs one agent execution. Run returns the event channel immediately;
// events arrive in engine order and the channel is closed after the final
// RunFinished event. Cancelling ctx stops the engine, which still emits
// RunFinished (carrying ctx's error) before closing the channel.
type Engine interface {
	Run(ctx context.Context, in Input) (<-chan Event, error)
}

// Input carries everything the engine needs to drive a run.
type Input struct {
	RunID        string
	ThreadID     string
	Instructions string
	Model        string
	// Tools lists the engine-facing tool names available to the run.
	Tools []string
}

// Event is the closed union of engine emissions.
type Event interface {
	sealedEvent()
}

// ToolRequest describes a tool call the engine wants to execute.
type ToolRequest struct {
	// Name is the engine-facing tool name, resolved by the worker against
	// the run's declared tool usages.
	Name string
	// Arguments is the raw argument document.
	Arguments json.RawMessage
}

// Decision is the worker's answer to a ToolStarted event.
type Decision struct {
	// Err aborts the call. The engine emits ToolFailed with this error
	// instead of executing.
	Err error
	// Inputs merges client-supplied values into the call arguments before
	// execution.
	Inputs map[string]string
	// Output short-circuits execution: the engine emits ToolSucceeded with
	// this value as the result without running the tool itself. Used for
	// client-executed function tools.
	Output *string
}

// ToolStarted announces a tool call. The engine blocks until the worker sends
// exactly one Decision on the channel.
type ToolStarted struct {
	Call     ToolRequest
	Decision chan<- Decision
}

// ToolSucceeded carries the result of the most recent tool call.
type ToolSucceeded struct {
	Result ToolResult
}

// ToolFailed reports that the most recent tool call failed.
type ToolFailed struct {
	Err error
}

// MessageDelta carries a chunk of assistant message text.
type MessageDelta struct {
	Text string
}

// MessageCompleted marks the end of the current assistant message.
type MessageCompleted struct{}

// ThoughtDelta carries a chunk of intermediate reasoning text.
type ThoughtDelta struct {
	Text string
}

// ThoughtCompleted marks the end of the current thought.
type ThoughtCompleted struct{}

// RunFinished is always the last event. Err is nil on success, the causal
// error otherwise (including ctx.Err() on cancellation).
type RunFinished struct {
	Err error
}

func (ToolStarted) sealedEvent()      {}
func (ToolSucceeded) sealedEvent()    {}
func (ToolFailed) sealedEvent()       {}
func (MessageDelta) sealedEvent()     {}
func (MessageCompleted) sealedEvent() {}
func (ThoughtDelta) sealedEvent()     {}
func (ThoughtCompleted) sealedEvent() {}
func (RunFinished) sealedEvent()      {}

// ToolResult is the closed union of tool call results.
type ToolResult interface {
	sealedToolResult()
}

// StringResult is a plain text tool result.
type StringResult struct {
	Value string
}

// CodeInterpreterResult carries interpreter execution output.
type CodeInterpreterResult struct {
	Stdout        []string
	Stderr        []string
	OutputFileIDs []string
}

// FileSearchHit is one ranked file search match.
type FileSearchHit struct {
	FileID  string
	Content string
	Score   float64
}

// FileSearchResults carries ranked file search matches.
type FileSearchResults struct {
	Hits []FileSearchHit
}

func (StringResult) sealedToolResult()          {}
func (CodeInterpreterResult) sealedToolResult() {}
func (FileSearchResults) sealedToolResult()     {}
