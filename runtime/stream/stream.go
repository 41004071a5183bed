// Package stream defines the client-facing event vocabulary and the Sink and
// Subscriber contracts used to fan events out to any number of concurrent
// listeners. Events are published to a per-run channel; subscribers attach at
// any time and replay from the beginning of the retained window, so a late
// subscriber still sees the full event sequence for a short-lived run.
package stream

import (
	"context"
	"encoding/json"
)

// EventName is a client-facing event type.
type EventName string

const (
	RunCreated        EventName = "thread.run.created"
	RunQueued         EventName = "thread.run.queued"
	RunInProgress     EventName = "thread.run.in_progress"
	RunRequiresAction EventName = "thread.run.requires_action"
	RunCancelling     EventName = "thread.run.cancelling"
	RunCancelled      EventName = "thread.run.cancelled"
	RunFailed         EventName = "thread.run.failed"
	RunCompleted      EventName = "thread.run.completed"
	RunExpired        EventName = "thread.run.expired"

	StepCreated    EventName = "thread.run.step.created"
	StepInProgress EventName = "thread.run.step.in_progress"
	StepDelta      EventName = "thread.run.step.delta"
	StepCompleted  EventName = "thread.run.step.completed"
	StepFailed     EventName = "thread.run.step.failed"
	StepCancelled  EventName = "thread.run.step.cancelled"

	MessageCreated    EventName = "thread.message.created"
	MessageInProgress EventName = "thread.message.in_progress"
	MessageDelta      EventName = "thread.message.delta"
	MessageCompleted  EventName = "thread.message.completed"
	MessageIncomplete EventName = "thread.message.incomplete"

	// Done terminates a streaming session. Its data is always DoneSentinel.
	Done EventName = "done"
	// ErrorEvent reports a stream-level failure to subscribers.
	ErrorEvent EventName = "error"
)

// DoneSentinel is the data payload of every Done event.
const DoneSentinel = "[DONE]"

// Event is one published stream event.
type Event struct {
	Name  EventName       `json:"event"`
	RunID string          `json:"run_id"`
	Data  json.RawMessage `json:"data"`
}

// Sink publishes events to the per-run channel.
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close(ctx context.Context) error
}

// Subscriber delivers the event sequence for one run. The channel replays the
// retained window then follows live publishes; it is closed after a Done
// event or when ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, runID string) (<-chan Event, error)
}
