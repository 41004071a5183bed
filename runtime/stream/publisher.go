package stream

import (
	"context"
	"encoding/json"

	"goa.design/clue/log"
)

// Publisher is a per-run publishing session over a Sink. It owns JSON
// encoding and keeps every event stamped with the run id. A publisher is used
// by a single goroutine, matching the single-writer ownership of a run.
type Publisher struct {
	sink  Sink
	runID string
}

// NewPublisher returns a publishing session for the given run.
func NewPublisher(sink Sink, runID string) *Publisher {
	return &Publisher{sink: sink, runID: runID}
}

// Send encodes data and publishes it under the given event name.
func (p *Publisher) Send(ctx context.Context, name EventName, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.sink.Send(ctx, Event{Name: name, RunID: p.runID, Data: raw})
}

// Done publishes the terminating sentinel. Streaming sessions end on done, so
// it is sent both when a run suspends for client action and when it reaches a
// terminal status.
func (p *Publisher) Done(ctx context.Context) error {
	data, _ := json.Marshal(DoneSentinel)
	return p.sink.Send(ctx, Event{Name: Done, RunID: p.runID, Data: data})
}

// TrySend publishes like Send but only logs failures. Used on paths that must
// not let streaming errors mask the primary outcome.
func (p *Publisher) TrySend(ctx context.Context, name EventName, data any) {
	if err := p.Send(ctx, name, data); err != nil {
		log.Error(ctx, err, log.KV{K: "event", V: string(name)}, log.KV{K: "run_id", V: p.runID})
	}
}

// TryDone publishes the sentinel, logging failures.
func (p *Publisher) TryDone(ctx context.Context) {
	if err := p.Done(ctx); err != nil {
		log.Error(ctx, err, log.KV{K: "run_id", V: p.runID})
	}
}
