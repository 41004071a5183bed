// Package pulse implements the stream sink and subscriber on Pulse streams.
// Each run gets its own stream named run/<run id>; Redis stream retention
// gives late subscribers the full event sequence for short-lived runs.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientspulse "github.com/threadrun/threadrun/features/stream/pulse/clients/pulse"
	"github.com/threadrun/threadrun/runtime/stream"
)

type (
	// SinkOptions configures the Pulse sink.
	SinkOptions struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
	}

	// Sink publishes run events into per-run Pulse streams. Safe for
	// concurrent Send calls.
	Sink struct {
		client clientspulse.Client
	}

	// envelope is the wire shape of one stream entry.
	envelope struct {
		Event     string          `json:"event"`
		RunID     string          `json:"run_id"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data,omitempty"`
	}
)

// StreamName derives the Pulse stream name for a run.
func StreamName(runID string) string {
	return fmt.Sprintf("run/%s", runID)
}

// NewSink constructs a Pulse-backed stream sink.
func NewSink(opts SinkOptions) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	return &Sink{client: opts.Client}, nil
}

// Send implements stream.Sink.
func (s *Sink) Send(ctx context.Context, ev stream.Event) error {
	if ev.RunID == "" {
		return errors.New("stream event missing run id")
	}
	handle, err := s.client.Stream(StreamName(ev.RunID))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{
		Event:     string(ev.Name),
		RunID:     ev.RunID,
		Timestamp: time.Now().UTC(),
		Data:      ev.Data,
	})
	if err != nil {
		return err
	}
	if _, err := handle.Add(ctx, string(ev.Name), payload); err != nil {
		return err
	}
	return nil
}

// Close implements stream.Sink.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
