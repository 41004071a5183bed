package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/threadrun/threadrun/features/stream/pulse/clients/pulse"
	"github.com/threadrun/threadrun/runtime/run"
	"github.com/threadrun/threadrun/runtime/stream"
)

type (
	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// Buffer is the event channel capacity. Defaults to 64.
		Buffer int
	}

	// Subscriber consumes per-run Pulse streams and emits run events. Each
	// Subscribe call creates its own consumer group so concurrent
	// subscribers each see the full sequence.
	Subscriber struct {
		client clientspulse.Client
		buffer int
	}
)

// NewSubscriber constructs a Pulse-backed subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscriber{client: opts.Client, buffer: buffer}, nil
}

// Subscribe implements stream.Subscriber. The channel replays the retained
// stream then follows live publishes; it is closed after a done event or
// when ctx ends.
func (s *Subscriber) Subscribe(ctx context.Context, runID string) (<-chan stream.Event, error) {
	str, err := s.client.Stream(StreamName(runID))
	if err != nil {
		return nil, err
	}
	sink, err := str.NewSink(ctx, run.NewID("sub"), streamopts.WithSinkStartAtOldest())
	if err != nil {
		return nil, err
	}
	out := make(chan stream.Event, s.buffer)
	go s.consume(ctx, sink, out)
	return out, nil
}

func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- stream.Event) {
	defer close(out)
	defer sink.Close(context.Background())
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := decodeEnvelope(evt.Payload)
			if err != nil {
				// A malformed entry ends the subscription rather than
				// silently skipping events.
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			_ = sink.Ack(ctx, evt)
			if decoded.Name == stream.Done {
				return
			}
		}
	}
}

func decodeEnvelope(payload []byte) (stream.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return stream.Event{}, fmt.Errorf("decode stream envelope: %w", err)
	}
	return stream.Event{
		Name:  stream.EventName(env.Event),
		RunID: env.RunID,
		Data:  env.Data,
	}, nil
}
