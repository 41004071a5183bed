package stream

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	events []Event
	err    error
}

func (s *captureSink) Send(_ context.Context, ev Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func TestPublisherStampsRunID(t *testing.T) {
	sink := &captureSink{}
	pub := NewPublisher(sink, "run_1")

	require.NoError(t, pub.Send(context.Background(), RunInProgress, map[string]string{"id": "run_1"}))
	require.Len(t, sink.events, 1)
	assert.Equal(t, RunInProgress, sink.events[0].Name)
	assert.Equal(t, "run_1", sink.events[0].RunID)

	var data map[string]string
	require.NoError(t, json.Unmarshal(sink.events[0].Data, &data))
	assert.Equal(t, "run_1", data["id"])
}

func TestPublisherDoneSentinel(t *testing.T) {
	sink := &captureSink{}
	pub := NewPublisher(sink, "run_1")

	require.NoError(t, pub.Done(context.Background()))
	require.Len(t, sink.events, 1)
	assert.Equal(t, Done, sink.events[0].Name)

	var sentinel string
	require.NoError(t, json.Unmarshal(sink.events[0].Data, &sentinel))
	assert.Equal(t, DoneSentinel, sentinel)
}

func TestTrySendSwallowsSinkErrors(t *testing.T) {
	sink := &captureSink{err: assert.AnError}
	pub := NewPublisher(sink, "run_1")

	// Must not panic and must not propagate.
	pub.TrySend(context.Background(), RunFailed, nil)
	pub.TryDone(context.Background())
	assert.Empty(t, sink.events)
}
