// Package telemetry records execution metrics. A nil *Metrics is valid and
// records nothing, so callers never guard call sites.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the run execution instruments.
type Metrics struct {
	runDuration  metric.Float64Histogram
	toolDuration metric.Float64Histogram
}

// New creates the instruments on the given meter.
func New(meter metric.Meter) (*Metrics, error) {
	runDuration, err := meter.Float64Histogram("run.duration",
		metric.WithDescription("Wall-clock duration of a run from start to terminal status."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	toolDuration, err := meter.Float64Histogram("run.tool_call.duration",
		metric.WithDescription("Wall-clock duration of a tool call, gates included."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{runDuration: runDuration, toolDuration: toolDuration}, nil
}

// RecordRun records a finished run with its terminal status.
func (m *Metrics) RecordRun(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordToolCall records a finished tool call with its kind.
func (m *Metrics) RecordToolCall(ctx context.Context, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}
