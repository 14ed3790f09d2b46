// Package otel records bridge activity into OpenTelemetry metrics and
// configures the process-wide providers.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/mcpbridge/bus"
	"github.com/petal-labs/mcpbridge/mcp"
)

// Observer translates dispatcher and hub observations into OpenTelemetry
// instruments. It implements both mcp.Observer and bus.Observer.
type Observer struct {
	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
	toolInvocations metric.Int64Counter
	toolDuration    metric.Float64Histogram
	broadcasts      metric.Int64Counter
	removals        metric.Int64Counter
	subscribers     metric.Int64UpDownCounter
}

var (
	_ mcp.Observer = (*Observer)(nil)
	_ bus.Observer = (*Observer)(nil)
)

// NewObserver creates an Observer whose instruments come from meter.
func NewObserver(meter metric.Meter) (*Observer, error) {
	requests, err := meter.Int64Counter("mcpbridge.requests",
		metric.WithDescription("Number of JSON-RPC requests answered"),
	)
	if err != nil {
		return nil, err
	}
	requestDuration, err := meter.Float64Histogram("mcpbridge.request.duration",
		metric.WithDescription("Duration of JSON-RPC request handling in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	toolInvocations, err := meter.Int64Counter("mcpbridge.tool.invocations",
		metric.WithDescription("Number of tool handler invocations"),
	)
	if err != nil {
		return nil, err
	}
	toolDuration, err := meter.Float64Histogram("mcpbridge.tool.duration",
		metric.WithDescription("Duration of tool handler invocations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	broadcasts, err := meter.Int64Counter("mcpbridge.broadcasts",
		metric.WithDescription("Number of events broadcast to subscribers"),
	)
	if err != nil {
		return nil, err
	}
	removals, err := meter.Int64Counter("mcpbridge.broadcast.removals",
		metric.WithDescription("Number of subscribers removed after a failed send"),
	)
	if err != nil {
		return nil, err
	}
	subscribers, err := meter.Int64UpDownCounter("mcpbridge.subscribers",
		metric.WithDescription("Number of connected push-channel subscribers"),
	)
	if err != nil {
		return nil, err
	}

	return &Observer{
		requests:        requests,
		requestDuration: requestDuration,
		toolInvocations: toolInvocations,
		toolDuration:    toolDuration,
		broadcasts:      broadcasts,
		removals:        removals,
		subscribers:     subscribers,
	}, nil
}

// ObserveRequest records one answered request.
func (o *Observer) ObserveRequest(observation mcp.RequestObservation) {
	if o == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("method", observation.Method),
		attribute.Bool("success", !observation.Failed),
	)
	o.requests.Add(ctx, 1, attrs)
	o.requestDuration.Record(ctx, observation.Duration.Seconds(), attrs)
}

// ObserveToolCall records one handler invocation.
func (o *Observer) ObserveToolCall(observation mcp.ToolCallObservation) {
	if o == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("tool_name", observation.Tool),
		attribute.Bool("success", !observation.Failed),
	)
	o.toolInvocations.Add(ctx, 1, attrs)
	o.toolDuration.Record(ctx, observation.Duration.Seconds(), attrs)
}

// ObserveBroadcast records one broadcast and the subscribers it removed.
func (o *Observer) ObserveBroadcast(observation bus.BroadcastObservation) {
	if o == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("event", observation.Event))
	o.broadcasts.Add(ctx, 1, attrs)
	if observation.Removed > 0 {
		o.removals.Add(ctx, int64(observation.Removed), attrs)
	}
}

// ObserveSubscribers tracks the live subscriber count.
func (o *Observer) ObserveSubscribers(delta int) {
	if o == nil || delta == 0 {
		return
	}
	o.subscribers.Add(context.Background(), int64(delta))
}
