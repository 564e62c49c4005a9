// Package metrics records gateway counters through OpenTelemetry.
//
// Install sets up the SDK meter provider the commands report from; Noop{}
// stands in wherever no provider is wanted.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Queue entry outcomes.
const (
	QueueAcked     = "acked"
	QueueFailed    = "failed"
	QueueReclaimed = "reclaimed"
	QueueDropped   = "dropped"
)

// Recorder records hub, router and queue activity.
type Recorder interface {
	EventPublished(ctx context.Context, postType string)
	DeliveryFailed(ctx context.Context)
	SinkDropped(ctx context.Context, sink string)
	ActionDispatched(ctx context.Context, action, status string)
	QueueEntry(ctx context.Context, outcome string, n int)
}

// Noop discards everything.
type Noop struct{}

func (Noop) EventPublished(context.Context, string)           {}
func (Noop) DeliveryFailed(context.Context)                   {}
func (Noop) SinkDropped(context.Context, string)              {}
func (Noop) ActionDispatched(context.Context, string, string) {}
func (Noop) QueueEntry(context.Context, string, int)          {}

type otelRecorder struct {
	events     metric.Int64Counter
	deliveries metric.Int64Counter
	sinkDrops  metric.Int64Counter
	actions    metric.Int64Counter
	queue      metric.Int64Counter
}

// NewWithMeter builds a recorder on a specific meter.
func NewWithMeter(meter metric.Meter) (Recorder, error) {
	return newOtelRecorder(meter)
}

func newOtelRecorder(meter metric.Meter) (*otelRecorder, error) {
	events, err := meter.Int64Counter("botgate.hub.events",
		metric.WithDescription("Events accepted by the hub"))
	if err != nil {
		return nil, err
	}
	deliveries, err := meter.Int64Counter("botgate.hub.delivery_failures",
		metric.WithDescription("Subscriber sends that failed"))
	if err != nil {
		return nil, err
	}
	sinkDrops, err := meter.Int64Counter("botgate.hub.sink_drops",
		metric.WithDescription("Events a full sink buffer could not take"))
	if err != nil {
		return nil, err
	}
	actions, err := meter.Int64Counter("botgate.router.actions",
		metric.WithDescription("Actions dispatched by the router"))
	if err != nil {
		return nil, err
	}
	queue, err := meter.Int64Counter("botgate.queue.entries",
		metric.WithDescription("Queue entries by outcome"))
	if err != nil {
		return nil, err
	}
	return &otelRecorder{events: events, deliveries: deliveries, sinkDrops: sinkDrops, actions: actions, queue: queue}, nil
}

func (r *otelRecorder) EventPublished(ctx context.Context, postType string) {
	r.events.Add(ctx, 1, metric.WithAttributes(attribute.String("post_type", postType)))
}

func (r *otelRecorder) DeliveryFailed(ctx context.Context) {
	r.deliveries.Add(ctx, 1)
}

func (r *otelRecorder) SinkDropped(ctx context.Context, sink string) {
	r.sinkDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

func (r *otelRecorder) ActionDispatched(ctx context.Context, action, status string) {
	r.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	))
}

func (r *otelRecorder) QueueEntry(ctx context.Context, outcome string, n int) {
	if n <= 0 {
		return
	}
	r.queue.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}
