package app

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shestoi/stockhold/internal/service"
)

// holdMetricsRecorder пишет события холдов в OTLP counter reservation_hold_events_total
type holdMetricsRecorder struct {
	counter metric.Int64Counter
}

func newHoldMetricsRecorder() *holdMetricsRecorder {
	meter := otel.Meter(serviceName)
	counter, _ := meter.Int64Counter("reservation_hold_events_total",
		metric.WithDescription("Hold lifecycle events by type"),
		metric.WithUnit("{event}"))
	return &holdMetricsRecorder{counter: counter}
}

func (r *holdMetricsRecorder) RecordHoldEvent(ctx context.Context, event service.HoldEvent) {
	if r.counter == nil {
		return
	}
	r.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(event))))
}
