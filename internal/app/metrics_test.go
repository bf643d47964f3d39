package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/shestoi/stockhold/internal/service"
)

func TestHoldMetricsRecorder(t *testing.T) {
	// Arrange
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	rec := newHoldMetricsRecorder()
	ctx := context.Background()

	// Act
	rec.RecordHoldEvent(ctx, service.HoldEventCreated)
	rec.RecordHoldEvent(ctx, service.HoldEventCreated)
	rec.RecordHoldEvent(ctx, service.HoldEventExpired)

	// Assert
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("event"))
		got[v.AsString()] = dp.Value
	}
	require.Equal(t, map[string]int64{"created": 2, "expired": 1}, got)
}
