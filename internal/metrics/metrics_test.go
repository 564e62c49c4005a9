package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func sum(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestRecorder_Counts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	rec, err := NewWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	rec.EventPublished(ctx, "message")
	rec.EventPublished(ctx, "meta_event")
	rec.DeliveryFailed(ctx)
	rec.SinkDropped(ctx, "queue")
	rec.ActionDispatched(ctx, "send_msg", "ok")
	rec.QueueEntry(ctx, QueueAcked, 3)
	rec.QueueEntry(ctx, QueueReclaimed, 0)

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sum(rm, "botgate.hub.events"))
	assert.Equal(t, int64(1), sum(rm, "botgate.hub.delivery_failures"))
	assert.Equal(t, int64(1), sum(rm, "botgate.hub.sink_drops"))
	assert.Equal(t, int64(1), sum(rm, "botgate.router.actions"))
	assert.Equal(t, int64(3), sum(rm, "botgate.queue.entries"))
}

func TestProvider_Totals(t *testing.T) {
	p, err := Install()
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx := context.Background()
	rec := p.Recorder()
	rec.EventPublished(ctx, "message")
	rec.EventPublished(ctx, "message")
	rec.SinkDropped(ctx, "plugins")
	rec.ActionDispatched(ctx, "send_msg", "ok")
	rec.ActionDispatched(ctx, "send_msg", "failed")

	totals, err := p.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals["botgate.hub.events"])
	assert.Equal(t, int64(1), totals["botgate.hub.sink_drops"])
	assert.Equal(t, int64(2), totals["botgate.router.actions"])
	assert.Zero(t, totals["botgate.queue.entries"])
}
