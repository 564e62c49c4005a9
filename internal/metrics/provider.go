package metrics

import (
	"context"
	"log"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Provider is the process-wide SDK meter provider. Its manual reader lets
// the gateway report counter totals on /api/status and the worker log them.
type Provider struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
	recorder Recorder
}

// Install creates an SDK meter provider, makes it the global provider and
// builds the recorder on it.
func Install() (*Provider, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	rec, err := NewWithMeter(provider.Meter("botgate"))
	if err != nil {
		provider.Shutdown(context.Background())
		return nil, err
	}
	return &Provider{provider: provider, reader: reader, recorder: rec}, nil
}

// Recorder returns the recorder bound to this provider.
func (p *Provider) Recorder() Recorder { return p.recorder }

// Totals returns the cumulative value of every counter, summed over its
// attributes and keyed by instrument name.
func (p *Provider) Totals(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			s, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range s.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals, nil
}

// LogEvery logs non-zero totals every interval until ctx is done.
func (p *Provider) LogEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			totals, err := p.Totals(ctx)
			if err != nil {
				log.Printf("[Metrics] ⚠️ collect failed: %v", err)
				continue
			}
			if len(totals) == 0 {
				continue
			}
			names := make([]string, 0, len(totals))
			for name := range totals {
				names = append(names, name)
			}
			sort.Strings(names)
			line := ""
			for _, name := range names {
				line += " " + name + "=" + strconv.FormatInt(totals[name], 10)
			}
			log.Printf("[Metrics] 📊%s", line)
		}
	}
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}
