package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/clawsec/core/pkg/contracts"
)

func TestDisabledProviderIsInert(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "analyze")
	span.End()
	assert.NotNil(t, ctx)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestEngineMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewEngineMetrics(provider.Meter("test"))
	require.NoError(t, err)

	m.ObserveAnalyze(3*time.Millisecond, contracts.ActionBlock, false)
	m.CacheHit()
	m.Detection(contracts.CategoryDestructive)
	m.Detection(contracts.CategorySecrets)
	m.Escalation()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics[0].Metrics {
		names[sm.Name] = true
	}
	assert.True(t, names["clawsec.analyze.duration"])
	assert.True(t, names["clawsec.cache.hits"])
	assert.True(t, names["clawsec.detections.total"])
	assert.True(t, names["clawsec.escalations.total"])
}
