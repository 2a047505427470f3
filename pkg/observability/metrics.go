package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/clawsec/core/pkg/contracts"
)

// EngineMetrics implements the engine's metrics interface on top of the
// provider's meter.
type EngineMetrics struct {
	analyzeDuration metric.Float64Histogram
	cacheHits       metric.Int64Counter
	detections      metric.Int64Counter
	escalations     metric.Int64Counter
}

// NewEngineMetrics registers the engine instruments.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error

	m.analyzeDuration, err = meter.Float64Histogram("clawsec.analyze.duration",
		metric.WithDescription("Analyze latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: analyze histogram: %w", err)
	}
	m.cacheHits, err = meter.Int64Counter("clawsec.cache.hits",
		metric.WithDescription("Decision cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: cache counter: %w", err)
	}
	m.detections, err = meter.Int64Counter("clawsec.detections.total",
		metric.WithDescription("Detections by category"),
		metric.WithUnit("{detection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: detection counter: %w", err)
	}
	m.escalations, err = meter.Int64Counter("clawsec.escalations.total",
		metric.WithDescription("Oracle escalations"),
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: escalation counter: %w", err)
	}
	return m, nil
}

// ObserveAnalyze records one analyze call.
func (m *EngineMetrics) ObserveAnalyze(d time.Duration, action contracts.Action, cached bool) {
	m.analyzeDuration.Record(context.Background(), d.Seconds(), metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.Bool("cached", cached),
	))
}

// CacheHit counts one decision cache hit.
func (m *EngineMetrics) CacheHit() {
	m.cacheHits.Add(context.Background(), 1)
}

// Detection counts one detector finding.
func (m *EngineMetrics) Detection(category contracts.ThreatCategory) {
	m.detections.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("category", string(category)),
	))
}

// Escalation counts one oracle escalation.
func (m *EngineMetrics) Escalation() {
	m.escalations.Add(context.Background(), 1)
}
