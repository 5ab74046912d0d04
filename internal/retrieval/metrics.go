package retrieval

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/toneill57/muva-chat-sub006/internal/retrieval"

// Metrics holds retrieval pipeline metrics.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	duration  metric.Float64Histogram
	results   metric.Int64Histogram
	fallbacks metric.Int64Counter
}

// NewMetrics creates a Metrics instance.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"muva.retrieval.duration_seconds",
		metric.WithDescription("End-to-end retrieval duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.results, err = m.meter.Int64Histogram(
		"muva.retrieval.results",
		metric.WithDescription("Merged result count per retrieval"),
		metric.WithUnit("{result}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 20, 50),
	)
	if err != nil {
		m.logger.Warn("failed to create results histogram", zap.Error(err))
	}

	m.fallbacks, err = m.meter.Int64Counter(
		"muva.retrieval.fallbacks_total",
		metric.WithDescription("Retrievals that needed the relaxed-floor retry"),
		metric.WithUnit("{retrieval}"),
	)
	if err != nil {
		m.logger.Warn("failed to create fallback counter", zap.Error(err))
	}
}

// RecordRetrieval records one retrieval run.
func (m *Metrics) RecordRetrieval(ctx context.Context, tenantSlug string, elapsed time.Duration, resultCount int, usedFallback bool) {
	attrs := metric.WithAttributes(attribute.String("tenant", tenantSlug))
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if m.results != nil {
		m.results.Record(ctx, int64(resultCount), attrs)
	}
	if usedFallback && m.fallbacks != nil {
		m.fallbacks.Add(ctx, 1, attrs)
	}
}
