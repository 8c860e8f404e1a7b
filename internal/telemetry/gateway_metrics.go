package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanoiair/hanoiair/internal/airquality"
)

// GatewayMetrics records measurement store calls, response provenance and cache
// effectiveness. It implements airquality.Recorder.
type GatewayMetrics struct {
	backend      string
	callDuration metric.Float64Histogram
	callTotal    metric.Int64Counter
	resultTotal  metric.Int64Counter
	cacheHit     metric.Int64Counter
	cacheMiss    metric.Int64Counter
}

var _ airquality.Recorder = (*GatewayMetrics)(nil)

// NewGatewayMetrics creates the instruments on meter. backend labels every
// measurement, e.g. "bigquery".
func NewGatewayMetrics(meter metric.Meter, backend string) (*GatewayMetrics, error) {
	callDuration, err := meter.Float64Histogram(
		"gateway.call.duration",
		metric.WithDescription("Duration of measurement store calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	callTotal, err := meter.Int64Counter(
		"gateway.call.total",
		metric.WithDescription("Measurement store calls by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	resultTotal, err := meter.Int64Counter(
		"airquality.result.total",
		metric.WithDescription("Air quality results by provenance"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, err
	}

	cacheHit, err := meter.Int64Counter(
		"gateway.cache.hit",
		metric.WithDescription("Number of gateway cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMiss, err := meter.Int64Counter(
		"gateway.cache.miss",
		metric.WithDescription("Number of gateway cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	return &GatewayMetrics{
		backend:      backend,
		callDuration: callDuration,
		callTotal:    callTotal,
		resultTotal:  resultTotal,
		cacheHit:     cacheHit,
		cacheMiss:    cacheMiss,
	}, nil
}

// RecordGatewayCall records one gateway call.
func (m *GatewayMetrics) RecordGatewayCall(ctx context.Context, operation string, outcome airquality.FetchOutcome, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("gateway.backend", m.backend),
		attribute.String("gateway.operation", operation),
		attribute.String("gateway.outcome", string(outcome)),
	)

	// The request context may already be cancelled after a timeout.
	ctx = context.WithoutCancel(ctx)
	m.callDuration.Record(ctx, duration.Seconds(), attrs)
	m.callTotal.Add(ctx, 1, attrs)
}

// RecordResult records the provenance of one service response.
func (m *GatewayMetrics) RecordResult(ctx context.Context, operation string, provenance airquality.Provenance) {
	m.resultTotal.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("gateway.backend", m.backend),
		attribute.String("airquality.operation", operation),
		attribute.String("airquality.provenance", string(provenance)),
	))
}

// RecordCacheHit records a cache hit for a cached gateway operation.
func (m *GatewayMetrics) RecordCacheHit(ctx context.Context, operation string) {
	m.cacheHit.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("gateway.backend", m.backend),
		attribute.String("gateway.operation", operation),
	))
}

// RecordCacheMiss records a cache miss for a cached gateway operation.
func (m *GatewayMetrics) RecordCacheMiss(ctx context.Context, operation string) {
	m.cacheMiss.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("gateway.backend", m.backend),
		attribute.String("gateway.operation", operation),
	))
}
