package infra

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"profile-gateway/service/facts/domain"
)

// OTelStatsStore records outcomes on OpenTelemetry instruments. It
// satisfies the same contract as the Redis store, so a deployment can fan
// out to both.
type OTelStatsStore struct {
	requests metric.Int64Counter
	limited  metric.Int64Counter
	duration metric.Float64Histogram
}

var _ domain.StatsStore = (*OTelStatsStore)(nil)

func NewOTelStatsStore(meter metric.Meter) (*OTelStatsStore, error) {
	requests, err := meter.Int64Counter(
		"facts.requests.total",
		metric.WithDescription("Total requests by operation and outcome class"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	limited, err := meter.Int64Counter(
		"facts.limited.total",
		metric.WithDescription("Requests rejected by a local limiter"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"facts.request.duration_ms",
		metric.WithDescription("Request handling duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &OTelStatsStore{
		requests: requests,
		limited:  limited,
		duration: duration,
	}, nil
}

func (s *OTelStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	attrs := []attribute.KeyValue{
		attribute.String("op", string(ev.Op)),
		attribute.String("outcome", ev.Class.String()),
		attribute.Bool("cached", ev.Cached),
	}
	opt := metric.WithAttributes(attrs...)

	s.requests.Add(ctx, 1, opt)

	if ev.Class == domain.ClassLimitedLocal {
		s.limited.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", string(ev.Op)),
			attribute.String("limiter", string(ev.Limiter)),
		))
	}

	s.duration.Record(ctx, float64(ev.Elapsed.Milliseconds()), opt)
	return nil
}
