package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/monkeyml/session"
)

// Metric names recorded by MetricsHandler.
const (
	MetricEvalCount       = "monkeyml.eval.count"
	MetricEvalFailures    = "monkeyml.eval.failures"
	MetricEvalDuration    = "monkeyml.eval.duration"
	MetricSessionDuration = "monkeyml.session.duration"
)

// MetricsHandler translates session events into OpenTelemetry metrics: a
// counter of evaluations, a counter of failed evaluations, and duration
// histograms for evaluations and whole sessions.
type MetricsHandler struct {
	evalCount       metric.Int64Counter
	evalFailures    metric.Int64Counter
	evalDuration    metric.Float64Histogram
	sessionDuration metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler whose instruments come from
// meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	evalCount, err := meter.Int64Counter(MetricEvalCount,
		metric.WithDescription("Number of completed evaluations"),
	)
	if err != nil {
		return nil, err
	}

	evalFailures, err := meter.Int64Counter(MetricEvalFailures,
		metric.WithDescription("Number of evaluations that failed to parse or faulted"),
	)
	if err != nil {
		return nil, err
	}

	evalDuration, err := meter.Float64Histogram(MetricEvalDuration,
		metric.WithDescription("Duration of a single evaluation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	sessionDuration, err := meter.Float64Histogram(MetricSessionDuration,
		metric.WithDescription("Duration of a session in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		evalCount:       evalCount,
		evalFailures:    evalFailures,
		evalDuration:    evalDuration,
		sessionDuration: sessionDuration,
	}, nil
}

// Handle records the metrics for one event. It has session.EventHandler
// semantics.
func (h *MetricsHandler) Handle(e session.Event) {
	ctx := context.Background()
	origin := attribute.String("origin", string(e.Origin))

	switch e.Kind {
	case session.EventEvalFinished:
		attrs := metric.WithAttributes(origin)
		h.evalCount.Add(ctx, 1, attrs)
		h.evalDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case session.EventEvalFailed:
		h.evalFailures.Add(ctx, 1, metric.WithAttributes(
			origin,
			attribute.String("reason", e.PayloadString("reason")),
		))
	case session.EventSessionFinished:
		h.sessionDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(
			origin,
			attribute.String("status", e.PayloadString("status")),
		))
	}
}
