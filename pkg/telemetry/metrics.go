package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce            sync.Once
	metricsInitErr         error
	policyExecutionCounter metric.Int64Counter
	policyFindingCounter   metric.Int64Counter
	policyLatencyHistogram metric.Float64Histogram
)

// PolicyMetrics captures the fields needed to record one policy
// execution.
type PolicyMetrics struct {
	Policy   string
	Tree     string
	Outcome  string
	Findings int
	Duration time.Duration
}

// Tracer returns the tracer policy runs record spans on.
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer("conary-policy")
}

// RecordPolicyRun emits counters and histograms describing one policy
// execution.
func RecordPolicyRun(ctx context.Context, metrics PolicyMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("policy.name", metrics.Policy),
		attribute.String("policy.tree", metrics.Tree),
		attribute.String("policy.outcome", metrics.Outcome),
	}

	policyExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if metrics.Findings > 0 {
		policyFindingCounter.Add(ctx, int64(metrics.Findings), metric.WithAttributes(attrs...))
	}

	if metrics.Duration > 0 {
		policyLatencyHistogram.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("conary.policy")

		policyExecutionCounter, metricsInitErr = meter.Int64Counter(
			"conary.policy.executions_total",
			metric.WithDescription("Policy executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		policyFindingCounter, metricsInitErr = meter.Int64Counter(
			"conary.policy.findings_total",
			metric.WithDescription("Findings reported by policies"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		policyLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"conary.policy.duration",
			metric.WithDescription("Per-policy execution latency"),
			metric.WithUnit("ms"),
		)
	})
	return metricsInitErr
}
