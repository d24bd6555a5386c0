package call

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/tmarkov/callguard/call"

// instruments holds the executor's OpenTelemetry metric instruments.
// All series carry the dependency name as an attribute so one meter serves
// any number of executors.
type instruments struct {
	attempts       metric.Int64Counter
	calls          metric.Int64Counter
	breakerRejects metric.Int64Counter
	limiterWait    metric.Float64Histogram
	latency        metric.Float64Histogram
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(scopeName)

	attempts, err := meter.Int64Counter("callguard.attempts",
		metric.WithDescription("Transport attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating attempts counter: %w", err)
	}
	calls, err := meter.Int64Counter("callguard.calls",
		metric.WithDescription("Logical calls by terminal disposition"))
	if err != nil {
		return nil, fmt.Errorf("creating calls counter: %w", err)
	}
	breakerRejects, err := meter.Int64Counter("callguard.breaker_rejections",
		metric.WithDescription("Calls rejected by an open circuit"))
	if err != nil {
		return nil, fmt.Errorf("creating breaker rejection counter: %w", err)
	}
	limiterWait, err := meter.Float64Histogram("callguard.limiter_wait_seconds",
		metric.WithDescription("Time spent waiting for rate-limit admission"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating limiter wait histogram: %w", err)
	}
	latency, err := meter.Float64Histogram("callguard.attempt_latency_seconds",
		metric.WithDescription("Transport attempt latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating latency histogram: %w", err)
	}

	return &instruments{
		attempts:       attempts,
		calls:          calls,
		breakerRejects: breakerRejects,
		limiterWait:    limiterWait,
		latency:        latency,
	}, nil
}

func (in *instruments) recordAttempt(ctx context.Context, dependency string, a Attempt) {
	attrs := metric.WithAttributes(
		attribute.String("dependency", dependency),
		attribute.String("outcome", a.Outcome.String()),
	)
	in.attempts.Add(ctx, 1, attrs)
	in.latency.Record(ctx, a.Latency.Seconds(), attrs)
}

func (in *instruments) recordCall(ctx context.Context, dependency, disposition string) {
	in.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dependency", dependency),
		attribute.String("disposition", disposition),
	))
}

func (in *instruments) recordBreakerRejection(ctx context.Context, dependency string) {
	in.breakerRejects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dependency", dependency),
	))
}

func (in *instruments) recordLimiterWait(ctx context.Context, dependency string, d time.Duration) {
	in.limiterWait.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("dependency", dependency),
	))
}
