// Package call orchestrates resilient calls against an unreliable
// dependency. An Executor composes a shared rate limiter, a shared circuit
// breaker, and a retry policy around an injected Transport, honoring
// context cancellation at every wait.
//
// The limiter and breaker are per-dependency state: construct one of each
// per dependency and hand the same instances to every executor (and, on the
// inbound side, the middleware package) that talks to it.
package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tmarkov/callguard/breaker"
	"github.com/tmarkov/callguard/clock"
	"github.com/tmarkov/callguard/fault"
	"github.com/tmarkov/callguard/logger"
	"github.com/tmarkov/callguard/ratelimit"
	"github.com/tmarkov/callguard/retry"
)

// Config configures an Executor.
type Config struct {
	// Name identifies the dependency for logs, metrics, and traces.
	Name string `yaml:"name" mapstructure:"name"`
	// Timeout is the default per-call deadline. Zero disables it; callers
	// can always supply a tighter deadline on the context.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	// Limiter gates call starts for this dependency. Nil disables limiting.
	Limiter *ratelimit.Limiter `yaml:"-" mapstructure:"-"`
	// Breaker guards this dependency. Nil disables circuit breaking.
	Breaker *breaker.Breaker `yaml:"-" mapstructure:"-"`
	// Policy decides retries. Nil uses retry.DefaultConfig.
	Policy *retry.Policy `yaml:"-" mapstructure:"-"`
	// Clock supplies time for waits and attempt records. Defaults to the
	// system clock.
	Clock clock.Clock `yaml:"-" mapstructure:"-"`
	// Logger receives attempt-level debug logs. Nil disables logging.
	Logger *logger.Logger `yaml:"-" mapstructure:"-"`
	// OnAttempt observes every finished attempt.
	OnAttempt func(Attempt) `yaml:"-" mapstructure:"-"`
}

// Executor runs logical calls against one dependency.
type Executor[Req, Resp any] struct {
	transport Transport[Req, Resp]
	config    Config
	policy    *retry.Policy
	clock     clock.Clock
	log       *logger.Logger
	metrics   *instruments
	tracer    trace.Tracer
}

// New creates an Executor around transport.
func New[Req, Resp any](transport Transport[Req, Resp], config Config) (*Executor[Req, Resp], error) {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.Clock == nil {
		config.Clock = clock.System()
	}

	policy := config.Policy
	if policy == nil {
		policy = retry.New(retry.DefaultConfig())
	}

	log := config.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("executor").WithFields(map[string]interface{}{
		logger.FieldDependency: config.Name,
	})

	metrics, err := newInstruments()
	if err != nil {
		return nil, err
	}

	return &Executor[Req, Resp]{
		transport: transport,
		config:    config,
		policy:    policy,
		clock:     config.Clock,
		log:       log,
		metrics:   metrics,
		tracer:    otel.Tracer(scopeName),
	}, nil
}

// Execute runs one logical call. It returns exactly one terminal outcome:
// the response, the last transient failure once retries are exhausted, the
// first permanent failure, breaker.ErrOpen, or the context's error.
func (e *Executor[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "callguard.execute",
		trace.WithAttributes(attribute.String("dependency", e.config.Name)))
	defer span.End()

	callID := uuid.NewString()
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, e.finish(ctx, span, attempt-1, "cancelled", err)
		}

		if err := e.admit(ctx); err != nil {
			return zero, e.finish(ctx, span, attempt-1, "cancelled", err)
		}

		if e.config.Breaker != nil && !e.config.Breaker.Allow() {
			e.metrics.recordBreakerRejection(ctx, e.config.Name)
			e.log.Warn("call rejected, circuit open", logger.Fields(
				logger.FieldCallID, callID,
			))
			return zero, e.finish(ctx, span, attempt-1, "circuit_open", breaker.ErrOpen)
		}

		resp, att := e.invoke(ctx, callID, attempt, req)
		e.observe(ctx, att)

		// Only transient failures count against the dependency's health;
		// a permanent failure means it answered, just not usefully. A
		// cancelled attempt is no verdict at all: it must not close a
		// half-open circuit or reset the tally, only release the permit.
		if e.config.Breaker != nil {
			if att.Outcome == OutcomeCancelled {
				e.config.Breaker.OnAbandoned()
			} else {
				e.config.Breaker.OnResult(att.Outcome != OutcomeRetryable)
			}
		}

		switch att.Outcome {
		case OutcomeSuccess:
			span.SetAttributes(attribute.Int("attempts", attempt))
			e.metrics.recordCall(ctx, e.config.Name, "success")
			return resp, nil
		case OutcomeCancelled:
			return zero, e.finish(ctx, span, attempt, "cancelled", ctx.Err())
		case OutcomePermanent:
			return zero, e.finish(ctx, span, attempt, "permanent_failure", att.Err)
		}

		lastErr = att.Err
		decision := e.policy.Next(attempt, att.Err)
		if !decision.Retry {
			return zero, e.finish(ctx, span, attempt, "retries_exhausted", lastErr)
		}

		e.log.Debug("retrying after backoff", logger.Fields(
			logger.FieldCallID, callID,
			logger.FieldAttempt, attempt,
			logger.FieldDelay, decision.Delay.Milliseconds(),
		))
		if err := clock.Sleep(ctx, e.clock, decision.Delay); err != nil {
			return zero, e.finish(ctx, span, attempt, "cancelled", err)
		}
	}
}

// admit waits for rate-limit admission, recording how long the call was
// parked. Deferrals are waits, never terminal errors; only cancellation
// escapes.
func (e *Executor[Req, Resp]) admit(ctx context.Context) error {
	if e.config.Limiter == nil {
		return nil
	}
	start := e.clock.Now()
	err := e.config.Limiter.Wait(ctx)
	if waited := e.clock.Now().Sub(start); waited > 0 {
		e.metrics.recordLimiterWait(ctx, e.config.Name, waited)
	}
	return err
}

// invoke performs one transport attempt and builds its record.
func (e *Executor[Req, Resp]) invoke(ctx context.Context, callID string, attempt int, req Req) (Resp, Attempt) {
	att := Attempt{
		CallID:    callID,
		Index:     attempt,
		StartedAt: e.clock.Now(),
	}

	resp, err := e.transport.Invoke(ctx, req)
	att.Latency = e.clock.Now().Sub(att.StartedAt)
	att.Err = err

	switch {
	case err == nil:
		att.Outcome = OutcomeSuccess
	case ctx.Err() != nil:
		att.Outcome = OutcomeCancelled
	case fault.IsRetryable(err):
		att.Outcome = OutcomeRetryable
	default:
		att.Outcome = OutcomePermanent
	}
	return resp, att
}

// observe fans an attempt record out to the hook, log, and metrics side
// channels.
func (e *Executor[Req, Resp]) observe(ctx context.Context, att Attempt) {
	e.metrics.recordAttempt(ctx, e.config.Name, att)

	fields := logger.Fields(
		logger.FieldCallID, att.CallID,
		logger.FieldAttempt, att.Index,
		logger.FieldOutcome, att.Outcome.String(),
		logger.FieldDuration, att.Latency.Milliseconds(),
	)
	if att.Err != nil {
		fields[logger.FieldError] = att.Err.Error()
		e.log.Debug("attempt failed", fields)
	} else {
		e.log.Debug("attempt succeeded", fields)
	}

	if e.config.OnAttempt != nil {
		e.config.OnAttempt(att)
	}
}

// finish records the terminal disposition on the span and metrics and
// returns err unchanged.
func (e *Executor[Req, Resp]) finish(ctx context.Context, span trace.Span, attempts int, disposition string, err error) error {
	span.SetAttributes(
		attribute.Int("attempts", attempts),
		attribute.String("disposition", disposition),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, disposition)
	e.metrics.recordCall(ctx, e.config.Name, disposition)
	return err
}
