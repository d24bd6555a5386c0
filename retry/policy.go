// Package retry computes backoff decisions for failed call attempts.
//
// A Policy is pure configuration: Next takes the attempt index and the
// failure and returns whether to retry and how long to wait. It holds no
// mutable state, so one Policy can serve any number of concurrent calls.
package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/tmarkov/callguard/fault"
)

// ErrExhausted signals that the retry budget is spent.
var ErrExhausted = errors.New("max retries exceeded")

// Config configures a Policy.
type Config struct {
	// MaxRetries is the maximum number of attempts (including the first).
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	// InitialDelay is the pre-jitter delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay" validate:"gte=0"`
	// MaxDelay caps the pre-jitter delay.
	MaxDelay time.Duration `yaml:"max_delay" mapstructure:"max_delay" validate:"gte=0"`
	// Multiplier is the exponential backoff factor.
	Multiplier float64 `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=0"`
	// JitterFraction is the maximum fraction of the delay added as random
	// jitter, to desynchronize concurrent retriers. Unlike the other numeric
	// fields, New does not backfill it: zero is a meaningful value that
	// disables jitter entirely. Start from DefaultConfig, which sets 0.25,
	// unless deterministic delays are wanted.
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction" validate:"gte=0,lte=1"`
	// RetryIf decides whether a failure is worth retrying.
	// Defaults to fault.IsRetryable.
	RetryIf func(error) bool `yaml:"-" mapstructure:"-"`
	// Rand supplies random values in [0,1) for jitter. Defaults to math/rand.
	Rand func() float64 `yaml:"-" mapstructure:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Decision is the outcome of a retry check.
type Decision struct {
	// Retry reports whether another attempt should be made.
	Retry bool
	// Delay is how long to wait before the next attempt. Zero when !Retry.
	Delay time.Duration
}

// Policy computes retry decisions.
type Policy struct {
	config Config
}

// New creates a new Policy. Zero values for MaxRetries, InitialDelay,
// MaxDelay, Multiplier, RetryIf and Rand are backfilled with defaults;
// JitterFraction is taken as given, zero meaning no jitter.
func New(config Config) *Policy {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = fault.IsRetryable
	}
	if config.Rand == nil {
		config.Rand = rand.Float64
	}
	return &Policy{config: config}
}

// MaxRetries returns the attempt budget.
func (p *Policy) MaxRetries() int {
	return p.config.MaxRetries
}

// Next decides whether attempt number attempt (1-based), which failed with
// err, should be followed by another attempt, and after what delay.
// Permanent failures are never retried; the budget is MaxRetries attempts.
func (p *Policy) Next(attempt int, err error) Decision {
	if !p.config.RetryIf(err) {
		return Decision{}
	}
	if attempt >= p.config.MaxRetries {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.delay(attempt)}
}

// delay computes min(MaxDelay, InitialDelay*Multiplier^(attempt-1)) plus
// additive jitter of up to JitterFraction of the capped delay.
func (p *Policy) delay(attempt int) time.Duration {
	d := float64(p.config.InitialDelay) * math.Pow(p.config.Multiplier, float64(attempt-1))
	if d > float64(p.config.MaxDelay) {
		d = float64(p.config.MaxDelay)
	}
	if p.config.JitterFraction > 0 {
		d += d * p.config.JitterFraction * p.config.Rand()
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
