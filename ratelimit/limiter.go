// Package ratelimit provides a sliding-window call rate limiter.
//
// The limiter keeps the start timestamps of admitted calls and guarantees
// that no more than MaxCalls starts fall inside any window of length Window,
// regardless of interleaving. Rejections are deferrals, not failures: every
// rejection carries the duration after which room opens up.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tmarkov/callguard/clock"
)

// ErrLimited is returned by Execute when a call is not admitted.
var ErrLimited = errors.New("rate limit exceeded")

// Config configures a Limiter.
type Config struct {
	// Name identifies this limiter for hooks and logging.
	Name string `yaml:"name" mapstructure:"name"`
	// MaxCalls is the maximum number of call starts per window.
	MaxCalls int `yaml:"max_calls" mapstructure:"max_calls" validate:"gte=0"`
	// Window is the length of the sliding window.
	Window time.Duration `yaml:"window" mapstructure:"window" validate:"gte=0"`
	// Clock supplies time. Defaults to the system clock.
	Clock clock.Clock `yaml:"-" mapstructure:"-"`
	// OnLimit is called when an admission is deferred.
	OnLimit func(name string, retryAfter time.Duration) `yaml:"-" mapstructure:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:     name,
		MaxCalls: 10,
		Window:   time.Second,
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether the call may start now.
	Allowed bool
	// RetryAfter is how long until the window has room. Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter is a sliding-window rate limiter. One instance guards one
// dependency and is shared by every call against it.
type Limiter struct {
	config Config

	mu     sync.Mutex
	starts []time.Time
}

// New creates a new Limiter.
func New(config Config) *Limiter {
	if config.MaxCalls <= 0 {
		config.MaxCalls = 10
	}
	if config.Window <= 0 {
		config.Window = time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.System()
	}
	return &Limiter{config: config}
}

// Admit checks whether a call may start at now. When admitted, now is
// recorded as a call start. When deferred, nothing is recorded and
// RetryAfter says when the oldest recorded start leaves the window.
func (l *Limiter) Admit(now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)

	if len(l.starts) < l.config.MaxCalls {
		l.starts = append(l.starts, now)
		return Decision{Allowed: true}
	}

	retryAfter := l.config.Window - now.Sub(l.starts[0])
	if retryAfter < 0 {
		retryAfter = 0
	}
	if l.config.OnLimit != nil {
		l.config.OnLimit(l.config.Name, retryAfter)
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}
}

// TryAdmit checks admission at the limiter clock's current time.
func (l *Limiter) TryAdmit() Decision {
	return l.Admit(l.config.Clock.Now())
}

// Allow checks admission at the limiter clock's current time.
func (l *Limiter) Allow() bool {
	return l.TryAdmit().Allowed
}

// Wait blocks until a call is admitted or ctx is cancelled. After sleeping
// out a deferral it re-checks admission; another caller may have taken the
// slot in the meantime.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := l.Admit(l.config.Clock.Now())
		if d.Allowed {
			return nil
		}
		if err := clock.Sleep(ctx, l.config.Clock, d.RetryAfter); err != nil {
			return err
		}
	}
}

// Execute runs fn if admission succeeds, otherwise returns ErrLimited.
func (l *Limiter) Execute(fn func() error) error {
	if !l.Allow() {
		return ErrLimited
	}
	return fn()
}

// InWindow returns the number of call starts currently inside the window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.config.Clock.Now())
	return len(l.starts)
}

// MaxCalls returns the per-window admission cap.
func (l *Limiter) MaxCalls() int {
	return l.config.MaxCalls
}

// Window returns the sliding window length.
func (l *Limiter) Window() time.Duration {
	return l.config.Window
}

// prune drops starts older than now minus the window. Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.config.Window)
	stale := 0
	for _, ts := range l.starts {
		if ts.After(cutoff) {
			break
		}
		stale++
	}
	if stale > 0 {
		l.starts = append(l.starts[:0], l.starts[stale:]...)
	}
}
