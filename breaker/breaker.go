// Package breaker implements a three-state circuit breaker.
//
// One Breaker guards one dependency and is shared by every call against it.
// Callers ask Allow before invoking the dependency and report the outcome of
// every allowed call through OnResult. Only outcomes that reached the
// dependency may be reported; local rejections never count as failures.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/tmarkov/callguard/clock"
)

// State represents the breaker state.
type State int

const (
	// StateClosed allows calls to pass through.
	StateClosed State = iota
	// StateOpen rejects all calls immediately.
	StateOpen
	// StateHalfOpen allows a single probe call to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned to callers rejected because the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config configures a Breaker.
type Config struct {
	// Name identifies this breaker for hooks and logging.
	Name string `yaml:"name" mapstructure:"name"`
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=0"`
	// CoolDown is how long the circuit stays open before allowing a probe.
	CoolDown time.Duration `yaml:"cool_down" mapstructure:"cool_down" validate:"gte=0"`
	// Clock supplies time. Defaults to the system clock.
	Clock clock.Clock `yaml:"-" mapstructure:"-"`
	// OnStateChange is called when the state changes.
	OnStateChange func(name string, from, to State) `yaml:"-" mapstructure:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		CoolDown:         30 * time.Second,
	}
}

// Breaker is a circuit breaker. The open→half-open transition is evaluated
// lazily on the next admission check once the cool-down has elapsed; there is
// no background timer.
type Breaker struct {
	config Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a new Breaker in the closed state.
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.CoolDown <= 0 {
		config.CoolDown = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.System()
	}
	return &Breaker{config: config, state: StateClosed}
}

// Allow reports whether a call may proceed. In the half-open state at most
// one probe is outstanding at a time; concurrent callers are rejected as if
// the circuit were open. A true result in half-open takes the probe permit,
// which the caller must resolve by calling OnResult.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// OnResult reports the outcome of a call that Allow admitted. Success resets
// the failure count and, after a probe, closes the circuit. Failure
// increments the count and opens the circuit at the threshold, or reopens it
// after a failed probe.
func (b *Breaker) OnResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

// OnAbandoned reports that a call Allow admitted ended without a verdict on
// the dependency (the caller's context ended mid-flight). It releases an
// outstanding probe permit so the next caller may probe, but causes no state
// transition and leaves the failure tally untouched: an abandoned call is
// evidence of neither health nor failure.
func (b *Breaker) OnAbandoned() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current state, applying the lazy cool-down transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker back to closed with a clean failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toState(StateClosed)
	b.failures = 0
	b.probing = false
}

func (b *Breaker) onSuccess() {
	switch b.currentState() {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probing = false
		b.failures = 0
		b.toState(StateClosed)
	}
}

func (b *Breaker) onFailure() {
	switch b.currentState() {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.openedAt = b.config.Clock.Now()
			b.toState(StateOpen)
		}
	case StateHalfOpen:
		// Failed probe: restart the cool-down.
		b.probing = false
		b.openedAt = b.config.Clock.Now()
		b.toState(StateOpen)
	}
}

// currentState applies the open→half-open transition once the cool-down has
// elapsed. Callers hold b.mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.config.Clock.Now().Sub(b.openedAt) >= b.config.CoolDown {
		b.toState(StateHalfOpen)
	}
	return b.state
}

// toState transitions to a new state. Callers hold b.mu.
func (b *Breaker) toState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateHalfOpen {
		b.probing = false
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, to)
	}
}
