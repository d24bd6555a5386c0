package call

import "time"

// Outcome classifies how a single attempt ended.
type Outcome int

const (
	// OutcomeSuccess means the transport returned a value.
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable means the transport failed transiently.
	OutcomeRetryable
	// OutcomePermanent means the transport failed and retrying is futile.
	OutcomePermanent
	// OutcomeCancelled means the call's context ended during the attempt.
	OutcomeCancelled
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable_failure"
	case OutcomePermanent:
		return "permanent_failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Attempt is the record of one transport invocation. It is immutable once
// handed to observers.
type Attempt struct {
	// CallID identifies the logical call this attempt belongs to.
	CallID string
	// Index is the 1-based attempt number within the call.
	Index int
	// StartedAt is when the transport was invoked.
	StartedAt time.Time
	// Latency is how long the invocation took.
	Latency time.Duration
	// Outcome classifies the result.
	Outcome Outcome
	// Err is the attempt's failure, nil on success.
	Err error
}
