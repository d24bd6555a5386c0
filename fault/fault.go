// Package fault defines the error taxonomy for remote-call outcomes.
// A failure is either transient (worth retrying) or permanent (retrying is
// futile); transports and callers classify with the constructors here and
// the rest of the module branches on IsRetryable.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Fault is a classified call failure.
type Fault struct {
	// Code is a machine-readable failure code.
	Code Code `json:"code"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Retryable indicates whether a later attempt may succeed.
	Retryable bool `json:"retryable"`
	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error returns the string representation of the fault.
func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", f.Code, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error { return f.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (f *Fault) WithCause(cause error) *Fault {
	f.Cause = cause
	return f
}

// Transient creates a retryable fault.
func Transient(code Code, format string, args ...any) *Fault {
	return &Fault{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: true,
	}
}

// Permanent creates a non-retryable fault.
func Permanent(code Code, format string, args ...any) *Fault {
	return &Fault{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: false,
	}
}

// WrapTransient wraps err as a retryable fault.
func WrapTransient(code Code, err error, message string) *Fault {
	return &Fault{Code: code, Message: message, Retryable: true, Cause: err}
}

// WrapPermanent wraps err as a non-retryable fault.
func WrapPermanent(code Code, err error, message string) *Fault {
	return &Fault{Code: code, Message: message, Retryable: false, Cause: err}
}

// As extracts a *Fault from err's chain, or nil.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return nil
}

// IsRetryable reports whether err is worth retrying.
//
// Classified faults answer for themselves. Context cancellation and deadline
// errors are never retryable. Anything else is assumed transient: an
// unclassified transport error looks like a network problem, not a bad
// request.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if f := As(err); f != nil {
		return f.Retryable
	}
	return true
}

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	if f := As(err); f != nil {
		return !f.Retryable
	}
	return false
}
