package fault

// Code is a machine-readable failure code.
type Code string

// Transient failures: the dependency may recover.
const (
	// CodeUnavailable indicates the dependency is temporarily unavailable.
	CodeUnavailable Code = "UNAVAILABLE"
	// CodeConnection indicates the connection to the dependency failed.
	CodeConnection Code = "CONNECTION_FAILED"
	// CodeTimeout indicates the attempt timed out.
	CodeTimeout Code = "TIMEOUT"
	// CodeThrottled indicates the dependency rejected the call for rate reasons.
	CodeThrottled Code = "THROTTLED"
)

// Permanent failures: retrying the same request cannot help.
const (
	// CodeInvalidRequest indicates the request itself is malformed.
	CodeInvalidRequest Code = "INVALID_REQUEST"
	// CodeNotFound indicates the addressed resource does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeRejected indicates the dependency refused the request outright.
	CodeRejected Code = "REJECTED"
)
