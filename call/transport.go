package call

import "context"

// Transport performs a single attempt against the dependency. It is an
// injected collaborator: the executor never retries inside it and never
// interrupts an invocation already in flight.
//
// A nil error is success. Failures should be classified with the fault
// package; unclassified errors are treated as transient.
type Transport[Req, Resp any] interface {
	Invoke(ctx context.Context, req Req) (Resp, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Invoke calls f.
func (f TransportFunc[Req, Resp]) Invoke(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}
