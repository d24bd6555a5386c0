// Package httptransport adapts an *http.Client to the call.Transport
// interface, classifying responses into the fault taxonomy: 429 and 5xx are
// transient, other 4xx are permanent, and network errors are transient
// unless the context ended. The HTTP stack itself stays the injected
// client's business.
package httptransport

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tmarkov/callguard/call"
	"github.com/tmarkov/callguard/fault"
)

const defaultRequestIDHeader = "X-Request-Id"

// Config configures a Transport.
type Config struct {
	// Client performs the requests. Defaults to a client with a 30s timeout.
	Client *http.Client
	// RequestIDHeader is the header carrying a per-attempt request ID.
	// Defaults to X-Request-Id.
	RequestIDHeader string
}

// Transport performs single HTTP attempts with outcome classification.
type Transport struct {
	client   *http.Client
	idHeader string
}

var _ call.Transport[*http.Request, *http.Response] = (*Transport)(nil)

// New creates a Transport.
func New(cfg Config) *Transport {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RequestIDHeader == "" {
		cfg.RequestIDHeader = defaultRequestIDHeader
	}
	return &Transport{client: cfg.Client, idHeader: cfg.RequestIDHeader}
}

// Invoke performs one attempt. The request is cloned per attempt and, when
// GetBody is set, given a fresh body, so the same request can be retried.
// On a failure status the body is drained and closed; only 2xx responses
// are handed back open.
func (t *Transport) Invoke(ctx context.Context, req *http.Request) (*http.Response, error) {
	attempt := req.Clone(ctx)
	if attempt.Header.Get(t.idHeader) == "" {
		attempt.Header.Set(t.idHeader, uuid.NewString())
	}
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fault.WrapPermanent(fault.CodeInvalidRequest, err, "rewinding request body")
		}
		attempt.Body = body
	}

	resp, err := t.client.Do(attempt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyNetworkError(err)
	}

	if resp.StatusCode < 400 {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil, classifyStatus(resp.StatusCode)
}

func classifyNetworkError(err error) error {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok && te.Timeout() {
		return fault.WrapTransient(fault.CodeTimeout, err, "request timed out")
	}
	return fault.WrapTransient(fault.CodeConnection, err, "request failed")
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fault.Transient(fault.CodeThrottled, "upstream returned %d", status)
	case status >= 500:
		return fault.Transient(fault.CodeUnavailable, "upstream returned %d", status)
	case status == http.StatusNotFound:
		return fault.Permanent(fault.CodeNotFound, "upstream returned %d", status)
	case status == http.StatusBadRequest:
		return fault.Permanent(fault.CodeInvalidRequest, "upstream returned %d", status)
	default:
		return fault.Permanent(fault.CodeRejected, "upstream returned %d", status)
	}
}
