package call

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tmarkov/callguard/breaker"
	"github.com/tmarkov/callguard/clock"
	"github.com/tmarkov/callguard/fault"
	"github.com/tmarkov/callguard/ratelimit"
	"github.com/tmarkov/callguard/retry"
)

var errTimeout = fault.Transient(fault.CodeTimeout, "upstream timeout")

// failNTransport fails transiently n times, then succeeds.
type failNTransport struct {
	n     int32
	calls int32
}

func (ft *failNTransport) Invoke(_ context.Context, req string) (string, error) {
	call := atomic.AddInt32(&ft.calls, 1)
	if call <= atomic.LoadInt32(&ft.n) {
		return "", errTimeout
	}
	return "ok:" + req, nil
}

func (ft *failNTransport) invocations() int {
	return int(atomic.LoadInt32(&ft.calls))
}

func fastPolicy(maxRetries int) *retry.Policy {
	return retry.New(retry.Config{
		MaxRetries:   maxRetries,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	})
}

func newExecutor(t *testing.T, transport Transport[string, string], cfg Config) *Executor[string, string] {
	t.Helper()
	e, err := New(transport, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func waitForWaiters(t *testing.T, clk *clock.Manual, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for clk.Waiters() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d waiters", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestExecutor_SuccessFirstAttempt(t *testing.T) {
	transport := &failNTransport{n: 0}
	e := newExecutor(t, transport, Config{Name: "upstream"})

	resp, err := e.Execute(context.Background(), "req")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp != "ok:req" {
		t.Errorf("unexpected response %q", resp)
	}
	if transport.invocations() != 1 {
		t.Errorf("expected 1 invocation, got %d", transport.invocations())
	}
}

func TestExecutor_RetriesTransientThenSucceeds(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	transport := &failNTransport{n: 2}
	e := newExecutor(t, transport, Config{
		Name:   "upstream",
		Policy: fastPolicy(5),
		Clock:  clk,
	})

	type result struct {
		resp string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := e.Execute(context.Background(), "req")
		done <- result{resp, err}
	}()

	// Two backoffs: 100ms then 200ms.
	waitForWaiters(t, clk, 1)
	clk.Advance(100 * time.Millisecond)
	waitForWaiters(t, clk, 1)
	clk.Advance(200 * time.Millisecond)

	r := <-done
	if r.err != nil {
		t.Fatalf("expected success after retries, got %v", r.err)
	}
	if transport.invocations() != 3 {
		t.Errorf("expected 3 invocations, got %d", transport.invocations())
	}
}

func TestExecutor_SurfacesLastFailureWhenExhausted(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	transport := &failNTransport{n: 100}
	e := newExecutor(t, transport, Config{
		Name:   "upstream",
		Policy: fastPolicy(3),
		Clock:  clk,
	})

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), "req")
		done <- err
	}()

	waitForWaiters(t, clk, 1)
	clk.Advance(100 * time.Millisecond)
	waitForWaiters(t, clk, 1)
	clk.Advance(200 * time.Millisecond)

	err := <-done
	if !errors.Is(err, errTimeout) {
		t.Fatalf("expected the last transient failure, got %v", err)
	}
	if transport.invocations() != 3 {
		t.Errorf("expected exactly MaxRetries=3 invocations, got %d", transport.invocations())
	}
}

func TestExecutor_PermanentFailureStopsImmediately(t *testing.T) {
	permanent := fault.Permanent(fault.CodeInvalidRequest, "malformed request")
	var calls int32
	transport := TransportFunc[string, string](func(context.Context, string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", permanent
	})
	e := newExecutor(t, transport, Config{Name: "upstream", Policy: fastPolicy(5)})

	_, err := e.Execute(context.Background(), "req")
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the permanent failure, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("permanent failures must not be retried, got %d invocations", calls)
	}
}

func TestExecutor_OpenCircuitRejectsWithoutTransport(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	b := breaker.New(breaker.Config{Name: "upstream", FailureThreshold: 3, CoolDown: time.Minute, Clock: clk})
	transport := &failNTransport{n: 100}
	e := newExecutor(t, transport, Config{
		Name:    "upstream",
		Breaker: b,
		Policy:  retry.New(retry.Config{MaxRetries: 1}),
		Clock:   clk,
	})

	for i := 0; i < 3; i++ {
		if _, err := e.Execute(context.Background(), "req"); err == nil {
			t.Fatalf("call %d: expected failure", i+1)
		}
	}
	if b.State() != breaker.StateOpen {
		t.Fatalf("expected open breaker after 3 failures, got %s", b.State())
	}

	clk.Advance(time.Millisecond)
	before := transport.invocations()
	_, err := e.Execute(context.Background(), "req")
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected breaker.ErrOpen, got %v", err)
	}
	if transport.invocations() != before {
		t.Error("open circuit must reject without invoking the transport")
	}
}

func TestExecutor_PermanentFailureDoesNotTripBreaker(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	b := breaker.New(breaker.Config{Name: "upstream", FailureThreshold: 1, CoolDown: time.Minute, Clock: clk})
	transport := TransportFunc[string, string](func(context.Context, string) (string, error) {
		return "", fault.Permanent(fault.CodeInvalidRequest, "bad request")
	})
	e := newExecutor(t, transport, Config{Name: "upstream", Breaker: b, Clock: clk})

	for i := 0; i < 5; i++ {
		_, _ = e.Execute(context.Background(), "req")
	}
	if b.State() != breaker.StateClosed {
		t.Errorf("permanent failures must not open the circuit, state is %s", b.State())
	}
}

func TestExecutor_HalfOpenProbeRecovers(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	b := breaker.New(breaker.Config{Name: "upstream", FailureThreshold: 1, CoolDown: 10 * time.Second, Clock: clk})
	transport := &failNTransport{n: 1}
	e := newExecutor(t, transport, Config{
		Name:    "upstream",
		Breaker: b,
		Policy:  retry.New(retry.Config{MaxRetries: 1}),
		Clock:   clk,
	})

	_, _ = e.Execute(context.Background(), "req") // trips the breaker
	clk.Advance(10 * time.Second)

	resp, err := e.Execute(context.Background(), "req") // probe
	if err != nil {
		t.Fatalf("expected the probe to succeed, got %v", err)
	}
	if resp != "ok:req" {
		t.Errorf("unexpected response %q", resp)
	}
	if b.State() != breaker.StateClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestExecutor_CancelledProbeDoesNotCloseCircuit(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	b := breaker.New(breaker.Config{Name: "upstream", FailureThreshold: 1, CoolDown: 10 * time.Second, Clock: clk})

	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	transport := TransportFunc[string, string](func(tctx context.Context, req string) (string, error) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			return "", errTimeout
		case 2:
			// The probe hangs and the caller walks away mid-flight.
			cancel()
			<-tctx.Done()
			return "", tctx.Err()
		default:
			return "ok:" + req, nil
		}
	})
	e := newExecutor(t, transport, Config{
		Name:    "upstream",
		Breaker: b,
		Policy:  retry.New(retry.Config{MaxRetries: 1}),
		Clock:   clk,
	})

	_, _ = e.Execute(context.Background(), "req") // trips the breaker
	clk.Advance(10 * time.Second)

	_, err := e.Execute(ctx, "req")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if b.State() != breaker.StateHalfOpen {
		t.Errorf("a cancelled probe is no evidence of recovery, expected half-open, got %s", b.State())
	}
	if b.Failures() != 1 {
		t.Errorf("a cancelled probe must not reset the tally, got %d failures", b.Failures())
	}

	// The dependency has recovered; the next probe may pass and close.
	resp, err := e.Execute(context.Background(), "req")
	if err != nil || resp != "ok:req" {
		t.Fatalf("expected the follow-up probe to succeed, got %q, %v", resp, err)
	}
	if b.State() != breaker.StateClosed {
		t.Errorf("expected closed after a real successful probe, got %s", b.State())
	}
}

func TestExecutor_CancelledBeforeStart(t *testing.T) {
	transport := &failNTransport{n: 0}
	e := newExecutor(t, transport, Config{Name: "upstream"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, "req")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if transport.invocations() != 0 {
		t.Error("cancelled call must not reach the transport")
	}
}

func TestExecutor_CancelDuringBackoffReturnsPromptly(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	transport := &failNTransport{n: 100}
	e := newExecutor(t, transport, Config{
		Name: "upstream",
		Policy: retry.New(retry.Config{
			MaxRetries:   5,
			InitialDelay: time.Hour,
			MaxDelay:     time.Hour,
			Multiplier:   2.0,
		}),
		Clock: clk,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, "req")
		done <- err
	}()

	waitForWaiters(t, clk, 1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return promptly after cancellation")
	}
	if transport.invocations() != 1 {
		t.Errorf("expected 1 invocation before cancellation, got %d", transport.invocations())
	}
}

func TestExecutor_CancelDuringRateLimitWait(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	l := ratelimit.New(ratelimit.Config{Name: "upstream", MaxCalls: 1, Window: time.Hour, Clock: clk})
	transport := &failNTransport{n: 0}
	e := newExecutor(t, transport, Config{Name: "upstream", Limiter: l, Clock: clk})

	if _, err := e.Execute(context.Background(), "req"); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, "req")
		done <- err
	}()

	waitForWaiters(t, clk, 1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return promptly after cancellation")
	}
	if transport.invocations() != 1 {
		t.Errorf("the parked call must not reach the transport, got %d invocations", transport.invocations())
	}
}

func TestExecutor_RateLimitedCallWaitsThenProceeds(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	l := ratelimit.New(ratelimit.Config{Name: "upstream", MaxCalls: 1, Window: time.Second, Clock: clk})
	transport := &failNTransport{n: 0}
	e := newExecutor(t, transport, Config{Name: "upstream", Limiter: l, Clock: clk})

	if _, err := e.Execute(context.Background(), "first"); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), "second")
		done <- err
	}()

	waitForWaiters(t, clk, 1)
	select {
	case <-done:
		t.Fatal("second call should be parked while the window is full")
	default:
	}

	clk.Advance(time.Second)
	if err := <-done; err != nil {
		t.Errorf("expected the parked call to proceed, got %v", err)
	}
	if transport.invocations() != 2 {
		t.Errorf("expected 2 invocations, got %d", transport.invocations())
	}
}

func TestExecutor_DefaultTimeoutCancelsHangingTransport(t *testing.T) {
	transport := TransportFunc[string, string](func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	e := newExecutor(t, transport, Config{Name: "upstream", Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := e.Execute(context.Background(), "req")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestExecutor_OnAttemptObservesEveryAttempt(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	transport := &failNTransport{n: 2}
	var attempts []Attempt
	e := newExecutor(t, transport, Config{
		Name:      "upstream",
		Policy:    fastPolicy(5),
		Clock:     clk,
		OnAttempt: func(a Attempt) { attempts = append(attempts, a) },
	})

	done := make(chan struct{})
	go func() {
		_, _ = e.Execute(context.Background(), "req")
		close(done)
	}()

	waitForWaiters(t, clk, 1)
	clk.Advance(100 * time.Millisecond)
	waitForWaiters(t, clk, 1)
	clk.Advance(200 * time.Millisecond)
	<-done

	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempt records, got %d", len(attempts))
	}
	for i, a := range attempts {
		if a.Index != i+1 {
			t.Errorf("attempt %d: expected index %d, got %d", i, i+1, a.Index)
		}
		if a.CallID != attempts[0].CallID {
			t.Error("all attempts must share the call ID")
		}
	}
	if attempts[0].Outcome != OutcomeRetryable || attempts[2].Outcome != OutcomeSuccess {
		t.Errorf("unexpected outcomes: %v, %v", attempts[0].Outcome, attempts[2].Outcome)
	}
}

func TestOutcome_String(t *testing.T) {
	cases := map[Outcome]string{
		OutcomeSuccess:   "success",
		OutcomeRetryable: "retryable_failure",
		OutcomePermanent: "permanent_failure",
		OutcomeCancelled: "cancelled",
		Outcome(42):      "unknown",
	}
	for o, want := range cases {
		if o.String() != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", o, o.String(), want)
		}
	}
}
