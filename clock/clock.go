// Package clock provides an injectable time source so that components which
// wait or act on elapsed time can be tested deterministically.
//
// Production code uses System(); tests use NewManual and advance it by hand.
package clock

import (
	"context"
	"time"
)

// Clock supplies the current time and timers.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// NewTimer returns a timer that fires once after d.
	NewTimer(d time.Duration) Timer
}

// Timer is a single-shot timer.
type Timer interface {
	// C returns the channel the firing time is delivered on.
	C() <-chan time.Time
	// Stop cancels the timer. It reports whether the timer was still pending.
	Stop() bool
}

// System returns a Clock backed by the real time package.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (st systemTimer) C() <-chan time.Time { return st.t.C }
func (st systemTimer) Stop() bool          { return st.t.Stop() }

// Sleep waits for d to elapse on clk, returning early with the context error
// if ctx is cancelled first. A non-positive d only checks the context.
//
// Every delay in this module (retry backoff, rate-limit deferral) goes
// through this single wait path so cancellation behaves identically in both.
func Sleep(ctx context.Context, clk Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := clk.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
