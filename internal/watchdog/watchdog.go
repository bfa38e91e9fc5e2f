// Package watchdog detects a stalled control loop. The loop kicks the
// watchdog every tick; a supervisor goroutine checks that the last kick is
// recent and gives up when it is not.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultTimeout is the longest gap allowed between kicks.
const DefaultTimeout = 10 * time.Second

// ErrStalled is returned by Check and Run when the loop stops kicking.
var ErrStalled = errors.New("control loop stalled")

// Watchdog records the time of the last kick. Kick is safe to call from
// any goroutine.
type Watchdog struct {
	timeout time.Duration
	now     func() time.Time
	last    atomic.Int64 // unix nanoseconds
}

// New creates a Watchdog, counting the first interval from now().
func New(timeout time.Duration, now func() time.Time) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if now == nil {
		now = time.Now
	}
	w := &Watchdog{timeout: timeout, now: now}
	w.Kick()
	return w
}

// Timeout returns the allowed gap between kicks.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Kick records that the loop is alive.
func (w *Watchdog) Kick() {
	w.last.Store(w.now().UnixNano())
}

// Since returns the time since the last kick.
func (w *Watchdog) Since() time.Duration {
	return w.now().Sub(time.Unix(0, w.last.Load()))
}

// Check returns ErrStalled once the last kick is older than the timeout.
func (w *Watchdog) Check() error {
	if d := w.Since(); d > w.timeout {
		return fmt.Errorf("%w: no kick for %v", ErrStalled, d.Truncate(time.Millisecond))
	}
	return nil
}

// Run checks the watchdog on every tick until ctx is done. On a stall it
// calls onStall, which may be nil, and returns the stall error.
func (w *Watchdog) Run(ctx context.Context, tick <-chan time.Time, onStall func(error)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := w.Check(); err != nil {
				if onStall != nil {
					onStall(err)
				}
				return err
			}
		}
	}
}
