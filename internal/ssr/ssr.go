// Package ssr drives a solid state relay with time-proportional control: a
// fixed window is split into an on prefix and an off suffix whose ratio is
// the commanded power.
package ssr

import (
	"fmt"
	"time"
)

// DefaultWindow is the control window length.
const DefaultWindow = 5 * time.Second

// Output is the digital line the relay is wired to.
type Output interface {
	Set(on bool) error
}

// Status is a read-only copy of the actuator state.
type Status struct {
	Power   float64
	OnTime  time.Duration
	Window  time.Duration
	On      bool
	Enabled bool
	Locked  bool
}

// Actuator is the time-proportional relay driver. Not safe for concurrent use.
type Actuator struct {
	out Output

	window      time.Duration
	windowStart time.Time
	power       float64
	onTime      time.Duration

	enabled bool
	locked  bool
	on      bool
}

// New creates an actuator on out. A non-positive window uses DefaultWindow.
// The actuator starts disabled with the output untouched until Begin.
func New(out Output, window time.Duration) *Actuator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Actuator{out: out, window: window}
}

// Begin drives the output low, starts the first window at now and enables
// the actuator.
func (a *Actuator) Begin(now time.Time) error {
	a.windowStart = now
	a.enabled = true
	return a.drive(false)
}

// Update advances the window and drives the output for now. The output is
// high only when enabled, not locked, and inside the on prefix.
func (a *Actuator) Update(now time.Time) error {
	if !a.enabled || a.locked {
		return a.drive(false)
	}
	for now.Sub(a.windowStart) >= a.window {
		a.windowStart = a.windowStart.Add(a.window)
	}
	return a.drive(a.onTime > 0 && now.Sub(a.windowStart) < a.onTime)
}

func (a *Actuator) drive(on bool) error {
	if err := a.out.Set(on); err != nil {
		return fmt.Errorf("drive ssr %v: %w", on, err)
	}
	a.on = on
	return nil
}

// SetPower sets the duty. Values up to 100 are a percentage; larger values
// are an on-time in milliseconds. Both are clamped and kept consistent.
func (a *Actuator) SetPower(p float64) {
	if p <= 100 {
		a.power = clamp(p, 0, 100)
		a.onTime = time.Duration(float64(a.window) * a.power / 100)
		return
	}
	ms := clamp(p, 0, float64(a.window.Milliseconds()))
	a.onTime = time.Duration(ms * float64(time.Millisecond))
	a.power = float64(a.onTime) * 100 / float64(a.window)
}

// SetWindowSize changes the window and recomputes the on-time for the
// current percentage. Non-positive sizes are ignored.
func (a *Actuator) SetWindowSize(d time.Duration) {
	if d <= 0 {
		return
	}
	a.window = d
	a.onTime = time.Duration(float64(a.window) * a.power / 100)
}

// Enable turns duty scheduling on or off. Disabling drives the output low.
func (a *Actuator) Enable(enable bool) error {
	a.enabled = enable
	if !enable {
		return a.drive(false)
	}
	return nil
}

// SetSafetyLock forces the output low while locked.
func (a *Actuator) SetSafetyLock(lock bool) error {
	a.locked = lock
	if lock {
		return a.drive(false)
	}
	return nil
}

// EmergencyStop latches the safety lock, zeroes the power and drives the
// output low. Only ClearEmergency releases the lock.
func (a *Actuator) EmergencyStop() error {
	a.locked = true
	a.power = 0
	a.onTime = 0
	return a.drive(false)
}

// ClearEmergency releases the safety lock. Power stays at zero.
func (a *Actuator) ClearEmergency() {
	a.locked = false
}

// PowerPercentage returns the commanded power in percent.
func (a *Actuator) PowerPercentage() float64 { return a.power }

// OnTime returns the on prefix of each window.
func (a *Actuator) OnTime() time.Duration { return a.onTime }

// WindowSize returns the window length.
func (a *Actuator) WindowSize() time.Duration { return a.window }

// IsOn reports the last level driven onto the output.
func (a *Actuator) IsOn() bool { return a.on }

// IsEnabled reports whether duty scheduling is on.
func (a *Actuator) IsEnabled() bool { return a.enabled }

// IsSafetyLocked reports whether the safety lock is engaged.
func (a *Actuator) IsSafetyLocked() bool { return a.locked }

// Status returns a copy of the actuator state.
func (a *Actuator) Status() Status {
	return Status{
		Power:   a.power,
		OnTime:  a.onTime,
		Window:  a.window,
		On:      a.on,
		Enabled: a.enabled,
		Locked:  a.locked,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}
