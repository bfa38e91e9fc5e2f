package ssr

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sweeney/sousvide/internal/gpio"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func ms(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Millisecond)
}

func newActuator(t *testing.T) (*Actuator, *gpio.FakeOutput) {
	t.Helper()
	out := gpio.NewFakeOutput()
	a := New(out, DefaultWindow)
	if err := a.Begin(t0); err != nil {
		t.Fatalf("begin: %v", err)
	}
	return a, out
}

func TestBeginDrivesLow(t *testing.T) {
	a, out := newActuator(t)
	if len(out.Writes) != 1 || out.Writes[0] {
		t.Errorf("expected a single low write, got %v", out.Writes)
	}
	if !a.IsEnabled() {
		t.Error("should be enabled after begin")
	}
}

func TestSetPowerPercentage(t *testing.T) {
	a, _ := newActuator(t)

	for _, p := range []float64{0, 1, 12.5, 33.3, 50, 99.9, 100} {
		a.SetPower(p)
		want := float64(DefaultWindow) * p / 100
		if math.Abs(float64(a.OnTime())-want) > 1 {
			t.Errorf("SetPower(%v): on-time %v, want %v", p, a.OnTime(), time.Duration(want))
		}
		if a.PowerPercentage() != p {
			t.Errorf("SetPower(%v): percentage %v", p, a.PowerPercentage())
		}
	}
}

func TestSetPowerClamps(t *testing.T) {
	a, _ := newActuator(t)

	a.SetPower(-20)
	if a.PowerPercentage() != 0 || a.OnTime() != 0 {
		t.Errorf("negative power: got %v%% %v", a.PowerPercentage(), a.OnTime())
	}
}

func TestSetPowerMilliseconds(t *testing.T) {
	a, _ := newActuator(t)

	a.SetPower(1250)
	if a.OnTime() != 1250*time.Millisecond {
		t.Errorf("on-time: got %v, want 1.25s", a.OnTime())
	}
	if a.PowerPercentage() != 25 {
		t.Errorf("percentage: got %v, want 25", a.PowerPercentage())
	}

	a.SetPower(9000)
	if a.OnTime() != DefaultWindow || a.PowerPercentage() != 100 {
		t.Errorf("over-window on-time: got %v %v%%", a.OnTime(), a.PowerPercentage())
	}
}

func TestSetWindowSizeKeepsPercentage(t *testing.T) {
	a, _ := newActuator(t)
	a.SetPower(40)
	a.SetWindowSize(10 * time.Second)

	if a.OnTime() != 4*time.Second {
		t.Errorf("on-time: got %v, want 4s", a.OnTime())
	}
	a.SetWindowSize(0)
	if a.WindowSize() != 10*time.Second {
		t.Error("non-positive window must be ignored")
	}
}

func TestDutySchedule(t *testing.T) {
	a, out := newActuator(t)
	a.SetPower(40) // 2s on, 3s off

	tests := []struct {
		at   int
		want bool
	}{
		{0, true},
		{1999, true},
		{2000, false},
		{4999, false},
		{5000, true},
		{6999, true},
		{7000, false},
	}
	for _, tt := range tests {
		if err := a.Update(ms(tt.at)); err != nil {
			t.Fatalf("update: %v", err)
		}
		if out.Level() != tt.want {
			t.Errorf("t=%dms: output %v, want %v", tt.at, out.Level(), tt.want)
		}
	}
}

func TestWindowAdvancePreservesPhase(t *testing.T) {
	a, out := newActuator(t)
	a.SetPower(20) // 1s on

	// A late tick lands 300ms into the third window.
	a.Update(ms(10300))
	if !out.Level() {
		t.Error("expected on: 300ms into a window with 1s on-time")
	}
	a.Update(ms(11000))
	if out.Level() {
		t.Error("expected off at the on-time boundary of the first window grid")
	}
	a.Update(ms(15000))
	if !out.Level() {
		t.Error("expected on at the start of the next grid window")
	}
}

func TestZeroPowerNeverOn(t *testing.T) {
	a, out := newActuator(t)
	a.SetPower(0)
	for i := 0; i < 10000; i += 250 {
		a.Update(ms(i))
		if out.Level() {
			t.Fatalf("output on at %dms with zero power", i)
		}
	}
}

func TestDisableForcesLow(t *testing.T) {
	a, out := newActuator(t)
	a.SetPower(100)
	a.Update(ms(10))
	if !out.Level() {
		t.Fatal("expected on")
	}

	a.Enable(false)
	if out.Level() {
		t.Error("disable must drive low immediately")
	}
	a.Update(ms(20))
	if out.Level() {
		t.Error("disabled actuator must stay low")
	}
}

func TestSafetyLockOverridesSchedule(t *testing.T) {
	a, out := newActuator(t)
	a.SetPower(100)
	a.Update(ms(10))

	a.SetSafetyLock(true)
	if out.Level() {
		t.Error("lock must drive low immediately")
	}
	a.Update(ms(20))
	if out.Level() {
		t.Error("locked actuator must stay low")
	}

	a.SetSafetyLock(false)
	a.Update(ms(30))
	if !out.Level() {
		t.Error("expected on after unlock")
	}
}

func TestEmergencyStopLatches(t *testing.T) {
	a, out := newActuator(t)
	a.SetPower(80)
	a.Update(ms(10))

	if err := a.EmergencyStop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Level() || a.PowerPercentage() != 0 || a.OnTime() != 0 || !a.IsSafetyLocked() {
		t.Errorf("after emergency stop: %+v", a.Status())
	}

	a.SetPower(100)
	a.Update(ms(20))
	if out.Level() {
		t.Error("emergency stop must stay latched")
	}

	a.ClearEmergency()
	a.Update(ms(30))
	if !out.Level() {
		t.Error("expected on after clearing the emergency and restoring power")
	}
}

func TestUpdateReturnsWriteError(t *testing.T) {
	a, out := newActuator(t)
	a.SetPower(100)
	out.SetError = errors.New("line busy")

	if err := a.Update(ms(10)); err == nil {
		t.Error("expected write error")
	}
}
