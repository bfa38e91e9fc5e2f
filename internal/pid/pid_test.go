package pid

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func sec(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Second)
}

func TestNewDefaults(t *testing.T) {
	c := New(Tunings{Kp: 2, Ki: 0.5, Kd: 1})

	assert.Equal(t, Tunings{Kp: 2, Ki: 0.5, Kd: 1}, c.Tunings())
	min, max := c.OutputLimits()
	assert.Equal(t, 0.0, min)
	assert.Equal(t, 100.0, max)
	assert.False(t, c.IsAutomatic())
}

func TestProportionalOnly(t *testing.T) {
	c := New(Tunings{Kp: 2})
	c.SetSetpoint(56)
	c.Begin(t0)

	out := c.Compute(50, sec(1))
	assert.InDelta(t, 12.0, out, 1e-9)
}

func TestZeroOrderHold(t *testing.T) {
	c := New(Tunings{Kp: 2})
	c.SetSetpoint(56)
	c.Begin(t0)

	first := c.Compute(50, sec(1))
	held := c.Compute(20, sec(1).Add(999*time.Millisecond))
	assert.Equal(t, first, held, "output must be held inside the sample period")

	next := c.Compute(55, sec(2))
	assert.InDelta(t, 2.0, next, 1e-9)
}

func TestIntegralAccumulatesWithDt(t *testing.T) {
	c := New(Tunings{Ki: 0.5})
	c.SetSetpoint(56)
	c.Begin(t0)

	// 2s since begin, error 4: integral 0.5*4*2 = 4
	require.InDelta(t, 4.0, c.Compute(52, sec(2)), 1e-9)
	// another 1s: +2
	require.InDelta(t, 6.0, c.Compute(52, sec(3)), 1e-9)
}

func TestNoDerivativeKickOnFirstCompute(t *testing.T) {
	c := New(Tunings{Kd: 10})
	c.SetSetpoint(56)
	c.Begin(t0)

	assert.Equal(t, 0.0, c.Compute(50, sec(1)))
}

func TestDerivativeOnMeasurement(t *testing.T) {
	c := New(Tunings{Kd: 1})
	c.SetOutputLimits(-100, 100)
	c.SetSetpoint(56)
	c.Begin(t0)
	c.Compute(50, sec(1))

	// Rising 2°C/s gives -2.
	assert.InDelta(t, -2.0, c.Compute(52, sec(2)), 1e-9)

	// A setpoint step with steady input does not kick.
	c.SetSetpoint(80)
	assert.InDelta(t, 0.0, c.Compute(52, sec(3)), 1e-9)
}

func TestDerivativeFilter(t *testing.T) {
	c := New(Tunings{Kd: 1})
	c.SetOutputLimits(-100, 100)
	c.SetDerivativeFilter(0.5)
	c.Begin(t0)
	c.Compute(50, sec(1))

	// raw derivative 4 -> filtered 0.5*0 + 0.5*4 = 2
	assert.InDelta(t, -2.0, c.Compute(54, sec(2)), 1e-9)
	// raw derivative 4 -> filtered 0.5*2 + 0.5*4 = 3
	assert.InDelta(t, -3.0, c.Compute(58, sec(3)), 1e-9)

	c.SetDerivativeFilter(1.5)
	assert.InDelta(t, 0.5, c.alpha, 1e-9, "out of range alpha must be ignored")
}

func TestReverse(t *testing.T) {
	c := New(Tunings{Kp: 1})
	c.SetReverse(true)
	c.SetSetpoint(10)
	c.Begin(t0)

	assert.InDelta(t, 5.0, c.Compute(15, sec(1)), 1e-9)
}

func TestAntiWindupRollsBackIntegral(t *testing.T) {
	c := New(Tunings{Kp: 50, Ki: 1})
	c.EnableAntiWindup(true, 0)
	c.SetSetpoint(56)
	c.Begin(t0)

	for i := 1; i <= 100; i++ {
		out := c.Compute(20, sec(i))
		require.Equal(t, 100.0, out)
	}
	assert.InDelta(t, 0.0, c.State().Integral, 1e-9, "integral must not grow while saturated")

	// Without anti-windup the same run winds up.
	w := New(Tunings{Kp: 50, Ki: 1})
	w.SetSetpoint(56)
	w.Begin(t0)
	for i := 1; i <= 100; i++ {
		w.Compute(20, sec(i))
	}
	assert.Greater(t, w.State().Integral, 1000.0)
}

func TestAntiWindupIntegralMax(t *testing.T) {
	c := New(Tunings{Ki: 1})
	c.EnableAntiWindup(true, 3)
	c.SetSetpoint(56)
	c.Begin(t0)

	c.Compute(55, sec(10))
	assert.InDelta(t, 3.0, c.State().Integral, 1e-9)
}

func TestManualFreezesOutput(t *testing.T) {
	c := New(Tunings{Kp: 2, Ki: 1})
	c.SetSetpoint(56)
	c.Begin(t0)
	out := c.Compute(50, sec(1))

	c.SetMode(false, sec(1))
	assert.Equal(t, out, c.Compute(0, sec(10)))

	c.SetMode(true, sec(10))
	assert.Equal(t, 0.0, c.State().Integral, "re-enabling must reset the integral")
	// The first sample after re-enable is taken at once, then held.
	assert.InDelta(t, 0.0, c.Compute(56, sec(10)), 1e-9)
	assert.InDelta(t, 0.0, c.Compute(50, sec(10).Add(500*time.Millisecond)), 1e-9)
	assert.InDelta(t, 18.0, c.Compute(50, sec(11)), 1e-9)
}

func TestReenableDoesNotReplayFrozenOutput(t *testing.T) {
	c := New(Tunings{Kp: 10})
	c.SetSetpoint(56)
	c.Begin(t0)
	assert.Equal(t, 100.0, c.Compute(20, sec(1)))

	c.SetMode(false, sec(2))
	c.SetMode(true, sec(30))
	assert.Equal(t, 0.0, c.Compute(60, sec(30)), "hot bath after re-enable must not see the old full power")
}

func TestInvalidSettersAreNoOps(t *testing.T) {
	c := New(Tunings{Kp: 2, Ki: 0.5, Kd: 1})

	c.SetTunings(Tunings{Kp: -1, Ki: 1, Kd: 1})
	assert.Equal(t, Tunings{Kp: 2, Ki: 0.5, Kd: 1}, c.Tunings())

	c.SetOutputLimits(50, 50)
	c.SetOutputLimits(60, 10)
	min, max := c.OutputLimits()
	assert.Equal(t, 0.0, min)
	assert.Equal(t, 100.0, max)

	c.SetSampleTime(0)
	assert.Equal(t, DefaultSampleTime, c.sampleTime)
}

func TestNarrowingLimitsClampsOutputAndIntegral(t *testing.T) {
	c := New(Tunings{Kp: 1, Ki: 10})
	c.SetSetpoint(100)
	c.Begin(t0)
	c.Compute(50, sec(1))
	require.Equal(t, 100.0, c.Output())

	c.SetOutputLimits(0, 40)
	assert.Equal(t, 40.0, c.Output())
	assert.LessOrEqual(t, c.State().Integral, 40.0)
}

func TestOutputAlwaysWithinLimits(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for run := 0; run < 50; run++ {
		c := New(Tunings{Kp: rng.Float64() * 50, Ki: rng.Float64() * 10, Kd: rng.Float64() * 50})
		lo := rng.Float64()*50 - 25
		hi := lo + 1 + rng.Float64()*100
		c.SetOutputLimits(lo, hi)
		c.EnableAntiWindup(rng.Intn(2) == 0, 0)
		c.SetDerivativeFilter(rng.Float64())
		c.SetSetpoint(rng.Float64()*200 - 50)
		c.Begin(t0)

		now := t0
		for i := 0; i < 200; i++ {
			now = now.Add(time.Duration(rng.Intn(3000)) * time.Millisecond)
			out := c.Compute(rng.Float64()*300-100, now)
			if out < lo || out > hi {
				t.Fatalf("run %d step %d: output %v outside [%v, %v]", run, i, out, lo, hi)
			}
		}
	}
}
