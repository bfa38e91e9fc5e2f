// Package pid implements a discrete-time PID controller with a fixed sample
// period, derivative on measurement, optional derivative smoothing and
// integral anti-windup. Time is always passed in by the caller.
package pid

import "time"

// DefaultSampleTime is the evaluation period used unless overridden.
const DefaultSampleTime = time.Second

// Tunings are the controller gains.
type Tunings struct {
	Kp, Ki, Kd float64
}

// State is a read-only copy of the controller internals.
type State struct {
	Setpoint   float64
	Output     float64
	Integral   float64
	LastInput  float64
	Derivative float64
	Automatic  bool
}

// Controller is a PID controller. Not safe for concurrent use.
type Controller struct {
	kp, ki, kd float64
	setpoint   float64
	outMin     float64
	outMax     float64
	sampleTime time.Duration

	integral    float64
	integralMax float64
	antiWindup  bool
	lastInput   float64
	lastDeriv   float64
	lastTime    time.Time
	seeded      bool

	alpha     float64
	automatic bool
	reverse   bool

	output float64
}

// New creates a controller in manual mode with output limits [0, 100].
// Negative gains are ignored and leave the gain at zero.
func New(t Tunings) *Controller {
	c := &Controller{
		outMin:     0,
		outMax:     100,
		sampleTime: DefaultSampleTime,
	}
	c.SetTunings(t)
	return c
}

// Begin switches to automatic mode and starts the first sample period at now.
func (c *Controller) Begin(now time.Time) {
	c.automatic = true
	c.lastTime = now
	c.Reset()
}

// Compute evaluates the controller if a full sample period has elapsed since
// the previous evaluation and returns the output. Between evaluations, and
// in manual mode, the last output is held.
func (c *Controller) Compute(input float64, now time.Time) float64 {
	if !c.automatic {
		return c.output
	}
	elapsed := now.Sub(c.lastTime)
	if elapsed < c.sampleTime {
		return c.output
	}
	dt := elapsed.Seconds()

	if !c.seeded {
		c.lastInput = input
		c.seeded = true
	}

	err := c.setpoint - input
	if c.reverse {
		err = -err
	}

	p := c.kp * err

	step := c.ki * err * dt
	c.integral += step
	if c.antiWindup && c.integralMax > 0 {
		c.integral = clamp(c.integral, -c.integralMax, c.integralMax)
	}

	var deriv float64
	if dt > 0 {
		deriv = (input - c.lastInput) / dt
		if c.alpha > 0 {
			deriv = c.alpha*c.lastDeriv + (1-c.alpha)*deriv
			c.lastDeriv = deriv
		}
	}
	d := -c.kd * deriv

	c.output = clamp(p+c.integral+d, c.outMin, c.outMax)

	if c.antiWindup {
		if (c.output >= c.outMax && err > 0) || (c.output <= c.outMin && err < 0) {
			c.integral -= step
		}
	}

	c.lastInput = input
	c.lastTime = now
	return c.output
}

// SetSetpoint changes the target. The derivative acts on the measurement, so
// a setpoint step does not kick the output.
func (c *Controller) SetSetpoint(sp float64) {
	c.setpoint = sp
}

// Setpoint returns the current target.
func (c *Controller) Setpoint() float64 {
	return c.setpoint
}

// SetTunings sets the gains. Any negative gain makes the call a no-op.
func (c *Controller) SetTunings(t Tunings) {
	if t.Kp < 0 || t.Ki < 0 || t.Kd < 0 {
		return
	}
	c.kp, c.ki, c.kd = t.Kp, t.Ki, t.Kd
}

// Tunings returns the current gains.
func (c *Controller) Tunings() Tunings {
	return Tunings{Kp: c.kp, Ki: c.ki, Kd: c.kd}
}

// SetOutputLimits sets the output range and pulls the current output and
// integral inside it. min >= max is a no-op.
func (c *Controller) SetOutputLimits(min, max float64) {
	if min >= max {
		return
	}
	c.outMin, c.outMax = min, max
	c.output = clamp(c.output, min, max)
	c.integral = clamp(c.integral, min, max)
}

// OutputLimits returns the output range.
func (c *Controller) OutputLimits() (min, max float64) {
	return c.outMin, c.outMax
}

// SetSampleTime changes the evaluation period. Non-positive values are ignored.
func (c *Controller) SetSampleTime(d time.Duration) {
	if d > 0 {
		c.sampleTime = d
	}
}

// SetMode switches between automatic and manual. Manual freezes the output;
// switching back to automatic clears the integral and derivative history and
// makes the next Compute evaluate at once instead of holding the frozen
// output for a sample period.
func (c *Controller) SetMode(automatic bool, now time.Time) {
	if automatic && !c.automatic {
		c.Reset()
		c.lastTime = now.Add(-c.sampleTime)
	}
	c.automatic = automatic
}

// IsAutomatic reports whether the controller is computing.
func (c *Controller) IsAutomatic() bool {
	return c.automatic
}

// SetReverse inverts the error sign for cooling loads.
func (c *Controller) SetReverse(reverse bool) {
	c.reverse = reverse
}

// EnableAntiWindup turns on integral rollback at saturation. A positive
// integralMax additionally clamps the integral to [-integralMax, integralMax].
func (c *Controller) EnableAntiWindup(enable bool, integralMax float64) {
	c.antiWindup = enable
	c.integralMax = integralMax
}

// SetDerivativeFilter sets the one-pole smoothing coefficient. 0 disables the
// filter; values outside [0, 1] are ignored.
func (c *Controller) SetDerivativeFilter(alpha float64) {
	if alpha >= 0 && alpha <= 1 {
		c.alpha = alpha
	}
}

// Reset clears the integral and derivative history. The next evaluation
// seeds the previous input from its own measurement.
func (c *Controller) Reset() {
	c.integral = 0
	c.lastDeriv = 0
	c.seeded = false
}

// Output returns the last computed output.
func (c *Controller) Output() float64 {
	return c.output
}

// State returns a copy of the controller internals.
func (c *Controller) State() State {
	return State{
		Setpoint:   c.setpoint,
		Output:     c.output,
		Integral:   c.integral,
		LastInput:  c.lastInput,
		Derivative: c.lastDeriv,
		Automatic:  c.automatic,
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
