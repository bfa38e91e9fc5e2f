// Package control runs the cooker's control tick. It owns the encoder, the
// temperature acquisition, the PID, the relay actuator and the cooking state
// machine, and calls them in a fixed order. Time is passed in by the caller.
package control

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/sousvide/internal/encoder"
	"github.com/sweeney/sousvide/internal/gpio"
	"github.com/sweeney/sousvide/internal/logic"
	"github.com/sweeney/sousvide/internal/pid"
	"github.com/sweeney/sousvide/internal/sensor"
	"github.com/sweeney/sousvide/internal/ssr"
)

// ErrQueueFull is returned by Submit when the command queue is full.
var ErrQueueFull = errors.New("command queue full")

// Config holds the tunables of every core component.
type Config struct {
	Encoder           encoder.Config
	Sensor            sensor.Config
	Limits            logic.Limits
	Params            logic.CookingParameters
	Window            time.Duration
	SampleTime        time.Duration
	DerivativeFilter  float64
	IntegralMax       float64
	CalibrationOffset float64
	QueueSize         int
}

// DefaultConfig returns the appliance defaults.
func DefaultConfig() Config {
	return Config{
		Encoder:     encoder.DefaultConfig(),
		Sensor:      sensor.DefaultConfig(),
		Limits:      logic.DefaultLimits(),
		Params:      logic.DefaultParameters(),
		Window:      ssr.DefaultWindow,
		SampleTime:  pid.DefaultSampleTime,
		IntegralMax: 100,
		QueueSize:   16,
	}
}

// Snapshot is a read-only copy of every core component after a tick.
type Snapshot struct {
	Time       time.Time
	Machine    logic.Status
	Sensor     sensor.Reading
	PID        pid.State
	SSR        ssr.Status
	Position   int
	ButtonDown bool
}

type request struct {
	cmd   logic.Command
	reply chan error
}

// Controller is the control loop. Tick, Begin, Snapshot and Shutdown must be
// called from one goroutine; Submit is safe from any goroutine.
type Controller struct {
	enc     *encoder.Encoder
	sensor  *sensor.Acquisition
	pid     *pid.Controller
	ssr     *ssr.Actuator
	machine *logic.Machine

	button  gpio.Button
	buzzer  gpio.Output
	buzzing bool

	requests chan request
}

// New wires the core components onto the given hardware. buzzer may be nil.
func New(cfg Config, probe sensor.Probe, button gpio.Button, heater ssr.Output, buzzer gpio.Output, now time.Time) *Controller {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	p := pid.New(pid.Tunings{Kp: cfg.Params.Kp, Ki: cfg.Params.Ki, Kd: cfg.Params.Kd})
	p.SetOutputLimits(0, 100)
	p.SetSampleTime(cfg.SampleTime)
	p.SetDerivativeFilter(cfg.DerivativeFilter)
	p.EnableAntiWindup(true, cfg.IntegralMax)

	m := logic.NewMachine(cfg.Limits, cfg.Params, now)
	m.SetCalibrationOffset(cfg.CalibrationOffset)

	acq := sensor.New(probe, cfg.Sensor)
	if cfg.CalibrationOffset != 0 {
		acq.SetCalibrationOffset(m.CalibrationOffset())
	}

	return &Controller{
		enc:      encoder.New(cfg.Encoder),
		sensor:   acq,
		pid:      p,
		ssr:      ssr.New(heater, cfg.Window),
		machine:  m,
		button:   button,
		buzzer:   buzzer,
		requests: make(chan request, cfg.QueueSize),
	}
}

// Encoder returns the rotary encoder so the edge source can be attached.
func (c *Controller) Encoder() *encoder.Encoder {
	return c.enc
}

// Begin drives the heater and buzzer low and issues the first temperature
// conversion. A probe failure is logged, not returned; the first tick will
// raise it as a sensor fault.
func (c *Controller) Begin(now time.Time) error {
	if err := c.ssr.Begin(now); err != nil {
		return fmt.Errorf("init heater: %w", err)
	}
	if c.buzzer != nil {
		if err := c.buzzer.Set(false); err != nil {
			return fmt.Errorf("init buzzer: %w", err)
		}
	}
	if err := c.sensor.Begin(now); err != nil {
		log.Printf("control: sensor begin: %v", err)
	}
	return nil
}

// Submit queues cmd for the next tick. The returned channel receives the
// result once the command has been applied.
func (c *Controller) Submit(cmd logic.Command) (<-chan error, error) {
	r := request{cmd: cmd, reply: make(chan error, 1)}
	select {
	case c.requests <- r:
		return r.reply, nil
	default:
		return nil, ErrQueueFull
	}
}

// Tick runs one control cycle and returns the workflow events raised.
func (c *Controller) Tick(now time.Time) []logic.Event {
	c.sensor.Update(now)

	down, err := c.button.Pressed()
	if err != nil {
		log.Printf("control: button read error: %v", err)
		down = c.enc.IsButtonDown()
	}
	c.enc.Update(now, down)

	// Until the first reading (or a known fault) the workflow waits; panel
	// input and queued commands are kept for the first real tick.
	var events []logic.Event
	if c.sensor.Ready() {
		btn := panelButton(c.enc.Event())
		notches := c.enc.Change()

		events = c.applyCommands(now)
		events = append(events, c.machine.Update(logic.Input{
			Temperature: c.sensor.Current(),
			Notches:     notches,
			Button:      btn,
			Time:        now,
		})...)

		if off := c.machine.CalibrationOffset(); off != c.sensor.CalibrationOffset() {
			c.sensor.SetCalibrationOffset(off)
		}
	}

	if err := c.actuate(now); err != nil {
		log.Printf("control: %v", err)
		events = append(events, c.machine.SetError(logic.ErrorSsrFailure, now)...)
		if err := c.ssr.Enable(false); err != nil {
			log.Printf("control: heater disable after failure: %v", err)
		}
	}

	c.soundAlarm()
	return events
}

func (c *Controller) applyCommands(now time.Time) []logic.Event {
	var events []logic.Event
	for {
		select {
		case r := <-c.requests:
			ev, err := c.machine.Apply(r.cmd, now)
			if err != nil {
				log.Printf("control: command %s rejected: %v", r.cmd.Action, err)
			} else {
				log.Printf("control: command %s applied", r.cmd.Action)
			}
			events = append(events, ev...)
			r.reply <- err
		default:
			return events
		}
	}
}

// actuate drives the heater from the PID while the workflow is heating and
// holds it off otherwise.
func (c *Controller) actuate(now time.Time) error {
	if c.machine.State().Heating() {
		p := c.machine.Params()
		c.pid.SetMode(true, now)
		c.pid.SetSetpoint(p.TargetTemperature)
		c.pid.SetTunings(pid.Tunings{Kp: p.Kp, Ki: p.Ki, Kd: p.Kd})
		out := c.pid.Compute(c.sensor.Current(), now)
		if err := c.ssr.Enable(true); err != nil {
			return err
		}
		c.ssr.SetPower(out)
	} else {
		c.pid.SetMode(false, now)
		c.ssr.SetPower(0)
		if c.ssr.IsEnabled() {
			if err := c.ssr.Enable(false); err != nil {
				return err
			}
		}
	}
	return c.ssr.Update(now)
}

func (c *Controller) soundAlarm() {
	on := c.machine.AlarmActive()
	if c.buzzer == nil || on == c.buzzing {
		return
	}
	if err := c.buzzer.Set(on); err != nil {
		log.Printf("control: buzzer: %v", err)
		return
	}
	c.buzzing = on
}

// panelButton maps the encoder button classification onto the workflow's
// press and long press. A completed click is a press.
func panelButton(ev encoder.ButtonEvent) logic.Button {
	switch ev {
	case encoder.Released:
		return logic.ButtonPress
	case encoder.LongPress:
		return logic.ButtonLongPress
	}
	return logic.ButtonNone
}

// CalibrateToReference sets the sensor offset so the probe reads reference
// and returns the new offset.
func (c *Controller) CalibrateToReference(reference float64) (float64, error) {
	if err := c.sensor.CalibrateToReference(reference); err != nil {
		return 0, err
	}
	c.machine.SetCalibrationOffset(c.sensor.CalibrationOffset())
	return c.machine.CalibrationOffset(), nil
}

// Snapshot returns a copy of every component's state.
func (c *Controller) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		Time:       now,
		Machine:    c.machine.Status(now),
		Sensor:     c.sensor.Snapshot(),
		PID:        c.pid.State(),
		SSR:        c.ssr.Status(),
		Position:   c.enc.Position(),
		ButtonDown: c.enc.IsButtonDown(),
	}
}

// Shutdown latches the heater off and silences the buzzer.
func (c *Controller) Shutdown() error {
	var errs []error
	if err := c.ssr.EmergencyStop(); err != nil {
		errs = append(errs, fmt.Errorf("heater: %w", err))
	}
	if c.buzzer != nil {
		if err := c.buzzer.Set(false); err != nil {
			errs = append(errs, fmt.Errorf("buzzer: %w", err))
		}
		c.buzzing = false
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %v", errs)
	}
	return nil
}
