package logic

import (
	"math"
	"time"
)

// Machine is the cooking workflow. It owns the cook parameters and the
// workflow state; everything else observes it through Status.
type Machine struct {
	limits Limits
	params CookingParameters

	state    State
	previous State
	since    time.Time

	cookStart time.Time
	cookEnd   time.Time
	preheated bool
	alarm     bool
	lastError ErrorCode
	calOffset float64

	events []Event
}

// NewMachine creates a Machine in Idle. Parameters are clamped to limits.
func NewMachine(limits Limits, params CookingParameters, now time.Time) *Machine {
	m := &Machine{
		limits:    limits,
		params:    params,
		state:     StateIdle,
		previous:  StateIdle,
		since:     now,
		lastError: ErrorNone,
	}
	m.params.TargetTemperature = m.clampTemperature(params.TargetTemperature)
	m.params.CookingTime = m.clampTime(params.CookingTime)
	return m
}

// Update runs one tick: the safety check first, then the current state's
// handling, then the deviation alarm. It returns the events raised.
func (m *Machine) Update(in Input) []Event {
	m.events = nil

	before := m.state
	switch {
	case in.Temperature == SensorErrorTemp:
		m.raise(ErrorSensorDisconnected, in.Time)
	case in.Temperature > m.limits.MaxTempLimit:
		m.raise(ErrorOvertemperature, in.Time)
	}
	// A fault raised this tick is not acknowledged by this tick's button.
	if m.state == StateError && before != StateError {
		return m.drain()
	}

	switch m.state {
	case StateIdle:
		m.handleIdle(in)
	case StateSetupTemperature:
		m.handleSetupTemperature(in)
	case StateSetupTime:
		m.handleSetupTime(in)
	case StatePreheating:
		m.handlePreheating(in)
	case StateCooking:
		m.handleCooking(in)
	case StateFinished:
		m.handleFinished(in)
	case StateError:
		m.handleError(in)
	case StateCalibration:
		m.handleCalibration(in)
	case StateWifiConfig:
		m.handleWifiConfig(in)
	}

	if m.params.AlarmEnabled && m.state == StateCooking {
		dev := math.Abs(in.Temperature - m.params.TargetTemperature)
		m.setAlarm(dev > m.limits.AlarmThreshold, in.Time)
	}

	return m.drain()
}

func (m *Machine) drain() []Event {
	ev := m.events
	m.events = nil
	return ev
}

func (m *Machine) handleIdle(in Input) {
	switch in.Button {
	case ButtonPress:
		m.changeState(StateSetupTemperature, in.Time)
	case ButtonLongPress:
		m.changeState(StateCalibration, in.Time)
	}
}

func (m *Machine) handleSetupTemperature(in Input) {
	if in.Notches != 0 {
		m.SetTargetTemperature(m.params.TargetTemperature + float64(in.Notches)*m.limits.TemperatureStep)
	}
	switch in.Button {
	case ButtonPress:
		m.changeState(StateSetupTime, in.Time)
	case ButtonLongPress:
		m.changeState(StateIdle, in.Time)
	}
}

func (m *Machine) handleSetupTime(in Input) {
	if in.Notches != 0 {
		m.SetCookingTime(m.params.CookingTime + time.Duration(in.Notches)*m.limits.CookingTimeStep)
	}
	switch in.Button {
	case ButtonPress:
		m.startCooking(in.Time)
	case ButtonLongPress:
		m.changeState(StateSetupTemperature, in.Time)
	}
}

func (m *Machine) handlePreheating(in Input) {
	reached := math.Abs(in.Temperature-m.params.TargetTemperature) <= m.limits.PreheatTolerance
	switch {
	case reached, in.Button == ButtonPress:
		m.preheated = true
		m.beginCook(in.Time)
	case in.Button == ButtonLongPress:
		m.stopCooking(in.Time)
	}
}

func (m *Machine) handleCooking(in Input) {
	switch {
	case m.Remaining(in.Time) == 0:
		m.changeState(StateFinished, in.Time)
		if m.params.AlarmEnabled {
			m.setAlarm(true, in.Time)
		}
	case in.Button == ButtonPress:
		m.pause(in.Time)
	case in.Button == ButtonLongPress:
		m.stopCooking(in.Time)
	}
}

func (m *Machine) handleFinished(in Input) {
	if in.Button == ButtonPress {
		m.stopCooking(in.Time)
	}
}

func (m *Machine) handleError(in Input) {
	// Only sensor faults clear themselves; anything else waits for the user.
	sensorFault := m.lastError == ErrorSensorDisconnected || m.lastError == ErrorOvertemperature
	recovered := sensorFault && in.Temperature != SensorErrorTemp && in.Temperature < m.limits.MaxTempLimit
	if recovered || in.Button == ButtonPress {
		m.clearError(in.Time)
	}
}

func (m *Machine) handleCalibration(in Input) {
	if in.Notches != 0 {
		off := m.calOffset + float64(in.Notches)*m.limits.CalibrationStep
		m.calOffset = clampFloat(math.Round(off*10)/10, -m.limits.MaxCalibration, m.limits.MaxCalibration)
	}
	if in.Button != ButtonNone {
		m.changeState(StateIdle, in.Time)
	}
}

func (m *Machine) handleWifiConfig(in Input) {
	if in.Button != ButtonNone {
		m.changeState(StateIdle, in.Time)
	}
}

func (m *Machine) changeState(to State, now time.Time) {
	if to == m.state {
		return
	}
	m.events = append(m.events, Event{
		Timestamp: now,
		Type:      EventStateChanged,
		From:      m.state,
		To:        to,
		Error:     m.lastError,
	})
	m.previous = m.state
	m.state = to
	m.since = now
}

func (m *Machine) setAlarm(on bool, now time.Time) {
	if on == m.alarm {
		return
	}
	m.alarm = on
	t := EventAlarmOff
	if on {
		t = EventAlarmOn
	}
	m.events = append(m.events, Event{Timestamp: now, Type: t, From: m.state, To: m.state, Error: m.lastError})
}

// startCooking enters Preheating, or Cooking directly when preheat is off or
// the bath is already preheated.
func (m *Machine) startCooking(now time.Time) {
	if m.params.PreheatEnabled && !m.preheated {
		m.changeState(StatePreheating, now)
		return
	}
	m.beginCook(now)
}

func (m *Machine) beginCook(now time.Time) {
	m.cookStart = now
	m.cookEnd = now.Add(m.params.CookingTime)
	m.changeState(StateCooking, now)
}

// stopCooking cancels the cook entirely.
func (m *Machine) stopCooking(now time.Time) {
	m.cookStart = time.Time{}
	m.cookEnd = time.Time{}
	m.preheated = false
	m.setAlarm(false, now)
	m.changeState(StateIdle, now)
}

// pause keeps the preheated flag and rewrites the cooking time to what was
// left, so a resume continues the same cook.
func (m *Machine) pause(now time.Time) {
	m.params.CookingTime = m.Remaining(now)
	m.cookStart = time.Time{}
	m.cookEnd = time.Time{}
	m.setAlarm(false, now)
	m.changeState(StateIdle, now)
}

// SetError latches code and returns the events raised. Any code other than
// ErrorNone forces Error.
func (m *Machine) SetError(code ErrorCode, now time.Time) []Event {
	m.events = nil
	m.raise(code, now)
	return m.drain()
}

func (m *Machine) raise(code ErrorCode, now time.Time) {
	m.lastError = code
	if code != ErrorNone {
		m.changeState(StateError, now)
	}
}

// ClearError drops the latched error and leaves Error for Idle, discarding
// any cook in progress.
func (m *Machine) ClearError(now time.Time) []Event {
	m.events = nil
	m.clearError(now)
	return m.drain()
}

func (m *Machine) clearError(now time.Time) {
	m.lastError = ErrorNone
	if m.state == StateError {
		m.stopCooking(now)
	}
}

// SetTargetTemperature sets the target, clamped to the limits.
func (m *Machine) SetTargetTemperature(c float64) {
	m.params.TargetTemperature = m.clampTemperature(c)
}

// SetCookingTime sets the duration, clamped to the limits.
func (m *Machine) SetCookingTime(d time.Duration) {
	m.params.CookingTime = m.clampTime(d)
}

// EnableAlarm turns the alarm on or off. Disabling silences an active alarm.
func (m *Machine) EnableAlarm(enable bool, now time.Time) {
	m.params.AlarmEnabled = enable
	if !enable {
		m.setAlarm(false, now)
	}
}

// EnablePreheat selects whether a cook starts with Preheating.
func (m *Machine) EnablePreheat(enable bool) {
	m.params.PreheatEnabled = enable
}

// SetTunings stores new PID gains. Negative gains are rejected.
func (m *Machine) SetTunings(kp, ki, kd float64) bool {
	if kp < 0 || ki < 0 || kd < 0 {
		return false
	}
	m.params.Kp, m.params.Ki, m.params.Kd = kp, ki, kd
	return true
}

// SetCalibrationOffset seeds the offset edited in Calibration.
func (m *Machine) SetCalibrationOffset(off float64) {
	m.calOffset = clampFloat(off, -m.limits.MaxCalibration, m.limits.MaxCalibration)
}

// CalibrationOffset returns the offset edited in Calibration.
func (m *Machine) CalibrationOffset() float64 {
	return m.calOffset
}

// Remaining returns the cook time left. Zero outside Cooking.
func (m *Machine) Remaining(now time.Time) time.Duration {
	if m.state != StateCooking {
		return 0
	}
	left := m.params.CookingTime - now.Sub(m.cookStart)
	if left < 0 {
		return 0
	}
	return left
}

// Elapsed returns the time since the cook started. Zero outside Cooking.
func (m *Machine) Elapsed(now time.Time) time.Duration {
	if m.state != StateCooking {
		return 0
	}
	return now.Sub(m.cookStart)
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Previous returns the state before the last transition.
func (m *Machine) Previous() State { return m.previous }

// Params returns a copy of the cook parameters.
func (m *Machine) Params() CookingParameters { return m.params }

// Limits returns the workflow limits.
func (m *Machine) Limits() Limits { return m.limits }

// HasError reports whether an error is latched.
func (m *Machine) HasError() bool { return m.lastError != ErrorNone }

// LastError returns the latched error.
func (m *Machine) LastError() ErrorCode { return m.lastError }

// AlarmActive reports the alarm output.
func (m *Machine) AlarmActive() bool { return m.alarm }

// Status returns a point-in-time copy of the state machine.
func (m *Machine) Status(now time.Time) Status {
	return Status{
		State:             m.state,
		Previous:          m.previous,
		Since:             m.since,
		Params:            m.params,
		Remaining:         m.Remaining(now),
		Elapsed:           m.Elapsed(now),
		EndsAt:            m.cookEnd,
		Error:             m.lastError,
		AlarmActive:       m.alarm,
		Preheated:         m.preheated,
		CalibrationOffset: m.calOffset,
	}
}

func (m *Machine) clampTemperature(c float64) float64 {
	return clampFloat(c, m.limits.MinTemperature, m.limits.MaxTemperature)
}

func (m *Machine) clampTime(d time.Duration) time.Duration {
	if d < m.limits.MinCookingTime {
		return m.limits.MinCookingTime
	}
	if d > m.limits.MaxCookingTime {
		return m.limits.MaxCookingTime
	}
	return d
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
