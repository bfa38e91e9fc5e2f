// Package logic contains the pure cooking workflow state machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State is the workflow state.
type State string

const (
	StateIdle             State = "IDLE"
	StateSetupTemperature State = "SETUP_TEMPERATURE"
	StateSetupTime        State = "SETUP_TIME"
	StatePreheating       State = "PREHEATING"
	StateCooking          State = "COOKING"
	StateFinished         State = "FINISHED"
	StateError            State = "ERROR"
	StateCalibration      State = "CALIBRATION"
	StateWifiConfig       State = "WIFI_CONFIG"
)

// States lists every workflow state.
var States = []State{
	StateIdle, StateSetupTemperature, StateSetupTime, StatePreheating, StateCooking,
	StateFinished, StateError, StateCalibration, StateWifiConfig,
}

// Heating reports whether the heater may be driven in this state.
func (s State) Heating() bool {
	return s == StatePreheating || s == StateCooking
}

// ErrorCode is the latched fault.
type ErrorCode string

const (
	ErrorNone               ErrorCode = "NONE"
	ErrorSensorDisconnected ErrorCode = "SENSOR_DISCONNECTED"
	ErrorOvertemperature    ErrorCode = "OVERTEMPERATURE"
	ErrorUndertemperature   ErrorCode = "UNDERTEMPERATURE"
	ErrorPidFailure         ErrorCode = "PID_FAILURE"
	ErrorSsrFailure         ErrorCode = "SSR_FAILURE"
	ErrorWifiConnection     ErrorCode = "WIFI_CONNECTION"
	ErrorMemoryFull         ErrorCode = "MEMORY_FULL"
)

// Button is a classified front panel button event for one tick.
type Button int

const (
	ButtonNone Button = iota
	// ButtonPress is a completed short click.
	ButtonPress
	// ButtonLongPress is a hold past the long press threshold.
	ButtonLongPress
)

// EventType identifies a workflow event.
type EventType string

const (
	EventStateChanged EventType = "STATE_CHANGED"
	EventAlarmOn      EventType = "ALARM_ON"
	EventAlarmOff     EventType = "ALARM_OFF"
)

// Event is a workflow change to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	From      State
	To        State
	Error     ErrorCode
}

// Input is everything the state machine consumes in one tick.
type Input struct {
	Temperature float64 // filtered °C, or SensorErrorTemp while disconnected
	Notches     int     // encoder change since the previous tick
	Button      Button
	Time        time.Time
}

// SensorErrorTemp is the disconnect sentinel reading.
const SensorErrorTemp = -127.0

// CookingParameters are the user-owned cook settings.
type CookingParameters struct {
	TargetTemperature float64
	CookingTime       time.Duration
	Kp, Ki, Kd        float64
	PreheatEnabled    bool
	AlarmEnabled      bool
}

// DefaultParameters returns the power-on cook settings.
func DefaultParameters() CookingParameters {
	return CookingParameters{
		TargetTemperature: 56.0,
		CookingTime:       time.Hour,
		Kp:                2.0,
		Ki:                0.5,
		Kd:                1.0,
		PreheatEnabled:    true,
		AlarmEnabled:      true,
	}
}

// Limits are the fixed bounds and thresholds of the workflow.
type Limits struct {
	MinTemperature   float64
	MaxTemperature   float64
	TemperatureStep  float64
	MinCookingTime   time.Duration
	MaxCookingTime   time.Duration
	CookingTimeStep  time.Duration
	MaxTempLimit     float64 // absolute safety ceiling
	AlarmThreshold   float64 // deviation that raises the alarm while cooking
	PreheatTolerance float64
	CalibrationStep  float64
	MaxCalibration   float64
}

// DefaultLimits returns the appliance limits.
func DefaultLimits() Limits {
	return Limits{
		MinTemperature:   20,
		MaxTemperature:   95,
		TemperatureStep:  0.5,
		MinCookingTime:   time.Minute,
		MaxCookingTime:   48 * time.Hour,
		CookingTimeStep:  time.Minute,
		MaxTempLimit:     100,
		AlarmThreshold:   5.0,
		PreheatTolerance: 1.0,
		CalibrationStep:  0.1,
		MaxCalibration:   5.0,
	}
}

// Status is a point-in-time copy of the state machine.
type Status struct {
	State             State
	Previous          State
	Since             time.Time
	Params            CookingParameters
	Remaining         time.Duration
	Elapsed           time.Duration
	EndsAt            time.Time // zero unless cooking
	Error             ErrorCode
	AlarmActive       bool
	Preheated         bool
	CalibrationOffset float64
}
