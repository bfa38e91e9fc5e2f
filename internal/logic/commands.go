package logic

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action names a remote command.
type Action string

const (
	ActionStart          Action = "start"
	ActionStop           Action = "stop"
	ActionPause          Action = "pause"
	ActionResume         Action = "resume"
	ActionSetTemperature Action = "set_temperature"
	ActionSetTime        Action = "set_time"
	ActionEnableAlarm    Action = "enable_alarm"
	ActionDisableAlarm   Action = "disable_alarm"
	ActionEnablePreheat  Action = "enable_preheat"
	ActionDisablePreheat Action = "disable_preheat"
	ActionSetTunings     Action = "set_tunings"
	ActionAcknowledge    Action = "acknowledge"
)

var actions = []Action{
	ActionStart, ActionStop, ActionPause, ActionResume,
	ActionSetTemperature, ActionSetTime,
	ActionEnableAlarm, ActionDisableAlarm,
	ActionEnablePreheat, ActionDisablePreheat,
	ActionSetTunings, ActionAcknowledge,
}

var (
	// ErrUnknownAction is returned for an action name that is not recognised.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidState is returned when a command is not allowed in the current state.
	ErrInvalidState = errors.New("command not allowed in current state")
	// ErrInvalidValue is returned when a command value is out of range.
	ErrInvalidValue = errors.New("invalid command value")
)

// Command is a remote request to change the workflow. Value is °C for
// set_temperature and minutes for set_time.
type Command struct {
	Action Action
	Value  float64
	Kp     float64
	Ki     float64
	Kd     float64
}

// ParseAction maps a case-insensitive name to an Action.
func ParseAction(s string) (Action, error) {
	name := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range actions {
		if a == name {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Apply executes cmd against the machine and returns the events raised.
// Setters clamp like the front panel does; state changes are refused with
// ErrInvalidState where the front panel could not make them either.
func (m *Machine) Apply(cmd Command, now time.Time) ([]Event, error) {
	m.events = nil

	switch cmd.Action {
	case ActionStart:
		switch m.state {
		case StateIdle, StateSetupTemperature, StateSetupTime:
			m.startCooking(now)
		default:
			return nil, fmt.Errorf("%s from %s: %w", cmd.Action, m.state, ErrInvalidState)
		}

	case ActionStop:
		if m.state == StateError {
			return nil, fmt.Errorf("%s from %s: %w", cmd.Action, m.state, ErrInvalidState)
		}
		m.stopCooking(now)

	case ActionPause:
		if m.state != StateCooking {
			return nil, fmt.Errorf("%s from %s: %w", cmd.Action, m.state, ErrInvalidState)
		}
		m.pause(now)

	case ActionResume:
		if m.state != StateIdle || m.params.CookingTime <= 0 {
			return nil, fmt.Errorf("%s from %s: %w", cmd.Action, m.state, ErrInvalidState)
		}
		m.startCooking(now)

	case ActionSetTemperature:
		if m.state == StateError {
			return nil, fmt.Errorf("%s from %s: %w", cmd.Action, m.state, ErrInvalidState)
		}
		m.SetTargetTemperature(cmd.Value)

	case ActionSetTime:
		if m.state.Heating() || m.state == StateError {
			return nil, fmt.Errorf("%s from %s: %w", cmd.Action, m.state, ErrInvalidState)
		}
		if cmd.Value <= 0 {
			return nil, fmt.Errorf("%s %v: %w", cmd.Action, cmd.Value, ErrInvalidValue)
		}
		m.SetCookingTime(time.Duration(cmd.Value * float64(time.Minute)))

	case ActionEnableAlarm:
		m.EnableAlarm(true, now)
	case ActionDisableAlarm:
		m.EnableAlarm(false, now)
	case ActionEnablePreheat:
		m.EnablePreheat(true)
	case ActionDisablePreheat:
		m.EnablePreheat(false)

	case ActionSetTunings:
		if !m.SetTunings(cmd.Kp, cmd.Ki, cmd.Kd) {
			return nil, fmt.Errorf("%s %v/%v/%v: %w", cmd.Action, cmd.Kp, cmd.Ki, cmd.Kd, ErrInvalidValue)
		}

	case ActionAcknowledge:
		switch m.state {
		case StateError:
			m.clearError(now)
		case StateFinished:
			m.stopCooking(now)
		default:
			return nil, fmt.Errorf("%s from %s: %w", cmd.Action, m.state, ErrInvalidState)
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}

	return m.drain(), nil
}
