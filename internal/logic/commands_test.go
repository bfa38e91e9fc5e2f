package logic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	for _, a := range actions {
		got, err := ParseAction(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	got, err := ParseAction("  START ")
	require.NoError(t, err)
	assert.Equal(t, ActionStart, got)

	_, err = ParseAction("boil")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestApplyStart(t *testing.T) {
	m := newMachine(t)
	events, err := m.Apply(Command{Action: ActionStart}, t0)
	require.NoError(t, err)
	assert.Equal(t, StatePreheating, m.State())
	require.Len(t, events, 1)
	assert.Equal(t, StateIdle, events[0].From)
	assert.Equal(t, StatePreheating, events[0].To)

	_, err = m.Apply(Command{Action: ActionStart}, t0)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestApplyStartFromSetup(t *testing.T) {
	for _, s := range []State{StateSetupTemperature, StateSetupTime} {
		m := newMachine(t)
		m.EnablePreheat(false)
		m.changeState(s, t0)

		_, err := m.Apply(Command{Action: ActionStart}, t0)
		require.NoError(t, err, "from %s", s)
		assert.Equal(t, StateCooking, m.State(), "from %s", s)
	}
}

func TestApplyStop(t *testing.T) {
	m := newMachine(t)
	m.EnablePreheat(false)
	m.Apply(Command{Action: ActionStart}, t0)

	_, err := m.Apply(Command{Action: ActionStop}, at(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, time.Hour, m.Params().CookingTime, "stop must not rewrite the cooking time")

	m.SetError(ErrorSensorDisconnected, at(2*time.Minute))
	_, err = m.Apply(Command{Action: ActionStop}, at(2*time.Minute))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateError, m.State())
}

func TestApplyPauseOnlyWhileCooking(t *testing.T) {
	m := newMachine(t)
	_, err := m.Apply(Command{Action: ActionPause}, t0)
	assert.ErrorIs(t, err, ErrInvalidState)

	m.EnablePreheat(false)
	m.Apply(Command{Action: ActionStart}, t0)
	_, err = m.Apply(Command{Action: ActionPause}, at(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 50*time.Minute, m.Params().CookingTime)
}

func TestApplyResumeOnlyFromIdle(t *testing.T) {
	m := newMachine(t)
	m.changeState(StateSetupTime, t0)
	_, err := m.Apply(Command{Action: ActionResume}, t0)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestApplySetTemperature(t *testing.T) {
	m := newMachine(t)
	_, err := m.Apply(Command{Action: ActionSetTemperature, Value: 63.5}, t0)
	require.NoError(t, err)
	assert.Equal(t, 63.5, m.Params().TargetTemperature)

	_, err = m.Apply(Command{Action: ActionSetTemperature, Value: 400}, t0)
	require.NoError(t, err)
	assert.Equal(t, 95.0, m.Params().TargetTemperature)

	m.SetError(ErrorOvertemperature, t0)
	_, err = m.Apply(Command{Action: ActionSetTemperature, Value: 60}, t0)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestApplySetTemperatureWhileCooking(t *testing.T) {
	m := newMachine(t)
	m.EnablePreheat(false)
	m.Apply(Command{Action: ActionStart}, t0)

	_, err := m.Apply(Command{Action: ActionSetTemperature, Value: 60}, t0)
	require.NoError(t, err)
	assert.Equal(t, 60.0, m.Params().TargetTemperature)
}

func TestApplySetTime(t *testing.T) {
	m := newMachine(t)
	_, err := m.Apply(Command{Action: ActionSetTime, Value: 90}, t0)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, m.Params().CookingTime)

	_, err = m.Apply(Command{Action: ActionSetTime, Value: 0}, t0)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = m.Apply(Command{Action: ActionSetTime, Value: 100000}, t0)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, m.Params().CookingTime)

	m.EnablePreheat(false)
	m.Apply(Command{Action: ActionStart}, t0)
	_, err = m.Apply(Command{Action: ActionSetTime, Value: 30}, t0)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestApplyAlarmToggle(t *testing.T) {
	m := newMachine(t)
	m.EnablePreheat(false)
	m.Apply(Command{Action: ActionStart}, t0)
	m.Update(Input{Temperature: 70, Time: at(time.Second)})
	require.True(t, m.AlarmActive())

	events, err := m.Apply(Command{Action: ActionDisableAlarm}, at(2*time.Second))
	require.NoError(t, err)
	assert.False(t, m.AlarmActive())
	assert.False(t, m.Params().AlarmEnabled)
	require.Len(t, events, 1)
	assert.Equal(t, EventAlarmOff, events[0].Type)

	_, err = m.Apply(Command{Action: ActionEnableAlarm}, at(3*time.Second))
	require.NoError(t, err)
	assert.True(t, m.Params().AlarmEnabled)
}

func TestApplyPreheatToggle(t *testing.T) {
	m := newMachine(t)
	_, err := m.Apply(Command{Action: ActionDisablePreheat}, t0)
	require.NoError(t, err)
	assert.False(t, m.Params().PreheatEnabled)

	_, err = m.Apply(Command{Action: ActionEnablePreheat}, t0)
	require.NoError(t, err)
	assert.True(t, m.Params().PreheatEnabled)
}

func TestApplySetTunings(t *testing.T) {
	m := newMachine(t)
	_, err := m.Apply(Command{Action: ActionSetTunings, Kp: 4, Ki: 0.1, Kd: 2}, t0)
	require.NoError(t, err)
	p := m.Params()
	assert.Equal(t, 4.0, p.Kp)
	assert.Equal(t, 0.1, p.Ki)
	assert.Equal(t, 2.0, p.Kd)

	_, err = m.Apply(Command{Action: ActionSetTunings, Kp: -4}, t0)
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Equal(t, 4.0, m.Params().Kp)
}

func TestApplyAcknowledge(t *testing.T) {
	m := newMachine(t)
	_, err := m.Apply(Command{Action: ActionAcknowledge}, t0)
	assert.ErrorIs(t, err, ErrInvalidState)

	m.SetError(ErrorSsrFailure, t0)
	_, err = m.Apply(Command{Action: ActionAcknowledge}, t0)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, m.State())
	assert.False(t, m.HasError())

	m.changeState(StateFinished, t0)
	m.setAlarm(true, t0)
	_, err = m.Apply(Command{Action: ActionAcknowledge}, t0)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, m.State())
	assert.False(t, m.AlarmActive())
}

func TestApplyUnknownAction(t *testing.T) {
	m := newMachine(t)
	_, err := m.Apply(Command{Action: "boil"}, t0)
	assert.ErrorIs(t, err, ErrUnknownAction)
}
