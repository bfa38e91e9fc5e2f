package mqtt

import (
	"errors"
	"testing"

	"github.com/sweeney/sousvide/internal/logic"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    logic.Command
	}{
		{"bare word", "start", logic.Command{Action: logic.ActionStart}},
		{"bare word with whitespace", "  Pause\n", logic.Command{Action: logic.ActionPause}},
		{"json action", `{"action":"stop"}`, logic.Command{Action: logic.ActionStop}},
		{"json value", `{"action":"set_temperature","value":57.5}`, logic.Command{Action: logic.ActionSetTemperature, Value: 57.5}},
		{"json tunings", `{"action":"set_tunings","kp":3,"ki":0.2,"kd":1.5}`, logic.Command{Action: logic.ActionSetTunings, Kp: 3, Ki: 0.2, Kd: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseCommandRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"unknown word", "boil"},
		{"unknown json action", `{"action":"boil"}`},
		{"broken json", `{"action":`},
		{"missing action", `{"value":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCommand([]byte(tt.payload)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseCommandUnknownIsSentinel(t *testing.T) {
	_, err := ParseCommand([]byte("boil"))
	if !errors.Is(err, logic.ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

func TestDispatchCommand(t *testing.T) {
	var got []logic.Command
	h := func(cmd logic.Command) { got = append(got, cmd) }

	if !dispatchCommand([]byte("resume"), h) {
		t.Error("valid command not dispatched")
	}
	if dispatchCommand([]byte("nonsense"), h) {
		t.Error("invalid command dispatched")
	}
	if len(got) != 1 || got[0].Action != logic.ActionResume {
		t.Errorf("unexpected commands %+v", got)
	}
}
