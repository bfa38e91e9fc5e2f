package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sweeney/sousvide/internal/logic"
)

// CommandPayload is the JSON form of a remote command on TopicCommand.
type CommandPayload struct {
	Action string  `json:"action"`
	Value  float64 `json:"value,omitempty"`
	Kp     float64 `json:"kp,omitempty"`
	Ki     float64 `json:"ki,omitempty"`
	Kd     float64 `json:"kd,omitempty"`
}

// ParseCommand decodes a command message. Both a JSON object
// ({"action":"set_temperature","value":57.5}) and a bare action word
// ("start") are accepted.
func ParseCommand(payload []byte) (logic.Command, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return logic.Command{}, errors.New("empty command")
	}

	var p CommandPayload
	if payload[0] == '{' {
		if err := json.Unmarshal(payload, &p); err != nil {
			return logic.Command{}, fmt.Errorf("decode command: %w", err)
		}
	} else {
		p.Action = string(payload)
	}

	action, err := logic.ParseAction(p.Action)
	if err != nil {
		return logic.Command{}, err
	}
	return logic.Command{Action: action, Value: p.Value, Kp: p.Kp, Ki: p.Ki, Kd: p.Kd}, nil
}
