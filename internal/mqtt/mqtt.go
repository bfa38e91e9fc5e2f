// Package mqtt provides MQTT publishing and command intake with abstraction
// for testing.
package mqtt

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/sweeney/sousvide/internal/logic"
)

// Topics used by the cooker.
const (
	// TopicEvents carries workflow transitions and alarm changes.
	TopicEvents = "sousvide/events"
	// TopicTemperature carries the filtered bath temperature.
	TopicTemperature = "sousvide/temperature"
	// TopicSetpoint carries the target temperature.
	TopicSetpoint = "sousvide/setpoint"
	// TopicStatus carries retained lifecycle events and the LWT.
	TopicStatus = "sousvide/status"
	// TopicCommand is subscribed for remote commands.
	TopicCommand = "sousvide/command"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a workflow event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishTelemetry sends the current temperature and setpoint.
	PublishTelemetry(t Telemetry) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// CommandHandler receives commands parsed from TopicCommand.
type CommandHandler func(cmd logic.Command)

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Telemetry is the periodic temperature report.
type Telemetry struct {
	Timestamp   time.Time
	Temperature float64
	Setpoint    float64
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	SousVide EventPayload `json:"sousvide"`
}

// EventPayload contains the workflow event details.
type EventPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	From      string `json:"from"`
	To        string `json:"to"`
	Error     string `json:"error,omitempty"`
}

// FormatPayload creates the JSON payload for a workflow event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		SousVide: EventPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			From:      string(event.From),
			To:        string(event.To),
		},
	}
	if event.Error != "" && event.Error != logic.ErrorNone {
		payload.SousVide.Error = string(event.Error)
	}
	return json.Marshal(payload)
}

// FormatTemperature formats a temperature as a bare number, the way simple
// MQTT dashboards expect it.
func FormatTemperature(c float64) []byte {
	return []byte(strconv.FormatFloat(c, 'f', 2, 64))
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// WillPayload is the retained last-will message the broker publishes on
// TopicStatus when the connection drops uncleanly. It has no timestamp: the
// broker sends it long after it was registered.
func WillPayload() []byte {
	b, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Reason: "LWT"}})
	return b
}
