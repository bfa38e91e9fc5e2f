package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string          `json:"event,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	State         string          `json:"state"`
	PreviousState string          `json:"previous_state"`
	Error         string          `json:"error"`
	Alarm         bool            `json:"alarm"`
	Ready         bool            `json:"ready"`
	Session       string          `json:"session,omitempty"`
	Temperature   TemperatureJSON `json:"temperature"`
	Cook          CookJSON        `json:"cook"`
	Heater        HeaterJSON      `json:"heater"`
	PID           PIDJSON         `json:"pid"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	MQTT          MQTTStatus      `json:"mqtt"`
	Network       *NetworkJSON    `json:"network,omitempty"`
	Config        ConfigJSON      `json:"config"`
}

// TemperatureJSON is the probe reading.
type TemperatureJSON struct {
	Current    float64 `json:"current"`
	Target     float64 `json:"target"`
	Raw        float64 `json:"raw"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Offset     float64 `json:"offset"`
	Connected  bool    `json:"connected"`
	ReadErrors int     `json:"read_errors"`
}

// CookJSON is the cook timing and options.
type CookJSON struct {
	TimeSeconds      int64  `json:"time_seconds"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	ElapsedSeconds   int64  `json:"elapsed_seconds"`
	EndsAt           string `json:"ends_at,omitempty"`
	Preheat          bool   `json:"preheat"`
	Preheated        bool   `json:"preheated"`
	AlarmEnabled     bool   `json:"alarm_enabled"`
}

// HeaterJSON is the relay state.
type HeaterJSON struct {
	Power    float64 `json:"power"`
	On       bool    `json:"on"`
	Enabled  bool    `json:"enabled"`
	Locked   bool    `json:"locked"`
	WindowMs int64   `json:"window_ms"`
}

// PIDJSON is the controller state.
type PIDJSON struct {
	Kp        float64 `json:"kp"`
	Ki        float64 `json:"ki"`
	Kd        float64 `json:"kd"`
	Output    float64 `json:"output"`
	Integral  float64 `json:"integral"`
	Automatic bool    `json:"automatic"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64  `json:"tick_ms"`
	SampleMs    int64  `json:"sample_ms"`
	WindowMs    int64  `json:"window_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	WSBroker    string `json:"ws_broker,omitempty"`
	ConfigPath  string `json:"config_path,omitempty"`
}

// round2 keeps JSON readable; the probe resolution is 1/16 °C.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func seconds(d time.Duration) int64 {
	return int64(d.Truncate(time.Second).Seconds())
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Control
	m := c.Machine
	state := string(m.State)
	if state == "" {
		state = "UNKNOWN"
	}

	inner := StatusInner{
		State:         state,
		PreviousState: string(m.Previous),
		Error:         string(m.Error),
		Alarm:         m.AlarmActive,
		Ready:         snap.Ready,
		Session:       snap.Session,
		Temperature: TemperatureJSON{
			Current:    round2(c.Sensor.Filtered),
			Target:     m.Params.TargetTemperature,
			Raw:        round2(c.Sensor.Raw),
			Min:        round2(c.Sensor.Min),
			Max:        round2(c.Sensor.Max),
			Offset:     round2(c.Sensor.Offset),
			Connected:  c.Sensor.Connected,
			ReadErrors: c.Sensor.ReadErrors,
		},
		Cook: CookJSON{
			TimeSeconds:      seconds(m.Params.CookingTime),
			RemainingSeconds: seconds(m.Remaining),
			ElapsedSeconds:   seconds(m.Elapsed),
			Preheat:          m.Params.PreheatEnabled,
			Preheated:        m.Preheated,
			AlarmEnabled:     m.Params.AlarmEnabled,
		},
		Heater: HeaterJSON{
			Power:    round2(c.SSR.Power),
			On:       c.SSR.On,
			Enabled:  c.SSR.Enabled,
			Locked:   c.SSR.Locked,
			WindowMs: c.SSR.Window.Milliseconds(),
		},
		PID: PIDJSON{
			Kp:        m.Params.Kp,
			Ki:        m.Params.Ki,
			Kd:        m.Params.Kd,
			Output:    round2(c.PID.Output),
			Integral:  round2(c.PID.Integral),
			Automatic: c.PID.Automatic,
		},
		UptimeSeconds: seconds(snap.Uptime()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			SampleMs:    snap.Config.SampleMs,
			WindowMs:    snap.Config.WindowMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			WSBroker:    snap.Config.WSBroker,
			ConfigPath:  snap.Config.ConfigPath,
		},
	}
	if !m.EndsAt.IsZero() && m.Remaining > 0 {
		inner.Cook.EndsAt = m.EndsAt.UTC().Format(time.RFC3339)
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
