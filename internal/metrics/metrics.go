// Package metrics exposes the cooker's state as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sweeney/sousvide/internal/control"
	"github.com/sweeney/sousvide/internal/logic"
)

var (
	// Probe
	Temperature = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "probe",
		Name:      "temperature_celsius",
		Help:      "Filtered, calibrated water temperature",
	})

	RawTemperature = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "probe",
		Name:      "raw_temperature_celsius",
		Help:      "Last raw probe reading",
	})

	SensorConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "probe",
		Name:      "connected",
		Help:      "1 while the probe returns valid readings",
	})

	SensorReadErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "probe",
		Name:      "read_errors",
		Help:      "Invalid or failed probe reads since start",
	})

	// Workflow
	Target = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "cook",
		Name:      "target_celsius",
		Help:      "Target water temperature",
	})

	Remaining = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "cook",
		Name:      "remaining_seconds",
		Help:      "Cook time remaining",
	})

	State = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "cook",
		Name:      "state",
		Help:      "1 for the current workflow state, 0 otherwise",
	}, []string{"state"})

	AlarmActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "cook",
		Name:      "alarm_active",
		Help:      "1 while the alarm is sounding",
	})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sousvide",
		Subsystem: "cook",
		Name:      "events_total",
		Help:      "Workflow events raised",
	}, []string{"type"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sousvide",
		Subsystem: "cook",
		Name:      "commands_total",
		Help:      "Front-end commands by source and result",
	}, []string{"source", "result"})

	// Heater
	HeaterPower = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "heater",
		Name:      "power_percent",
		Help:      "Commanded relay duty cycle",
	})

	HeaterOn = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "heater",
		Name:      "on",
		Help:      "1 while the relay output is driven",
	})

	PIDOutput = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "heater",
		Name:      "pid_output",
		Help:      "Last PID output",
	})

	// Control loop
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sousvide",
		Subsystem: "control",
		Name:      "ticks_total",
		Help:      "Total control ticks",
	})

	TickLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sousvide",
		Subsystem: "control",
		Name:      "tick_duration_seconds",
		Help:      "Control tick processing duration",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	// MQTT
	MQTTConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sousvide",
		Subsystem: "mqtt",
		Name:      "connected",
		Help:      "1 while connected to the broker",
	})

	PublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sousvide",
		Subsystem: "mqtt",
		Name:      "publish_errors_total",
		Help:      "Failed MQTT publishes by kind",
	}, []string{"kind"})
)

// Record updates the gauges from a control snapshot.
func Record(snap control.Snapshot) {
	m := snap.Machine
	Temperature.Set(snap.Sensor.Filtered)
	RawTemperature.Set(snap.Sensor.Raw)
	SensorConnected.Set(boolGauge(snap.Sensor.Connected))
	SensorReadErrors.Set(float64(snap.Sensor.ReadErrors))

	Target.Set(m.Params.TargetTemperature)
	Remaining.Set(m.Remaining.Seconds())
	for _, s := range logic.States {
		State.WithLabelValues(string(s)).Set(boolGauge(s == m.State))
	}
	AlarmActive.Set(boolGauge(m.AlarmActive))

	HeaterPower.Set(snap.SSR.Power)
	HeaterOn.Set(boolGauge(snap.SSR.On))
	PIDOutput.Set(snap.PID.Output)
}

// ObserveTick counts a control tick and its duration.
func ObserveTick(d time.Duration) {
	TicksTotal.Inc()
	TickLatency.Observe(d.Seconds())
}

// CountEvents counts workflow events by type.
func CountEvents(events []logic.Event) {
	for _, e := range events {
		EventsTotal.WithLabelValues(string(e.Type)).Inc()
	}
}

// CountCommand counts a command from source ("mqtt", "web", ...).
func CountCommand(source string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	CommandsTotal.WithLabelValues(source, result).Inc()
}

// SetMQTTConnected records the broker connection state.
func SetMQTTConnected(connected bool) {
	MQTTConnected.Set(boolGauge(connected))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
