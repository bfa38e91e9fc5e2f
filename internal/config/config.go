// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/sousvide/internal/control"
	"github.com/sweeney/sousvide/internal/datalog"
	"github.com/sweeney/sousvide/internal/encoder"
	"github.com/sweeney/sousvide/internal/gpio"
	"github.com/sweeney/sousvide/internal/logic"
	"github.com/sweeney/sousvide/internal/mqtt"
	"github.com/sweeney/sousvide/internal/pid"
	"github.com/sweeney/sousvide/internal/sensor"
	"github.com/sweeney/sousvide/internal/ssr"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/sousvide/config.yaml"

// Config represents the daemon configuration.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	HTTP     HTTPConfig     `yaml:"http"`
	Pins     PinConfig      `yaml:"pins"`
	Probe    ProbeConfig    `yaml:"probe"`
	Control  ControlConfig  `yaml:"control"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Cook     CookConfig     `yaml:"cook"`
	Limits   LimitsConfig   `yaml:"limits"`
	DataLog  DataLogConfig  `yaml:"datalog"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
}

// MQTTConfig contains broker settings.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	Heartbeat   time.Duration `yaml:"heartbeat"` // 0 disables
	BufferSize  int           `yaml:"buffer_size"`
	Telemetry   time.Duration `yaml:"telemetry"`
	CommandRate float64       `yaml:"command_rate"` // commands per second, same-sized burst
}

// HTTPConfig contains the status server settings.
type HTTPConfig struct {
	Addr     string `yaml:"addr"`      // empty disables
	WSBroker string `yaml:"ws_broker"` // "=broker" derives from mqtt.broker, "off" disables
}

// PinConfig contains BCM pin numbers.
type PinConfig struct {
	EncoderA int    `yaml:"encoder_a"`
	EncoderB int    `yaml:"encoder_b"`
	Button   int    `yaml:"button"`
	SSR      int    `yaml:"ssr"`
	Buzzer   int    `yaml:"buzzer"` // negative disables
}

// ProbeConfig contains temperature probe settings.
type ProbeConfig struct {
	W1Dir             string        `yaml:"w1_dir"`
	ID                string        `yaml:"id"` // empty picks the first DS18B20
	Interval          time.Duration `yaml:"interval"`
	FilterSize        int           `yaml:"filter_size"`
	MaxMisses         int           `yaml:"max_misses"` // failed fetches in a row before a sensor fault
	CalibrationOffset float64       `yaml:"calibration_offset"`
}

// ControlConfig contains control loop timing.
type ControlConfig struct {
	Tick             time.Duration `yaml:"tick"`
	PIDSample        time.Duration `yaml:"pid_sample"`
	Window           time.Duration `yaml:"window"`
	DerivativeFilter float64       `yaml:"derivative_filter"`
	IntegralMax      float64       `yaml:"integral_max"`
	QueueSize        int           `yaml:"queue_size"`
}

// EncoderConfig contains front panel timing.
type EncoderConfig struct {
	StepsPerNotch int           `yaml:"steps_per_notch"`
	Debounce      time.Duration `yaml:"debounce"`
	LongPress     time.Duration `yaml:"long_press"`
	DoubleClick   time.Duration `yaml:"double_click"`
}

// CookConfig contains the power-on cook parameters.
type CookConfig struct {
	Target  float64       `yaml:"target"`
	Time    time.Duration `yaml:"time"`
	Kp      float64       `yaml:"kp"`
	Ki      float64       `yaml:"ki"`
	Kd      float64       `yaml:"kd"`
	Preheat bool          `yaml:"preheat"`
	Alarm   bool          `yaml:"alarm"`
}

// LimitsConfig contains the workflow bounds.
type LimitsConfig struct {
	MinTemperature   float64       `yaml:"min_temperature"`
	MaxTemperature   float64       `yaml:"max_temperature"`
	TemperatureStep  float64       `yaml:"temperature_step"`
	MinTime          time.Duration `yaml:"min_time"`
	MaxTime          time.Duration `yaml:"max_time"`
	TimeStep         time.Duration `yaml:"time_step"`
	MaxTempLimit     float64       `yaml:"max_temp_limit"`
	AlarmThreshold   float64       `yaml:"alarm_threshold"`
	PreheatTolerance float64       `yaml:"preheat_tolerance"`
}

// DataLogConfig contains CSV session log settings.
type DataLogConfig struct {
	Dir        string        `yaml:"dir"` // empty disables
	Interval   time.Duration `yaml:"interval"`
	MaxEntries int           `yaml:"max_entries"`
}

// WatchdogConfig contains the tick supervisor settings.
type WatchdogConfig struct {
	Timeout time.Duration `yaml:"timeout"` // 0 disables
}

// Default returns the appliance defaults.
func Default() *Config {
	ctl := control.DefaultConfig()
	enc := encoder.DefaultConfig()
	lim := logic.DefaultLimits()
	params := logic.DefaultParameters()

	return &Config{
		MQTT: MQTTConfig{
			Broker:      "tcp://192.168.1.200:1883",
			Heartbeat:   15 * time.Minute,
			BufferSize:  mqtt.DefaultBufferSize,
			Telemetry:   5 * time.Second,
			CommandRate: 5,
		},
		HTTP: HTTPConfig{
			Addr:     ":80",
			WSBroker: "=broker",
		},
		Pins: PinConfig{
			EncoderA: gpio.DefaultPinEncoderA,
			EncoderB: gpio.DefaultPinEncoderB,
			Button:   gpio.DefaultPinButton,
			SSR:      gpio.DefaultPinSSR,
			Buzzer:   gpio.DefaultPinBuzzer,
		},
		Probe: ProbeConfig{
			W1Dir:      sensor.DefaultW1Dir,
			Interval:   ctl.Sensor.Interval,
			FilterSize: ctl.Sensor.FilterSize,
			MaxMisses:  ctl.Sensor.MaxMisses,
		},
		Control: ControlConfig{
			Tick:        100 * time.Millisecond,
			PIDSample:   pid.DefaultSampleTime,
			Window:      ssr.DefaultWindow,
			IntegralMax: ctl.IntegralMax,
			QueueSize:   ctl.QueueSize,
		},
		Encoder: EncoderConfig{
			StepsPerNotch: enc.StepsPerNotch,
			Debounce:      enc.Debounce,
			LongPress:     enc.LongPress,
			DoubleClick:   enc.DoubleClick,
		},
		Cook: CookConfig{
			Target:  params.TargetTemperature,
			Time:    params.CookingTime,
			Kp:      params.Kp,
			Ki:      params.Ki,
			Kd:      params.Kd,
			Preheat: params.PreheatEnabled,
			Alarm:   params.AlarmEnabled,
		},
		Limits: LimitsConfig{
			MinTemperature:   lim.MinTemperature,
			MaxTemperature:   lim.MaxTemperature,
			TemperatureStep:  lim.TemperatureStep,
			MinTime:          lim.MinCookingTime,
			MaxTime:          lim.MaxCookingTime,
			TimeStep:         lim.CookingTimeStep,
			MaxTempLimit:     lim.MaxTempLimit,
			AlarmThreshold:   lim.AlarmThreshold,
			PreheatTolerance: lim.PreheatTolerance,
		},
		DataLog: DataLogConfig{
			Dir:        "/var/lib/sousvide/logs",
			Interval:   datalog.DefaultInterval,
			MaxEntries: datalog.DefaultMaxEntries,
		},
		Watchdog: WatchdogConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults back-fills settings that must not be zero.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.MQTT.BufferSize == 0 {
		c.MQTT.BufferSize = def.MQTT.BufferSize
	}
	if c.MQTT.CommandRate == 0 {
		c.MQTT.CommandRate = def.MQTT.CommandRate
	}
	if c.MQTT.Telemetry == 0 {
		c.MQTT.Telemetry = def.MQTT.Telemetry
	}

	if c.Probe.W1Dir == "" {
		c.Probe.W1Dir = def.Probe.W1Dir
	}
	if c.Probe.Interval == 0 {
		c.Probe.Interval = def.Probe.Interval
	}
	if c.Probe.FilterSize == 0 {
		c.Probe.FilterSize = def.Probe.FilterSize
	}
	if c.Probe.MaxMisses == 0 {
		c.Probe.MaxMisses = def.Probe.MaxMisses
	}

	if c.Control.Tick == 0 {
		c.Control.Tick = def.Control.Tick
	}
	if c.Control.PIDSample == 0 {
		c.Control.PIDSample = def.Control.PIDSample
	}
	if c.Control.Window == 0 {
		c.Control.Window = def.Control.Window
	}
	if c.Control.QueueSize == 0 {
		c.Control.QueueSize = def.Control.QueueSize
	}

	if c.Encoder.StepsPerNotch == 0 {
		c.Encoder.StepsPerNotch = def.Encoder.StepsPerNotch
	}
	if c.Encoder.Debounce == 0 {
		c.Encoder.Debounce = def.Encoder.Debounce
	}
	if c.Encoder.LongPress == 0 {
		c.Encoder.LongPress = def.Encoder.LongPress
	}
	if c.Encoder.DoubleClick == 0 {
		c.Encoder.DoubleClick = def.Encoder.DoubleClick
	}

	if c.Cook.Target == 0 {
		c.Cook.Target = def.Cook.Target
	}
	if c.Cook.Time == 0 {
		c.Cook.Time = def.Cook.Time
	}

	if c.Limits.MaxTemperature == 0 {
		c.Limits.MaxTemperature = def.Limits.MaxTemperature
	}
	if c.Limits.TemperatureStep == 0 {
		c.Limits.TemperatureStep = def.Limits.TemperatureStep
	}
	if c.Limits.MinTime == 0 {
		c.Limits.MinTime = def.Limits.MinTime
	}
	if c.Limits.MaxTime == 0 {
		c.Limits.MaxTime = def.Limits.MaxTime
	}
	if c.Limits.TimeStep == 0 {
		c.Limits.TimeStep = def.Limits.TimeStep
	}
	if c.Limits.MaxTempLimit == 0 {
		c.Limits.MaxTempLimit = def.Limits.MaxTempLimit
	}
	if c.Limits.AlarmThreshold == 0 {
		c.Limits.AlarmThreshold = def.Limits.AlarmThreshold
	}
	if c.Limits.PreheatTolerance == 0 {
		c.Limits.PreheatTolerance = def.Limits.PreheatTolerance
	}

	if c.DataLog.Interval == 0 {
		c.DataLog.Interval = def.DataLog.Interval
	}
	if c.DataLog.MaxEntries == 0 {
		c.DataLog.MaxEntries = def.DataLog.MaxEntries
	}
}

// Validate rejects settings the controller cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Control.Tick > 0, "control.tick must be positive")
	check(c.Control.PIDSample > 0, "control.pid_sample must be positive")
	check(c.Control.Window > 0, "control.window must be positive")
	check(c.Control.IntegralMax >= 0, "control.integral_max must not be negative")
	check(c.Control.DerivativeFilter >= 0 && c.Control.DerivativeFilter < 1, "control.derivative_filter must be in [0, 1)")
	check(c.Probe.Interval > 0, "probe.interval must be positive")
	check(c.Probe.FilterSize > 0, "probe.filter_size must be positive")
	check(c.Probe.MaxMisses > 0, "probe.max_misses must be positive")
	check(c.Encoder.StepsPerNotch > 0, "encoder.steps_per_notch must be positive")
	check(c.MQTT.CommandRate > 0, "mqtt.command_rate must be positive")

	l := c.Limits
	check(l.MinTemperature < l.MaxTemperature, "limits: min_temperature %.1f must be below max_temperature %.1f", l.MinTemperature, l.MaxTemperature)
	check(l.MaxTemperature <= l.MaxTempLimit, "limits: max_temperature %.1f exceeds max_temp_limit %.1f", l.MaxTemperature, l.MaxTempLimit)
	check(l.MinTime > 0 && l.MinTime < l.MaxTime, "limits: min_time must be positive and below max_time")
	check(c.Cook.Target >= l.MinTemperature && c.Cook.Target <= l.MaxTemperature, "cook.target %.1f outside [%.1f, %.1f]", c.Cook.Target, l.MinTemperature, l.MaxTemperature)
	check(c.Cook.Time >= l.MinTime && c.Cook.Time <= l.MaxTime, "cook.time %v outside [%v, %v]", c.Cook.Time, l.MinTime, l.MaxTime)
	check(c.Cook.Kp >= 0 && c.Cook.Ki >= 0 && c.Cook.Kd >= 0, "cook: PID gains must not be negative")

	pins := map[int]string{}
	for _, p := range []struct {
		name string
		pin  int
	}{
		{"encoder_a", c.Pins.EncoderA},
		{"encoder_b", c.Pins.EncoderB},
		{"button", c.Pins.Button},
		{"ssr", c.Pins.SSR},
		{"buzzer", c.Pins.Buzzer},
	} {
		if p.name == "buzzer" && p.pin < 0 {
			continue
		}
		check(p.pin >= 0, "pins.%s must not be negative", p.name)
		if other, dup := pins[p.pin]; dup {
			check(false, "pins.%s and pins.%s share pin %d", other, p.name, p.pin)
		}
		pins[p.pin] = p.name
	}

	return errors.Join(errs...)
}

// ToControl converts the settings into the control loop configuration.
func (c *Config) ToControl() control.Config {
	return control.Config{
		Encoder: encoder.Config{
			StepsPerNotch: c.Encoder.StepsPerNotch,
			Debounce:      c.Encoder.Debounce,
			LongPress:     c.Encoder.LongPress,
			DoubleClick:   c.Encoder.DoubleClick,
		},
		Sensor: sensor.Config{
			Interval:   c.Probe.Interval,
			FilterSize: c.Probe.FilterSize,
			MaxMisses:  c.Probe.MaxMisses,
		},
		Limits: c.logicLimits(),
		Params: logic.CookingParameters{
			TargetTemperature: c.Cook.Target,
			CookingTime:       c.Cook.Time,
			Kp:                c.Cook.Kp,
			Ki:                c.Cook.Ki,
			Kd:                c.Cook.Kd,
			PreheatEnabled:    c.Cook.Preheat,
			AlarmEnabled:      c.Cook.Alarm,
		},
		Window:            c.Control.Window,
		SampleTime:        c.Control.PIDSample,
		DerivativeFilter:  c.Control.DerivativeFilter,
		IntegralMax:       c.Control.IntegralMax,
		CalibrationOffset: c.Probe.CalibrationOffset,
		QueueSize:         c.Control.QueueSize,
	}
}

func (c *Config) logicLimits() logic.Limits {
	def := logic.DefaultLimits()
	return logic.Limits{
		MinTemperature:   c.Limits.MinTemperature,
		MaxTemperature:   c.Limits.MaxTemperature,
		TemperatureStep:  c.Limits.TemperatureStep,
		MinCookingTime:   c.Limits.MinTime,
		MaxCookingTime:   c.Limits.MaxTime,
		CookingTimeStep:  c.Limits.TimeStep,
		MaxTempLimit:     c.Limits.MaxTempLimit,
		AlarmThreshold:   c.Limits.AlarmThreshold,
		PreheatTolerance: c.Limits.PreheatTolerance,
		CalibrationStep:  def.CalibrationStep,
		MaxCalibration:   def.MaxCalibration,
	}
}

// ToDataLog converts the settings into the session logger configuration.
func (c *Config) ToDataLog() datalog.Config {
	return datalog.Config{
		Dir:        c.DataLog.Dir,
		Interval:   c.DataLog.Interval,
		MaxEntries: c.DataLog.MaxEntries,
	}
}
