// Package sensor acquires temperature readings with a non-blocking
// request/fetch cycle, validates and calibrates them, and keeps a
// moving-average filter plus running statistics.
package sensor

import (
	"errors"
	"fmt"
	"log"
	"time"
)

// DisconnectedC is the reading a probe reports when it does not answer.
const DisconnectedC = -127.0

// Valid readings lie strictly inside this range.
const (
	minValidC = -55.0
	maxValidC = 125.0
)

var (
	// ErrDisconnected is returned by a Probe that cannot reach the device.
	ErrDisconnected = errors.New("sensor disconnected")
	// ErrNotReady is returned by a Probe with no completed conversion yet.
	ErrNotReady = errors.New("conversion not ready")
	// ErrInvalidReading is returned when a reading fails range validation.
	ErrInvalidReading = errors.New("invalid reading")
)

// Probe is one temperature sensor on the bus. RequestConversion must not
// block; ReadC returns the result of the previous request.
type Probe interface {
	RequestConversion() error
	ReadC() (float64, error)
}

// Config holds the acquisition timing and filter length.
type Config struct {
	Interval   time.Duration
	FilterSize int
	// MaxMisses is how many fetches in a row may fail, time out or be
	// discarded before the probe counts as disconnected.
	MaxMisses int
}

// DefaultConfig returns the DS18B20 defaults (12-bit conversion time).
func DefaultConfig() Config {
	return Config{
		Interval:   750 * time.Millisecond,
		FilterSize: 10,
		MaxMisses:  3,
	}
}

// Valid reports whether a raw reading is usable.
func Valid(c float64) bool {
	return c > minValidC && c < maxValidC && c != DisconnectedC
}

// Reading is a point-in-time copy of the acquisition state.
type Reading struct {
	Temperature float64 // last valid calibrated reading
	Filtered    float64
	Raw         float64
	Min         float64
	Max         float64
	Offset      float64
	Calibrated  bool
	Connected   bool
	Ready       bool
	Samples     int
	ReadErrors  int
}

// Acquisition owns one probe. Not safe for concurrent use.
type Acquisition struct {
	probe Probe
	cfg   Config

	lastFetch time.Time
	connected bool
	seen      bool // a valid reading arrived since Begin
	misses    int  // consecutive fetches without a valid reading

	raw        float64
	last       float64
	offset     float64
	calibrated bool

	history []float64
	next    int
	full    bool

	min, max   float64
	haveStats  bool
	readErrors int
}

// New creates an Acquisition for probe. A non-positive FilterSize or
// MaxMisses falls back to the default.
func New(probe Probe, cfg Config) *Acquisition {
	if cfg.FilterSize <= 0 {
		cfg.FilterSize = DefaultConfig().FilterSize
	}
	if cfg.MaxMisses <= 0 {
		cfg.MaxMisses = DefaultConfig().MaxMisses
	}
	return &Acquisition{
		probe:   probe,
		cfg:     cfg,
		raw:     DisconnectedC,
		history: make([]float64, cfg.FilterSize),
	}
}

// Begin issues the first conversion request.
func (a *Acquisition) Begin(now time.Time) error {
	a.lastFetch = now
	a.seen = false
	a.misses = 0
	if err := a.probe.RequestConversion(); err != nil {
		a.connected = false
		return fmt.Errorf("request conversion: %w", err)
	}
	a.connected = true
	return nil
}

// Update fetches the previous conversion and requests the next one once the
// read interval has elapsed. It never blocks.
func (a *Acquisition) Update(now time.Time) {
	if now.Sub(a.lastFetch) < a.cfg.Interval {
		return
	}
	a.lastFetch = now

	c, err := a.probe.ReadC()
	switch {
	case errors.Is(err, ErrDisconnected) || (err == nil && c == DisconnectedC):
		a.connected = false
		a.raw = DisconnectedC
		a.readErrors++
	case errors.Is(err, ErrNotReady):
		a.miss("conversion not ready")
	case err != nil:
		a.readErrors++
		a.miss(fmt.Sprintf("read error: %v", err))
	default:
		a.raw = c
		if Valid(c) {
			a.connected = true
			a.seen = true
			a.misses = 0
			a.accept(c + a.offset)
		} else {
			a.readErrors++
			a.miss(fmt.Sprintf("discarding out-of-range reading %.2f", c))
		}
	}

	if err := a.probe.RequestConversion(); err != nil {
		log.Printf("sensor: request conversion: %v", err)
	}
}

// miss records a fetch that produced no usable reading. After MaxMisses in a
// row the probe is treated as disconnected until a valid reading arrives.
func (a *Acquisition) miss(reason string) {
	a.misses++
	log.Printf("sensor: %s (%d/%d)", reason, a.misses, a.cfg.MaxMisses)
	if a.misses >= a.cfg.MaxMisses && a.connected {
		log.Printf("sensor: no valid reading for %d fetches, marking disconnected", a.misses)
		a.connected = false
	}
}

func (a *Acquisition) accept(c float64) {
	a.history[a.next] = c
	a.next = (a.next + 1) % len(a.history)
	if a.next == 0 {
		a.full = true
	}
	a.last = c

	if !a.haveStats {
		a.min, a.max = c, c
		a.haveStats = true
		return
	}
	if c < a.min {
		a.min = c
	}
	if c > a.max {
		a.max = c
	}
}

func (a *Acquisition) samples() int {
	if a.full {
		return len(a.history)
	}
	return a.next
}

// Temperature returns the last valid calibrated reading.
func (a *Acquisition) Temperature() float64 {
	return a.last
}

// Filtered returns the moving average over the buffer, or over the entries
// written so far until it has wrapped once.
func (a *Acquisition) Filtered() float64 {
	n := a.samples()
	if n == 0 {
		return a.last
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a.history[i]
	}
	return sum / float64(n)
}

// Current is the value the control loop consumes: the filtered temperature,
// or DisconnectedC while the probe is not answering or has not produced a
// reading yet.
func (a *Acquisition) Current() float64 {
	if !a.connected || !a.seen {
		return DisconnectedC
	}
	return a.Filtered()
}

// Ready reports whether Current means something: a valid reading has
// arrived, or the probe is known to be disconnected.
func (a *Acquisition) Ready() bool {
	return a.seen || !a.connected
}

// Raw returns the last reading as reported by the probe.
func (a *Acquisition) Raw() float64 {
	return a.raw
}

// IsConnected reports whether the last fetch reached the probe.
func (a *Acquisition) IsConnected() bool {
	return a.connected
}

// Min returns the lowest valid reading since the last statistics reset.
func (a *Acquisition) Min() float64 {
	return a.min
}

// Max returns the highest valid reading since the last statistics reset.
func (a *Acquisition) Max() float64 {
	return a.max
}

// ReadErrors counts failed or discarded fetches.
func (a *Acquisition) ReadErrors() int {
	return a.readErrors
}

// SetCalibrationOffset sets the offset added to every raw reading.
func (a *Acquisition) SetCalibrationOffset(offset float64) {
	a.offset = offset
	a.calibrated = true
}

// CalibrationOffset returns the current offset.
func (a *Acquisition) CalibrationOffset() float64 {
	return a.offset
}

// IsCalibrated reports whether an offset has been set.
func (a *Acquisition) IsCalibrated() bool {
	return a.calibrated
}

// CalibrateToReference derives the offset from one raw sample so that it
// reads as reference.
func (a *Acquisition) CalibrateToReference(reference float64) error {
	c, err := a.probe.ReadC()
	if err != nil {
		return fmt.Errorf("read reference sample: %w", err)
	}
	if !Valid(c) {
		return fmt.Errorf("reference sample %.2f: %w", c, ErrInvalidReading)
	}
	a.SetCalibrationOffset(reference - c)
	return nil
}

// ResetStatistics empties the filter and clears min/max.
func (a *Acquisition) ResetStatistics() {
	for i := range a.history {
		a.history[i] = 0
	}
	a.next = 0
	a.full = false
	a.min, a.max = 0, 0
	a.haveStats = false
}

// Snapshot returns a copy of the acquisition state.
func (a *Acquisition) Snapshot() Reading {
	return Reading{
		Temperature: a.last,
		Filtered:    a.Filtered(),
		Raw:         a.raw,
		Min:         a.min,
		Max:         a.max,
		Offset:      a.offset,
		Calibrated:  a.calibrated,
		Connected:   a.connected,
		Ready:       a.Ready(),
		Samples:     a.samples(),
		ReadErrors:  a.readErrors,
	}
}
