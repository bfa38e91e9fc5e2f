// Package encoder decodes a quadrature rotary encoder with a push button.
//
// Quadrature edges arrive asynchronously (from the GPIO edge-event goroutine)
// and only touch two atomic cells: the 2-bit line state and the raw step
// counter. Everything else, including button classification, is driven by
// Update from the control tick and is not safe for concurrent use.
package encoder

import (
	"math"
	"sync/atomic"
	"time"
)

// Line identifies one of the two quadrature lines.
type Line int

const (
	LineA Line = iota
	LineB
)

// Direction is the sign of the pending, unread rotation.
type Direction int

const (
	DirectionNone Direction = 0
	DirectionCW   Direction = 1
	DirectionCCW  Direction = -1
)

// Motion indexed by previous<<2 | next, where a state is A<<1 | B.
// Bounces and skipped states decode to 0.
var quadTable = [16]int8{
	0, -1, 1, 0,
	1, 0, 0, -1,
	-1, 0, 0, 1,
	0, 1, -1, 0,
}

// Decode returns the motion for a transition between two quadrature states.
func Decode(prev, next uint8) int {
	return int(quadTable[(prev&0x3)<<2|(next&0x3)])
}

// Config holds the fixed encoder and button timings.
type Config struct {
	StepsPerNotch int
	Debounce      time.Duration
	LongPress     time.Duration
	DoubleClick   time.Duration
}

// DefaultConfig returns the timings used by the front panel.
func DefaultConfig() Config {
	return Config{
		StepsPerNotch: 4,
		Debounce:      50 * time.Millisecond,
		LongPress:     time.Second,
		DoubleClick:   500 * time.Millisecond,
	}
}

// Encoder is the rotary input controller.
type Encoder struct {
	cfg Config

	// Touched from the edge handler.
	quad   atomic.Uint32
	raw    atomic.Int64
	minRaw atomic.Int64
	maxRaw atomic.Int64
	wrap   atomic.Bool

	// Main tick only.
	last int64

	accelEnabled bool
	accelFactor  int
	accelRaw     int64
	lastRotation time.Time

	btn button
}

// New creates an Encoder. A non-positive StepsPerNotch falls back to 1.
func New(cfg Config) *Encoder {
	if cfg.StepsPerNotch <= 0 {
		cfg.StepsPerNotch = 1
	}
	e := &Encoder{cfg: cfg, accelFactor: 1}
	e.minRaw.Store(math.MinInt32)
	e.maxRaw.Store(math.MaxInt32)
	return e
}

// Config returns the encoder configuration.
func (e *Encoder) Config() Config {
	return e.cfg
}

// Begin seeds the quadrature state from the current line levels so the first
// edge is decoded against reality rather than zero.
func (e *Encoder) Begin(a, b bool) {
	e.quad.Store(uint32(quadState(a, b)))
}

// Sample decodes a full (A, B) sample. Safe to call from the edge handler.
func (e *Encoder) Sample(a, b bool) {
	next := uint32(quadState(a, b))
	prev := e.quad.Swap(next)
	e.step(Decode(uint8(prev), uint8(next)))
}

// Edge applies a level change on one line. Safe to call from the edge handler.
func (e *Encoder) Edge(line Line, high bool) {
	bit := uint32(1)
	if line == LineA {
		bit = 2
	}
	for {
		prev := e.quad.Load()
		next := prev &^ bit
		if high {
			next |= bit
		}
		if e.quad.CompareAndSwap(prev, next) {
			e.step(Decode(uint8(prev), uint8(next)))
			return
		}
	}
}

func (e *Encoder) step(motion int) {
	if motion == 0 {
		return
	}
	for {
		old := e.raw.Load()
		next := old + int64(motion)
		lo, hi := e.minRaw.Load(), e.maxRaw.Load()
		if e.wrap.Load() {
			if next < lo {
				next = hi
			} else if next > hi {
				next = lo
			}
		} else {
			if next < lo {
				next = lo
			} else if next > hi {
				next = hi
			}
		}
		if e.raw.CompareAndSwap(old, next) {
			return
		}
	}
}

func quadState(a, b bool) uint8 {
	var s uint8
	if a {
		s |= 2
	}
	if b {
		s |= 1
	}
	return s
}

// Raw returns the undivided step counter.
func (e *Encoder) Raw() int64 {
	return e.raw.Load()
}

// Position returns the position in notches.
func (e *Encoder) Position() int {
	return int(e.raw.Load() / int64(e.cfg.StepsPerNotch))
}

// SetPosition moves the counter to pos notches and discards pending change.
func (e *Encoder) SetPosition(pos int) {
	raw := int64(pos) * int64(e.cfg.StepsPerNotch)
	e.raw.Store(raw)
	e.last = raw
	e.accelRaw = raw
}

// SetRange bounds the position to [min, max] notches. min > max is ignored.
func (e *Encoder) SetRange(min, max int) {
	if min > max {
		return
	}
	spn := int64(e.cfg.StepsPerNotch)
	e.minRaw.Store(int64(min) * spn)
	e.maxRaw.Store(int64(max) * spn)
}

// SetWrap selects wrap-around instead of clamping at the range ends.
func (e *Encoder) SetWrap(enable bool) {
	e.wrap.Store(enable)
}

// Reset zeroes the position and drops any pending button event.
func (e *Encoder) Reset() {
	e.raw.Store(0)
	e.last = 0
	e.accelRaw = 0
	e.btn.pending = Idle
	e.btn.clicks = 0
}

// HasChanged reports whether at least one whole notch is waiting to be read.
func (e *Encoder) HasChanged() bool {
	return (e.raw.Load()-e.last)/int64(e.cfg.StepsPerNotch) != 0
}

// Change returns the whole notches turned since the previous call, scaled by
// the acceleration multiplier. A partial notch stays pending.
func (e *Encoder) Change() int {
	spn := int64(e.cfg.StepsPerNotch)
	notches := (e.raw.Load() - e.last) / spn
	e.last += notches * spn
	change := int(notches)
	if e.accelEnabled && change != 0 {
		change *= e.accelFactor
	}
	return change
}

// Direction reports the sign of the pending rotation.
func (e *Encoder) Direction() Direction {
	d := e.raw.Load() - e.last
	switch {
	case d > 0:
		return DirectionCW
	case d < 0:
		return DirectionCCW
	}
	return DirectionNone
}

// EnableAcceleration turns velocity scaling on or off. Off pins the
// multiplier to 1.
func (e *Encoder) EnableAcceleration(enable bool) {
	e.accelEnabled = enable
	if !enable {
		e.accelFactor = 1
	}
}

// SetAccelerationFactor overrides the current multiplier. Values below 1 are
// ignored.
func (e *Encoder) SetAccelerationFactor(factor int) {
	if factor < 1 {
		return
	}
	e.accelFactor = factor
}

// AccelerationMultiplier returns the multiplier applied by Change.
func (e *Encoder) AccelerationMultiplier() int {
	return e.accelFactor
}

func accelerationBand(since time.Duration) int {
	switch {
	case since < 50*time.Millisecond:
		return 10
	case since < 100*time.Millisecond:
		return 5
	case since < 200*time.Millisecond:
		return 2
	}
	return 1
}

// Update samples the button and refreshes the acceleration multiplier.
// down is the logical button level (true = held).
func (e *Encoder) Update(now time.Time, down bool) {
	e.btn.update(now, down, e.cfg)

	if !e.accelEnabled {
		return
	}
	raw := e.raw.Load()
	if raw != e.accelRaw {
		e.accelFactor = accelerationBand(now.Sub(e.lastRotation))
		e.lastRotation = now
		e.accelRaw = raw
	}
}

// MapToFloat maps the position onto [min, max] in increments of step,
// clamping at both ends.
func (e *Encoder) MapToFloat(min, max, step float64) float64 {
	if step <= 0 || max < min {
		return min
	}
	steps := int((max - min) / step)
	pos := clampInt(e.Position(), 0, steps)
	return min + float64(pos)*step
}

// MapToInt is MapToFloat for integer ranges.
func (e *Encoder) MapToInt(min, max, step int) int {
	if step <= 0 || max < min {
		return min
	}
	steps := (max - min) / step
	pos := clampInt(e.Position(), 0, steps)
	return min + pos*step
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
