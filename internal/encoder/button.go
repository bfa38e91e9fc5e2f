package encoder

import "time"

// ButtonEvent is a classified button event.
type ButtonEvent string

const (
	Idle        ButtonEvent = "IDLE"
	Pressed     ButtonEvent = "PRESSED"
	Released    ButtonEvent = "RELEASED"
	LongPress   ButtonEvent = "LONG_PRESS"
	DoubleClick ButtonEvent = "DOUBLE_CLICK"
)

// button is a debounced edge classifier with a single pending event slot.
// A newer classification overwrites an unread one.
type button struct {
	raw        bool
	rawSince   time.Time
	down       bool
	pressedAt  time.Time
	lastPress  time.Time
	clicks     int
	longSent   bool
	swallowOff bool
	pending    ButtonEvent
}

func (b *button) update(now time.Time, level bool, cfg Config) {
	if level != b.raw {
		b.raw = level
		b.rawSince = now
	}

	if now.Sub(b.rawSince) >= cfg.Debounce && b.raw != b.down {
		if b.raw {
			b.press(now, cfg)
		} else {
			b.release(now, cfg)
		}
	}

	if b.down && !b.longSent && now.Sub(b.pressedAt) >= cfg.LongPress {
		b.longSent = true
		b.pending = LongPress
	}
}

func (b *button) press(now time.Time, cfg Config) {
	b.down = true
	b.pressedAt = now
	b.longSent = false
	b.swallowOff = false
	b.pending = Pressed

	if b.clicks > 0 && now.Sub(b.lastPress) < cfg.DoubleClick {
		b.clicks++
		if b.clicks >= 2 {
			b.pending = DoubleClick
			b.clicks = 0
			b.swallowOff = true
		}
	} else {
		b.clicks = 1
	}
	b.lastPress = now
}

func (b *button) release(now time.Time, cfg Config) {
	b.down = false
	switch {
	case b.longSent, b.swallowOff:
		// already reported
	case now.Sub(b.pressedAt) >= cfg.LongPress:
		b.longSent = true
		b.pending = LongPress
	default:
		b.pending = Released
	}
}

// Event drains the pending button event, returning Idle when there is none.
// There is one consumer: whoever calls first gets the event.
func (e *Encoder) Event() ButtonEvent {
	ev := e.btn.pending
	e.btn.pending = Idle
	if ev == "" {
		return Idle
	}
	return ev
}

// ButtonState peeks at the pending event without consuming it.
func (e *Encoder) ButtonState() ButtonEvent {
	if e.btn.pending == "" {
		return Idle
	}
	return e.btn.pending
}

// IsButtonDown reports the debounced button level.
func (e *Encoder) IsButtonDown() bool {
	return e.btn.down
}

// ClearButton drops any pending event.
func (e *Encoder) ClearButton() {
	e.btn.pending = Idle
}

func (e *Encoder) consume(want ButtonEvent) bool {
	if e.btn.pending == want {
		e.btn.pending = Idle
		return true
	}
	return false
}

// WasPressed consumes a pending Pressed event.
func (e *Encoder) WasPressed() bool { return e.consume(Pressed) }

// WasReleased consumes a pending Released event.
func (e *Encoder) WasReleased() bool { return e.consume(Released) }

// IsLongPress consumes a pending LongPress event.
func (e *Encoder) IsLongPress() bool { return e.consume(LongPress) }

// IsDoubleClick consumes a pending DoubleClick event.
func (e *Encoder) IsDoubleClick() bool { return e.consume(DoubleClick) }
