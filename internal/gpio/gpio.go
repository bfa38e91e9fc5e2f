// Package gpio provides the front panel and relay lines with hardware
// abstraction. The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "github.com/sweeney/sousvide/internal/encoder"

// Output is a digital output line (relay, buzzer).
type Output interface {
	// Set drives the line: true = active.
	Set(on bool) error

	// Close drives the line inactive and releases it.
	Close() error
}

// Button is an active-low push button input.
type Button interface {
	// Pressed returns the logical state. The raw level is inverted:
	// raw low = pressed.
	Pressed() (bool, error)

	// Close releases the line.
	Close() error
}

// EdgeSink receives quadrature edges. It is called from the event goroutine
// and must not block.
type EdgeSink interface {
	Begin(a, b bool)
	Edge(line encoder.Line, high bool)
}

// Pin definitions (BCM numbering)
const (
	DefaultPinEncoderA = 17
	DefaultPinEncoderB = 27
	DefaultPinButton   = 22
	DefaultPinSSR      = 23
	DefaultPinBuzzer   = 24
)

// Chip is the GPIO character device on a Raspberry Pi.
const Chip = "gpiochip0"
