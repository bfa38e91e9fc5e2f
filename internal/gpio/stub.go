//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: character device requires linux")

// RealOutput is unavailable off Linux.
type RealOutput struct{}

// NewRealOutput always fails off Linux.
func NewRealOutput(name string, pin int) (*RealOutput, error) {
	return nil, errUnsupported
}

// Set is never reached off Linux.
func (o *RealOutput) Set(on bool) error { return errUnsupported }

// Close is never reached off Linux.
func (o *RealOutput) Close() error { return nil }

// RealButton is unavailable off Linux.
type RealButton struct{}

// NewRealButton always fails off Linux.
func NewRealButton(pin int) (*RealButton, error) {
	return nil, errUnsupported
}

// Pressed is never reached off Linux.
func (b *RealButton) Pressed() (bool, error) { return false, errUnsupported }

// Close is never reached off Linux.
func (b *RealButton) Close() error { return nil }

// RealEncoder is unavailable off Linux.
type RealEncoder struct{}

// NewRealEncoder always fails off Linux.
func NewRealEncoder(pinA, pinB int, sink EdgeSink) (*RealEncoder, error) {
	return nil, errUnsupported
}

// Close is never reached off Linux.
func (e *RealEncoder) Close() error { return nil }
