//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/sousvide/internal/encoder"
)

const consumer = "sousvide"

// RealOutput drives an output line on actual hardware.
type RealOutput struct {
	line *gpiocdev.Line
	name string
}

// NewRealOutput requests pin as an output, initially inactive.
func NewRealOutput(name string, pin int) (*RealOutput, error) {
	line, err := gpiocdev.RequestLine(Chip, pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("request %s pin %d: %w", name, pin, err)
	}
	return &RealOutput{line: line, name: name}, nil
}

// Set drives the line.
func (o *RealOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set %s pin: %w", o.name, err)
	}
	return nil
}

// Close drives the line low, then reconfigures it to input with pull-down
// (matching Pi boot defaults) so the relay cannot latch on after exit.
func (o *RealOutput) Close() error {
	var errs []error
	if err := o.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive %s pin low: %w", o.name, err))
	}
	if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", o.name, err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s pin: %w", o.name, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealButton reads an active-low push button with the internal pull-up.
type RealButton struct {
	line *gpiocdev.Line
}

// NewRealButton requests pin as an input with pull-up.
func NewRealButton(pin int) (*RealButton, error) {
	line, err := gpiocdev.RequestLine(Chip, pin, gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("request button pin %d: %w", pin, err)
	}
	return &RealButton{line: line}, nil
}

// Pressed returns true while the button pulls the line low.
func (b *RealButton) Pressed() (bool, error) {
	raw, err := b.line.Value()
	if err != nil {
		return false, fmt.Errorf("read button pin: %w", err)
	}
	return raw == 0, nil
}

// Close releases the line.
func (b *RealButton) Close() error {
	return b.line.Close()
}

// RealEncoder watches both quadrature lines for edges. The kernel delivers
// edge events on a single goroutine, which stands in for the interrupt
// handler: it only forwards levels to the sink.
type RealEncoder struct {
	lines *gpiocdev.Lines
	pinA  int
}

// NewRealEncoder requests both lines with pull-ups and both-edge detection
// and seeds sink with the current levels.
func NewRealEncoder(pinA, pinB int, sink EdgeSink) (*RealEncoder, error) {
	handler := func(evt gpiocdev.LineEvent) {
		line := encoder.LineB
		if evt.Offset == pinA {
			line = encoder.LineA
		}
		sink.Edge(line, evt.Type == gpiocdev.LineEventRisingEdge)
	}

	lines, err := gpiocdev.RequestLines(Chip, []int{pinA, pinB},
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(handler),
		gpiocdev.WithConsumer(consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("request encoder pins %d/%d: %w", pinA, pinB, err)
	}

	vals := make([]int, 2)
	if err := lines.Values(vals); err != nil {
		lines.Close()
		return nil, fmt.Errorf("read encoder pins: %w", err)
	}
	sink.Begin(vals[0] == 1, vals[1] == 1)

	return &RealEncoder{lines: lines, pinA: pinA}, nil
}

// Close stops edge delivery and releases the lines.
func (e *RealEncoder) Close() error {
	if err := e.lines.Close(); err != nil {
		return fmt.Errorf("close encoder pins: %w", err)
	}
	return nil
}
