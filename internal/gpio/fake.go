package gpio

import (
	"errors"
	"sync"
)

// FakeOutput is a test double that records every level driven onto it.
type FakeOutput struct {
	mu sync.Mutex

	// Writes contains every level passed to Set, in order.
	Writes []bool

	// SetError, if set, will be returned by Set (the level is not recorded).
	SetError error

	// Closed tracks if Close was called.
	Closed bool

	level bool
}

// NewFakeOutput creates a FakeOutput, initially low.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the level.
func (f *FakeOutput) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Writes = append(f.Writes, on)
	f.level = on
	return nil
}

// Level returns the last level successfully set.
func (f *FakeOutput) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// Close drives the line low and marks the output closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = false
	f.Closed = true
	return nil
}

// FakeButton is a test double that returns scripted button levels.
type FakeButton struct {
	// Samples contains scripted logical levels (true = pressed).
	// Each call to Pressed() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Pressed()
	ReadError error
}

// NewFakeButton creates a FakeButton with the given samples.
func NewFakeButton(samples ...bool) *FakeButton {
	return &FakeButton{Samples: samples}
}

// Pressed returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeButton) Pressed() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Hold replaces the script with a single repeating level.
func (f *FakeButton) Hold(pressed bool) {
	f.Samples = []bool{pressed}
	f.index = 0
}

// Close marks the button as closed.
func (f *FakeButton) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the button to the beginning of samples.
func (f *FakeButton) Reset() {
	f.index = 0
	f.Closed = false
}
