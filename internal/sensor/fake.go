package sensor

import "errors"

// FakeProbe is a test double that returns scripted readings.
type FakeProbe struct {
	// Readings are returned one per ReadC call; the last one repeats.
	Readings []float64

	// ReadError, if set, is returned by ReadC instead of a reading.
	ReadError error

	// RequestError, if set, is returned by RequestConversion.
	RequestError error

	// Requests counts RequestConversion calls.
	Requests int

	// Reads counts ReadC calls.
	Reads int

	index int
}

// NewFakeProbe creates a FakeProbe with the given readings.
func NewFakeProbe(readings ...float64) *FakeProbe {
	return &FakeProbe{Readings: readings}
}

// RequestConversion records the request.
func (f *FakeProbe) RequestConversion() error {
	f.Requests++
	return f.RequestError
}

// ReadC returns the next scripted reading.
func (f *FakeProbe) ReadC() (float64, error) {
	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Readings) == 0 {
		return 0, errors.New("no readings configured")
	}
	c := f.Readings[f.index]
	if f.index < len(f.Readings)-1 {
		f.index++
	}
	return c, nil
}

// Set replaces the script with a single repeating reading.
func (f *FakeProbe) Set(c float64) {
	f.Readings = []float64{c}
	f.index = 0
}
