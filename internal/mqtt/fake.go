package mqtt

import (
	"github.com/sweeney/sousvide/internal/logic"
)

// FakePublisher is an in-memory Publisher. It keeps every message it is
// given and can play the broker side of the command topic through Deliver.
type FakePublisher struct {
	Events    []logic.Event
	Payloads  [][]byte // formatted Events, same order
	Telemetry []Telemetry

	SystemEvents   []SystemEvent
	SystemPayloads [][]byte // formatted SystemEvents, same order

	// PublishError fails Publish and PublishTelemetry.
	PublishError error
	// PublishSystemError fails PublishSystem.
	PublishSystemError error

	// Connected is returned by IsConnected.
	Connected bool
	Closed    bool

	// OnCommand receives commands passed to Deliver.
	OnCommand CommandHandler
	// Rejected counts payloads Deliver could not parse.
	Rejected int
}

// NewFakePublisher returns an empty, disconnected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) Publish(event logic.Event) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

func (f *FakePublisher) PublishTelemetry(t Telemetry) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Telemetry = append(f.Telemetry, t)
	return nil
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Deliver handles payload as if it arrived on TopicCommand. It returns
// false when the payload is malformed or no OnCommand handler is set.
func (f *FakePublisher) Deliver(payload []byte) bool {
	if f.OnCommand == nil {
		return false
	}
	if !dispatchCommand(payload, f.OnCommand) {
		f.Rejected++
		return false
	}
	return true
}

// LastTelemetry returns the most recent report, if any.
func (f *FakePublisher) LastTelemetry() (Telemetry, bool) {
	if len(f.Telemetry) == 0 {
		return Telemetry{}, false
	}
	return f.Telemetry[len(f.Telemetry)-1], true
}

func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset forgets everything, including injected errors and the handler.
func (f *FakePublisher) Reset() {
	*f = FakePublisher{}
}
