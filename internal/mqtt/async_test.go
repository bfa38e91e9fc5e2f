package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/sousvide/internal/logic"
)

func TestAsyncPublisherQueueFull(t *testing.T) {
	f := NewFakePublisher()
	a := NewAsyncPublisher(f, 2, nil)

	for i := 0; i < 2; i++ {
		if err := a.Publish(logic.Event{Timestamp: ts}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	err := a.PublishTelemetry(Telemetry{Timestamp: ts})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if a.Queued() != 2 {
		t.Errorf("queued: got %d, want 2", a.Queued())
	}
	if len(f.Events) != 0 {
		t.Error("nothing may reach the broker before the sender runs")
	}
}

func TestAsyncPublisherRunSendsInOrder(t *testing.T) {
	f := NewFakePublisher()
	a := NewAsyncPublisher(f, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Publish(logic.Event{Type: logic.EventStateChanged, From: logic.StateIdle, To: logic.StatePreheating, Timestamp: ts})
	a.PublishTelemetry(Telemetry{Timestamp: ts, Temperature: 40})
	a.PublishSystem(SystemEvent{Timestamp: ts, Event: "HEARTBEAT"})

	deadline := time.Now().Add(2 * time.Second)
	for a.Queued() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	a.Flush()

	if len(f.Events) != 1 || f.Events[0].To != logic.StatePreheating {
		t.Errorf("unexpected events %+v", f.Events)
	}
	if len(f.Telemetry) != 1 || f.Telemetry[0].Temperature != 40 {
		t.Errorf("unexpected telemetry %+v", f.Telemetry)
	}
	if len(f.SystemEvents) != 1 || f.SystemEvents[0].Event != "HEARTBEAT" {
		t.Errorf("unexpected system events %+v", f.SystemEvents)
	}
}

func TestAsyncPublisherFlush(t *testing.T) {
	f := NewFakePublisher()
	a := NewAsyncPublisher(f, 4, nil)

	a.PublishSystem(SystemEvent{Timestamp: ts, Event: "SHUTDOWN", Retained: true})
	if n := a.Flush(); n != 1 {
		t.Errorf("flushed %d, want 1", n)
	}
	if len(f.SystemEvents) != 1 || f.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("unexpected system events %+v", f.SystemEvents)
	}
	if n := a.Flush(); n != 0 {
		t.Errorf("second flush handled %d", n)
	}
}

func TestAsyncPublisherReportsSendErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker unavailable")

	var kinds []string
	a := NewAsyncPublisher(f, 4, func(kind string, err error) {
		kinds = append(kinds, kind)
	})
	if err := a.Publish(logic.Event{Timestamp: ts}); err != nil {
		t.Fatalf("queueing must succeed: %v", err)
	}
	a.PublishTelemetry(Telemetry{Timestamp: ts})
	a.PublishSystem(SystemEvent{Timestamp: ts, Event: "HEARTBEAT"})
	a.Flush()

	if len(kinds) != 2 || kinds[0] != "event" || kinds[1] != "telemetry" {
		t.Errorf("error kinds: got %v, want [event telemetry]", kinds)
	}
	if len(f.SystemEvents) != 1 {
		t.Error("system event should still go out")
	}
}

func TestAsyncPublisherClose(t *testing.T) {
	f := NewFakePublisher()
	a := NewAsyncPublisher(f, 1, nil)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if !f.Closed {
		t.Error("close must reach the wrapped publisher")
	}
}
