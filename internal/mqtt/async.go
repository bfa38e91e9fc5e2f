package mqtt

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweeney/sousvide/internal/logic"
)

// DefaultQueueSize is how many messages AsyncPublisher holds for its sender.
const DefaultQueueSize = 64

// ErrQueueFull is returned when AsyncPublisher has no room for a message.
var ErrQueueFull = errors.New("publish queue full")

// ErrorHandler is told about messages the wrapped publisher failed to send.
// kind is "event", "telemetry" or "system".
type ErrorHandler func(kind string, err error)

type job struct {
	kind string
	send func() error
}

// AsyncPublisher queues messages for a single sender goroutine so callers
// never wait on the broker. Publish methods only fail when the queue is full.
type AsyncPublisher struct {
	next    Publisher
	queue   chan job
	onError ErrorHandler
}

// NewAsyncPublisher wraps next. size <= 0 selects DefaultQueueSize. onError
// may be nil.
func NewAsyncPublisher(next Publisher, size int, onError ErrorHandler) *AsyncPublisher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &AsyncPublisher{
		next:    next,
		queue:   make(chan job, size),
		onError: onError,
	}
}

func (a *AsyncPublisher) enqueue(kind string, send func() error) error {
	select {
	case a.queue <- job{kind: kind, send: send}:
		return nil
	default:
		return fmt.Errorf("%s: %w", kind, ErrQueueFull)
	}
}

// Publish queues a workflow event.
func (a *AsyncPublisher) Publish(event logic.Event) error {
	return a.enqueue("event", func() error { return a.next.Publish(event) })
}

// PublishTelemetry queues a telemetry report.
func (a *AsyncPublisher) PublishTelemetry(t Telemetry) error {
	return a.enqueue("telemetry", func() error { return a.next.PublishTelemetry(t) })
}

// PublishSystem queues a lifecycle event.
func (a *AsyncPublisher) PublishSystem(event SystemEvent) error {
	return a.enqueue("system", func() error { return a.next.PublishSystem(event) })
}

// Queued returns how many messages are waiting for the sender.
func (a *AsyncPublisher) Queued() int {
	return len(a.queue)
}

// Run sends queued messages in order until ctx is done. Messages still
// queued at that point are left for Flush.
func (a *AsyncPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-a.queue:
			a.send(j)
		}
	}
}

// Flush sends everything still queued from the calling goroutine and returns
// how many messages it handled.
func (a *AsyncPublisher) Flush() int {
	n := 0
	for {
		select {
		case j := <-a.queue:
			a.send(j)
			n++
		default:
			return n
		}
	}
}

func (a *AsyncPublisher) send(j job) {
	if err := j.send(); err != nil && a.onError != nil {
		a.onError(j.kind, err)
	}
}

// Close closes the wrapped publisher. Call Flush first to keep queued
// messages.
func (a *AsyncPublisher) Close() error {
	return a.next.Close()
}
