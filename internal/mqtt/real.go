package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/sousvide/internal/logic"
)

// DefaultBufferSize is how many messages are kept while the broker is away.
const DefaultBufferSize = 500

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client    paho.Client
	onCommand CommandHandler

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher for the given broker and starts
// connecting in the background. bufferSize <= 0 selects DefaultBufferSize.
// onCommand, if not nil, receives commands from TopicCommand.
func NewRealPublisher(broker string, bufferSize int, onCommand CommandHandler) *RealPublisher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	p := &RealPublisher{
		onCommand: onCommand,
		buf:       newRingBuffer(bufferSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("sousvide").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(TopicStatus, string(WillPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

func (p *RealPublisher) onConnect(c paho.Client) {
	log.Printf("mqtt: connected")

	if p.onCommand != nil {
		token := c.Subscribe(TopicCommand, 1, func(_ paho.Client, msg paho.Message) {
			dispatchCommand(msg.Payload(), p.onCommand)
		})
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("mqtt: subscribe %s: %v", TopicCommand, token.Error())
		}
	}

	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	for _, m := range pending {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5 * time.Second) {
			log.Printf("mqtt: replay to %s timed out", m.topic)
			continue
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: replay to %s: %v", m.topic, err)
		}
	}
}

// dispatchCommand parses payload and hands the command to h. Malformed
// commands are logged and dropped.
func dispatchCommand(payload []byte, h CommandHandler) bool {
	cmd, err := ParseCommand(payload)
	if err != nil {
		log.Printf("mqtt: ignoring command %q: %v", payload, err)
		return false
	}
	h(cmd)
	return true
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Publish sends a workflow event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(TopicEvents, 1, false, payload)
}

// PublishTelemetry sends the temperature and setpoint as bare numbers.
func (p *RealPublisher) PublishTelemetry(t Telemetry) error {
	// QoS 0 (at-most-once): the next report supersedes a lost one
	if err := p.publish(TopicTemperature, 0, false, FormatTemperature(t.Temperature)); err != nil {
		return err
	}
	return p.publish(TopicSetpoint, 0, false, FormatTemperature(t.Setpoint))
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicStatus, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns how many messages are waiting for a reconnect.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
