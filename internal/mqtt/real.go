package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/crownstone/bluenet-sub000/internal/power"
)

// bufferCapacity bounds messages held while the broker is unreachable.
const bufferCapacity = 100

// RealPublisher publishes to an actual MQTT broker. Messages published
// while disconnected are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client

	mu      sync.Mutex
	pending *ringBuffer
}

// NewRealPublisher creates a publisher connected to the given broker.
// Commands received on TopicCommands are parsed and passed to onCommand,
// which may be nil.
func NewRealPublisher(broker, clientID string, onCommand func(Command)) (*RealPublisher, error) {
	p := &RealPublisher{pending: newRingBuffer(bufferCapacity)}

	lwt, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(TopicSystem, string(lwt), 1, true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		}).
		SetOnConnectHandler(func(c paho.Client) {
			log.Printf("mqtt: connected to %s", broker)
			if onCommand != nil {
				c.Subscribe(TopicCommands, 1, func(_ paho.Client, m paho.Message) {
					cmd, err := ParseCommand(m.Payload())
					if err != nil {
						log.Printf("mqtt: ignoring command: %v", err)
						return
					}
					onCommand(cmd)
				})
			}
			go p.flush()
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// Connect keeps retrying; messages are buffered until it succeeds.
		log.Printf("mqtt: %s not reachable yet, buffering", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Publish sends an engine event to the MQTT broker.
func (p *RealPublisher) Publish(event power.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: fault events must arrive
	return p.publish(TopicEvents, 1, false, payload)
}

// PublishTelemetry sends a telemetry report, retained so late subscribers
// see the latest figures.
func (p *RealPublisher) PublishTelemetry(t power.Telemetry) error {
	payload, err := FormatTelemetry(t)
	if err != nil {
		return fmt.Errorf("format telemetry: %w", err)
	}
	return p.publish(TopicTelemetry, 0, true, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.pending.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// flush replays buffered messages after a reconnect.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs := p.pending.drainAll()
	dropped := p.pending.takeDropped()
	p.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	log.Printf("mqtt: replaying %d buffered messages (%d dropped)", len(msgs), dropped)
	for _, m := range msgs {
		token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			log.Printf("mqtt: replay to %s failed", m.topic)
		}
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
