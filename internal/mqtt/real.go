package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/signal-link/internal/logic"
)

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are held in a bounded outbox and replayed on reconnect,
// lifecycle messages ahead of link events.
type RealPublisher struct {
	client paho.Client
	node   string

	mu  sync.Mutex
	out *outbox
}

// NewRealPublisher creates a publisher for node and starts connecting to broker
// in the background. It never fails: an unreachable broker only means messages
// are buffered until it appears.
func NewRealPublisher(broker, node string) *RealPublisher {
	p := &RealPublisher{
		node: node,
		out:  newOutbox(outboxSystemCap, outboxEventCap),
	}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("signal-link-" + node).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem(node), will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// onConnect replays buffered messages and announces reconnection.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	pending := p.out.drain()
	sys, ev := p.out.droppedCounts()
	p.mu.Unlock()

	log.Printf("mqtt: connected, replaying %d held messages (dropped so far: %d system, %d event)", len(pending), sys, ev)
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}

	payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
	c.Publish(TopicSystem(p.node), 1, false, payload)
}

// IsConnected reports whether the client currently holds a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Publish sends a link event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.send(pendingMsg{topic: Topic(p.node), payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.send(pendingMsg{
		topic:    TopicSystem(p.node),
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	})
}

func (p *RealPublisher) send(m pendingMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.out.push(m)
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
