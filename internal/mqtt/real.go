package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/greenhouse-controller/internal/logic"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int
	Now        func() time.Time
}

// RealPublisher publishes to a broker. Messages published while the
// connection is down are buffered and replayed, oldest first, on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	now    func() time.Time

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher connects to the broker. A broker that is unreachable at
// startup is not an error: paho keeps retrying and messages are buffered
// until it answers.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address required")
	}
	if opts.ClientID == "" {
		opts.ClientID = "greenhouse-controller"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &RealPublisher{
		topics: opts.Topics,
		now:    opts.Now,
		buf:    newRingBuffer(opts.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: opts.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	first := true
	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(opts.Topics.System, string(will), 1, true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		}).
		SetOnConnectHandler(func(paho.Client) {
			reconnect := !first
			first = false
			log.Printf("mqtt: connected to %s", opts.Broker)
			go p.flush(reconnect)
		})

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Printf("mqtt: broker %s not reachable yet, buffering", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// flush replays buffered messages, then announces a reconnection.
func (p *RealPublisher) flush(reconnect bool) {
	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	if len(pending) > 0 {
		log.Printf("mqtt: replaying %d buffered messages", len(pending))
	}
	for _, m := range pending {
		if err := p.send(m); err != nil {
			log.Printf("mqtt: replay to %s: %v", m.topic, err)
		}
	}

	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"}); err != nil {
			log.Printf("mqtt: publish RECONNECTED: %v", err)
		}
	}
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// enqueue publishes m, or buffers it when the connection is down or the
// publish fails.
func (p *RealPublisher) enqueue(m bufferedMsg) error {
	if p.client.IsConnectionOpen() {
		err := p.send(m)
		if err == nil {
			return nil
		}
		log.Printf("mqtt: publish to %s failed, buffering: %v", m.topic, err)
	}
	p.mu.Lock()
	p.buf.push(m)
	p.mu.Unlock()
	return nil
}

// Publish sends an event on the events topic at QoS 0.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.enqueue(bufferedMsg{topic: p.topics.Events, payload: payload})
}

// PublishSystem sends a lifecycle event on the system topic at QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.enqueue(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Pending returns the number of buffered messages.
func (p *RealPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
