package supervisor

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DialConfig configures a RealClient.
type DialConfig struct {
	Broker   string
	ClientID string

	// WillTopic and WillPayload, if set, are published retained by the
	// broker when the connection drops without a clean disconnect.
	WillTopic   string
	WillPayload []byte
}

type subscription struct {
	qos byte
	h   Handler
}

// RealClient is a Client backed by a paho connection. Subscriptions are
// remembered and renewed on every reconnect.
type RealClient struct {
	client paho.Client

	mu         sync.Mutex
	subs       map[string]subscription
	onConnect  func()
	onConnLost func(error)
}

// NewRealClient prepares a client for cfg. Call Connect to open it.
func NewRealClient(cfg DialConfig) *RealClient {
	c := &RealClient{subs: make(map[string]subscription)}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.connected).
		SetConnectionLostHandler(c.lost)
	if cfg.WillTopic != "" {
		opts.SetBinaryWill(cfg.WillTopic, cfg.WillPayload, 1, true)
	}

	c.client = paho.NewClient(opts)
	return c
}

// Notify registers callbacks for connection up and connection lost.
func (c *RealClient) Notify(connected func(), lost func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = connected
	c.onConnLost = lost
}

// Connect starts connecting. If the broker is unreachable within the
// timeout the client keeps retrying in the background and nil is returned.
func (c *RealClient) Connect(timeout time.Duration) error {
	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("supervisor: connect to broker: %w", err)
	}
	return nil
}

func (c *RealClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("supervisor: publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("supervisor: publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h for topic. When disconnected the subscription is
// made on the next connect.
func (c *RealClient) Subscribe(topic string, qos byte, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, h: h}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(c.client, topic, qos, h)
}

func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000)
	return nil
}

func (c *RealClient) subscribe(pc paho.Client, topic string, qos byte, h Handler) error {
	token := pc.Subscribe(topic, qos, func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("supervisor: subscribe to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("supervisor: subscribe to %s: %w", topic, err)
	}
	return nil
}

func (c *RealClient) connected(pc paho.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for k, v := range c.subs {
		subs[k] = v
	}
	cb := c.onConnect
	c.mu.Unlock()

	for topic, s := range subs {
		// A failed renewal is retried on the next reconnect.
		_ = c.subscribe(pc, topic, s.qos, s.h)
	}
	if cb != nil {
		cb()
	}
}

func (c *RealClient) lost(_ paho.Client, err error) {
	c.mu.Lock()
	cb := c.onConnLost
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}
