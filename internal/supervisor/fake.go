package supervisor

import "sync"

// Published is one message recorded by a FakeClient.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// FakeClient records publishes and lets tests deliver messages.
type FakeClient struct {
	mu        sync.Mutex
	subs      map[string]Handler
	connected bool

	// Published contains every successful publish in order.
	Published []Published

	// PublishError and SubscribeError, if set, are returned by the
	// corresponding calls.
	PublishError   error
	SubscribeError error

	Closed bool
}

// NewFakeClient creates a connected FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{subs: make(map[string]Handler), connected: true}
}

func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Published = append(f.Published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: payload})
	return nil
}

func (f *FakeClient) Subscribe(topic string, _ byte, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.subs[topic] = h
	return nil
}

func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// SetConnected changes what IsConnected reports.
func (f *FakeClient) SetConnected(c bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = c
}

// Deliver passes payload to the handler subscribed to topic. It reports
// whether a handler was found.
func (f *FakeClient) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.subs[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(topic, payload)
	return true
}

// On returns the messages published to topic.
func (f *FakeClient) On(topic string) []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Published
	for _, p := range f.Published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}
