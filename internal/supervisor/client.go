// Package supervisor links the station to its remote supervisor over MQTT.
//
// The supervisor sends text commands on <prefix>/cmd and reads the answers on
// <prefix>/reply. Lifecycle events go to <prefix>/event and periodic status
// snapshots to <prefix>/telemetry. Messages published while the link is down
// are held in a bounded outbox and sent when the broker comes back.
package supervisor

// Handler receives one message from a subscribed topic.
type Handler func(topic string, payload []byte)

// Client is the broker connection used by a Link.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, h Handler) error
	IsConnected() bool
	Close() error
}
