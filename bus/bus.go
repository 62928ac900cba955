// Package bus provides Bus, a topic-based pub/sub client abstraction
// over QoS-aware delivery with retained last-will and wildcard
// subscriptions (spec.md §4.G). The production implementation wraps
// github.com/eclipse/paho.mqtt.golang; an in-memory implementation
// (membus.go) backs tests the way device.ManualInput stands in for a
// real AVDevice in the teacher.
package bus

import (
	"context"
	"errors"
	"time"
)

// QoS mirrors MQTT's delivery guarantee levels.
type QoS byte

const (
	QoSAtMostOnce  QoS = 0
	QoSAtLeastOnce QoS = 1
	QoSExactlyOnce QoS = 2
)

// Handler is invoked for every message matching a subscription.
// Handlers that panic or return are isolated by the Bus implementation
// — a misbehaving handler never takes down the connection
// (spec.md §5, "Cancellation & timeouts").
type Handler func(topic string, payload []byte)

// ErrNotConnected is returned by Publish/Subscribe when the bus has no
// active connection and no queued retry will help the caller.
var ErrNotConnected = errors.New("bus: not connected")

// Bus is the capability set spec.md §4.G names.
type Bus interface {
	// Connect establishes the connection, registering will as the
	// last-will message to be delivered by the broker if this client
	// disconnects abnormally. Connect blocks until the initial
	// connection succeeds or ctx is done.
	Connect(ctx context.Context, will *Will) error

	// Disconnect closes the connection, publishing no further
	// messages. It is idempotent.
	Disconnect()

	// Publish sends payload on topic at the given QoS. For QoS>=1 this
	// blocks until the broker acknowledges or ctx is done.
	Publish(ctx context.Context, topic string, payload []byte, qos QoS) error

	// Subscribe registers handler for every topic matching pattern,
	// which may use single-level (+) and multi-level (#) wildcards.
	// On reconnect, all subscriptions are automatically re-established.
	Subscribe(pattern string, qos QoS, handler Handler) error

	// Unsubscribe removes a previously registered pattern.
	Unsubscribe(pattern string) error

	// Connected reports whether the bus currently has a live
	// connection to the broker.
	Connected() bool
}

// Will describes a last-will message the broker publishes on this
// client's behalf if it disconnects without a clean Disconnect
// (spec.md §4.G, "Last-will").
type Will struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

// BackoffConfig describes a reconnect backoff policy
// (spec.md §4.G, "Reconnect"). MQTTBus applies only Max, as the MQTT
// client's maximum reconnect interval; it does not use Initial or
// Jitter and adds no jitter of its own.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64 // fraction of the computed delay to randomize, [0,1).
}

// DefaultBackoff returns a 250ms initial delay, 20% jitter and a 30s
// cap. Of these, MQTTBus uses only the 30s cap (see BackoffConfig).
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Initial: 250 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2}
}
