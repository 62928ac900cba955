package bus

import (
	"context"
	"strings"
	"sync"
)

// MemBus is an in-process Bus used by tests in place of a real broker,
// the way device.ManualInput stands in for a hardware AVDevice in the
// teacher. Publishes are delivered synchronously to every matching
// subscriber.
type MemBus struct {
	mu        sync.Mutex
	connected bool
	subs      map[string]subscription
	will      *Will
}

// NewMem returns a disconnected MemBus.
func NewMem() *MemBus {
	return &MemBus{subs: make(map[string]subscription)}
}

func (m *MemBus) Connect(ctx context.Context, will *Will) error {
	m.mu.Lock()
	m.connected = true
	m.will = will
	m.mu.Unlock()
	return nil
}

// Disconnect marks the bus disconnected without delivering the
// configured last-will — that only happens via SimulateAbnormalDrop.
func (m *MemBus) Disconnect() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

// SimulateAbnormalDrop disconnects the bus and, if a will was
// registered, delivers it — modeling an MQTT broker publishing a
// client's last-will on ungraceful disconnect (spec.md §4.G).
func (m *MemBus) SimulateAbnormalDrop() {
	m.mu.Lock()
	m.connected = false
	will := m.will
	m.mu.Unlock()
	if will != nil {
		m.deliver(will.Topic, will.Payload)
	}
}

func (m *MemBus) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MemBus) Publish(ctx context.Context, topic string, payload []byte, qos QoS) error {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	m.deliver(topic, payload)
	return nil
}

func (m *MemBus) deliver(topic string, payload []byte) {
	m.mu.Lock()
	var handlers []Handler
	for pattern, s := range m.subs {
		if topicMatches(pattern, topic) {
			handlers = append(handlers, s.handler)
		}
	}
	m.mu.Unlock()
	for _, h := range handlers {
		safeCall(h, topic, payload)
	}
}

func (m *MemBus) Subscribe(pattern string, qos QoS, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[pattern] = subscription{qos: qos, handler: handler}
	return nil
}

func (m *MemBus) Unsubscribe(pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, pattern)
	return nil
}

// topicMatches implements MQTT-style wildcard matching: "+" matches
// exactly one topic level, "#" matches any number of trailing levels.
func topicMatches(pattern, topic string) bool {
	pSegs := strings.Split(pattern, "/")
	tSegs := strings.Split(topic, "/")

	for i, p := range pSegs {
		if p == "#" {
			return true
		}
		if i >= len(tSegs) {
			return false
		}
		if p != "+" && p != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}
