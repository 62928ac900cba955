package bus

import (
	"context"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTBus is a Bus backed by an MQTT broker via
// github.com/eclipse/paho.mqtt.golang, the Go counterpart of the
// paho.mqtt.client the original SyncStream transmitter/receiver were
// built on (see DESIGN.md, "bus").
type MQTTBus struct {
	mu   sync.Mutex
	subs map[string]subscription

	client   mqtt.Client
	clientID string
	backoff  BackoffConfig
}

type subscription struct {
	qos     QoS
	handler Handler
}

// NewMQTT returns an MQTTBus that will connect to brokerURL (e.g.
// "tcp://localhost:1883") using clientID. backoff governs reconnect
// timing; the zero value selects DefaultBackoff.
func NewMQTT(brokerURL, clientID string, backoff BackoffConfig) *MQTTBus {
	if backoff == (BackoffConfig{}) {
		backoff = DefaultBackoff()
	}
	b := &MQTTBus{
		subs:     make(map[string]subscription),
		clientID: clientID,
		backoff:  backoff,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(backoff.Max)
	opts.SetOnConnectHandler(func(mqtt.Client) { b.resubscribeAll() })

	b.client = mqtt.NewClient(opts)
	return b
}

// Connect implements Bus.
func (b *MQTTBus) Connect(ctx context.Context, will *Will) error {
	if will != nil {
		b.mu.Lock()
		b.client = b.withWill(will)
		b.mu.Unlock()
	}

	token := b.client.Connect()
	return waitToken(ctx, token)
}

// withWill rebuilds the underlying client with a last-will option set.
// paho requires will options to be set before Connect, so this must
// run before the first Connect call.
func (b *MQTTBus) withWill(will *Will) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerAddr(b.client))
	opts.SetClientID(b.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(b.backoff.Max)
	opts.SetWill(will.Topic, string(will.Payload), byte(will.QoS), will.Retain)
	opts.SetOnConnectHandler(func(mqtt.Client) { b.resubscribeAll() })
	return mqtt.NewClient(opts)
}

func brokerAddr(c mqtt.Client) string {
	servers := c.OptionsReader().Servers()
	if len(servers) == 0 {
		return ""
	}
	return servers[0].String()
}

// Disconnect implements Bus.
func (b *MQTTBus) Disconnect() {
	b.client.Disconnect(250)
}

// Connected implements Bus.
func (b *MQTTBus) Connected() bool {
	return b.client.IsConnectionOpen()
}

// Publish implements Bus.
func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte, qos QoS) error {
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := b.client.Publish(topic, byte(qos), false, payload)
	return waitToken(ctx, token)
}

// Subscribe implements Bus. The handler is recorded so it can be
// re-registered automatically after a reconnect.
func (b *MQTTBus) Subscribe(pattern string, qos QoS, handler Handler) error {
	b.mu.Lock()
	b.subs[pattern] = subscription{qos: qos, handler: handler}
	b.mu.Unlock()

	if !b.client.IsConnectionOpen() {
		// Recorded for replay on connect; nothing more to do now.
		return nil
	}
	return b.subscribeNow(pattern, qos, handler)
}

func (b *MQTTBus) subscribeNow(pattern string, qos QoS, handler Handler) error {
	token := b.client.Subscribe(pattern, byte(qos), func(_ mqtt.Client, msg mqtt.Message) {
		safeCall(handler, msg.Topic(), msg.Payload())
	})
	return waitToken(context.Background(), token)
}

// safeCall isolates a handler panic so one bad subscriber never brings
// down message delivery for the rest (spec.md §5).
func safeCall(h Handler, topic string, payload []byte) {
	defer func() { recover() }()
	h(topic, payload)
}

// Unsubscribe implements Bus.
func (b *MQTTBus) Unsubscribe(pattern string) error {
	b.mu.Lock()
	delete(b.subs, pattern)
	b.mu.Unlock()

	if !b.client.IsConnectionOpen() {
		return nil
	}
	token := b.client.Unsubscribe(pattern)
	return waitToken(context.Background(), token)
}

// resubscribeAll re-establishes every recorded subscription after a
// (re)connect (spec.md §4.G, "on reconnect, all subscriptions are
// re-established").
func (b *MQTTBus) resubscribeAll() {
	b.mu.Lock()
	subs := make(map[string]subscription, len(b.subs))
	for k, v := range b.subs {
		subs[k] = v
	}
	b.mu.Unlock()

	for pattern, s := range subs {
		_ = b.subscribeNow(pattern, s.qos, s.handler)
	}
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

