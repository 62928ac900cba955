package bus

import (
	"context"
	"testing"
)

func TestMemBusPublishSubscribe(t *testing.T) {
	b := NewMem()
	if err := b.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var got string
	b.Subscribe("syncstream/drift/+", QoSAtMostOnce, func(topic string, payload []byte) {
		got = string(payload)
	})

	if err := b.Publish(context.Background(), "syncstream/drift/dev1", []byte("hello"), QoSAtMostOnce); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestMemBusPublishWhenDisconnected(t *testing.T) {
	b := NewMem()
	err := b.Publish(context.Background(), "x", nil, QoSAtMostOnce)
	if err != ErrNotConnected {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestMemBusWildcards(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"syncstream/drift/+", "syncstream/drift/dev1", true},
		{"syncstream/drift/+", "syncstream/drift/dev1/extra", false},
		{"syncstream/#", "syncstream/drift/dev1/extra", true},
		{"syncstream/drift/dev1", "syncstream/drift/dev2", false},
		{"+/drift/+", "syncstream/drift/dev1", true},
	}
	for _, c := range cases {
		if got := topicMatches(c.pattern, c.topic); got != c.want {
			t.Errorf("topicMatches(%q, %q) = %v, want %v", c.pattern, c.topic, got, c.want)
		}
	}
}

// TestMemBusLastWill covers spec.md §4.G: a last-will is delivered only
// on an abnormal drop, never on a clean Disconnect.
func TestMemBusLastWill(t *testing.T) {
	b := NewMem()
	will := &Will{Topic: "syncstream/status/dev1", Payload: []byte(`{"is_online":false}`)}
	b.Connect(context.Background(), will)

	var delivered []byte
	b.Subscribe("syncstream/status/dev1", QoSAtMostOnce, func(topic string, payload []byte) {
		delivered = payload
	})

	b.Disconnect()
	if delivered != nil {
		t.Error("Disconnect must not deliver the last-will")
	}

	b.Connect(context.Background(), will)
	b.Subscribe("syncstream/status/dev1", QoSAtMostOnce, func(topic string, payload []byte) {
		delivered = payload
	})
	b.SimulateAbnormalDrop()
	if string(delivered) != string(will.Payload) {
		t.Errorf("got %q, want the last-will payload %q", delivered, will.Payload)
	}
}

func TestMemBusUnsubscribe(t *testing.T) {
	b := NewMem()
	b.Connect(context.Background(), nil)

	var calls int
	b.Subscribe("x", QoSAtMostOnce, func(topic string, payload []byte) { calls++ })
	b.Unsubscribe("x")
	b.Publish(context.Background(), "x", nil, QoSAtMostOnce)
	if calls != 0 {
		t.Errorf("got %d calls after Unsubscribe, want 0", calls)
	}
}
