// Package protocol defines the SyncStream wire schema: topic layout,
// message shapes, validation, and JSON (de)serialization (spec.md §4.H).
package protocol

import (
	"fmt"
	"strings"
)

// Root is the topic namespace every SyncStream topic lives under.
const Root = "syncstream"

// MaxMessageSize is the maximum encoded payload size (spec.md §6).
const MaxMessageSize = 64 * 1024

// DefaultQoS is the default message-bus QoS for SyncStream topics.
const DefaultQoS = 1

// MessageType identifies the shape of a payload on a topic.
type MessageType string

const (
	MsgDrift         MessageType = "drift"
	MsgBufferOffset  MessageType = "buffer_offset"
	MsgRegister      MessageType = "register"
	MsgStatus        MessageType = "status"
	MsgHeartbeat     MessageType = "heartbeat"
	MsgConfig        MessageType = "config"
	MsgCommand       MessageType = "command"
	MsgSyncStatus    MessageType = "sync_status"
)

// AllTarget is the reserved device id segment meaning "every receiver".
const AllTarget = "all"

// Topic builds a fully-qualified topic for the given message type and
// device id. For MsgSyncStatus, id is ignored.
func Topic(msg MessageType, deviceID string) string {
	if msg == MsgSyncStatus {
		return Root + "/sync_status"
	}
	return fmt.Sprintf("%s/%s/%s", Root, msg, deviceID)
}

// ParseTopic is the inverse of Topic: it recovers (MessageType,
// deviceID) from a topic string. Topic ∘ ParseTopic is identity on
// every recognized pair (spec.md §8, round-trip laws).
func ParseTopic(topic string) (MessageType, string, error) {
	if topic == Root+"/sync_status" {
		return MsgSyncStatus, "", nil
	}
	parts := strings.SplitN(topic, "/", 3)
	if len(parts) != 3 || parts[0] != Root {
		return "", "", fmt.Errorf("protocol: malformed topic %q", topic)
	}
	msg := MessageType(parts[1])
	switch msg {
	case MsgDrift, MsgBufferOffset, MsgRegister, MsgStatus, MsgHeartbeat, MsgConfig, MsgCommand:
		return msg, parts[2], nil
	default:
		return "", "", fmt.Errorf("protocol: unrecognized message type %q", parts[1])
	}
}
