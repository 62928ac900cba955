package protocol

import "testing"

// TestTopicParseTopicRoundTrip covers spec.md §8's round-trip law:
// ParseTopic(Topic(msg, id)) == (msg, id) for every recognized type.
func TestTopicParseTopicRoundTrip(t *testing.T) {
	types := []MessageType{MsgDrift, MsgBufferOffset, MsgRegister, MsgStatus, MsgHeartbeat, MsgConfig, MsgCommand}
	for _, msg := range types {
		topic := Topic(msg, "device-7")
		gotMsg, gotID, err := ParseTopic(topic)
		if err != nil {
			t.Fatalf("ParseTopic(%q): %v", topic, err)
		}
		if gotMsg != msg || gotID != "device-7" {
			t.Errorf("Topic(%v, device-7) round-tripped to (%v, %v)", msg, gotMsg, gotID)
		}
	}
}

func TestTopicSyncStatusIgnoresID(t *testing.T) {
	topic := Topic(MsgSyncStatus, "ignored")
	if topic != Root+"/sync_status" {
		t.Errorf("got %q, want %q", topic, Root+"/sync_status")
	}
	msg, id, err := ParseTopic(topic)
	if err != nil {
		t.Fatalf("ParseTopic: %v", err)
	}
	if msg != MsgSyncStatus || id != "" {
		t.Errorf("got (%v, %q), want (%v, \"\")", msg, id, MsgSyncStatus)
	}
}

func TestParseTopicRejectsMalformed(t *testing.T) {
	cases := []string{"", "syncstream", "wrong/drift/x", "syncstream/bogus/x"}
	for _, topic := range cases {
		if _, _, err := ParseTopic(topic); err == nil {
			t.Errorf("ParseTopic(%q): expected an error", topic)
		}
	}
}
