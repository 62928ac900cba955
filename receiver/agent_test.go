package receiver

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/HunterSees/sourcesync/bus"
	"github.com/HunterSees/sourcesync/protocol"
	"github.com/HunterSees/sourcesync/reference"
)

// testLogger discards everything; only the method set needs to satisfy
// synclog.Logger.
type testLogger struct{}

func (testLogger) Debug(msg string, args ...interface{})            {}
func (testLogger) Info(msg string, args ...interface{})             {}
func (testLogger) Warning(msg string, args ...interface{})          {}
func (testLogger) Error(msg string, args ...interface{})            {}
func (testLogger) Fatal(msg string, args ...interface{})            {}
func (testLogger) SetLevel(level int8)                              {}
func (testLogger) Log(level int8, msg string, args ...interface{}) {}

// stubOutput is a minimal AVOutput recording the calls made to it.
type stubOutput struct {
	status        OutputStatus
	delayApplied  float32
	volumeApplied float32
	connected     bool
	streaming     bool
}

func (o *stubOutput) Connect() error      { o.connected = true; return nil }
func (o *stubOutput) Disconnect() error   { o.connected = false; return nil }
func (o *stubOutput) StartStream() error  { o.streaming = true; return nil }
func (o *stubOutput) StopStream() error   { o.streaming = false; return nil }
func (o *stubOutput) SetVolume(level float32) error {
	o.volumeApplied = level
	o.status.Volume = level
	return nil
}
func (o *stubOutput) SetDelay(delayMS float32) error {
	o.delayApplied = delayMS
	o.status.DelayMS = delayMS
	return nil
}
func (o *stubOutput) Status() OutputStatus { return o.status }

// stubMic returns a fixed tone every call.
type stubMic struct {
	samples    []float32
	channels   int
	sampleRate float64
}

func (m *stubMic) CaptureWindow(durationS float64) ([]float32, int, float64, error) {
	return m.samples, m.channels, m.sampleRate, nil
}

// stubFetcher returns a fixed reference window encoded raw_f32le.
type stubFetcher struct {
	samples  []float32
	channels uint
}

func (f *stubFetcher) Fetch(ctx context.Context, req reference.Request) (reference.Response, error) {
	body := make([]byte, len(f.samples)*4)
	for i, s := range f.samples {
		bits := math.Float32bits(s)
		body[i*4+0] = byte(bits)
		body[i*4+1] = byte(bits >> 8)
		body[i*4+2] = byte(bits >> 16)
		body[i*4+3] = byte(bits >> 24)
	}
	return reference.Response{Body: body, Channels: f.channels, Samples: uint(len(f.samples))}, nil
}

func tone(n int, freqHz, fs float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * freqHz * float64(i) / fs))
	}
	return out
}

func newTestAgent() (*Agent, *stubOutput, *bus.MemBus) {
	cfg := DefaultConfig("dev1", "Kitchen", protocol.DeviceALSA)
	cfg.PDrift = time.Hour
	cfg.PHb = time.Hour
	cfg.PStatus = time.Hour

	fs := 8000.0
	samples := tone(4000, 300, fs)
	mic := &stubMic{samples: samples, channels: 1, sampleRate: fs}
	ref := &stubFetcher{samples: samples, channels: 1}
	out := &stubOutput{}
	b := bus.NewMem()
	b.Connect(context.Background(), nil)

	a := New(cfg, b, ref, mic, out, testLogger{})
	return a, out, b
}

// TestRunDriftPassPublishesReport exercises a full drift pass against
// stub collaborators: identical mic/reference tones should yield a
// near-zero, high-correlation drift report published on drift/dev1.
func TestRunDriftPassPublishesReport(t *testing.T) {
	a, _, b := newTestAgent()

	var got protocol.DriftReport
	var received bool
	b.Subscribe(protocol.Topic(protocol.MsgDrift, "dev1"), bus.QoSAtLeastOnce, func(topic string, payload []byte) {
		if errs := protocol.Decode(payload, &got); len(errs) == 0 {
			received = true
		}
	})

	a.runDriftPass()

	if !received {
		t.Fatal("expected a drift report to be published")
	}
	if got.DeviceID != "dev1" {
		t.Errorf("got device_id %q, want %q", got.DeviceID, "dev1")
	}
	if got.Correlation < 0.9 {
		t.Errorf("got correlation %v, want > 0.9 for identical tones", got.Correlation)
	}
}

// TestHandleCommandSetDelay covers spec.md §4.D's command dispatch.
func TestHandleCommandSetDelay(t *testing.T) {
	a, out, _ := newTestAgent()

	cmd := protocol.Command{Command: protocol.CommandSetDelay, CommandID: "c1", Params: map[string]interface{}{"delay_ms": 42.0}}
	b, err := protocol.Encode(&cmd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	a.handleCommand("", b)

	if out.delayApplied != 42 {
		t.Errorf("got delay_ms %v, want 42", out.delayApplied)
	}
}

// TestHandleCommandMuteUnmute covers the mute/unmute volume round trip.
func TestHandleCommandMuteUnmute(t *testing.T) {
	a, out, _ := newTestAgent()
	out.status.Volume = 0.8

	muteCmd := protocol.Command{Command: protocol.CommandMute, CommandID: "c1"}
	b, _ := protocol.Encode(&muteCmd)
	a.handleCommand("", b)
	if out.volumeApplied != 0 {
		t.Errorf("got volume %v after mute, want 0", out.volumeApplied)
	}

	unmuteCmd := protocol.Command{Command: protocol.CommandUnmute, CommandID: "c2"}
	b, _ = protocol.Encode(&unmuteCmd)
	a.handleCommand("", b)
	if out.volumeApplied != 0.8 {
		t.Errorf("got volume %v after unmute, want 0.8", out.volumeApplied)
	}
}

// TestHandleCommandIgnoresOtherDevice covers spec.md §4.D: a targeted
// command for a different device id must not be applied.
func TestHandleCommandIgnoresOtherDevice(t *testing.T) {
	a, out, _ := newTestAgent()
	cmd := protocol.Command{DeviceID: "other-device", Command: protocol.CommandSetVolume, CommandID: "c1", Params: map[string]interface{}{"volume": 0.3}}
	b, _ := protocol.Encode(&cmd)
	a.handleCommand("", b)
	if out.volumeApplied != 0 {
		t.Errorf("got volume %v, want unchanged 0 (command targeted a different device)", out.volumeApplied)
	}
}

// TestHandleBufferOffsetAppliesDelay covers the controller-to-receiver
// offset push path.
func TestHandleBufferOffsetAppliesDelay(t *testing.T) {
	a, out, _ := newTestAgent()
	bo := protocol.BufferOffset{DeviceID: "dev1", OffsetMS: 15}
	b, _ := protocol.Encode(&bo)
	a.handleBufferOffset("", b)
	if out.delayApplied != 15 {
		t.Errorf("got delay_ms %v, want 15", out.delayApplied)
	}
}
