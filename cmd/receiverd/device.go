package main

import (
	"sync"

	"github.com/HunterSees/sourcesync/receiver"
)

// manualOutput and manualMic are minimal stand-ins for a real
// ALSA/Pulse/Bluetooth/Cast output stage and microphone capture device
// — both named only at their interface to the core (spec.md §1). They
// play the same role device.ManualInput plays for av.device: a
// software-driven implementation of the capability interface that lets
// the daemon run end-to-end without real hardware, with frames supplied
// externally (here, silence) rather than read from a sound card.
type manualOutput struct {
	mu        sync.Mutex
	connected bool
	playing   bool
	muted     bool
	volume    float32
	delayMS   float32
}

func newManualOutput() *manualOutput { return &manualOutput{volume: 1} }

func (m *manualOutput) Connect() error    { m.mu.Lock(); defer m.mu.Unlock(); m.connected = true; return nil }
func (m *manualOutput) Disconnect() error { m.mu.Lock(); defer m.mu.Unlock(); m.connected = false; m.playing = false; return nil }
func (m *manualOutput) StartStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = true
	return nil
}
func (m *manualOutput) StopStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	return nil
}
func (m *manualOutput) SetVolume(level float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = level
	m.muted = level == 0
	return nil
}
func (m *manualOutput) SetDelay(delayMS float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delayMS = delayMS
	return nil
}
func (m *manualOutput) Status() receiver.OutputStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return receiver.OutputStatus{
		Connected: m.connected,
		Playing:   m.playing,
		Muted:     m.muted,
		Volume:    m.volume,
		DelayMS:   m.delayMS,
	}
}

// manualMic generates silence of the requested duration in place of a
// real microphone capture. A deployment with real hardware supplies its
// own MicCapture; this lets the daemon boot and exercise its loops
// without one.
type manualMic struct {
	sampleRate float64
	channels   int
}

func newManualMic(sampleRate float64, channels int) *manualMic {
	return &manualMic{sampleRate: sampleRate, channels: channels}
}

func (m *manualMic) CaptureWindow(durationS float64) ([]float32, int, float64, error) {
	n := int(durationS*m.sampleRate) * m.channels
	return make([]float32, n), m.channels, m.sampleRate, nil
}
