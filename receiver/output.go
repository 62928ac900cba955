package receiver

// AVOutput is the capability set of a receiver's playback stage:
// connect/disconnect, start/stop streaming, volume, and delay
// (playback offset) control. It generalizes device.AVDevice's
// {Name, Set, Start, Stop, IsRunning} shape to the spec's output
// seam (spec.md §9, "Polymorphism") — audio output, mic capture, and
// ecosystem drivers share one capability set expressed as an
// interface, never a subclass hierarchy.
//
// Concrete ALSA/Pulse/Bluetooth/Cast implementations are out of scope
// for this module (spec.md §1); AVOutput is the seam they plug into.
type AVOutput interface {
	Connect() error
	Disconnect() error
	StartStream() error
	StopStream() error
	SetVolume(level float32) error

	// SetDelay sets the target playback delay. Application is
	// setpoint-only: the output pipeline is responsible for smoothing
	// toward delayMS at whatever rate suits its hardware (spec.md §4.D).
	SetDelay(delayMS float32) error

	Status() OutputStatus
}

// OutputStatus is a point-in-time snapshot of an AVOutput.
type OutputStatus struct {
	Connected bool
	Playing   bool
	Muted     bool
	Volume    float32
	DelayMS   float32
	CPUUsage  float32
	MemUsage  float32
	TempC     float32
}

// MicCapture produces PCM frames from a local microphone or line-in.
// Capture drops oldest buffered audio if the caller falls behind
// (spec.md §5, "Backpressure") — a measurement on stale audio is worse
// than a skipped measurement.
type MicCapture interface {
	// CaptureWindow blocks until durationS seconds of audio have been
	// captured, then returns it as float32 samples, frame-major, along
	// with the channel count and sample rate actually captured.
	CaptureWindow(durationS float64) (samples []float32, channels int, sampleRate float64, err error)
}
