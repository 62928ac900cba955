// Package audioring provides AudioRing, a fixed-capacity circular store
// of float32 PCM frames serving historical windows by duration and
// offset for drift measurement.
package audioring

import (
	"fmt"
	"sync"
	"time"
)

// Ring is a thread-safe rolling PCM buffer. There is a single logical
// writer and many concurrent readers; a read never observes a torn
// frame.
type Ring struct {
	mu sync.RWMutex

	sampleRate uint
	channels   uint
	capacity   uint // capacity in frames.

	data           []float32 // capacity*channels, frame-major.
	samplesWritten uint64    // monotonic count of frames ever written.
	head           uint64    // index (mod capacity) of the next frame to write.
	lastWrite      time.Time
}

// New returns a Ring sized to hold bufferSeconds of audio at sampleRate
// Hz with the given channel count.
func New(sampleRate, channels uint, bufferSeconds float64) *Ring {
	capacity := uint(float64(sampleRate) * bufferSeconds)
	if capacity == 0 {
		capacity = 1
	}
	return &Ring{
		sampleRate: sampleRate,
		channels:   channels,
		capacity:   capacity,
		data:       make([]float32, capacity*channels),
	}
}

// Write appends frames to the ring. If frames carries a different
// channel count than the ring, it is up-mixed (mono->stereo by
// duplication) or down-mixed (stereo->mono by channel mean) first.
// Write never blocks a reader beyond the duration of the copy under
// the mutex.
func (r *Ring) Write(frames []float32, frameChannels uint) {
	conv := convertChannels(frames, frameChannels, r.channels)
	nFrames := uint(len(conv)) / r.channels
	if nFrames == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := uint(0); i < nFrames; i++ {
		dst := (r.head % uint64(r.capacity)) * uint64(r.channels)
		src := i * r.channels
		copy(r.data[dst:dst+uint64(r.channels)], conv[src:src+r.channels])
		r.head++
	}
	r.samplesWritten += uint64(nFrames)
	r.lastWrite = time.Now()
}

// convertChannels up-mixes mono to stereo by duplication or down-mixes
// stereo (or any N>1) to mono by channel mean. If from == to, frames is
// returned unchanged.
func convertChannels(frames []float32, from, to uint) []float32 {
	if from == to || from == 0 || to == 0 {
		return frames
	}
	nFrames := uint(len(frames)) / from
	out := make([]float32, nFrames*to)
	if from == 1 && to > 1 {
		for i := uint(0); i < nFrames; i++ {
			v := frames[i]
			for c := uint(0); c < to; c++ {
				out[i*to+c] = v
			}
		}
		return out
	}
	if to == 1 && from > 1 {
		for i := uint(0); i < nFrames; i++ {
			var sum float32
			for c := uint(0); c < from; c++ {
				sum += frames[i*from+c]
			}
			out[i] = sum / float32(from)
		}
		return out
	}
	// Any other ratio: average down to mono then duplicate up to 'to'.
	mono := convertChannels(frames, from, 1)
	return convertChannels(mono, 1, to)
}

// Window is a read result from Ring.Read.
type Window struct {
	Samples     []float32 // frames*channels, frame-major.
	SampleRate  uint
	Channels    uint
	StartTimeS  float64
	Short       bool // true if fewer frames were available than requested.
	FrameCount  uint
	RequestedAt time.Time
}

// Read returns a window of ceil(duration*sampleRate) frames ending at
// (samplesWritten + offset*sampleRate). If fewer frames have been
// written than requested, it returns what is available and marks the
// result short.
func (r *Ring) Read(durationS, offsetS float64) (Window, error) {
	if durationS <= 0 {
		return Window{}, fmt.Errorf("audioring: duration must be > 0, got %v", durationS)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	requested := uint(durationS*float64(r.sampleRate) + 0.999999)
	retained := r.samplesWritten
	if retained > uint64(r.capacity) {
		retained = uint64(r.capacity)
	}

	endFrame := int64(r.samplesWritten) + int64(offsetS*float64(r.sampleRate))
	if endFrame < 0 {
		endFrame = 0
	}
	oldestAvailable := int64(r.samplesWritten) - int64(retained)

	want := int64(requested)
	start := endFrame - want
	short := false
	if start < oldestAvailable {
		start = oldestAvailable
		short = true
	}
	if endFrame > int64(r.samplesWritten) {
		endFrame = int64(r.samplesWritten)
		short = true
	}
	n := endFrame - start
	if n < 0 {
		n = 0
	}

	out := make([]float32, uint(n)*r.channels)
	for i := int64(0); i < n; i++ {
		frameIdx := uint64(start + i)
		ringIdx := (frameIdx % uint64(r.capacity)) * uint64(r.channels)
		copy(out[uint64(i)*uint64(r.channels):uint64(i+1)*uint64(r.channels)], r.data[ringIdx:ringIdx+uint64(r.channels)])
	}

	startTimeS := float64(start) / float64(r.sampleRate)

	return Window{
		Samples:    out,
		SampleRate: r.sampleRate,
		Channels:   r.channels,
		StartTimeS: startTimeS,
		Short:      short || uint(n) < requested,
		FrameCount: uint(n),
	}, nil
}

// Info describes the current state of the ring.
type Info struct {
	SampleRate     uint
	Channels       uint
	CapacityFrames uint
	SamplesWritten uint64
	FillRatio      float64
	LastWrite      time.Time
}

// Info returns a snapshot of the ring's current state.
func (r *Ring) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	retained := r.samplesWritten
	if retained > uint64(r.capacity) {
		retained = uint64(r.capacity)
	}
	return Info{
		SampleRate:     r.sampleRate,
		Channels:       r.channels,
		CapacityFrames: r.capacity,
		SamplesWritten: r.samplesWritten,
		FillRatio:      float64(retained) / float64(r.capacity),
		LastWrite:      r.lastWrite,
	}
}
