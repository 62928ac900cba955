package receiver

import (
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// dumpWAV writes samples (frame-major float32, in [-1,1]) to path as a
// 16-bit PCM WAV file, the way exp/flac's decoder drives
// go-audio/wav.Encoder + go-audio/audio.IntBuffer to produce a WAV from
// decoded frames. calibrate and test_tone commands use this to leave an
// inspectable capture on disk.
func dumpWAV(path string, samples []float32, channels, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)

	ints := make([]int, len(samples))
	for i, s := range samples {
		v := int(s * 32767)
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		ints[i] = v
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   ints,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}
