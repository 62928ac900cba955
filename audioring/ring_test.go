package audioring

import "testing"

// TestReadAtStart covers spec.md §8 scenario 4: a ring with capacity
// 10s at 44100Hz, written with 1s of silence, should return a short 1s
// window with start_time_s = 0 when asked to read(2, 0).
func TestReadAtStart(t *testing.T) {
	r := New(44100, 1, 10)
	r.Write(make([]float32, 44100), 1)

	win, err := r.Read(2, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !win.Short {
		t.Error("expected window to be marked short")
	}
	if win.FrameCount != 44100 {
		t.Errorf("got %d frames, want 44100", win.FrameCount)
	}
	if win.StartTimeS != 0 {
		t.Errorf("got start_time_s %v, want 0", win.StartTimeS)
	}
}

// TestReadFullWindow covers the non-short case: once enough has been
// written, a read for less than the full retained history returns
// exactly the requested duration, unmarked.
func TestReadFullWindow(t *testing.T) {
	r := New(44100, 1, 10)
	r.Write(make([]float32, 5*44100), 1)

	win, err := r.Read(2, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if win.Short {
		t.Error("did not expect window to be marked short")
	}
	if win.FrameCount != 2*44100 {
		t.Errorf("got %d frames, want %d", win.FrameCount, 2*44100)
	}
	wantStart := float64(5*44100-2*44100) / 44100
	if win.StartTimeS != wantStart {
		t.Errorf("got start_time_s %v, want %v", win.StartTimeS, wantStart)
	}
}

// TestMonotonicity covers spec.md §8's ring monotonicity property:
// samples_written never decreases, and a read never returns more
// frames than requested.
func TestMonotonicity(t *testing.T) {
	r := New(8000, 1, 2)
	var last uint64
	for i := 0; i < 5; i++ {
		r.Write(make([]float32, 1000), 1)
		info := r.Info()
		if info.SamplesWritten < last {
			t.Fatalf("samples_written decreased: %d -> %d", last, info.SamplesWritten)
		}
		last = info.SamplesWritten

		win, err := r.Read(1, 0)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if win.FrameCount > 8000 {
			t.Errorf("read returned %d frames, want at most %d", win.FrameCount, 8000)
		}
	}
}

// TestDownmixUpmix exercises Write's channel conversion in both
// directions.
func TestDownmixUpmix(t *testing.T) {
	r := New(100, 2, 1)
	// Mono input up-mixed to stereo by duplication.
	r.Write([]float32{1, 0.5}, 1)
	win, err := r.Read(0.02, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []float32{1, 1, 0.5, 0.5}
	if len(win.Samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(win.Samples), len(want))
	}
	for i := range want {
		if win.Samples[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, win.Samples[i], want[i])
		}
	}

	// Stereo input down-mixed to mono by channel mean.
	m := New(100, 1, 1)
	m.Write([]float32{1, 0, 0.5, 0.5}, 2)
	win, err = m.Read(0.02, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	wantMono := []float32{0.5, 0.5}
	if len(win.Samples) != len(wantMono) {
		t.Fatalf("got %d samples, want %d", len(win.Samples), len(wantMono))
	}
	for i := range wantMono {
		if win.Samples[i] != wantMono[i] {
			t.Errorf("mono sample %d: got %v, want %v", i, win.Samples[i], wantMono[i])
		}
	}
}

func TestInfoFillRatio(t *testing.T) {
	r := New(100, 1, 1) // 1s capacity at 100Hz = 100 frames.
	r.Write(make([]float32, 50), 1)
	info := r.Info()
	if info.FillRatio != 0.5 {
		t.Errorf("got fill_ratio %v, want 0.5", info.FillRatio)
	}

	r.Write(make([]float32, 100), 1)
	info = r.Info()
	if info.FillRatio != 1 {
		t.Errorf("got fill_ratio %v, want 1 after overfill", info.FillRatio)
	}
}
