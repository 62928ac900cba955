package devicestate

import (
	"testing"
	"time"
)

func feed(s *State, drifts []float32, corr float32) {
	t0 := time.Now()
	for i, d := range drifts {
		s.UpdateDrift(DriftSample{
			DriftMS:           d,
			Correlation:       corr,
			SignalStrengthDBM: -40,
			CapturedAt:        t0.Add(time.Duration(i) * time.Second),
		})
	}
}

// TestConverge covers spec.md §8 scenario 1's per-device math: device A
// fed {10,12,11,10,12} should end with avg_drift_ms = 11 and a small
// variance, stable.
func TestConverge(t *testing.T) {
	a := New("A", 50, "G", DefaultConfig())
	feed(a, []float32{10, 12, 11, 10, 12}, 0.9)

	if a.AvgDriftMS != 11 {
		t.Errorf("got avg_drift_ms %v, want 11", a.AvgDriftMS)
	}
	if a.Variance > 2 {
		t.Errorf("got variance %v, want <= 2", a.Variance)
	}
	if !a.IsStable() {
		t.Error("expected A to be stable")
	}

	target := a.CalculateTargetOffset(1)
	if target != 40 {
		t.Errorf("got target_offset_ms %v, want 40 (base 50 + ref 1 - avg 11)", target)
	}
}

// TestBoundedHistory covers spec.md §8's bounded-history invariant.
func TestBoundedHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryMaxLen = 5
	s := New("X", 0, "default", cfg)
	for i := 0; i < 20; i++ {
		s.UpdateDrift(DriftSample{DriftMS: float32(i), Correlation: 0.9, SignalStrengthDBM: -40, CapturedAt: time.Now()})
	}
	if len(s.History) != cfg.HistoryMaxLen {
		t.Errorf("got history length %d, want %d", len(s.History), cfg.HistoryMaxLen)
	}
}

// TestStabilityRequiresMinSamples checks the stability predicate's
// sample-count gate.
func TestStabilityRequiresMinSamples(t *testing.T) {
	s := New("Y", 0, "default", DefaultConfig())
	feed(s, []float32{0, 0}, 0.9)
	if s.IsStable() {
		t.Error("expected not stable with fewer than StabilityMinSamples updates")
	}
}

// TestStabilityAntitone covers spec.md §8: adding a sample whose drift
// is a large outlier relative to history must never flip stability from
// false to true.
func TestStabilityAntitone(t *testing.T) {
	s := New("Z", 0, "default", DefaultConfig())
	feed(s, []float32{0, 0, 0, 0}, 0.9)
	before := s.IsStable()

	s.UpdateDrift(DriftSample{DriftMS: 500, Correlation: 0.9, SignalStrengthDBM: -40, CapturedAt: time.Now()})
	after := s.IsStable()

	if !before && after {
		t.Error("stability flipped false -> true after an outlier sample")
	}
}

// TestOfflineTimeout covers spec.md §8 scenario 5.
func TestOfflineTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OfflineTimeout = 30 * time.Second
	s := New("X", 0, "default", cfg)
	s.UpdateDrift(DriftSample{DriftMS: 1, Correlation: 0.9, SignalStrengthDBM: -40, CapturedAt: time.Now()})

	if transitioned := s.MarkOfflineIfTimedOut(time.Now().Add(10 * time.Second)); transitioned {
		t.Error("did not expect offline transition before timeout")
	}
	if !s.Online {
		t.Error("expected device still online before timeout")
	}

	if transitioned := s.MarkOfflineIfTimedOut(s.LastSeenAt.Add(31 * time.Second)); !transitioned {
		t.Error("expected offline transition after timeout elapsed")
	}
	if s.Online {
		t.Error("expected device offline after timeout")
	}
	// Offset is preserved across the offline transition.
	if s.CurrentOffsetMS != 0 {
		t.Errorf("expected current_offset_ms unchanged, got %v", s.CurrentOffsetMS)
	}
}
