// Package devicestate implements DeviceState: per-receiver smoothing,
// variance, connection quality, stability predicate, and target-offset
// computation (spec.md §4.E).
package devicestate

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Config holds the per-controller tunables that govern every
// DeviceState (spec.md §6).
type Config struct {
	HistoryMaxLen      int     // H, default 50.
	RecentWindow       int     // W, default 10.
	StabilityMinSamples int    // M, default 5.
	StabilityMaxVariance float64 // V_max, default 25.
	StabilityMinQuality   float64 // Q_min, default 0.5.
	OfflineTimeout      time.Duration // T_offline, default 30s.
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		HistoryMaxLen:         50,
		RecentWindow:          10,
		StabilityMinSamples:   5,
		StabilityMaxVariance:  25,
		StabilityMinQuality:   0.5,
		OfflineTimeout:        30 * time.Second,
	}
}

// DriftSample is one reported measurement (spec.md §3).
type DriftSample struct {
	DriftMS           float32
	Correlation       float32
	SignalStrengthDBM float32
	CapturedAt        time.Time
}

// State is the per-receiver mutable record. It must only be mutated
// through UpdateDrift or by the owning SyncController; callers outside
// the controller should treat a State they hold as a read-only
// snapshot (spec.md §3, "Ownership").
type State struct {
	DeviceID      string
	BaseLatencyMS float32
	SyncGroup     string

	History []DriftSample // bounded to cfg.HistoryMaxLen, oldest evicted first.

	LastDriftMS float32
	AvgDriftMS  float32
	Variance    float64

	ConnectionQuality float64

	CurrentOffsetMS float32
	TargetOffsetMS  float32

	LastSeenAt time.Time
	Online     bool

	cfg Config
}

// New creates a State for a newly registered device.
func New(deviceID string, baseLatencyMS float32, syncGroup string, cfg Config) *State {
	return &State{
		DeviceID:      deviceID,
		BaseLatencyMS: baseLatencyMS,
		SyncGroup:     syncGroup,
		cfg:           cfg,
		Online:        true,
	}
}

// UpdateDrift appends sample to history (evicting the oldest on
// overflow), marks the device online, and recomputes avg/variance and
// connection quality per spec.md §4.E.
func (s *State) UpdateDrift(sample DriftSample) {
	s.History = append(s.History, sample)
	if len(s.History) > s.cfg.HistoryMaxLen {
		s.History = s.History[len(s.History)-s.cfg.HistoryMaxLen:]
	}

	s.LastDriftMS = sample.DriftMS
	s.Online = true
	s.LastSeenAt = sample.CapturedAt

	if len(s.History) >= 3 {
		recent := s.recentDrifts()
		s.AvgDriftMS = float32(stat.Mean(recent, nil))
		if len(recent) >= 2 {
			s.Variance = stat.Variance(recent, nil)
		} else {
			s.Variance = 0
		}
	}

	s.ConnectionQuality = s.connectionQuality(sample.SignalStrengthDBM)
}

// recentDrifts returns the last min(W, len(history)) drift values as
// float64, for use with gonum/stat.
func (s *State) recentDrifts() []float64 {
	w := s.cfg.RecentWindow
	h := s.History
	if w > 0 && len(h) > w {
		h = h[len(h)-w:]
	}
	out := make([]float64, len(h))
	for i, d := range h {
		out[i] = float64(d.DriftMS)
	}
	return out
}

// connectionQuality implements the §3 formula: the mean of a
// signal-quality term and a drift-stability term, each clamped to
// [0,1]. signalDBM is expected in dBm (spec.md §9 Open Questions).
func (s *State) connectionQuality(signalDBM float32) float64 {
	sigTerm := clamp((float64(signalDBM)+80)/30, 0, 1)
	stabilityTerm := clamp(1-s.Variance/100, 0, 1)
	return (sigTerm + stabilityTerm) / 2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CalculateTargetOffset implements spec.md §4.E: smoothed is AvgDriftMS
// if there are at least 3 samples, else LastDriftMS.
func (s *State) CalculateTargetOffset(referenceDriftMS float32) float32 {
	smoothed := s.LastDriftMS
	if len(s.History) >= 3 {
		smoothed = s.AvgDriftMS
	}
	return s.BaseLatencyMS + (referenceDriftMS - smoothed)
}

// IsStable implements spec.md §4.E's stability predicate.
func (s *State) IsStable() bool {
	return s.Online &&
		len(s.History) >= s.cfg.StabilityMinSamples &&
		s.Variance <= s.cfg.StabilityMaxVariance &&
		s.ConnectionQuality >= s.cfg.StabilityMinQuality
}

// MarkOfflineIfTimedOut marks the device offline if now-LastSeenAt
// exceeds the configured offline timeout. It returns true if this call
// transitioned the device from online to offline.
func (s *State) MarkOfflineIfTimedOut(now time.Time) bool {
	if !s.Online {
		return false
	}
	if now.Sub(s.LastSeenAt) > s.cfg.OfflineTimeout {
		s.Online = false
		return true
	}
	return false
}

// Snapshot is an immutable copy of a State, safe to hand to callers
// outside the owning controller (spec.md §3, "Ownership"; §5,
// "snapshot queries copy out").
type Snapshot struct {
	DeviceID          string
	BaseLatencyMS     float32
	SyncGroup         string
	LastDriftMS       float32
	AvgDriftMS        float32
	Variance          float64
	ConnectionQuality float64
	CurrentOffsetMS   float32
	TargetOffsetMS    float32
	LastSeenAt        time.Time
	Online            bool
	Stable            bool
	HistoryLen        int
}

// Snapshot copies out a read-only view of s.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		DeviceID:          s.DeviceID,
		BaseLatencyMS:     s.BaseLatencyMS,
		SyncGroup:         s.SyncGroup,
		LastDriftMS:       s.LastDriftMS,
		AvgDriftMS:        s.AvgDriftMS,
		Variance:          s.Variance,
		ConnectionQuality: s.ConnectionQuality,
		CurrentOffsetMS:   s.CurrentOffsetMS,
		TargetOffsetMS:    s.TargetOffsetMS,
		LastSeenAt:        s.LastSeenAt,
		Online:            s.Online,
		Stable:            s.IsStable(),
		HistoryLen:        len(s.History),
	}
}
