// Package drift implements DriftEstimator: cross-correlation of a
// captured microphone window against a reference audio window to
// yield a (drift_ms, correlation) measurement, with validation against
// correlation, range, and jump-guard thresholds.
package drift

import (
	"fmt"
	"math"
)

// Config holds the tunables for estimation and validation (spec.md §6).
type Config struct {
	HighPassHz     float64 // 4th-order Butterworth high-pass cutoff, default 100.
	MinCorrelation float64 // reject below this, default 0.7.
	MaxDriftMS     float64 // reject |drift_ms| above this, default 1000.
	MaxJumpMS      float64 // jump guard step, default 100.
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		HighPassHz:     100,
		MinCorrelation: 0.7,
		MaxDriftMS:     1000,
		MaxJumpMS:      100,
	}
}

// Sample is one accepted drift measurement.
type Sample struct {
	DriftMS     float32
	Correlation float32
}

// RejectReason explains why a measurement was not accepted.
type RejectReason string

const (
	RejectLowCorrelation RejectReason = "low_correlation"
	RejectOutOfRange     RejectReason = "out_of_range"
	RejectJump           RejectReason = "jump_guard"
)

// RejectedError is returned by Estimate when a measurement fails
// validation. It is not a transport or programming error — callers
// should increment a failed-measurement counter and continue.
type RejectedError struct {
	Reason      RejectReason
	DriftMS     float32
	Correlation float32
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("drift: measurement rejected (%s): drift_ms=%.2f correlation=%.3f", e.Reason, e.DriftMS, e.Correlation)
}

// Estimator runs the cross-correlation algorithm described in spec.md
// §4.C. It is safe for concurrent use only if callers serialize calls
// per logical estimation stream (a ReceiverAgent has exactly one).
type Estimator struct {
	cfg Config
}

// New returns an Estimator with the given configuration.
func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// Estimate computes drift between a captured mic window and a fetched
// reference window, both at sample rate fs. lastAccepted, if non-nil,
// enables the jump guard against the previous accepted drift value.
func (e *Estimator) Estimate(mic, ref []float64, micChannels, refChannels int, fs float64, lastAccepted *float32) (Sample, error) {
	micMono := downmix(mic, micChannels)
	refMono := downmix(ref, refChannels)

	sections, err := butterworthHighPass4(e.cfg.HighPassHz, fs)
	if err != nil {
		return Sample{}, fmt.Errorf("drift: could not design high-pass filter: %w", err)
	}
	micF := filtfilt(micMono, sections)
	refF := filtfilt(refMono, sections)

	micF = peakNormalize(micF)
	refF = peakNormalize(refF)

	micF = hannWindow(micF)
	refF = hannWindow(refF)

	n := len(micF)
	if len(refF) < n {
		n = len(refF)
	}
	if n == 0 {
		return Sample{}, fmt.Errorf("drift: empty window after preprocessing")
	}
	micF = micF[:n]
	refF = refF[:n]

	c := crossCorrelate(micF, refF)

	peakIdx, peakVal := 0, 0.0
	for i, v := range c {
		if av := absf(v); av > peakVal {
			peakVal = av
			peakIdx = i
		}
	}

	lag := peakIdx - (len(refF) - 1)
	driftMS := float32((float64(lag) / fs) * 1000)

	denom := sumSquares(micF) * sumSquares(refF)
	var correlation float32
	if denom > 0 {
		correlation = float32(peakVal / sqrt(denom))
	}

	if correlation < float32(e.cfg.MinCorrelation) {
		return Sample{}, &RejectedError{Reason: RejectLowCorrelation, DriftMS: driftMS, Correlation: correlation}
	}
	if absf32(driftMS) > float32(e.cfg.MaxDriftMS) {
		return Sample{}, &RejectedError{Reason: RejectOutOfRange, DriftMS: driftMS, Correlation: correlation}
	}
	if lastAccepted != nil && absf32(driftMS-*lastAccepted) > float32(e.cfg.MaxJumpMS) {
		return Sample{}, &RejectedError{Reason: RejectJump, DriftMS: driftMS, Correlation: correlation}
	}

	return Sample{DriftMS: driftMS, Correlation: correlation}, nil
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
