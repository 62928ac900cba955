package drift

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"
)

// downmix averages a multi-channel frame-major signal to mono. If
// channels is already 1, samples is returned unchanged.
func downmix(samples []float64, channels int) []float64 {
	if channels <= 1 {
		return samples
	}
	nFrames := len(samples) / channels
	out := make([]float64, nFrames)
	for i := 0; i < nFrames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// biquad holds second-order-section coefficients for a direct-form-II
// transposed IIR filter.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// butterworthHighPass4 returns the two second-order sections of a
// 4th-order Butterworth high-pass filter with cutoff cutoffHz at
// sampleRate Hz, designed via the bilinear transform.
func butterworthHighPass4(cutoffHz, sampleRate float64) ([2]biquad, error) {
	if cutoffHz <= 0 || cutoffHz >= sampleRate/2 {
		return [2]biquad{}, fmt.Errorf("drift: cutoff %v out of bounds for rate %v", cutoffHz, sampleRate)
	}

	// Pre-warped analog cutoff frequency.
	omega := 2 * sampleRate * math.Tan(math.Pi*cutoffHz/sampleRate)

	// Butterworth pole angles for a 4th-order filter, taken in
	// conjugate pairs; each pair forms one analog 2nd-order section
	// with Q = 1/(2*cos(theta)).
	thetas := [2]float64{math.Pi / 8, math.Pi * 3 / 8}

	var sections [2]biquad
	for i, theta := range thetas {
		q := 1 / (2 * math.Cos(theta))
		sections[i] = bilinearHighPass(omega, q, sampleRate)
	}
	return sections, nil
}

// bilinearHighPass converts one analog high-pass 2nd-order section
// (cutoff omega rad/s, quality q) to digital biquad coefficients via
// the bilinear transform with sample rate fs.
func bilinearHighPass(omega, q, fs float64) biquad {
	k := omega / (2 * fs)
	k2 := k * k
	norm := 1 / (1 + k/q + k2)

	b0 := 1 * norm
	b1 := -2 * b0
	b2 := b0
	a1 := 2 * (k2 - 1) * norm
	a2 := (1 - k/q + k2) * norm

	return biquad{b0: b0, b1: b1, b2: b2, a1: a1, a2: a2}
}

// apply runs x through the biquad in direct-form-II transposed.
func (f *biquad) apply(x []float64) []float64 {
	y := make([]float64, len(x))
	var z1, z2 float64
	for i, xi := range x {
		yi := f.b0*xi + z1
		z1 = f.b1*xi + z2 - f.a1*yi
		z2 = f.b2*xi - f.a2*yi
		y[i] = yi
	}
	return y
}

// filtfilt applies sections forward then backward (zero phase) over x.
func filtfilt(x []float64, sections [2]biquad) []float64 {
	y := append([]float64(nil), x...)
	for _, s := range sections {
		s := s
		y = s.apply(y)
	}
	reverse(y)
	for _, s := range sections {
		s := s
		y = s.apply(y)
	}
	reverse(y)
	return y
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// peakNormalize scales x so that its maximum absolute sample is 1. A
// silent (all-zero) signal is returned unchanged.
func peakNormalize(x []float64) []float64 {
	peak := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return x
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v / peak
	}
	return out
}

// hannWindow applies a Hann window over the full length of x.
func hannWindow(x []float64) []float64 {
	w := window.Hann(len(x))
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * w[i]
	}
	return out
}

// fftConvolve computes the linear convolution of x and h using
// zero-padded FFTs (O(n log n)).
func fftConvolve(x, h []float64) []float64 {
	convLen := len(x) + len(h) - 1
	padLen := nextPow2(convLen)

	xp := padTo(x, padLen)
	hp := padTo(h, padLen)

	xf := fft.FFTReal(xp)
	hf := fft.FFTReal(hp)

	yf := make([]complex128, padLen)
	for i := range xf {
		yf[i] = xf[i] * hf[i]
	}

	iy := fft.IFFT(yf)
	y := make([]float64, convLen)
	for i := 0; i < convLen; i++ {
		y[i] = real(iy[i])
	}
	return y
}

func padTo(x []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, x)
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// crossCorrelate computes the full linear cross-correlation of mic
// against ref: c[k] = sum_n mic[n] * ref[n - k + (len(ref)-1)].
// Equivalently, xcorr(mic, ref) = convolve(mic, reverse(ref)).
func crossCorrelate(mic, ref []float64) []float64 {
	revRef := append([]float64(nil), ref...)
	reverse(revRef)
	return fftConvolve(mic, revRef)
}

// sumSquares returns the signal energy sum(x[i]^2) via gonum's Dot,
// used in the normalized-correlation denominator (spec.md §4.C step 8).
func sumSquares(x []float64) float64 {
	return floats.Dot(x, x)
}
