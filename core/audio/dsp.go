package audio

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/mjibson/go-dsp/fft"
)

// Analysis frame geometry shared by every analyzer in this package: all
// spectral descriptors of a slice are computed over the same frames.
const (
	FrameSize = 2048
	HopSize   = 512
)

// HannWindow returns an n-point Hann window.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// Spectrogram computes the magnitude spectrogram of signal: one row per
// frame, FrameSize/2+1 bins per row, Hann windowed. Signals shorter than one
// frame are zero-padded to a single frame.
func Spectrogram(signal []float64, frameSize, hopSize int) [][]float64 {
	if len(signal) == 0 {
		return nil
	}

	numFrames := 1
	if len(signal) > frameSize {
		numFrames = (len(signal)-frameSize)/hopSize + 1
	}
	freqBins := frameSize/2 + 1
	window := HannWindow(frameSize)

	magnitude := make([][]float64, numFrames)
	frame := make([]float64, frameSize)

	for f := 0; f < numFrames; f++ {
		start := f * hopSize
		for i := range frame {
			if start+i < len(signal) {
				frame[i] = signal[start+i] * window[i]
			} else {
				frame[i] = 0
			}
		}

		spectrum := fft.FFTReal(frame)
		row := make([]float64, freqBins)
		for i := 0; i < freqBins; i++ {
			row[i] = cmplx.Abs(spectrum[i])
		}
		magnitude[f] = row
	}
	return magnitude
}

// FFTFrequencies returns the center frequency of each positive bin.
func FFTFrequencies(sampleRate, frameSize int) []float64 {
	bins := frameSize/2 + 1
	freqs := make([]float64, bins)
	for i := range freqs {
		freqs[i] = float64(i) * float64(sampleRate) / float64(frameSize)
	}
	return freqs
}

// MeanPowerSpectrum averages |X|^2 across the frames of a magnitude
// spectrogram.
func MeanPowerSpectrum(magnitude [][]float64) []float64 {
	if len(magnitude) == 0 {
		return nil
	}
	power := make([]float64, len(magnitude[0]))
	for _, row := range magnitude {
		for i, m := range row {
			power[i] += m * m
		}
	}
	n := float64(len(magnitude))
	for i := range power {
		power[i] /= n
	}
	return power
}

// RMSFrames computes frame-wise root-mean-square energy.
func RMSFrames(signal []float64, frameSize, hopSize int) []float64 {
	if len(signal) == 0 {
		return nil
	}
	numFrames := 1
	if len(signal) > frameSize {
		numFrames = (len(signal)-frameSize)/hopSize + 1
	}
	rms := make([]float64, numFrames)
	for f := 0; f < numFrames; f++ {
		start := f * hopSize
		end := min(start+frameSize, len(signal))
		sum := 0.0
		for _, v := range signal[start:end] {
			sum += v * v
		}
		rms[f] = math.Sqrt(sum / float64(end-start))
	}
	return rms
}

// quantile returns the q-quantile (0..1) of xs by linear interpolation.
func quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// sanitize replaces non-finite values with zero.
func sanitize(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
