package audio

import (
	"math"
)

// Onset band edges in Hz.
var onsetBands = []struct {
	Name string
	Low  float64
	High float64
}{
	{"low_mid", 150, 2000},
	{"mid", 500, 4000},
	{"high_mid", 2000, 8000},
}

// minOnsetInterval is the minimum spacing between reported onsets.
const minOnsetInterval = 0.030 // seconds

// Onsets holds per-band onset timelines, in seconds from the start of the
// analyzed slice, strictly ascending.
type Onsets struct {
	LowMid  []float64
	Mid     []float64
	HighMid []float64
}

// EnergyAnalyzer detects onsets per frequency band using an IQR-adaptive
// threshold on smoothed band-energy novelty.
type EnergyAnalyzer struct {
	sampleRate int
}

// NewEnergyAnalyzer creates an energy analyzer for the given sample rate.
func NewEnergyAnalyzer(sampleRate int) *EnergyAnalyzer {
	return &EnergyAnalyzer{sampleRate: sampleRate}
}

// Analyze returns the three band onset timelines of the slice.
func (e *EnergyAnalyzer) Analyze(signal []float64) Onsets {
	return Onsets{
		LowMid:  e.bandOnsets(signal, onsetBands[0].Low, onsetBands[0].High),
		Mid:     e.bandOnsets(signal, onsetBands[1].Low, onsetBands[1].High),
		HighMid: e.bandOnsets(signal, onsetBands[2].Low, onsetBands[2].High),
	}
}

// OnsetRate returns mid-band onset events per second over the whole slice.
func (e *EnergyAnalyzer) OnsetRate(signal []float64) float64 {
	duration := float64(len(signal)) / float64(e.sampleRate)
	if duration <= 0 {
		return 0
	}
	onsets := e.bandOnsets(signal, onsetBands[1].Low, onsetBands[1].High)
	return float64(len(onsets)) / duration
}

func (e *EnergyAnalyzer) bandOnsets(signal []float64, low, high float64) []float64 {
	if len(signal) == 0 {
		return nil
	}

	nyquist := float64(e.sampleRate) / 2
	if high > nyquist {
		high = nyquist * 0.99
	}
	if low >= high {
		return nil
	}

	filtered := bandpass4(signal, e.sampleRate, low, high)

	envelope := RMSFrames(filtered, FrameSize, HopSize)
	if len(envelope) < 3 {
		return nil
	}

	// Positive first difference of the envelope, then a 3-point smooth.
	novelty := make([]float64, len(envelope)-1)
	for i := range novelty {
		if d := envelope[i+1] - envelope[i]; d > 0 {
			novelty[i] = d
		}
	}
	smoothed := smooth3(novelty)

	peak := 0.0
	for _, v := range smoothed {
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return nil
	}

	// Sparse events leave Q3 at zero; the strict > comparison below still
	// rejects the flat parts of the envelope.
	q1 := quantile(smoothed, 0.25)
	q3 := quantile(smoothed, 0.75)
	threshold := q3 + 1.5*(q3-q1)

	minFrames := int(math.Ceil(minOnsetInterval * float64(e.sampleRate) / float64(HopSize)))
	if minFrames < 1 {
		minFrames = 1
	}

	var times []float64
	duration := float64(len(signal)) / float64(e.sampleRate)
	lastFrame := -minFrames
	for i := 1; i < len(smoothed)-1; i++ {
		if smoothed[i] > smoothed[i-1] && smoothed[i] >= smoothed[i+1] &&
			smoothed[i] > threshold && i-lastFrame >= minFrames {
			t := float64(i) * float64(HopSize) / float64(e.sampleRate)
			if t <= duration {
				times = append(times, t)
				lastFrame = i
			}
		}
	}
	return times
}

// bandpass4 applies a 4th-order bandpass: two cascaded RBJ cookbook biquads
// centered on the band's geometric mean.
func bandpass4(signal []float64, sampleRate int, low, high float64) []float64 {
	center := math.Sqrt(low * high)
	q := center / (high - low)

	first := newBiquadBandpass(sampleRate, center, q)
	second := newBiquadBandpass(sampleRate, center, q)

	out := make([]float64, len(signal))
	for i, x := range signal {
		out[i] = second.process(first.process(x))
	}
	return out
}

// biquad is a direct form II transposed second-order section.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

// newBiquadBandpass builds a constant-skirt bandpass section from the RBJ
// cookbook formulas.
func newBiquadBandpass(sampleRate int, centerFreq, q float64) *biquad {
	w0 := 2 * math.Pi * centerFreq / float64(sampleRate)
	if w0 >= math.Pi {
		w0 = math.Pi * 0.99
	}
	cosW0 := math.Cos(w0)
	sinW0 := math.Sin(w0)
	alpha := sinW0 / (2 * q)

	a0 := 1 + alpha
	return &biquad{
		b0: alpha / a0,
		b1: 0,
		b2: -alpha / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

// smooth3 applies a 3-point moving average.
func smooth3(xs []float64) []float64 {
	if len(xs) < 3 {
		out := make([]float64, len(xs))
		copy(out, xs)
		return out
	}
	out := make([]float64, len(xs))
	out[0] = (xs[0] + xs[1]) / 2
	for i := 1; i < len(xs)-1; i++ {
		out[i] = (xs[i-1] + xs[i] + xs[i+1]) / 3
	}
	out[len(xs)-1] = (xs[len(xs)-2] + xs[len(xs)-1]) / 2
	return out
}
