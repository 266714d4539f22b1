package audio

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"hibikido/model"
)

// barkEdges are the 24 critical band edges in Hz (Zwicker).
var barkEdges = []float64{
	0, 100, 200, 300, 400, 510, 630, 770, 920, 1080,
	1270, 1480, 1720, 2000, 2320, 2700, 3150, 3700, 4400,
	5300, 6400, 7700, 9500, 12000, 15500,
}

// BarkAnalyzer computes 24-band Bark-scale energy vectors from the
// short-time power spectrum.
type BarkAnalyzer struct {
	sampleRate int
}

// NewBarkAnalyzer creates a Bark analyzer for the given sample rate.
func NewBarkAnalyzer(sampleRate int) *BarkAnalyzer {
	return &BarkAnalyzer{sampleRate: sampleRate}
}

// Analyze returns the raw (un-normalized) 24-band energy vector of the slice
// and its duration in seconds. A silent slice yields the zero vector.
func (b *BarkAnalyzer) Analyze(signal []float64) (raw []float64, norm float64, duration float64) {
	duration = float64(len(signal)) / float64(b.sampleRate)
	raw = make([]float64, model.BarkBands)
	if len(signal) == 0 {
		return raw, 0, 0
	}

	magnitude := Spectrogram(signal, FrameSize, HopSize)
	power := MeanPowerSpectrum(magnitude)
	freqs := FFTFrequencies(b.sampleRate, FrameSize)

	for band := 0; band < model.BarkBands; band++ {
		lo := barkEdges[band]
		hi := barkEdges[band+1]
		binLo := sort.SearchFloat64s(freqs, lo)
		binHi := sort.SearchFloat64s(freqs, hi)
		if binHi > len(power) {
			binHi = len(power)
		}
		for k := binLo; k < binHi; k++ {
			raw[band] += power[k]
		}
		raw[band] = sanitize(raw[band])
	}

	norm = floats.Norm(raw, 2)
	return raw, norm, duration
}

// Normalize scales vec to unit L2 length, returning the zero vector for
// zero input.
func Normalize(vec []float64) []float64 {
	out := make([]float64, len(vec))
	norm := floats.Norm(vec, 2)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// Cosine computes cosine similarity between two vectors of equal length.
// Either vector being zero yields 0. The result is clamped to [-1, 1].
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := floats.Dot(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, sim))
}
