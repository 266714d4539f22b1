package audio

import (
	"math"
	"strings"
	"testing"
)

func TestExtractDeterministic(t *testing.T) {
	fe := NewFeatureExtractor(testSampleRate)
	signal := sine(440, 1.0)

	a := fe.Extract(signal)
	b := fe.Extract(signal)
	if len(a) != len(b) {
		t.Fatalf("key sets differ: %d vs %d", len(a), len(b))
	}
	for k, v := range a {
		if b[k] != v {
			t.Fatalf("feature %s differs across runs: %g vs %g", k, v, b[k])
		}
	}
}

func TestExtractAllFinite(t *testing.T) {
	fe := NewFeatureExtractor(testSampleRate)
	for name, signal := range map[string][]float64{
		"sine":    sine(440, 0.8),
		"silence": make([]float64, testSampleRate),
		"clicks":  clickTrain([]float64{0.2, 0.6}, 1),
		"short":   sine(1000, 0.01),
		"empty":   nil,
	} {
		features := fe.Extract(signal)
		for k, v := range features {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("%s: feature %s is not finite", name, k)
			}
		}
	}
}

func TestExtractExpectedKeys(t *testing.T) {
	fe := NewFeatureExtractor(testSampleRate)
	features := fe.Extract(sine(440, 0.5))

	for _, key := range []string{
		"duration", "rms_mean", "rms_std",
		"spectral_centroid_mean", "spectral_rolloff_mean", "spectral_bandwidth_mean",
		"spectral_entropy", "spectral_irregularity",
		"mfcc_01", "mfcc_13",
		"chroma_01", "chroma_12",
		"contrast_01", "contrast_07",
		"attack_time", "decay_time", "sustained_level", "dynamic_range",
		"onset_rate", "tempo", "harmonic_ratio", "pitch_salience", "roughness",
		"band_sub_bass", "band_air",
	} {
		if _, ok := features[key]; !ok {
			t.Fatalf("missing feature %s", key)
		}
	}
}

func TestBandEnergiesSumToOne(t *testing.T) {
	fe := NewFeatureExtractor(testSampleRate)
	features := fe.Extract(sine(440, 0.5))

	var sum float64
	for k, v := range features {
		if strings.HasPrefix(k, "band_") {
			if v < 0 {
				t.Fatalf("%s = %g, want non-negative", k, v)
			}
			sum += v
		}
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("band energies sum to %g, want 1", sum)
	}
}

func TestDurationFeature(t *testing.T) {
	fe := NewFeatureExtractor(testSampleRate)
	features := fe.Extract(sine(440, 2.0))
	if math.Abs(features["duration"]-2) > 1e-9 {
		t.Fatalf("duration = %g, want 2", features["duration"])
	}
}

func TestSineCentroidNearFrequency(t *testing.T) {
	fe := NewFeatureExtractor(testSampleRate)
	features := fe.Extract(sine(440, 1.0))

	centroid := features["spectral_centroid_mean"]
	if centroid < 300 || centroid > 700 {
		t.Fatalf("centroid = %g, want near 440 for a pure sine", centroid)
	}
}

func TestPitchSalienceHighForPeriodicSignal(t *testing.T) {
	fe := NewFeatureExtractor(testSampleRate)

	tonal := fe.Extract(sine(220, 1.0))["pitch_salience"]
	if tonal < 0.8 {
		t.Fatalf("pitch salience of a sine = %g, want > 0.8", tonal)
	}
}

func TestSineIsHarmonic(t *testing.T) {
	fe := NewFeatureExtractor(testSampleRate)
	ratio := fe.Extract(sine(440, 1.0))["harmonic_ratio"]
	if ratio < 0.5 {
		t.Fatalf("harmonic ratio of a steady sine = %g, want > 0.5", ratio)
	}
}
