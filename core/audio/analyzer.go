// Package audio computes all acoustic descriptors of the system: the scalar
// feature record, the 24-band Bark energy vector and the per-band onset
// timelines. Every analyzer shares one frame geometry so all descriptors of
// a slice come from the same frames.
package audio

import (
	"context"

	"hibikido/model"
)

// Analysis is the combined result of one analysis pass over a PCM slice.
type Analysis struct {
	Features model.Features
	BarkRaw  []float64
	BarkNorm []float64
	Onsets   Onsets
	Duration float64
}

// Analyzer decodes a file (or a normalized range of it) once and runs the
// feature, Bark and onset analyzers over the same samples.
type Analyzer struct {
	source   *PCMSource
	features *FeatureExtractor
	bark     *BarkAnalyzer
	energy   *EnergyAnalyzer
}

// NewAnalyzer builds the combined analyzer on top of a PCM source.
func NewAnalyzer(source *PCMSource) *Analyzer {
	sr := source.SampleRate()
	return &Analyzer{
		source:   source,
		features: NewFeatureExtractor(sr),
		bark:     NewBarkAnalyzer(sr),
		energy:   NewEnergyAnalyzer(sr),
	}
}

// AnalyzeFile analyzes the whole file at relPath.
func (a *Analyzer) AnalyzeFile(ctx context.Context, relPath string) (*Analysis, error) {
	signal, err := a.source.Load(ctx, relPath)
	if err != nil {
		return nil, err
	}
	return a.analyze(signal), nil
}

// AnalyzeRange analyzes the normalized [start, end] range of the file.
func (a *Analyzer) AnalyzeRange(ctx context.Context, relPath string, start, end float64) (*Analysis, error) {
	signal, err := a.source.LoadRange(ctx, relPath, start, end)
	if err != nil {
		return nil, err
	}
	return a.analyze(signal), nil
}

// AnalyzeSignal analyzes an already decoded PCM slice.
func (a *Analyzer) AnalyzeSignal(signal []float64) *Analysis {
	return a.analyze(signal)
}

func (a *Analyzer) analyze(signal []float64) *Analysis {
	raw, _, duration := a.bark.Analyze(signal)
	return &Analysis{
		Features: a.features.Extract(signal),
		BarkRaw:  raw,
		BarkNorm: Normalize(raw),
		Onsets:   a.energy.Analyze(signal),
		Duration: duration,
	}
}
