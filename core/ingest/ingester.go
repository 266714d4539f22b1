// Package ingest is the write path of the catalog: analyze a file or range,
// persist the entities, index the embedding. Used by the control protocol
// handlers and by the batch pipeline.
package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"hibikido/core/audio"
	"hibikido/core/retrieve"
	"hibikido/logger"
	"hibikido/model"
	"hibikido/store"
)

// Ingester runs atomic ingest operations: analysis and embedding are
// completed before the first store write, so a failing analyzer or embedder
// leaves no partial state.
type Ingester struct {
	store     *store.Store
	analyzer  *audio.Analyzer
	retriever *retrieve.Retriever
}

// New creates an ingester.
func New(st *store.Store, analyzer *audio.Analyzer, retriever *retrieve.Retriever) *Ingester {
	return &Ingester{store: st, analyzer: analyzer, retriever: retriever}
}

// AddRecording analyzes the whole file, stores the recording and an
// auto-segment spanning it, and indexes the segment. Optional tags are
// folded into the embedding text.
func (in *Ingester) AddRecording(ctx context.Context, path, description string, tags ...string) (*model.Recording, *model.Segment, error) {
	if _, exists := in.store.RecordingByPath(path); exists {
		return nil, nil, fmt.Errorf("recording already exists: %s", path)
	}

	analysis, err := in.analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("analyze %s: %w", path, err)
	}

	parts := append([]string{description}, tags...)
	embeddingText := retrieve.ComposeEmbeddingText(parts...)
	if embeddingText == "" {
		return nil, nil, fmt.Errorf("empty description for %s", path)
	}
	if err := in.retriever.Preflight(ctx, embeddingText); err != nil {
		return nil, nil, err
	}

	now := timestamp()
	rec := &model.Recording{
		Path:        path,
		Description: description,
		Duration:    analysis.Duration,
		Features:    analysis.Features,
		CreatedAt:   now,
	}
	if _, err := in.store.Recordings.Insert(rec); err != nil {
		return nil, nil, err
	}

	seg := segmentFrom(analysis, path, description, embeddingText, 0, 1, now)
	if _, err := in.store.Segments.Insert(seg); err != nil {
		return nil, nil, err
	}
	if err := in.retriever.IndexSegment(ctx, seg); err != nil {
		return nil, nil, err
	}

	logger.Info("recording ingested",
		logger.String("path", path),
		logger.Float64("duration", analysis.Duration),
		logger.Int64("segmentID", seg.ID))
	return rec, seg, nil
}

// AddSegment analyzes the normalized range of an existing recording, stores
// the segment and indexes it.
func (in *Ingester) AddSegment(ctx context.Context, path, description string, start, end float64, tags ...string) (*model.Segment, error) {
	if err := audio.ValidateRange(start, end); err != nil {
		return nil, err
	}
	rec, exists := in.store.RecordingByPath(path)
	if !exists {
		return nil, fmt.Errorf("recording not found: %s", path)
	}

	analysis, err := in.analyzer.AnalyzeRange(ctx, path, start, end)
	if err != nil {
		return nil, fmt.Errorf("analyze %s [%g, %g]: %w", path, start, end, err)
	}

	parts := append([]string{description, rec.Description}, tags...)
	embeddingText := retrieve.ComposeEmbeddingText(parts...)
	if embeddingText == "" {
		return nil, fmt.Errorf("empty description for segment of %s", path)
	}
	if err := in.retriever.Preflight(ctx, embeddingText); err != nil {
		return nil, err
	}

	seg := segmentFrom(analysis, path, description, embeddingText, start, end, timestamp())
	if _, err := in.store.Segments.Insert(seg); err != nil {
		return nil, err
	}
	if err := in.retriever.IndexSegment(ctx, seg); err != nil {
		return nil, err
	}

	logger.Info("segment ingested",
		logger.String("path", path),
		logger.Float64("start", start),
		logger.Float64("end", end),
		logger.Int64("segmentID", seg.ID))
	return seg, nil
}

func segmentFrom(analysis *audio.Analysis, path, description, embeddingText string, start, end float64, now string) *model.Segment {
	return &model.Segment{
		SourcePath:    path,
		Start:         start,
		End:           end,
		Description:   description,
		EmbeddingText: embeddingText,
		Features:      analysis.Features,
		BarkRaw:       analysis.BarkRaw,
		BarkNorm:      l2(analysis.BarkRaw),
		OnsetsLowMid:  analysis.Onsets.LowMid,
		OnsetsMid:     analysis.Onsets.Mid,
		OnsetsHighMid: analysis.Onsets.HighMid,
		Duration:      analysis.Duration,
		CreatedAt:     now,
	}
}

func l2(vec []float64) float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
