// Package retrieve binds the embedder, the vector index and the store into
// the semantic search surface: indexing new entities, querying, and
// rebuilding the index from the catalog.
package retrieve

import (
	"context"
	"encoding/json"
	"fmt"

	"hibikido/core/embed"
	"hibikido/core/index"
	"hibikido/logger"
	"hibikido/model"
	"hibikido/store"
)

// Collection names carried in announcements.
const (
	CollectionSegments = "segments"
	CollectionPresets  = "presets"
)

// Retriever owns the vector index and resolves hits back to catalog
// entities.
type Retriever struct {
	store     *store.Store
	embedder  embed.Embedder
	index     *index.Flat
	indexPath string
}

// New loads (or creates) the index at indexPath. A corrupt index file is
// replaced by an empty one and logged; rebuild restores it from the store.
func New(st *store.Store, embedder embed.Embedder, indexPath string) *Retriever {
	idx, err := index.Load(indexPath, embedder.Dimension())
	if err != nil {
		logger.Warn("index unreadable, starting empty", logger.ErrorField(err))
		idx = index.NewFlat(embedder.Dimension())
	}
	logger.Info("vector index ready",
		logger.String("path", indexPath),
		logger.Int("vectors", idx.Count()))
	return &Retriever{store: st, embedder: embedder, index: idx, indexPath: indexPath}
}

// IndexCount returns the number of vectors currently in the index.
func (r *Retriever) IndexCount() int { return r.index.Count() }

// IndexSegment embeds the segment's text, adds the vector and persists both
// the segment's index id and the index file.
func (r *Retriever) IndexSegment(ctx context.Context, seg *model.Segment) error {
	vec, err := r.embedder.Embed(ctx, seg.EmbeddingText)
	if err != nil {
		return fmt.Errorf("embed segment %d: %w", seg.ID, err)
	}
	id, err := r.index.Add(vec)
	if err != nil {
		return fmt.Errorf("index segment %d: %w", seg.ID, err)
	}
	seg.IndexID = &id
	if err := r.store.Segments.Update(seg); err != nil {
		return err
	}
	return r.saveIndex()
}

// IndexPreset embeds the preset's text and adds it to the shared index.
func (r *Retriever) IndexPreset(ctx context.Context, preset *model.Preset) error {
	vec, err := r.embedder.Embed(ctx, preset.EmbeddingText)
	if err != nil {
		return fmt.Errorf("embed preset %d: %w", preset.ID, err)
	}
	id, err := r.index.Add(vec)
	if err != nil {
		return fmt.Errorf("index preset %d: %w", preset.ID, err)
	}
	preset.IndexID = &id
	if err := r.store.Presets.Update(preset); err != nil {
		return err
	}
	return r.saveIndex()
}

// ReindexSegment re-embeds an already indexed segment in place; a segment
// without an index row is indexed fresh.
func (r *Retriever) ReindexSegment(ctx context.Context, seg *model.Segment) error {
	if seg.IndexID == nil {
		return r.IndexSegment(ctx, seg)
	}
	vec, err := r.embedder.Embed(ctx, seg.EmbeddingText)
	if err != nil {
		return fmt.Errorf("embed segment %d: %w", seg.ID, err)
	}
	if err := r.index.Set(*seg.IndexID, vec); err != nil {
		return fmt.Errorf("reindex segment %d: %w", seg.ID, err)
	}
	if err := r.store.Segments.Update(seg); err != nil {
		return err
	}
	return r.saveIndex()
}

// Preflight embeds text and discards the vector. Ingest runs it before any
// store write so an embedder failure leaves nothing behind; with the cache
// in front, the later indexing call is free.
func (r *Retriever) Preflight(ctx context.Context, text string) error {
	_, err := r.embedder.Embed(ctx, text)
	return err
}

// Persist writes the index file.
func (r *Retriever) Persist() error { return r.saveIndex() }

// Search embeds the query and returns the matching announcements ordered by
// descending score, filtered by minScore, at most topK of them. Index rows
// that resolve to no entity are skipped and logged.
func (r *Retriever) Search(ctx context.Context, query string, topK int, minScore float64) ([]model.Announcement, error) {
	vec, err := r.embedder.Embed(ctx, ComposeEmbeddingText(query))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.index.Search(vec, topK)
	if err != nil {
		return nil, err
	}

	results := make([]model.Announcement, 0, len(hits))
	for _, hit := range hits {
		if float64(hit.Score) < minScore {
			continue
		}
		if seg, ok := r.store.SegmentByIndexID(hit.ID); ok {
			results = append(results, r.segmentAnnouncement(seg, float64(hit.Score)))
			continue
		}
		if preset, ok := r.store.PresetByIndexID(hit.ID); ok {
			results = append(results, r.presetAnnouncement(preset, float64(hit.Score)))
			continue
		}
		logger.Warn("index row resolves to nothing", logger.Int64("indexID", hit.ID))
	}
	for i := range results {
		results[i].Index = i
	}
	return results, nil
}

// Rebuild drops the index and re-adds, in id order, every stored segment
// and preset whose embedding text is non-empty, reassigning index ids.
// Entities with nothing to embed lose their index id so no stale rows
// survive. Returns the number of vectors indexed.
func (r *Retriever) Rebuild(ctx context.Context) (int, error) {
	r.index.Reset()

	for _, seg := range r.store.Segments.All() {
		if seg.EmbeddingText == "" {
			if seg.IndexID != nil {
				seg.IndexID = nil
				if err := r.store.Segments.Update(seg); err != nil {
					return 0, err
				}
			}
			continue
		}
		vec, err := r.embedder.Embed(ctx, seg.EmbeddingText)
		if err != nil {
			return 0, fmt.Errorf("rebuild: embed segment %d: %w", seg.ID, err)
		}
		id, err := r.index.Add(vec)
		if err != nil {
			return 0, err
		}
		seg.IndexID = &id
		if err := r.store.Segments.Update(seg); err != nil {
			return 0, err
		}
	}
	for _, preset := range r.store.Presets.All() {
		if preset.EmbeddingText == "" {
			if preset.IndexID != nil {
				preset.IndexID = nil
				if err := r.store.Presets.Update(preset); err != nil {
					return 0, err
				}
			}
			continue
		}
		vec, err := r.embedder.Embed(ctx, preset.EmbeddingText)
		if err != nil {
			return 0, fmt.Errorf("rebuild: embed preset %d: %w", preset.ID, err)
		}
		id, err := r.index.Add(vec)
		if err != nil {
			return 0, err
		}
		preset.IndexID = &id
		if err := r.store.Presets.Update(preset); err != nil {
			return 0, err
		}
	}

	if err := r.saveIndex(); err != nil {
		return 0, err
	}
	count := r.index.Count()
	logger.Info("index rebuilt", logger.Int("vectors", count))
	return count, nil
}

func (r *Retriever) saveIndex() error {
	if err := r.index.Save(r.indexPath); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

func (r *Retriever) segmentAnnouncement(seg *model.Segment, score float64) model.Announcement {
	meta, _ := json.Marshal(map[string]string{
		"segment_id": fmt.Sprintf("%d", seg.ID),
	})
	return model.Announcement{
		Collection:  CollectionSegments,
		Score:       score,
		Path:        seg.SourcePath,
		Description: seg.Description,
		Start:       seg.Start,
		End:         seg.End,
		Metadata:    string(meta),
		SegmentID:   seg.ID,
		BarkRaw:     seg.BarkRaw,
		BarkNorm:    seg.BarkNorm,
		Duration:    seg.Duration,
	}
}

func (r *Retriever) presetAnnouncement(preset *model.Preset, score float64) model.Announcement {
	meta, _ := json.Marshal(map[string]any{
		"preset_id":  fmt.Sprintf("%d", preset.ID),
		"parameters": preset.Parameters,
	})
	return model.Announcement{
		Collection:  CollectionPresets,
		Score:       score,
		Path:        preset.EffectPath,
		Description: preset.Description,
		Start:       0,
		End:         1,
		Metadata:    string(meta),
	}
}
