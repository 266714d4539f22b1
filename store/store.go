// Package store is the durable catalog of recordings, segments, effects,
// presets and sessions. Each collection is one JSON document under the data
// directory; writes are temp-file + atomic rename.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hibikido/logger"
	"hibikido/model"
)

// Store owns all durable entities.
type Store struct {
	Recordings *Collection[*model.Recording]
	Segments   *Collection[*model.Segment]
	Effects    *Collection[*model.Effect]
	Presets    *Collection[*model.Preset]
	Sessions   *Collection[*model.Session]

	dataDir string
}

// Open loads (or creates) every collection under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}

	recordings, err := OpenCollection[*model.Recording](filepath.Join(dataDir, "recordings.json"))
	if err != nil {
		return nil, err
	}
	segments, err := OpenCollection[*model.Segment](filepath.Join(dataDir, "segments.json"))
	if err != nil {
		return nil, err
	}
	effects, err := OpenCollection[*model.Effect](filepath.Join(dataDir, "effects.json"))
	if err != nil {
		return nil, err
	}
	presets, err := OpenCollection[*model.Preset](filepath.Join(dataDir, "presets.json"))
	if err != nil {
		return nil, err
	}
	sessions, err := OpenCollection[*model.Session](filepath.Join(dataDir, "sessions.json"))
	if err != nil {
		return nil, err
	}

	logger.Info("store opened",
		logger.String("dataDir", dataDir),
		logger.Int("recordings", recordings.Count()),
		logger.Int("segments", segments.Count()),
		logger.Int("effects", effects.Count()),
		logger.Int("presets", presets.Count()))

	return &Store{
		Recordings: recordings,
		Segments:   segments,
		Effects:    effects,
		Presets:    presets,
		Sessions:   sessions,
		dataDir:    dataDir,
	}, nil
}

// RecordingByPath returns the recording stored under the given relative path.
func (s *Store) RecordingByPath(path string) (*model.Recording, bool) {
	return s.Recordings.Find(func(r *model.Recording) bool { return r.Path == path })
}

// EffectByPath returns the effect stored under the given path.
func (s *Store) EffectByPath(path string) (*model.Effect, bool) {
	return s.Effects.Find(func(e *model.Effect) bool { return e.Path == path })
}

// SegmentByIndexID resolves a vector index row to its segment.
func (s *Store) SegmentByIndexID(indexID int64) (*model.Segment, bool) {
	return s.Segments.Find(func(seg *model.Segment) bool {
		return seg.IndexID != nil && *seg.IndexID == indexID
	})
}

// PresetByIndexID resolves a vector index row to its preset.
func (s *Store) PresetByIndexID(indexID int64) (*model.Preset, bool) {
	return s.Presets.Find(func(p *model.Preset) bool {
		return p.IndexID != nil && *p.IndexID == indexID
	})
}

// FlushAll persists every collection.
func (s *Store) FlushAll() error {
	for _, flush := range []func() error{
		s.Recordings.Flush,
		s.Segments.Flush,
		s.Effects.Flush,
		s.Presets.Flush,
		s.Sessions.Flush,
	} {
		if err := flush(); err != nil {
			return err
		}
	}
	return nil
}

// ProjectField walks a dotted field path into an entity's JSON form and
// returns the value found there. Array elements are addressed by their
// decimal index ("bark_raw.3").
func ProjectField(entity any, fieldPath string) (any, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}

	cur := doc
	for _, part := range strings.Split(fieldPath, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %q not found in path %q", part, fieldPath)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("bad array index %q in path %q", part, fieldPath)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %q at %q", fieldPath, part)
		}
	}
	return cur, nil
}
