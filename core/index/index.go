// Package index implements the flat inner-product vector index. Vectors are
// unit length, so inner product equals cosine similarity; search is an exact
// scan, which stays comfortably fast at catalog scale.
package index

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	fileMagic   = "HBKI"
	fileVersion = uint32(1)
)

// Hit is one search result: the row id of the vector and its inner product
// with the query.
type Hit struct {
	ID    int64
	Score float32
}

// Flat is an exact inner-product index over fixed-dimension vectors. Row ids
// are assigned densely in insertion order.
type Flat struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
}

// NewFlat creates an empty index of the given dimension.
func NewFlat(dimension int) *Flat {
	return &Flat{dimension: dimension}
}

// Dimension returns the vector dimension.
func (f *Flat) Dimension() int { return f.dimension }

// Count returns the number of stored vectors.
func (f *Flat) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Add appends vec and returns its row id.
func (f *Flat) Add(vec []float32) (int64, error) {
	if len(vec) != f.dimension {
		return 0, fmt.Errorf("vector has %d dimensions, index wants %d", len(vec), f.dimension)
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = append(f.vectors, stored)
	return int64(len(f.vectors) - 1), nil
}

// Set replaces the vector at row id.
func (f *Flat) Set(id int64, vec []float32) error {
	if len(vec) != f.dimension {
		return fmt.Errorf("vector has %d dimensions, index wants %d", len(vec), f.dimension)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if id < 0 || id >= int64(len(f.vectors)) {
		return fmt.Errorf("no row %d in index of %d vectors", id, len(f.vectors))
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	f.vectors[id] = stored
	return nil
}

// Search returns up to k hits ordered by descending score. Ties keep the
// lower row id first.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimension {
		return nil, fmt.Errorf("query has %d dimensions, index wants %d", len(query), f.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	hits := make([]Hit, 0, len(f.vectors))
	for id, vec := range f.vectors {
		var dot float32
		for i, v := range vec {
			dot += v * query[i]
		}
		hits = append(hits, Hit{ID: int64(id), Score: dot})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Reset drops every vector.
func (f *Flat) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = nil
}

// Save writes the index to path atomically: magic, version, dimension,
// count, then the vectors as little-endian float32.
func (f *Flat) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".index-*")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := f.write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index %s: %w", path, err)
	}
	return nil
}

func (f *Flat) write(w io.Writer) error {
	if _, err := w.Write([]byte(fileMagic)); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}
	header := []uint32{fileVersion, uint32(f.dimension), uint32(len(f.vectors))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write index header: %w", err)
		}
	}
	for _, vec := range f.vectors {
		if err := binary.Write(w, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("write index vectors: %w", err)
		}
	}
	return nil
}

// Load reads an index from path. A missing file yields an empty index; a
// corrupt or mismatched file is reported so the caller can rebuild.
func Load(path string, dimension int) (*Flat, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return NewFlat(dimension), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	defer file.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(file, magic); err != nil || string(magic) != fileMagic {
		return nil, fmt.Errorf("index %s: bad magic", path)
	}
	var version, dim, count uint32
	for _, dst := range []*uint32{&version, &dim, &count} {
		if err := binary.Read(file, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("index %s: truncated header", path)
		}
	}
	if version != fileVersion {
		return nil, fmt.Errorf("index %s: unsupported version %d", path, version)
	}
	if int(dim) != dimension {
		return nil, fmt.Errorf("index %s: dimension %d, want %d", path, dim, dimension)
	}

	f := NewFlat(dimension)
	f.vectors = make([][]float32, 0, count)
	for i := uint32(0); i < count; i++ {
		vec := make([]float32, dimension)
		if err := binary.Read(file, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("index %s: truncated vectors", path)
		}
		f.vectors = append(f.vectors, vec)
	}
	return f, nil
}
