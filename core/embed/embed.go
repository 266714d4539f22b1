// Package embed turns description text into unit-length float32 vectors for
// the similarity index. Two implementations exist: a remote OpenAI-compatible
// endpoint and a deterministic local hashing embedder used when no endpoint
// is wanted.
package embed

import (
	"context"
	"fmt"
	"math"

	"hibikido/config"
)

// Embedder produces a fixed-dimension unit vector for a text.
type Embedder interface {
	// Embed returns the embedding of text. The result has Dimension()
	// entries and unit L2 norm unless the text embeds to the zero vector.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension is the length of every vector this embedder produces.
	Dimension() int
	// Model names the embedding model, used for cache keying.
	Model() string
}

// New selects the embedder implementation from configuration: the reserved
// model name "local" picks the hashing embedder, anything else the remote
// client.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.ModelName == "" || cfg.ModelName == config.LocalEmbeddingModel {
		return NewLocal(cfg.Dimension), nil
	}
	return NewOpenAI(cfg)
}

// normalize scales vec to unit L2 length in place. The zero vector is left
// unchanged.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
