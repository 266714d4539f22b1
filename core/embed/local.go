package embed

import (
	"context"
	"hash/fnv"
	"strings"

	"hibikido/config"
)

// Local is a deterministic in-process embedder: feature hashing over word
// unigrams and bigrams. Equal texts always embed to equal vectors, and texts
// sharing vocabulary land near each other, which is enough for the index to
// behave sensibly without a model server.
type Local struct {
	dimension int
}

// NewLocal creates a local embedder of the given dimension.
func NewLocal(dimension int) *Local {
	return &Local{dimension: dimension}
}

func (l *Local) Dimension() int { return l.dimension }
func (l *Local) Model() string  { return config.LocalEmbeddingModel }

// Embed hashes the tokens of text into dimension buckets with a signed
// count, then normalizes to unit length. The empty text embeds to the zero
// vector.
func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, l.dimension)

	tokens := strings.Fields(strings.ToLower(text))
	terms := make([]string, 0, len(tokens)*2)
	terms = append(terms, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		terms = append(terms, tokens[i]+" "+tokens[i+1])
	}

	for _, term := range terms {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		bucket := int(sum % uint64(l.dimension))
		// One hash bit decides the sign so collisions tend to cancel.
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	normalize(vec)
	return vec, nil
}
