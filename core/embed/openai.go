package embed

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"hibikido/config"
)

// OpenAI embeds text through an OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAI creates the remote embedder from configuration.
func NewOpenAI(cfg config.EmbeddingConfig) (*OpenAI, error) {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     cfg.ModelName,
		dimension: cfg.Dimension,
	}, nil
}

func (o *OpenAI) Dimension() int { return o.dimension }
func (o *OpenAI) Model() string  { return o.model }

// Embed requests one embedding and normalizes it to unit length.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: o.model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Dimensions:     openai.Int(int64(o.dimension)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed request: empty response")
	}

	raw := resp.Data[0].Embedding
	if len(raw) != o.dimension {
		return nil, fmt.Errorf("embed request: got %d dimensions, want %d", len(raw), o.dimension)
	}
	vec := make([]float32, o.dimension)
	for i, v := range raw {
		vec[i] = float32(v)
	}
	normalize(vec)
	return vec, nil
}
