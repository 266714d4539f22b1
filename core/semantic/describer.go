// Package semantic generates natural-language descriptions of analyzed
// audio from its feature record, through an OpenAI-compatible chat endpoint.
package semantic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"hibikido/config"
	"hibikido/model"
)

const systemPrompt = "You describe short audio recordings for a sound " +
	"retrieval catalog. Given acoustic measurements, answer with one " +
	"evocative sentence describing how the sound would be perceived. " +
	"No preamble, no quotes."

// Describer turns a feature record into a one-sentence description.
type Describer struct {
	client openai.Client
	model  string
}

// New creates a describer from configuration. Returns nil when no API key
// is configured; description generation is then unavailable.
func New(cfg config.SemanticConfig) *Describer {
	if cfg.APIKey == "" {
		return nil
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &Describer{client: openai.NewClient(opts...), model: model}
}

// Describe asks the model for a description of the measured audio.
func (d *Describer) Describe(ctx context.Context, features model.Features) (string, error) {
	resp, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: d.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(FormatFeatures(features)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("describe request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("describe request: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// FormatFeatures renders the record as stable "key: value" lines so equal
// inputs produce equal prompts.
func FormatFeatures(features model.Features) string {
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %.4f\n", k, features[k])
	}
	return b.String()
}
