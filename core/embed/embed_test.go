package embed_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"hibikido/config"
	"hibikido/core/embed"
)

func l2(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestLocalDeterministic(t *testing.T) {
	e := embed.NewLocal(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "low rumbling drone")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Embed(ctx, "low rumbling drone")
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("equal texts embedded to different vectors")
		}
	}
}

func TestLocalUnitNorm(t *testing.T) {
	e := embed.NewLocal(128)
	vec, err := e.Embed(context.Background(), "metallic shimmer with slow attack")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 128 {
		t.Fatalf("dimension = %d, want 128", len(vec))
	}
	if norm := l2(vec); math.Abs(norm-1) > 1e-5 {
		t.Fatalf("norm = %f, want 1", norm)
	}
}

func TestLocalEmptyTextIsZeroVector(t *testing.T) {
	e := embed.NewLocal(32)
	vec, err := e.Embed(context.Background(), "   ")
	if err != nil {
		t.Fatal(err)
	}
	if norm := l2(vec); norm != 0 {
		t.Fatalf("norm = %f, want 0 for empty text", norm)
	}
}

func TestLocalSharedVocabularyScoresHigher(t *testing.T) {
	e := embed.NewLocal(256)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "atmospheric drone")
	near, _ := e.Embed(ctx, "atmospheric drone with wind")
	far, _ := e.Embed(ctx, "percussive metallic clang")

	dot := func(a, b []float32) float64 {
		var sum float64
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		return sum
	}
	if dot(query, near) <= dot(query, far) {
		t.Fatal("overlapping vocabulary did not score higher")
	}
}

func TestNewSelectsLocal(t *testing.T) {
	e, err := embed.New(config.EmbeddingConfig{ModelName: config.LocalEmbeddingModel, Dimension: 16})
	if err != nil {
		t.Fatal(err)
	}
	if e.Model() != config.LocalEmbeddingModel {
		t.Fatalf("model = %q, want %q", e.Model(), config.LocalEmbeddingModel)
	}
	if e.Dimension() != 16 {
		t.Fatalf("dimension = %d, want 16", e.Dimension())
	}
}

func TestNewRejectsBadDimension(t *testing.T) {
	if _, err := embed.New(config.EmbeddingConfig{ModelName: "local", Dimension: 0}); err == nil {
		t.Fatal("New accepted dimension 0")
	}
}

// fakeEmbeddingServer answers with a fixed un-normalized vector so the test
// can verify the client normalizes.
func fakeEmbeddingServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		vec := make([]float64, dim)
		for i := range vec {
			vec[i] = float64(i + 1)
		}
		resp := map[string]any{
			"object": "list",
			"model":  "test-model",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": vec},
			},
			"usage": map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIEmbed(t *testing.T) {
	const dim = 6
	srv := fakeEmbeddingServer(t, dim)
	defer srv.Close()

	e, err := embed.NewOpenAI(config.EmbeddingConfig{
		ModelName: "test-model",
		Endpoint:  srv.URL,
		Dimension: dim,
		APIKey:    "test-key",
	})
	if err != nil {
		t.Fatal(err)
	}

	vec, err := e.Embed(context.Background(), "ghostly whispering pad")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != dim {
		t.Fatalf("dimension = %d, want %d", len(vec), dim)
	}
	if norm := l2(vec); math.Abs(norm-1) > 1e-5 {
		t.Fatalf("norm = %f, want 1 after normalization", norm)
	}
	// Components keep their relative order from the response.
	for i := 1; i < len(vec); i++ {
		if vec[i] <= vec[i-1] {
			t.Fatal("vector order mangled")
		}
	}
}

func TestOpenAIDimensionMismatch(t *testing.T) {
	srv := fakeEmbeddingServer(t, 4)
	defer srv.Close()

	e, err := embed.NewOpenAI(config.EmbeddingConfig{
		ModelName: "test-model",
		Endpoint:  srv.URL,
		Dimension: 8,
		APIKey:    "test-key",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Embed(context.Background(), "anything"); err == nil {
		t.Fatal("Embed accepted a wrong-dimension response")
	}
}
