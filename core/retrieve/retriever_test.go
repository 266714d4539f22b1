package retrieve_test

import (
	"context"
	"path/filepath"
	"testing"

	"hibikido/core/embed"
	"hibikido/core/retrieve"
	"hibikido/model"
	"hibikido/store"
)

func newRetriever(t *testing.T) (*retrieve.Retriever, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatal(err)
	}
	r := retrieve.New(st, embed.NewLocal(256), filepath.Join(dir, "vectors.index"))
	return r, st
}

func addSegment(t *testing.T, r *retrieve.Retriever, st *store.Store, description string) *model.Segment {
	t.Helper()
	seg := &model.Segment{
		SourcePath:    description + ".wav",
		Start:         0,
		End:           1,
		Description:   description,
		EmbeddingText: retrieve.ComposeEmbeddingText(description),
		BarkRaw:       []float64{1, 0, 0},
		BarkNorm:      1,
		Duration:      2,
	}
	if _, err := st.Segments.Insert(seg); err != nil {
		t.Fatal(err)
	}
	if err := r.IndexSegment(context.Background(), seg); err != nil {
		t.Fatal(err)
	}
	return seg
}

func TestIndexSegmentAssignsIndexID(t *testing.T) {
	r, st := newRetriever(t)
	seg := addSegment(t, r, st, "wind through pines")

	if seg.IndexID == nil {
		t.Fatal("segment has no index id after indexing")
	}
	stored, _ := st.Segments.Get(seg.ID)
	if stored.IndexID == nil || *stored.IndexID != *seg.IndexID {
		t.Fatal("index id not persisted")
	}
	if r.IndexCount() != 1 {
		t.Fatalf("index count = %d, want 1", r.IndexCount())
	}
}

func TestSearchFindsMatchingSegment(t *testing.T) {
	r, st := newRetriever(t)
	addSegment(t, r, st, "atmospheric drone")
	addSegment(t, r, st, "percussive clatter")

	results, err := r.Search(context.Background(), "atmospheric drone", 10, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results for an exact description match")
	}
	best := results[0]
	if best.Description != "atmospheric drone" {
		t.Fatalf("best hit = %q, want the matching description", best.Description)
	}
	if best.Collection != retrieve.CollectionSegments {
		t.Fatalf("collection = %q", best.Collection)
	}
	if best.Score < 0.3 {
		t.Fatalf("score = %g, want >= min score", best.Score)
	}
	if best.Index != 0 {
		t.Fatalf("announcement index = %d, want 0", best.Index)
	}
	if best.Metadata != `{"segment_id":"1"}` {
		t.Fatalf("metadata = %s", best.Metadata)
	}
}

func TestSearchEmptyIndexYieldsNothing(t *testing.T) {
	r, _ := newRetriever(t)
	results, err := r.Search(context.Background(), "anything", 10, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results from an empty index", len(results))
	}
}

func TestSearchRespectsMinScore(t *testing.T) {
	r, st := newRetriever(t)
	addSegment(t, r, st, "gentle rainfall")

	results, err := r.Search(context.Background(), "industrial machinery roar", 10, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("unrelated query returned %d results above 0.9", len(results))
	}
}

func TestRebuildReassignsIndexIDs(t *testing.T) {
	r, st := newRetriever(t)
	a := addSegment(t, r, st, "first sound")
	b := addSegment(t, r, st, "second sound")

	count, err := r.Rebuild(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("rebuilt %d vectors, want 2", count)
	}

	ra, _ := st.Segments.Get(a.ID)
	rb, _ := st.Segments.Get(b.ID)
	if ra.IndexID == nil || rb.IndexID == nil {
		t.Fatal("rebuild left segments un-indexed")
	}
	if *ra.IndexID == *rb.IndexID {
		t.Fatal("rebuild assigned duplicate index ids")
	}

	// Retrieval still resolves correctly after the rebuild.
	results, err := r.Search(context.Background(), "second sound", 10, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Description != "second sound" {
		t.Fatal("search broken after rebuild")
	}
}

func TestRebuildSkipsEmptyEmbeddingText(t *testing.T) {
	r, st := newRetriever(t)
	a := addSegment(t, r, st, "first sound")
	b := addSegment(t, r, st, "second sound")

	// A row that lost its text must not fail the rebuild or keep a stale
	// index id.
	b.EmbeddingText = ""
	if err := st.Segments.Update(b); err != nil {
		t.Fatal(err)
	}

	count, err := r.Rebuild(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("rebuilt %d vectors, want 1", count)
	}
	ra, _ := st.Segments.Get(a.ID)
	rb, _ := st.Segments.Get(b.ID)
	if ra.IndexID == nil {
		t.Fatal("rebuild dropped a segment with embedding text")
	}
	if rb.IndexID != nil {
		t.Fatal("empty-text segment kept a stale index id")
	}
}

func TestReindexSegmentMovesVector(t *testing.T) {
	r, st := newRetriever(t)
	seg := addSegment(t, r, st, "dull thud")

	seg.EmbeddingText = retrieve.ComposeEmbeddingText("bright sparkling chime")
	if err := r.ReindexSegment(context.Background(), seg); err != nil {
		t.Fatal(err)
	}

	results, err := r.Search(context.Background(), "bright sparkling chime", 10, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].SegmentID != seg.ID {
		t.Fatal("reindexed segment not found under its new text")
	}
}

func TestComposeEmbeddingText(t *testing.T) {
	cases := []struct {
		parts []string
		want  string
	}{
		{[]string{"Atmospheric Drone"}, "atmospheric drone"},
		{[]string{"  Wind ", "", "Field  Recording"}, "wind field recording"},
		{[]string{"", ""}, ""},
		{[]string{"A\tB\nC"}, "a b c"},
	}
	for _, c := range cases {
		if got := retrieve.ComposeEmbeddingText(c.parts...); got != c.want {
			t.Fatalf("ComposeEmbeddingText(%v) = %q, want %q", c.parts, got, c.want)
		}
	}
}
