package server

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hibikido/core/embed"
	"hibikido/core/orchestra"
	"hibikido/core/retrieve"
	"hibikido/model"
	"hibikido/osc"
	"hibikido/store"
)

type emitRecorder struct {
	mu        sync.Mutex
	manifests []model.Announcement
}

func (r *emitRecorder) emit(ann model.Announcement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests = append(r.manifests, ann)
	return nil
}

func (r *emitRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.manifests)
}

type fixture struct {
	controller *Controller
	store      *store.Store
	retriever  *retrieve.Retriever
	orch       *orchestra.Orchestrator
	emits      *emitRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatal(err)
	}
	retriever := retrieve.New(st, embed.NewLocal(256), filepath.Join(dir, "vectors.index"))

	emits := &emitRecorder{}
	orch := orchestra.New(0.5, emits.emit, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// The peer port is unused; outbound replies go nowhere in tests.
	client := osc.NewClient("127.0.0.1", 1)
	controller, err := NewController(ctx, st, nil, retriever, orch, client, nil, 10, 0.3, cancel)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{controller: controller, store: st, retriever: retriever, orch: orch, emits: emits}
}

func (f *fixture) addIndexedSegment(t *testing.T, description string, bark []float64, duration float64) *model.Segment {
	t.Helper()
	seg := &model.Segment{
		SourcePath:    description + ".wav",
		Start:         0,
		End:           1,
		Description:   description,
		EmbeddingText: retrieve.ComposeEmbeddingText(description),
		BarkRaw:       bark,
		Duration:      duration,
	}
	if _, err := f.store.Segments.Insert(seg); err != nil {
		t.Fatal(err)
	}
	if err := f.retriever.IndexSegment(context.Background(), seg); err != nil {
		t.Fatal(err)
	}
	return seg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestInvokeOnEmptyCatalog(t *testing.T) {
	f := newFixture(t)

	f.controller.Invoke("atmospheric")

	if f.emits.count() != 0 {
		t.Fatal("empty catalog produced manifests")
	}
	session, _ := f.store.Sessions.Get(f.controller.session.ID)
	if len(session.Invocations) != 1 || session.Invocations[0].Text != "atmospheric" {
		t.Fatalf("session log = %+v", session.Invocations)
	}
}

func TestInvokeEmptyQueryRejected(t *testing.T) {
	f := newFixture(t)

	f.controller.Invoke("   ")

	session, _ := f.store.Sessions.Get(f.controller.session.ID)
	if len(session.Invocations) != 0 {
		t.Fatal("rejected query was logged as an invocation")
	}
}

func TestInvokeEmitsMatchingSegment(t *testing.T) {
	f := newFixture(t)
	bark := make([]float64, model.BarkBands)
	bark[4] = 1
	seg := f.addIndexedSegment(t, "atmospheric drone", bark, 2)

	f.controller.Invoke("atmospheric drone")

	if f.emits.count() != 1 {
		t.Fatalf("manifests = %d, want 1", f.emits.count())
	}
	got := f.emits.manifests[0]
	if got.SegmentID != seg.ID || got.Description != "atmospheric drone" {
		t.Fatalf("manifest = %+v", got)
	}
	if f.orch.ActiveNiches() != 1 {
		t.Fatalf("active niches = %d, want 1", f.orch.ActiveNiches())
	}

	session, _ := f.store.Sessions.Get(f.controller.session.ID)
	if len(session.Invocations) != 1 || len(session.Invocations[0].SegmentIDs) != 1 {
		t.Fatalf("session log = %+v", session.Invocations)
	}
}

func TestInvokeDoesNotOrchestratePresets(t *testing.T) {
	f := newFixture(t)
	f.controller.AddEffect("fx/reverb.dll", `{"name":"reverb","description":"cavernous tail"}`)
	f.controller.AddPreset("shimmering cavern tail", `{"effect_path":"fx/reverb.dll","parameters":[0.7]}`)
	waitFor(t, func() bool { return f.retriever.IndexCount() == 1 })

	// The preset must actually be retrievable for this query.
	results, err := f.retriever.Search(context.Background(), "shimmering cavern tail", 10, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Collection != retrieve.CollectionPresets {
		t.Fatalf("preset not retrievable: %+v", results)
	}

	f.controller.Invoke("shimmering cavern tail")

	if f.emits.count() != 0 {
		t.Fatalf("preset hit reached the acoustic space: %+v", f.emits.manifests)
	}
	if f.orch.ActiveNiches() != 0 || f.orch.Queued() != 0 {
		t.Fatal("preset hit occupied or queued a niche")
	}
	session, _ := f.store.Sessions.Get(f.controller.session.ID)
	if len(session.Invocations) != 1 || len(session.Invocations[0].SegmentIDs) != 0 {
		t.Fatalf("session log = %+v", session.Invocations)
	}
}

func TestInvokeMixedHitsEmitOnlySegments(t *testing.T) {
	f := newFixture(t)
	bark := make([]float64, model.BarkBands)
	bark[6] = 1
	seg := f.addIndexedSegment(t, "shimmering drone", bark, 2)
	f.controller.AddEffect("fx/shimmer.dll", `{"name":"shimmer","description":"shimmering drone"}`)
	f.controller.AddPreset("shimmering drone", `{"effect_path":"fx/shimmer.dll","parameters":[0.5]}`)
	waitFor(t, func() bool { return f.retriever.IndexCount() == 2 })

	f.controller.Invoke("shimmering drone")

	if f.emits.count() != 1 {
		t.Fatalf("manifests = %d, want only the segment", f.emits.count())
	}
	got := f.emits.manifests[0]
	if got.SegmentID != seg.ID || got.Collection != retrieve.CollectionSegments {
		t.Fatalf("manifest = %+v", got)
	}
	if got.Index != 0 {
		t.Fatalf("announcement index = %d, want 0 after filtering", got.Index)
	}
}

func TestCurrentStats(t *testing.T) {
	f := newFixture(t)
	bark := make([]float64, model.BarkBands)
	f.addIndexedSegment(t, "some sound", bark, 1)

	stats := f.controller.CurrentStats()
	if stats.Segments != 1 || stats.Embeddings != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Recordings != 0 || stats.ActiveNiches != 0 || stats.Queued != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestAddEffectAndPreset(t *testing.T) {
	f := newFixture(t)

	f.controller.AddEffect("fx/reverb.dll", `{"name":"reverb","description":"cavernous tail"}`)
	if f.store.Effects.Count() != 1 {
		t.Fatal("effect not stored")
	}

	// Duplicate path is rejected.
	f.controller.AddEffect("fx/reverb.dll", `{}`)
	if f.store.Effects.Count() != 1 {
		t.Fatal("duplicate effect stored")
	}

	f.controller.AddPreset("long shimmering tail", `{"effect_path":"fx/reverb.dll","parameters":[0.8,0.2]}`)
	waitFor(t, func() bool { return f.store.Presets.Count() == 1 })

	preset := f.store.Presets.All()[0]
	if preset.IndexID == nil {
		t.Fatal("preset not indexed")
	}
	if len(preset.Parameters) != 2 {
		t.Fatalf("parameters = %v", preset.Parameters)
	}
}

func TestAddPresetUnknownEffectRejected(t *testing.T) {
	f := newFixture(t)

	f.controller.AddPreset("anything", `{"effect_path":"fx/missing","parameters":[]}`)

	time.Sleep(50 * time.Millisecond)
	if f.store.Presets.Count() != 0 {
		t.Fatal("preset stored for a missing effect")
	}
}

func TestRebuildIndexCommand(t *testing.T) {
	f := newFixture(t)
	bark := make([]float64, model.BarkBands)
	a := f.addIndexedSegment(t, "first", bark, 1)
	f.addIndexedSegment(t, "second", bark, 1)

	// Simulate a stale catalog entry that lost its index row.
	a.IndexID = nil
	if err := f.store.Segments.Update(a); err != nil {
		t.Fatal(err)
	}

	f.controller.RebuildIndex()
	waitFor(t, func() bool {
		seg, _ := f.store.Segments.Get(a.ID)
		return seg.IndexID != nil
	})
	if f.retriever.IndexCount() != 2 {
		t.Fatalf("index count = %d, want 2", f.retriever.IndexCount())
	}
}

func TestGenerateDescriptionUnavailable(t *testing.T) {
	f := newFixture(t)
	bark := make([]float64, model.BarkBands)
	seg := f.addIndexedSegment(t, "plain sound", bark, 1)

	// No describer configured: the command fails without touching state.
	f.controller.GenerateDescription("segments", seg.ID, false)

	stored, _ := f.store.Segments.Get(seg.ID)
	if stored.AIDescription != "" {
		t.Fatal("description written without a describer")
	}
}

func TestStopCancelsContext(t *testing.T) {
	f := newFixture(t)
	f.controller.Stop()

	select {
	case <-f.controller.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("stop did not cancel the run context")
	}
}
