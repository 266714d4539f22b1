package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hibikido/core/ingest"
	"hibikido/core/orchestra"
	"hibikido/core/retrieve"
	"hibikido/core/semantic"
	"hibikido/logger"
	"hibikido/model"
	"hibikido/osc"
	"hibikido/store"
)

const listSegmentsLimit = 10

// Controller translates inbound commands into catalog, retrieval and
// orchestration operations and sends the replies. Slow commands (ingest,
// rebuild, description generation) run on a single worker goroutine so the
// dispatcher stays responsive for invoke and stats.
type Controller struct {
	ctx       context.Context
	store     *store.Store
	ingester  *ingest.Ingester
	retriever *retrieve.Retriever
	orch      *orchestra.Orchestrator
	client    *osc.Client
	describer *semantic.Describer
	topK      int
	minScore  float64
	jobs      chan func()
	shutdown  context.CancelFunc
	session   *model.Session
	sessionT0 time.Time
}

// NewController wires the command surface. shutdown is invoked by the stop
// command.
func NewController(
	ctx context.Context,
	st *store.Store,
	ingester *ingest.Ingester,
	retriever *retrieve.Retriever,
	orch *orchestra.Orchestrator,
	client *osc.Client,
	describer *semantic.Describer,
	topK int,
	minScore float64,
	shutdown context.CancelFunc,
) (*Controller, error) {
	session := &model.Session{
		SessionID: uuid.NewString(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := st.Sessions.Insert(session); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	c := &Controller{
		ctx:       ctx,
		store:     st,
		ingester:  ingester,
		retriever: retriever,
		orch:      orch,
		client:    client,
		describer: describer,
		topK:      topK,
		minScore:  minScore,
		jobs:      make(chan func(), 16),
		shutdown:  shutdown,
		session:   session,
		sessionT0: time.Now(),
	}
	go c.worker()
	return c, nil
}

func (c *Controller) worker() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case job := <-c.jobs:
			job()
		}
	}
}

func (c *Controller) enqueueJob(job func()) {
	select {
	case c.jobs <- job:
	case <-c.ctx.Done():
	}
}

func (c *Controller) fail(err error) {
	logger.Warn("command failed", logger.ErrorField(err))
	c.client.SendError(err.Error())
}

// Invoke searches the catalog and hands the results to the orchestrator.
// Clients get the confirmation immediately; manifests arrive as niches
// clear.
func (c *Controller) Invoke(text string) {
	if strings.TrimSpace(text) == "" {
		c.fail(fmt.Errorf("empty query"))
		return
	}

	results, err := c.retriever.Search(c.ctx, text, c.topK, c.minScore)
	if err != nil {
		c.fail(err)
		return
	}

	// Preset hits stay in the catalog reply path; only segments occupy
	// the acoustic space.
	segments := make([]model.Announcement, 0, len(results))
	for _, r := range results {
		if r.Collection == retrieve.CollectionSegments {
			r.Index = len(segments)
			segments = append(segments, r)
		}
	}

	c.client.SendConfirm(fmt.Sprintf("invoked: %d resonances queued", len(segments)))
	c.recordInvocation(text, segments)
	if len(segments) > 0 {
		c.orch.Enqueue(segments...)
	}
}

func (c *Controller) recordInvocation(text string, results []model.Announcement) {
	ids := make([]int64, 0, len(results))
	for _, r := range results {
		if r.Collection == retrieve.CollectionSegments {
			ids = append(ids, r.SegmentID)
		}
	}
	c.session.Invocations = append(c.session.Invocations, model.Invocation{
		Text:       text,
		Time:       time.Since(c.sessionT0).Seconds(),
		SegmentIDs: ids,
	})
	if err := c.store.Sessions.Update(c.session); err != nil {
		logger.Warn("session log write failed", logger.ErrorField(err))
	}
}

// AddRecording ingests a file with an auto-segment spanning it.
func (c *Controller) AddRecording(path, description string) {
	c.enqueueJob(func() {
		if _, _, err := c.ingester.AddRecording(c.ctx, path, description); err != nil {
			c.fail(err)
			return
		}
		c.client.SendConfirm(fmt.Sprintf("added recording: %s with auto-segment", path))
	})
}

// AddSegment ingests a normalized range of an existing recording.
func (c *Controller) AddSegment(path, description string, start, end float64) {
	c.enqueueJob(func() {
		if _, err := c.ingester.AddSegment(c.ctx, path, description, start, end); err != nil {
			c.fail(err)
			return
		}
		c.client.SendConfirm(fmt.Sprintf("added segment: %s", path))
	})
}

// AddEffect stores an effect descriptor. The JSON object may carry name and
// description.
func (c *Controller) AddEffect(path, jsonObject string) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(jsonObject), &body); err != nil {
		c.fail(fmt.Errorf("bad effect object: %w", err))
		return
	}
	if _, exists := c.store.EffectByPath(path); exists {
		c.fail(fmt.Errorf("effect already exists: %s", path))
		return
	}

	effect := &model.Effect{
		Path:        path,
		Name:        body.Name,
		Description: body.Description,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := c.store.Effects.Insert(effect); err != nil {
		c.fail(err)
		return
	}
	c.client.SendConfirm(fmt.Sprintf("added effect: %s", path))
}

// AddPreset stores and indexes a parameterization of an existing effect.
func (c *Controller) AddPreset(description, jsonObject string) {
	var body struct {
		EffectPath string    `json:"effect_path"`
		Parameters []float64 `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(jsonObject), &body); err != nil {
		c.fail(fmt.Errorf("bad preset object: %w", err))
		return
	}
	effect, exists := c.store.EffectByPath(body.EffectPath)
	if !exists {
		c.fail(fmt.Errorf("effect not found: %s", body.EffectPath))
		return
	}

	c.enqueueJob(func() {
		embeddingText := retrieve.ComposeEmbeddingText(description, effect.Description)
		if embeddingText == "" {
			c.fail(fmt.Errorf("empty description for preset of %s", body.EffectPath))
			return
		}
		if err := c.retriever.Preflight(c.ctx, embeddingText); err != nil {
			c.fail(err)
			return
		}

		preset := &model.Preset{
			EffectPath:    body.EffectPath,
			Description:   description,
			Parameters:    body.Parameters,
			EmbeddingText: embeddingText,
			CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		}
		if _, err := c.store.Presets.Insert(preset); err != nil {
			c.fail(err)
			return
		}
		if err := c.retriever.IndexPreset(c.ctx, preset); err != nil {
			c.fail(err)
			return
		}
		c.client.SendConfirm(fmt.Sprintf("added preset: %s", description))
	})
}

// RebuildIndex re-derives the vector index from the store.
func (c *Controller) RebuildIndex() {
	c.enqueueJob(func() {
		count, err := c.retriever.Rebuild(c.ctx)
		if err != nil {
			c.fail(err)
			return
		}
		c.client.SendConfirm(fmt.Sprintf("rebuilt index: %d vectors", count))
	})
}

// Stats replies with the seven catalog and orchestration counters.
func (c *Controller) Stats() {
	c.client.SendStatsResult(c.CurrentStats())
}

// CurrentStats snapshots the counters; also served on the monitor endpoint.
func (c *Controller) CurrentStats() osc.Stats {
	return osc.Stats{
		Recordings:   c.store.Recordings.Count(),
		Segments:     c.store.Segments.Count(),
		Effects:      c.store.Effects.Count(),
		Presets:      c.store.Presets.Count(),
		Embeddings:   c.retriever.IndexCount(),
		ActiveNiches: c.orch.ActiveNiches(),
		Queued:       c.orch.Queued(),
	}
}

// ListSegments confirms with the ids and descriptions of the first segments
// in id order.
func (c *Controller) ListSegments() {
	segments := c.store.Segments.All()
	if len(segments) > listSegmentsLimit {
		segments = segments[:listSegmentsLimit]
	}
	if len(segments) == 0 {
		c.client.SendConfirm("segments: none")
		return
	}
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = fmt.Sprintf("%d=%s", seg.ID, seg.Description)
	}
	c.client.SendConfirm("segments: " + strings.Join(parts, ", "))
}

// GetSegmentField projects a dotted field path out of a segment record.
func (c *Controller) GetSegmentField(id int64, fieldPath string) {
	seg, ok := c.store.Segments.Get(id)
	if !ok {
		c.fail(fmt.Errorf("segment not found: %d", id))
		return
	}
	value, err := store.ProjectField(seg, fieldPath)
	if err != nil {
		c.fail(err)
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.fail(fmt.Errorf("encode field %s: %w", fieldPath, err))
		return
	}
	c.client.SendSegmentField(id, fieldPath, string(raw))
}

// GenerateDescription asks the semantic collaborator to describe an entity
// from its feature record, stores the result and refreshes the embedding.
func (c *Controller) GenerateDescription(collection string, id int64, force bool) {
	if c.describer == nil {
		c.fail(fmt.Errorf("description generation unavailable"))
		return
	}

	c.enqueueJob(func() {
		switch collection {
		case "recordings":
			c.describeRecording(id, force)
		case retrieve.CollectionSegments:
			c.describeSegment(id, force)
		default:
			c.fail(fmt.Errorf("unknown collection: %s", collection))
		}
	})
}

func (c *Controller) describeRecording(id int64, force bool) {
	rec, ok := c.store.Recordings.Get(id)
	if !ok {
		c.fail(fmt.Errorf("recording not found: %d", id))
		return
	}
	if rec.AIDescription != "" && !force {
		c.fail(fmt.Errorf("recording %d already described (use \"force\")", id))
		return
	}
	text, err := c.describer.Describe(c.ctx, rec.Features)
	if err != nil {
		c.fail(err)
		return
	}
	rec.AIDescription = text
	if err := c.store.Recordings.Update(rec); err != nil {
		c.fail(err)
		return
	}
	c.client.SendConfirm(fmt.Sprintf("described recording %d: %s", id, text))
}

func (c *Controller) describeSegment(id int64, force bool) {
	seg, ok := c.store.Segments.Get(id)
	if !ok {
		c.fail(fmt.Errorf("segment not found: %d", id))
		return
	}
	if seg.AIDescription != "" && !force {
		c.fail(fmt.Errorf("segment %d already described (use \"force\")", id))
		return
	}
	text, err := c.describer.Describe(c.ctx, seg.Features)
	if err != nil {
		c.fail(err)
		return
	}

	seg.AIDescription = text
	seg.EmbeddingText = retrieve.ComposeEmbeddingText(seg.Description, text)
	if err := c.retriever.ReindexSegment(c.ctx, seg); err != nil {
		c.fail(err)
		return
	}
	c.client.SendConfirm(fmt.Sprintf("described segment %d: %s", id, text))
}

// Stop acknowledges and begins a clean shutdown.
func (c *Controller) Stop() {
	c.client.SendConfirm("stopping")
	c.shutdown()
}
