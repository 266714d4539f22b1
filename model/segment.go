package model

// BarkBands is the number of critical bands in a Bark energy vector.
const BarkBands = 24

// Segment is a normalized time slice of a Recording and the unit of
// retrieval. Start and End are normalized to [0,1] of the parent recording;
// Start < End always holds for stored segments.
type Segment struct {
	ID            int64    `json:"id"`
	SourcePath    string   `json:"source_path"`
	Start         float64  `json:"start"`
	End           float64  `json:"end"`
	Description   string   `json:"description"`
	AIDescription string   `json:"ai_description,omitempty"`
	EmbeddingText string   `json:"embedding_text"`
	IndexID       *int64   `json:"index_id,omitempty"` // row in the vector index; nil = un-indexed
	Features      Features `json:"features,omitempty"`
	BarkRaw       []float64 `json:"bark_raw"`
	BarkNorm      float64   `json:"bark_norm"`
	OnsetsLowMid  []float64 `json:"onsets_low_mid"`
	OnsetsMid     []float64 `json:"onsets_mid"`
	OnsetsHighMid []float64 `json:"onsets_high_mid"`
	Duration      float64   `json:"duration"`
	CreatedAt     string    `json:"created_at"`
}

func (s *Segment) GetID() int64   { return s.ID }
func (s *Segment) SetID(id int64) { s.ID = id }

// Indexed reports whether the segment has a live vector index row.
func (s *Segment) Indexed() bool { return s.IndexID != nil }
