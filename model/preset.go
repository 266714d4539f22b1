package model

// Preset is a parameterization of an Effect. Presets are indexed for
// retrieval alongside segments but their announcement channel is dormant.
type Preset struct {
	ID            int64     `json:"id"`
	EffectPath    string    `json:"effect_path"`
	Description   string    `json:"description"`
	Parameters    []float64 `json:"parameters"`
	EmbeddingText string    `json:"embedding_text"`
	IndexID       *int64    `json:"index_id,omitempty"`
	CreatedAt     string    `json:"created_at"`
}

func (p *Preset) GetID() int64   { return p.ID }
func (p *Preset) SetID(id int64) { p.ID = id }

// Indexed reports whether the preset has a live vector index row.
func (p *Preset) Indexed() bool { return p.IndexID != nil }
