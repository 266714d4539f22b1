package model

// Features is the unified feature record produced by audio analysis: fixed
// string keys to finite scalar values. Framewise descriptors are stored as
// their per-key statistics (mfcc_01..mfcc_13, chroma_01..chroma_12, ...).
type Features map[string]float64

// Recording is the metadata for a source audio file. Paths are stored
// relative to the configured audio root.
type Recording struct {
	ID            int64    `json:"id"`
	Path          string   `json:"path"`
	Description   string   `json:"description"`
	AIDescription string   `json:"ai_description,omitempty"`
	Duration      float64  `json:"duration"`
	Features      Features `json:"features,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

func (r *Recording) GetID() int64   { return r.ID }
func (r *Recording) SetID(id int64) { r.ID = id }
