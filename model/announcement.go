package model

// Announcement is a retrieval result authorized (or pending authorization)
// for outbound emission. Index, Collection, Score, Path, Description, Start,
// End and Metadata travel on the wire; the remaining fields drive niche
// accounting in the orchestrator.
type Announcement struct {
	Index       int     `json:"index"`
	Collection  string  `json:"collection"` // "segments" or "presets"
	Score       float64 `json:"score"`
	Path        string  `json:"path"`
	Description string  `json:"description"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Metadata    string  `json:"metadata"` // JSON text, passed through opaquely

	SegmentID int64     `json:"segment_id"`
	BarkRaw   []float64 `json:"bark_raw"`
	BarkNorm  float64   `json:"bark_norm"`
	Duration  float64   `json:"duration"`
}
