package model

// Invocation is one client query and the segment announcements it produced.
type Invocation struct {
	Text       string  `json:"text"`
	Time       float64 `json:"time"` // seconds since session start
	SegmentIDs []int64 `json:"segment_ids,omitempty"`
}

// Session is an append-only, time-ordered log of invocations.
type Session struct {
	ID          int64        `json:"id"`
	SessionID   string       `json:"session_id"` // uuid
	Invocations []Invocation `json:"invocations"`
	CreatedAt   string       `json:"created_at"`
}

func (s *Session) GetID() int64   { return s.ID }
func (s *Session) SetID(id int64) { s.ID = id }
