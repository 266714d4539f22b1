package model

// Effect is a processing plug-in descriptor, identified by its path.
type Effect struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

func (e *Effect) GetID() int64   { return e.ID }
func (e *Effect) SetID(id int64) { e.ID = id }
