package models

import (
	"encoding/json"
	"time"
)

const ChangeEventPut = "put"

// ChangeEvent is published after a successful write to the document store.
// Data is the new value at Path, or JSON null when the path was deleted.
type ChangeEvent struct {
	Type       string          `json:"event_type"`
	Path       string          `json:"path"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Deleted reports whether the event removed the value at Path.
func (e ChangeEvent) Deleted() bool {
	return len(e.Data) == 0 || string(e.Data) == "null"
}
