package model

import "time"

// Actor identifies who produced a turn.
type Actor string

const (
	ActorUser      Actor = "user"
	ActorAssistant Actor = "assistant"
)

// Turn is one utterance in an intake cycle. Turns are immutable once
// written; the index is strictly increasing per (project, cycle).
type Turn struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Cycle     int       `json:"cycle"`
	Index     int       `json:"index"`
	Actor     Actor     `json:"actor"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
