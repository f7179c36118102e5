package model

import "time"

// CheckpointStatus is the state of a confirmation gate. Pending is the
// only non-terminal state; a checkpoint is resolved exactly once.
type CheckpointStatus string

const (
	CheckpointPending   CheckpointStatus = "pending"
	CheckpointConfirmed CheckpointStatus = "confirmed"
	CheckpointRejected  CheckpointStatus = "rejected"
	CheckpointSkipped   CheckpointStatus = "skipped"
)

// Terminal reports whether the status is a resolved end state.
func (s CheckpointStatus) Terminal() bool {
	return s == CheckpointConfirmed || s == CheckpointRejected || s == CheckpointSkipped
}

// CheckpointAction is a user resolution action on a pending checkpoint.
type CheckpointAction string

const (
	ActionConfirm CheckpointAction = "confirm"
	ActionReject  CheckpointAction = "reject"
	ActionPartial CheckpointAction = "partial"
	ActionSkip    CheckpointAction = "skip"
)

// Checkpoint is one pending/resolved confirmation gate. Creation is
// idempotent on Key; a new summary version yields a new checkpoint
// because the prior confirmation applied to a different understanding.
type Checkpoint struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	Cycle           int              `json:"cycle"`
	ArtifactID      string           `json:"artifact_id"`
	Key             string           `json:"key"`
	Status          CheckpointStatus `json:"status"`
	Prompt          string           `json:"prompt"`
	Options         []Option         `json:"options"`
	SummaryVersion  int              `json:"summary_version"`
	ResolvingTurnID string           `json:"resolving_turn_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
}

// Option is one selectable answer offered with a prompt. The ID carries
// a typed prefix:value pair (e.g. "outcome:book").
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}
