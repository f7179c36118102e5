package model

import "time"

// AuditEvent is an append-only operational record (ingest outcomes,
// checkpoint resolutions, commits). Detail is stored as JSON.
type AuditEvent struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Cycle     int       `json:"cycle"`
	Kind      string    `json:"kind"`
	Detail    []byte    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
