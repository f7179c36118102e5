package model

import "time"

// ContractStatus is the lifecycle state of a committed packet.
type ContractStatus string

const (
	ContractActive ContractStatus = "active"
)

// ContractVersion is one committed requirements packet. It is immutable
// once created; InputFingerprint makes commit idempotent under retries.
type ContractVersion struct {
	ID               string         `json:"id"`
	ProjectID        string         `json:"project_id"`
	Cycle            int            `json:"cycle"`
	Version          int            `json:"version"`
	InputFingerprint string         `json:"input_fingerprint"`
	Status           ContractStatus `json:"status"`
	Mode             string         `json:"mode"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ContractDoc is one of the ten role documents in a packet.
type ContractDoc struct {
	ID        string        `json:"id"`
	VersionID string        `json:"version_id"`
	RoleID    int           `json:"role_id"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	Claims    []Requirement `json:"claims"`
}

// Requirement is one claim inside a role document. Every requirement
// carries at least one provenance reference; a claim with no direct
// evidence falls back to referencing its own ledger or turn row.
type Requirement struct {
	ID         string           `json:"id"`
	DocID      string           `json:"doc_id"`
	Text       string           `json:"text"`
	Label      TrustLabel       `json:"label"`
	Provenance []ProvenanceLink `json:"provenance"`
}

// ProvenanceKind identifies what a provenance link points at.
type ProvenanceKind string

const (
	ProvenanceTurn     ProvenanceKind = "turn"
	ProvenanceDecision ProvenanceKind = "decision"
	ProvenancePage     ProvenanceKind = "page"
	ProvenanceSummary  ProvenanceKind = "summary"
)

// ProvenanceLink is one evidence pointer from a requirement back to the
// row that grounds it.
type ProvenanceLink struct {
	ID    string         `json:"id"`
	Kind  ProvenanceKind `json:"kind"`
	RefID string         `json:"ref_id"`
}

// Packet is a fully assembled contract version with its documents.
type Packet struct {
	Version ContractVersion `json:"version"`
	Docs    []ContractDoc   `json:"docs"`
}

// DocStrength is a per-role snapshot of document quality written at
// commit time for later inspection.
type DocStrength struct {
	VersionID          string  `json:"version_id"`
	RoleID             int     `json:"role_id"`
	WordCount          int     `json:"word_count"`
	ClaimCount         int     `json:"claim_count"`
	ProvenanceCoverage float64 `json:"provenance_coverage"`
	UnknownClaims      int     `json:"unknown_claims"`
	Weak               bool    `json:"weak"`
}
