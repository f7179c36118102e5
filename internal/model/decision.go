package model

import (
	"strings"
	"time"
)

// TrustLabel tags the evidentiary strength of a claim.
type TrustLabel string

const (
	TrustUserSaid TrustLabel = "USER_SAID"
	TrustAssumed  TrustLabel = "ASSUMED"
	TrustUnknown  TrustLabel = "UNKNOWN"
)

// Valid reports whether the label is one of the three known values.
func (l TrustLabel) Valid() bool {
	switch l {
	case TrustUserSaid, TrustAssumed, TrustUnknown:
		return true
	}
	return false
}

// LockState tracks whether a decision has been explicitly confirmed.
// Locking is one-way: a locked decision never reopens.
type LockState string

const (
	LockOpen   LockState = "open"
	LockLocked LockState = "locked"
)

// Required decision keys, in funnel order. QualitySignal is required for
// commit but sits outside the four core keys.
const (
	KeyBusinessType       = "business_type"
	KeyPrimaryOutcome     = "primary_outcome"
	KeyLaunchCapabilities = "launch_capabilities"
	KeyMonetizationPath   = "monetization_path"
	KeyQualitySignal      = "quality_signal"
	KeyLatestUserIntent   = "latest_user_intent"
)

// CoreDecisionKeys are the four keys that gate core readiness, in the
// order the funnel asks them.
var CoreDecisionKeys = []string{
	KeyBusinessType,
	KeyPrimaryOutcome,
	KeyLaunchCapabilities,
	KeyMonetizationPath,
}

// DecisionItem is one trust-labeled claim about the product, keyed by
// (project, cycle, decision_key). Upserts replace the row; history is
// not kept.
type DecisionItem struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	Cycle            int        `json:"cycle"`
	DecisionKey      string     `json:"decision_key"`
	Claim            string     `json:"claim"`
	Label            TrustLabel `json:"label"`
	Lock             LockState  `json:"lock"`
	ConfirmingTurnID string     `json:"confirming_turn_id,omitempty"`
	HasConflict      bool       `json:"has_conflict"`
	ConflictKey      string     `json:"conflict_key,omitempty"`
	ProvenanceRefs   []string   `json:"provenance_refs,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ExplicitlyConfirmed reports whether the decision passes the sole
// structural confirmation gate: USER_SAID, locked, with a confirming turn.
func (d DecisionItem) ExplicitlyConfirmed() bool {
	return d.Label == TrustUserSaid && d.Lock == LockLocked && d.ConfirmingTurnID != ""
}

// SameClaim compares claim text after whitespace/case normalization.
// Used by conflict detection: a re-confirmation of the same value is not
// a conflict.
func (d DecisionItem) SameClaim(claim string) bool {
	return normalizeClaim(d.Claim) == normalizeClaim(claim)
}

func normalizeClaim(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
