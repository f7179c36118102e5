// Package ledger implements the decision ledger: trust-labeled claims
// upserted by (project, cycle, decision_key), latest write wins.
package ledger

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/store"
)

// Ledger wraps the store with the upsert rules a raw keyed write would
// miss: confirmation state is never silently downgraded, locking is
// one-way, and conflicting re-confirmations are flagged.
type Ledger struct {
	store store.Store
}

// New creates a Ledger backed by the given store.
func New(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// Upsert writes a claim for the given decision key. Rules:
//   - An ASSUMED or UNKNOWN write never overwrites a locked USER_SAID
//     decision for the same key; the write is dropped.
//   - A USER_SAID locked write onto an already-locked key with a
//     different claim value sets the conflict flag instead of silently
//     replacing the confirmed value.
//   - Re-confirming the same value clears a previously set conflict.
func (l *Ledger) Upsert(ctx context.Context, d model.DecisionItem) (*model.DecisionItem, error) {
	if !d.Label.Valid() {
		return nil, eris.Errorf("ledger: invalid trust label %q", d.Label)
	}
	if len(d.ProvenanceRefs) == 0 {
		// Provenance is never empty: fall back to the confirming turn, or
		// the ledger row itself once it has an id.
		if d.ConfirmingTurnID != "" {
			d.ProvenanceRefs = []string{"turn:" + d.ConfirmingTurnID}
		} else {
			d.ProvenanceRefs = []string{"decision:" + d.DecisionKey}
		}
	}

	prior, err := l.store.GetDecision(ctx, d.ProjectID, d.Cycle, d.DecisionKey)
	if err != nil {
		return nil, err
	}

	if prior != nil && prior.ExplicitlyConfirmed() {
		if d.Label != model.TrustUserSaid {
			// Inference-only write against a confirmed decision: keep the
			// confirmed row untouched.
			zap.L().Debug("ledger: dropped inference write over confirmed decision",
				zap.String("decision_key", d.DecisionKey),
				zap.String("label", string(d.Label)),
			)
			return prior, nil
		}
		d.ID = prior.ID
		d.Lock = model.LockLocked
		if prior.SameClaim(d.Claim) {
			d.HasConflict = false
			d.ConflictKey = ""
		} else {
			d.HasConflict = true
			d.ConflictKey = d.DecisionKey
			zap.L().Warn("ledger: conflicting re-confirmation",
				zap.String("decision_key", d.DecisionKey),
				zap.String("prior", prior.Claim),
				zap.String("incoming", d.Claim),
			)
		}
	} else if prior != nil {
		d.ID = prior.ID
		// Locking is one-way.
		if prior.Lock == model.LockLocked {
			d.Lock = model.LockLocked
		}
	}

	if err := l.store.PutDecision(ctx, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// LatestByKey returns the current decision per key for the cycle.
func (l *Ledger) LatestByKey(ctx context.Context, projectID string, cycle int) (map[string]model.DecisionItem, error) {
	items, err := l.store.ListDecisions(ctx, projectID, cycle)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]model.DecisionItem, len(items))
	for _, d := range items {
		byKey[d.DecisionKey] = d
	}
	return byKey, nil
}

// Get returns the current decision for a single key, or nil.
func (l *Ledger) Get(ctx context.Context, projectID string, cycle int, key string) (*model.DecisionItem, error) {
	return l.store.GetDecision(ctx, projectID, cycle, key)
}
