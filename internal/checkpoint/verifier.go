// Package checkpoint manages artifact verification gates. After a
// machine summary lands, the user is asked to confirm it before the
// interview proceeds; a pending checkpoint takes over the conversation
// until it is resolved exactly once.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/store"
)

// Verifier creates and resolves artifact confirmation checkpoints.
type Verifier struct {
	store store.Store
}

func NewVerifier(st store.Store) *Verifier {
	return &Verifier{store: st}
}

// Key derives the idempotency key for a checkpoint. A new summary
// version produces a new key: the prior confirmation applied to a
// different understanding of the page.
func Key(canonicalURL, ingestRunID string, summaryVersion int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d", canonicalURL, ingestRunID, summaryVersion)
	return hex.EncodeToString(h.Sum(nil))
}

// EnsureForSummary opens a pending checkpoint for a machine summary if
// one does not already exist for this (url, run, version). User-sourced
// summary versions never spawn checkpoints; corrections are already the
// user's words.
func (v *Verifier) EnsureForSummary(ctx context.Context, art *model.ArtifactInput, run *model.ArtifactIngestRun, summary *model.ArtifactSummary) (*model.Checkpoint, error) {
	if summary == nil || summary.Source != model.SummaryMachine {
		return nil, nil
	}

	key := Key(art.CanonicalURL, run.ID, summary.Version)
	existing, err := v.store.GetCheckpointByKey(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: look up by key")
	}
	if existing != nil {
		return existing, nil
	}

	cp := &model.Checkpoint{
		ID:             uuid.New().String(),
		ProjectID:      art.ProjectID,
		Cycle:          art.Cycle,
		ArtifactID:     art.ID,
		Key:            key,
		Status:         model.CheckpointPending,
		Prompt:         fmt.Sprintf("Here's what I understood from %s:\n\n%s\n\nDid I get that right?", art.CanonicalURL, summary.Text),
		SummaryVersion: summary.Version,
		Options: []model.Option{
			{ID: "checkpoint:confirm", Label: "Yes, that's right"},
			{ID: "checkpoint:reject", Label: "No, that's wrong"},
			{ID: "checkpoint:partial", Label: "Mostly, with corrections"},
			{ID: "checkpoint:skip", Label: "Skip this"},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := v.store.CreateCheckpoint(ctx, cp); err != nil {
		return nil, eris.Wrap(err, "checkpoint: create")
	}
	// A concurrent creator may have won; read back the canonical row.
	created, err := v.store.GetCheckpointByKey(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: read back")
	}
	if created != nil {
		cp = created
	}
	zap.L().Info("checkpoint: opened",
		zap.String("checkpoint_id", cp.ID),
		zap.String("artifact_id", art.ID),
		zap.Int("summary_version", summary.Version),
	)
	return cp, nil
}

// Pending returns the open checkpoint for a project cycle, if any.
func (v *Verifier) Pending(ctx context.Context, projectID string, cycle int) (*model.Checkpoint, error) {
	return v.store.PendingCheckpoint(ctx, projectID, cycle)
}

// Classify maps a free-text reply to a resolution action by its leading
// token. Unrecognized replies return ok=false and leave the checkpoint
// pending.
func Classify(text string) (model.CheckpointAction, string, bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	head := lower
	rest := ""
	if i := strings.IndexAny(lower, " \t\n.,:;!"); i >= 0 {
		head = lower[:i]
		rest = strings.TrimSpace(trimmed[i+1:])
	}
	switch head {
	case "yes", "yep", "yeah", "correct", "right":
		return model.ActionConfirm, "", true
	case "no", "nope", "wrong", "incorrect":
		return model.ActionReject, rest, true
	case "mostly", "partially", "almost":
		return model.ActionPartial, rest, true
	case "skip":
		return model.ActionSkip, "", true
	}
	return "", "", false
}

// ClassifyOption maps a typed option ID to a resolution action.
func ClassifyOption(optionID string) (model.CheckpointAction, bool) {
	switch optionID {
	case "checkpoint:confirm":
		return model.ActionConfirm, true
	case "checkpoint:reject":
		return model.ActionReject, true
	case "checkpoint:partial":
		return model.ActionPartial, true
	case "checkpoint:skip":
		return model.ActionSkip, true
	}
	return "", false
}

// Resolve moves a pending checkpoint to its terminal state and applies
// the side effects on the artifact. Confirm marks the artifact
// user_confirmed; reject and partial mark it user_corrected and append
// the correction as a new user-sourced summary version; skip leaves the
// verify state untouched. Resolving a non-pending checkpoint fails.
func (v *Verifier) Resolve(ctx context.Context, cp *model.Checkpoint, action model.CheckpointAction, turnID, correction string) error {
	var status model.CheckpointStatus
	switch action {
	case model.ActionConfirm:
		status = model.CheckpointConfirmed
	case model.ActionReject, model.ActionPartial:
		status = model.CheckpointRejected
	case model.ActionSkip:
		status = model.CheckpointSkipped
	default:
		return eris.Errorf("checkpoint: unknown action %q", action)
	}

	if err := v.store.ResolveCheckpoint(ctx, cp.ID, status, turnID); err != nil {
		return eris.Wrap(err, "checkpoint: resolve")
	}

	switch action {
	case model.ActionConfirm:
		if err := v.setVerifyState(ctx, cp.ArtifactID, model.VerifyUserConfirmed, ""); err != nil {
			return err
		}
	case model.ActionReject, model.ActionPartial:
		if strings.TrimSpace(correction) != "" {
			sum := &model.ArtifactSummary{
				ID:         uuid.New().String(),
				ArtifactID: cp.ArtifactID,
				Text:       strings.TrimSpace(correction),
				Confidence: 1.0,
				Source:     model.SummaryUser,
				CreatedAt:  time.Now().UTC(),
			}
			if err := v.store.AppendSummary(ctx, sum); err != nil {
				return eris.Wrap(err, "checkpoint: append correction")
			}
			if err := v.setVerifyState(ctx, cp.ArtifactID, model.VerifyUserCorrected, sum.Text); err != nil {
				return err
			}
		} else {
			if err := v.setVerifyState(ctx, cp.ArtifactID, model.VerifyUserCorrected, ""); err != nil {
				return err
			}
		}
	case model.ActionSkip:
		// Verify state stays as it was.
	}

	v.audit(ctx, cp, status, turnID)
	return nil
}

func (v *Verifier) setVerifyState(ctx context.Context, artifactID string, state model.VerifyState, latestSummary string) error {
	art, err := v.store.GetArtifactByID(ctx, artifactID)
	if err != nil {
		return eris.Wrap(err, "checkpoint: load artifact")
	}
	if art == nil {
		return eris.Errorf("checkpoint: artifact %s not found", artifactID)
	}
	art.VerifyState = state
	if latestSummary != "" {
		art.LatestSummary = latestSummary
	}
	art.UpdatedAt = time.Now().UTC()
	if err := v.store.UpdateArtifact(ctx, art); err != nil {
		return eris.Wrap(err, "checkpoint: update artifact verify state")
	}
	return nil
}

func (v *Verifier) audit(ctx context.Context, cp *model.Checkpoint, status model.CheckpointStatus, turnID string) {
	detail, _ := json.Marshal(map[string]any{
		"checkpoint_id": cp.ID,
		"artifact_id":   cp.ArtifactID,
		"status":        string(status),
		"turn_id":       turnID,
	})
	err := v.store.AppendAudit(ctx, &model.AuditEvent{
		ID:        uuid.New().String(),
		ProjectID: cp.ProjectID,
		Cycle:     cp.Cycle,
		Kind:      "checkpoint_resolved",
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		zap.L().Warn("checkpoint: audit append failed", zap.Error(err))
	}
}
