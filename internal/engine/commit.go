package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/contract"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/readiness"
	"github.com/sells-group/intake-cli/internal/resilience"
)

// Commit modes.
const (
	ModeFast       = "fast"
	ModeStrengthen = "strengthen"
)

// CommitResult is a successful commit: the packet plus whether an
// existing fingerprinted version was reused.
type CommitResult struct {
	Packet *model.Packet `json:"packet"`
	Reused bool          `json:"reused"`
}

// Commit re-checks the gate, fingerprints the interview, and either
// returns the prior packet for unchanged inputs or generates, validates,
// and atomically persists a new one.
func (e *Engine) Commit(ctx context.Context, projectID string, cycle int, mode string) (*CommitResult, error) {
	if mode == "" {
		mode = ModeFast
	}
	if mode != ModeFast && mode != ModeStrengthen {
		return nil, resilience.Validation("BAD_MODE", "commit mode must be fast or strengthen")
	}

	decisions, err := e.decisionsByKey(ctx, projectID, cycle)
	if err != nil {
		return nil, err
	}
	artifacts, err := e.store.ListArtifacts(ctx, projectID, cycle)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list artifacts")
	}
	pending, err := e.verifier.Pending(ctx, projectID, cycle)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load pending checkpoint")
	}
	rich, userTurns := e.countRichTurns(ctx, projectID, cycle)

	report := readiness.Evaluate(readiness.Inputs{
		Decisions:         decisions,
		Artifacts:         artifacts,
		PendingCheckpoint: pending != nil,
		RichTurns:         rich,
		UserTurns:         userTurns,
	})
	if !report.CommitGate {
		return nil, resilience.Validation("GATE_UNMET", "commit gate is not satisfied", report.UnmetReasons...)
	}

	turns, err := e.store.ListTurns(ctx, projectID, cycle)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list turns")
	}
	decisionList := make([]model.DecisionItem, 0, len(decisions))
	for _, d := range decisions {
		decisionList = append(decisionList, *d)
	}

	fingerprint, err := contract.Fingerprint(turns, decisionList)
	if err != nil {
		return nil, err
	}
	if existing, err := e.store.GetPacketByFingerprint(ctx, projectID, cycle, fingerprint); err != nil {
		return nil, eris.Wrap(err, "engine: look up packet by fingerprint")
	} else if existing != nil {
		zap.L().Info("engine: reusing fingerprinted packet",
			zap.String("version_id", existing.Version.ID),
			zap.String("fingerprint", fingerprint),
		)
		return &CommitResult{Packet: existing, Reused: true}, nil
	}

	in := contract.Input{
		ProjectID: projectID,
		Cycle:     cycle,
		Turns:     turns,
		Decisions: decisionList,
		Artifacts: artifacts,
	}
	docs, err := e.docs.Generate(ctx, in)
	if err != nil {
		return nil, eris.Wrap(err, "engine: generate documents")
	}

	var strengths []model.DocStrength
	if mode == ModeStrengthen {
		strengths = contract.Strengthen(docs, in)
	} else {
		strengths = contract.Snapshot(docs)
	}

	issues := contract.Validate(docs, decisionList)
	if contract.Blocking(issues) {
		reasons := make([]string, 0, len(issues))
		for _, is := range issues {
			if is.Severity == contract.SeverityBlock {
				reasons = append(reasons, is.Message)
			}
		}
		return nil, resilience.Validation("PACKET_INVALID", "generated packet failed validation", reasons...)
	}

	packet := &model.Packet{
		Version: model.ContractVersion{
			ID:               uuid.New().String(),
			ProjectID:        projectID,
			Cycle:            cycle,
			InputFingerprint: fingerprint,
			Status:           model.ContractActive,
			Mode:             mode,
			CreatedAt:        time.Now().UTC(),
		},
		Docs: docs,
	}
	for i := range strengths {
		strengths[i].VersionID = packet.Version.ID
	}
	if err := e.store.SavePacket(ctx, packet, strengths); err != nil {
		// A concurrent commit for the same inputs may have won the
		// fingerprint uniqueness race; converge on its packet.
		if existing, lookupErr := e.store.GetPacketByFingerprint(ctx, projectID, cycle, fingerprint); lookupErr == nil && existing != nil {
			return &CommitResult{Packet: existing, Reused: true}, nil
		}
		return nil, eris.Wrap(err, "engine: persist packet")
	}

	detail, _ := json.Marshal(map[string]any{
		"version_id":  packet.Version.ID,
		"version":     packet.Version.Version,
		"fingerprint": fingerprint,
		"mode":        mode,
		"docs":        len(docs),
	})
	if err := e.store.AppendAudit(ctx, &model.AuditEvent{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Cycle:     cycle,
		Kind:      "packet_committed",
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		zap.L().Warn("engine: audit append failed", zap.Error(err))
	}

	return &CommitResult{Packet: packet}, nil
}
