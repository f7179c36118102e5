// Package engine orchestrates the intake interview: each inbound turn
// reads the ledger, ingests any referenced artifact, lets a pending
// checkpoint short-circuit everything else, picks the next funnel
// question, and scores readiness. A separate commit path lives in
// commit.go.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/checkpoint"
	"github.com/sells-group/intake-cli/internal/contract"
	"github.com/sells-group/intake-cli/internal/funnel"
	"github.com/sells-group/intake-cli/internal/ingest"
	"github.com/sells-group/intake-cli/internal/ledger"
	"github.com/sells-group/intake-cli/internal/llm"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/readiness"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/internal/store"
)

// Engine wires the interview components over one store.
type Engine struct {
	store    store.Store
	ledger   *ledger.Ledger
	ingest   *ingest.Service
	verifier *checkpoint.Verifier
	docs     *contract.Generator
}

// New builds an Engine. The generator may be llm.Null for offline use;
// every model-backed step has a deterministic fallback.
func New(st store.Store, fetcher *ingest.Fetcher, gen llm.Generator) *Engine {
	return &Engine{
		store:    st,
		ledger:   ledger.New(st),
		ingest:   ingest.NewService(st, fetcher, ingest.NewSummarizer(gen)),
		verifier: checkpoint.NewVerifier(st),
		docs:     contract.NewGenerator(gen),
	}
}

// TurnRequest is one inbound turn event. Exactly one of Text, OptionID,
// ArtifactReference, or Checkpoint is expected; the server layer
// validates that.
type TurnRequest struct {
	ProjectID         string
	Cycle             int
	Text              string
	OptionID          string
	ArtifactReference string
	ForceRefresh      bool
	Checkpoint        *CheckpointResponse
}

// CheckpointResponse resolves the pending checkpoint directly, without
// going through free-text classification. Correction text accompanies
// reject and partial resolutions.
type CheckpointResponse struct {
	Action     model.CheckpointAction
	Correction string
}

// TurnResponse is what the assistant says next plus derived state.
type TurnResponse struct {
	Prompt       string             `json:"prompt"`
	Options      []model.Option     `json:"options,omitempty"`
	Posture      string             `json:"posture"`
	Move         string             `json:"move"`
	Readiness    *readiness.Report  `json:"readiness"`
	Unresolved   []string           `json:"unresolved,omitempty"`
	IngestStatus string             `json:"ingest_status,omitempty"`
	Checkpoint   *model.Checkpoint  `json:"checkpoint,omitempty"`
}

// Advance processes one user turn and returns the next prompt.
func (e *Engine) Advance(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	pending, err := e.verifier.Pending(ctx, req.ProjectID, req.Cycle)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load pending checkpoint")
	}
	if req.Checkpoint != nil && pending == nil {
		return nil, resilience.Validation("NO_CHECKPOINT", "no pending checkpoint to resolve")
	}

	userText := req.Text
	if userText == "" {
		userText = req.OptionID
	}
	if userText == "" {
		userText = req.ArtifactReference
	}
	if userText == "" && req.Checkpoint != nil {
		userText = string(req.Checkpoint.Action)
		if req.Checkpoint.Correction != "" {
			userText += ": " + req.Checkpoint.Correction
		}
	}
	turn, err := e.store.AppendTurn(ctx, req.ProjectID, req.Cycle, model.ActorUser, userText)
	if err != nil {
		return nil, eris.Wrap(err, "engine: append user turn")
	}

	resp := &TurnResponse{}

	// A pending checkpoint consumes the input before anything else runs.
	consumed := false
	if pending != nil {
		resolved, err := e.resolveCheckpointInput(ctx, pending, req, turn.ID)
		if err != nil {
			return nil, err
		}
		if !resolved {
			// Exclusivity: nothing but the checkpoint is offered.
			e.finishTurn(ctx, req, resp, pending)
			return resp, nil
		}
		pending = nil
		consumed = true
	}

	if !consumed && req.ArtifactReference != "" {
		newPending, status, err := e.ingestReference(ctx, req)
		if err != nil {
			return nil, err
		}
		resp.IngestStatus = status
		if newPending != nil {
			pending = newPending
		}
	}

	if !consumed && pending == nil && req.OptionID != "" {
		if err := e.applyOption(ctx, req, turn.ID); err != nil {
			return nil, err
		}
	}
	if !consumed && pending == nil && req.Text != "" && req.OptionID == "" && req.ArtifactReference == "" {
		if err := e.applyFreeText(ctx, req, turn.ID); err != nil {
			return nil, err
		}
	}

	e.finishTurn(ctx, req, resp, pending)
	return resp, nil
}

// resolveCheckpointInput tries to interpret the request as a checkpoint
// resolution. Returns false when the input does not classify, leaving
// the checkpoint pending.
func (e *Engine) resolveCheckpointInput(ctx context.Context, cp *model.Checkpoint, req TurnRequest, turnID string) (bool, error) {
	var action model.CheckpointAction
	var correction string
	ok := false

	if req.Checkpoint != nil {
		action, correction, ok = req.Checkpoint.Action, req.Checkpoint.Correction, true
	} else if req.OptionID != "" {
		action, ok = checkpoint.ClassifyOption(req.OptionID)
	} else if req.Text != "" {
		action, correction, ok = checkpoint.Classify(req.Text)
	}
	if !ok {
		return false, nil
	}
	if err := e.verifier.Resolve(ctx, cp, action, turnID, correction); err != nil {
		return false, eris.Wrap(err, "engine: resolve checkpoint")
	}
	return true, nil
}

// ingestReference runs ingestion for a referenced URL. Failures degrade
// into a status message; only storage errors propagate.
func (e *Engine) ingestReference(ctx context.Context, req TurnRequest) (*model.Checkpoint, string, error) {
	res, err := e.ingest.Ingest(ctx, req.ProjectID, req.Cycle, req.ArtifactReference, req.ForceRefresh)
	if err != nil {
		return nil, "", eris.Wrap(err, "engine: ingest artifact")
	}
	if res.Failed {
		code := ""
		if res.Run != nil {
			code = res.Run.ErrorCode
			if code == "" {
				code = res.Run.Outcome
			}
		}
		return nil, fmt.Sprintf("ingestion degraded (%s); continuing without website context", code), nil
	}
	cp, err := e.verifier.EnsureForSummary(ctx, res.Artifact, res.Run, res.Summary)
	if err != nil {
		return nil, "", eris.Wrap(err, "engine: open checkpoint")
	}
	status := "website ingested"
	if res.Reused {
		status = "website already ingested; reusing prior summary"
	}
	if cp != nil && cp.Status != model.CheckpointPending {
		cp = nil
	}
	return cp, status, nil
}

// applyOption translates a typed funnel selection into a confirmed,
// locked ledger write.
func (e *Engine) applyOption(ctx context.Context, req TurnRequest, turnID string) error {
	stage := funnel.StageForOption(req.OptionID)
	if stage == nil {
		zap.L().Debug("engine: ignoring unknown option", zap.String("option_id", req.OptionID))
		return nil
	}
	_, value, _ := funnel.ParseOption(req.OptionID)
	_, err := e.ledger.Upsert(ctx, model.DecisionItem{
		ProjectID:        req.ProjectID,
		Cycle:            req.Cycle,
		DecisionKey:      stage.Key,
		Claim:            value,
		Label:            model.TrustUserSaid,
		Lock:             model.LockLocked,
		ConfirmingTurnID: turnID,
		ProvenanceRefs:   []string{"turn:" + turnID},
	})
	return eris.Wrap(err, "engine: apply option")
}

// applyFreeText records free text in the ledger. Free text never locks
// a key: it lands as an ASSUMED latest_user_intent entry, or as an
// ASSUMED quality_signal entry once the four core keys are locked and
// the text is rich enough to count as evidence.
func (e *Engine) applyFreeText(ctx context.Context, req TurnRequest, turnID string) error {
	decisions, err := e.decisionsByKey(ctx, req.ProjectID, req.Cycle)
	if err != nil {
		return err
	}

	key := model.KeyLatestUserIntent
	if funnel.CoreLocked(decisions) == len(model.CoreDecisionKeys) && funnel.IsRich(req.Text, allOfferedOptions()) {
		if d := decisions[model.KeyQualitySignal]; d == nil || !d.ExplicitlyConfirmed() {
			key = model.KeyQualitySignal
		}
	}
	_, err = e.ledger.Upsert(ctx, model.DecisionItem{
		ProjectID:      req.ProjectID,
		Cycle:          req.Cycle,
		DecisionKey:    key,
		Claim:          strings.TrimSpace(req.Text),
		Label:          model.TrustAssumed,
		Lock:           model.LockOpen,
		ProvenanceRefs: []string{"turn:" + turnID},
	})
	return eris.Wrap(err, "engine: apply free text")
}

// finishTurn computes readiness, picks the next prompt, and appends the
// assistant turn. Derived-state failures are logged, not fatal: by this
// point the user's input has already been applied.
func (e *Engine) finishTurn(ctx context.Context, req TurnRequest, resp *TurnResponse, pending *model.Checkpoint) {
	decisions, err := e.decisionsByKey(ctx, req.ProjectID, req.Cycle)
	if err != nil {
		zap.L().Error("engine: load decisions", zap.Error(err))
		decisions = map[string]*model.DecisionItem{}
	}
	artifacts, err := e.store.ListArtifacts(ctx, req.ProjectID, req.Cycle)
	if err != nil {
		zap.L().Error("engine: load artifacts", zap.Error(err))
	}
	rich, userTurns := e.countRichTurns(ctx, req.ProjectID, req.Cycle)

	resp.Readiness = readiness.Evaluate(readiness.Inputs{
		Decisions:         decisions,
		Artifacts:         artifacts,
		PendingCheckpoint: pending != nil,
		RichTurns:         rich,
		UserTurns:         userTurns,
	})
	resp.Unresolved = resp.Readiness.UnmetReasons
	resp.Posture = funnel.Posture(decisions, pending != nil)

	switch {
	case pending != nil:
		resp.Checkpoint = pending
		resp.Prompt = pending.Prompt
		resp.Options = pending.Options
		resp.Move = funnel.MoveVerifyArtifact
	case midIngestion(artifacts):
		resp.Prompt = "I'm still reading the website you shared. While that finishes: is there anything on the site that's out of date or shouldn't carry over?"
		resp.Move = funnel.MoveVerifyArtifact
	case resp.Readiness.CoreReady && !resp.Readiness.QualityReady:
		// Quality branch is forced once core is done.
		stage := qualityStage()
		resp.Prompt = stage.Prompt
		resp.Options = stage.Options
		resp.Move = funnel.MoveAskQuality
	default:
		if stage := funnel.Next(decisions); stage != nil {
			resp.Prompt = stage.Prompt
			resp.Options = stage.Options
			resp.Move = funnel.MoveAskCore
			if stage.Key == model.KeyQualitySignal {
				resp.Move = funnel.MoveAskQuality
			}
		} else {
			resp.Prompt = "That covers everything I need. Ready to commit the requirements packet whenever you are."
			resp.Move = funnel.MoveReady
		}
	}

	if _, err := e.store.AppendTurn(ctx, req.ProjectID, req.Cycle, model.ActorAssistant, resp.Prompt); err != nil {
		zap.L().Error("engine: append assistant turn", zap.Error(err))
	}
}

func (e *Engine) decisionsByKey(ctx context.Context, projectID string, cycle int) (map[string]*model.DecisionItem, error) {
	items, err := e.store.ListDecisions(ctx, projectID, cycle)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list decisions")
	}
	byKey := make(map[string]*model.DecisionItem, len(items))
	for i := range items {
		byKey[items[i].DecisionKey] = &items[i]
	}
	return byKey, nil
}

// countRichTurns counts user turns carrying rich free-text evidence.
func (e *Engine) countRichTurns(ctx context.Context, projectID string, cycle int) (rich, total int) {
	turns, err := e.store.ListTurns(ctx, projectID, cycle)
	if err != nil {
		zap.L().Error("engine: list turns", zap.Error(err))
		return 0, 0
	}
	offered := allOfferedOptions()
	for _, t := range turns {
		if t.Actor != model.ActorUser {
			continue
		}
		total++
		if funnel.IsRich(t.Text, offered) {
			rich++
		}
	}
	return rich, total
}

func midIngestion(artifacts []model.ArtifactInput) bool {
	for _, a := range artifacts {
		if a.IngestState == model.IngestPending {
			return true
		}
	}
	return false
}

func qualityStage() *funnel.Stage {
	for i := range funnel.Stages {
		if funnel.Stages[i].Key == model.KeyQualitySignal {
			return &funnel.Stages[i]
		}
	}
	return &funnel.Stages[len(funnel.Stages)-1]
}

// allOfferedOptions flattens every canned option so rich-evidence
// checks can reject bare option echoes regardless of which turn offered
// them.
func allOfferedOptions() []model.Option {
	var opts []model.Option
	for _, stage := range funnel.Stages {
		opts = append(opts, stage.Options...)
	}
	return opts
}
