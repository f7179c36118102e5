package readiness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

func coreConfirmed() map[string]*model.DecisionItem {
	decisions := map[string]*model.DecisionItem{}
	for _, key := range model.CoreDecisionKeys {
		decisions[key] = &model.DecisionItem{
			DecisionKey:      key,
			Claim:            "value",
			Label:            model.TrustUserSaid,
			Lock:             model.LockLocked,
			ConfirmingTurnID: "turn-1",
		}
	}
	return decisions
}

func TestEmptyInterview(t *testing.T) {
	r := Evaluate(Inputs{Decisions: map[string]*model.DecisionItem{}})
	assert.False(t, r.CoreReady)
	assert.False(t, r.CommitGate)
	// Website bucket resolves when no artifact was referenced.
	assert.Equal(t, 100*1/6, r.Score)
	assert.Len(t, r.UnmetReasons, 4)
}

func TestCoreReadyNeedsAllFourConfirmed(t *testing.T) {
	decisions := coreConfirmed()
	delete(decisions, model.KeyMonetizationPath)

	r := Evaluate(Inputs{Decisions: decisions})
	assert.False(t, r.CoreReady)

	r = Evaluate(Inputs{Decisions: coreConfirmed()})
	assert.True(t, r.CoreReady)
}

func TestConflictBlocksCore(t *testing.T) {
	decisions := coreConfirmed()
	decisions[model.KeyPrimaryOutcome].HasConflict = true

	r := Evaluate(Inputs{Decisions: decisions})
	assert.False(t, r.CoreReady)
	assert.False(t, r.CommitGate)
}

func TestPendingCheckpointBlocksCore(t *testing.T) {
	r := Evaluate(Inputs{Decisions: coreConfirmed(), PendingCheckpoint: true})
	assert.False(t, r.CoreReady)
}

func TestQualityViaExplicitConfirmation(t *testing.T) {
	decisions := coreConfirmed()
	decisions[model.KeyQualitySignal] = &model.DecisionItem{
		DecisionKey:      model.KeyQualitySignal,
		Claim:            "steady bookings",
		Label:            model.TrustUserSaid,
		Lock:             model.LockLocked,
		ConfirmingTurnID: "turn-5",
	}
	r := Evaluate(Inputs{Decisions: decisions})
	assert.True(t, r.QualityReady)
	assert.True(t, r.CommitGate)
	assert.Equal(t, 100, r.Score)
}

func TestQualityViaRichTurns(t *testing.T) {
	r := Evaluate(Inputs{Decisions: coreConfirmed(), RichTurns: 3, UserTurns: 4})
	assert.True(t, r.QualityReady)
	assert.True(t, r.CommitGate)

	r = Evaluate(Inputs{Decisions: coreConfirmed(), RichTurns: 2, UserTurns: 6})
	assert.True(t, r.QualityReady)

	r = Evaluate(Inputs{Decisions: coreConfirmed(), RichTurns: 2, UserTurns: 5})
	assert.False(t, r.QualityReady)
	assert.False(t, r.CommitGate)
}

func TestQualityRequiresCore(t *testing.T) {
	r := Evaluate(Inputs{Decisions: map[string]*model.DecisionItem{}, RichTurns: 5, UserTurns: 9})
	assert.False(t, r.QualityReady)
}

func TestArtifactBucket(t *testing.T) {
	r := Evaluate(Inputs{
		Decisions: coreConfirmed(),
		Artifacts: []model.ArtifactInput{{IngestState: model.IngestPending}},
	})
	require.Len(t, r.Buckets, 6)
	assert.Equal(t, BucketInProgress, r.Buckets[4].State)

	r = Evaluate(Inputs{
		Decisions: coreConfirmed(),
		Artifacts: []model.ArtifactInput{{IngestState: model.IngestComplete, VerifyState: model.VerifyUserConfirmed}},
	})
	assert.Equal(t, BucketResolved, r.Buckets[4].State)
}

func TestUnmetReasonsAreSpecific(t *testing.T) {
	decisions := coreConfirmed()
	delete(decisions, model.KeyBusinessType)

	r := Evaluate(Inputs{Decisions: decisions, PendingCheckpoint: true})
	assert.Contains(t, r.UnmetReasons[0], model.KeyBusinessType)
	found := false
	for _, reason := range r.UnmetReasons {
		if reason == "a verification checkpoint is still pending" {
			found = true
		}
	}
	assert.True(t, found)
}
