package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

func fixtureTurns() []model.Turn {
	return []model.Turn{
		{ID: "t1", Index: 1, Actor: model.ActorUser, Text: "hello"},
		{ID: "t2", Index: 2, Actor: model.ActorAssistant, Text: "what kind of business?"},
	}
}

func fixtureDecisions() []model.DecisionItem {
	return []model.DecisionItem{
		{DecisionKey: model.KeyBusinessType, Claim: "local_service", Label: model.TrustUserSaid, Lock: model.LockLocked},
		{DecisionKey: model.KeyPrimaryOutcome, Claim: "book", Label: model.TrustUserSaid, Lock: model.LockLocked},
	}
}

func TestFingerprintStable(t *testing.T) {
	a, err := Fingerprint(fixtureTurns(), fixtureDecisions())
	require.NoError(t, err)
	b, err := Fingerprint(fixtureTurns(), fixtureDecisions())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintIgnoresDecisionOrder(t *testing.T) {
	decisions := fixtureDecisions()
	a, err := Fingerprint(fixtureTurns(), decisions)
	require.NoError(t, err)

	reversed := []model.DecisionItem{decisions[1], decisions[0]}
	b, err := Fingerprint(fixtureTurns(), reversed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprintIgnoresRowMetadata(t *testing.T) {
	turns := fixtureTurns()
	a, err := Fingerprint(turns, fixtureDecisions())
	require.NoError(t, err)

	for i := range turns {
		turns[i].ID = "different-" + turns[i].ID
		turns[i].CreatedAt = time.Now()
	}
	b, err := Fingerprint(turns, fixtureDecisions())
	require.NoError(t, err)
	assert.Equal(t, a, b, "ids and timestamps must not affect the fingerprint")
}

func TestFingerprintChangesWithContent(t *testing.T) {
	a, err := Fingerprint(fixtureTurns(), fixtureDecisions())
	require.NoError(t, err)

	turns := append(fixtureTurns(), model.Turn{ID: "t3", Index: 3, Actor: model.ActorUser, Text: "one more thing"})
	b, err := Fingerprint(turns, fixtureDecisions())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	decisions := fixtureDecisions()
	decisions[0].Claim = "online_store"
	c, err := Fingerprint(fixtureTurns(), decisions)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
