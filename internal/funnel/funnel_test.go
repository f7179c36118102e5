package funnel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

func confirmedDecision(key, claim string) *model.DecisionItem {
	return &model.DecisionItem{
		DecisionKey:      key,
		Claim:            claim,
		Label:            model.TrustUserSaid,
		Lock:             model.LockLocked,
		ConfirmingTurnID: "turn-1",
	}
}

func TestNextFollowsFixedOrder(t *testing.T) {
	decisions := map[string]*model.DecisionItem{}
	wantOrder := []string{
		model.KeyBusinessType,
		model.KeyPrimaryOutcome,
		model.KeyLaunchCapabilities,
		model.KeyMonetizationPath,
		model.KeyQualitySignal,
	}
	for _, want := range wantOrder {
		stage := Next(decisions)
		require.NotNil(t, stage)
		assert.Equal(t, want, stage.Key)
		decisions[want] = confirmedDecision(want, "value")
	}
	assert.Nil(t, Next(decisions))
}

func TestAssumedDecisionDoesNotAdvanceFunnel(t *testing.T) {
	decisions := map[string]*model.DecisionItem{
		model.KeyBusinessType: {
			DecisionKey: model.KeyBusinessType,
			Claim:       "probably a restaurant",
			Label:       model.TrustAssumed,
			Lock:        model.LockOpen,
		},
	}
	stage := Next(decisions)
	require.NotNil(t, stage)
	assert.Equal(t, model.KeyBusinessType, stage.Key)
}

func TestParseOption(t *testing.T) {
	prefix, value, ok := ParseOption("outcome:book")
	require.True(t, ok)
	assert.Equal(t, "outcome", prefix)
	assert.Equal(t, "book", value)

	for _, bad := range []string{"", "nocolon", ":leading", "trailing:"} {
		_, _, ok := ParseOption(bad)
		assert.False(t, ok, "input %q", bad)
	}
}

func TestStageForOption(t *testing.T) {
	stage := StageForOption("monetize:retainer")
	require.NotNil(t, stage)
	assert.Equal(t, model.KeyMonetizationPath, stage.Key)

	assert.Nil(t, StageForOption("checkpoint:confirm"))
	assert.Nil(t, StageForOption("garbage"))
}

func TestIsRich(t *testing.T) {
	offered := Stages[0].Options

	assert.True(t, IsRich("We mostly get clients through word of mouth and want steady bookings.", offered))
	assert.False(t, IsRich("short answer", offered), "below the length floor")
	assert.False(t, IsRich("https://example.com/some/long/path/to/a/page", offered), "bare URL")
	assert.False(t, IsRich(strings.ToUpper("Local service business"), offered), "option label echo")
	assert.False(t, IsRich("biz:local_service", append(offered, model.Option{ID: "biz:local_service", Label: "x"})), "option id echo")
	assert.True(t, IsRich("https://example.com is our old site and it is badly out of date", offered), "URL inside a sentence")
}

func TestPosture(t *testing.T) {
	decisions := map[string]*model.DecisionItem{}
	assert.Equal(t, PostureExploring, Posture(decisions, false))
	assert.Equal(t, PostureConfirming, Posture(decisions, true))

	decisions[model.KeyBusinessType] = confirmedDecision(model.KeyBusinessType, "local_service")
	assert.Equal(t, PostureDeciding, Posture(decisions, false))

	for _, key := range model.CoreDecisionKeys {
		decisions[key] = confirmedDecision(key, "v")
	}
	assert.Equal(t, PostureDeciding, Posture(decisions, false))

	decisions[model.KeyQualitySignal] = confirmedDecision(model.KeyQualitySignal, "bookings")
	assert.Equal(t, PostureReady, Posture(decisions, false))
}
