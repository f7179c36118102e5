package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

func TestStrengthMeasuresCoverage(t *testing.T) {
	spec, _ := model.RoleByID(1)
	doc := model.ContractDoc{
		RoleID: 1,
		Body:   validBody(spec.SoftTarget),
		Claims: []model.Requirement{
			validClaim(),
			{ID: "req-2", Text: "No evidence for this one.", Label: model.TrustAssumed},
		},
	}

	s := Strength(doc, spec)
	assert.Equal(t, 2, s.ClaimCount)
	assert.InDelta(t, 0.5, s.ProvenanceCoverage, 0.001)
	assert.True(t, s.Weak, "half coverage is below the weak floor")
}

func TestStrengthUnknownCeiling(t *testing.T) {
	spec, _ := model.RoleByID(1)
	unknown := func(id string) model.Requirement {
		c := validClaim()
		c.ID = id
		c.Label = model.TrustUnknown
		return c
	}
	doc := model.ContractDoc{
		RoleID: 1,
		Body:   validBody(spec.SoftTarget),
		Claims: []model.Requirement{validClaim(), unknown("u1"), unknown("u2")},
	}

	s := Strength(doc, spec)
	assert.Equal(t, 2, s.UnknownClaims)
	assert.True(t, s.Weak)
}

func TestStrengthenRepairsOnlyWeakDocs(t *testing.T) {
	in := generatorInput()
	spec, _ := model.RoleByID(1)

	healthy := model.ContractDoc{
		ID:     "d-ok",
		RoleID: 2,
		Title:  "Target Audience",
		Body:   validBody(320),
		Claims: []model.Requirement{validClaim()},
	}
	healthyBody := healthy.Body

	weak := model.ContractDoc{ID: "d-weak", RoleID: spec.ID, Body: "Too thin."}
	docs := []model.ContractDoc{weak, healthy}

	strengths := Strengthen(docs, in)
	require.Len(t, strengths, 2)

	assert.False(t, strengths[0].Weak, "weak doc repaired")
	assert.GreaterOrEqual(t, WordCount(docs[0].Body), spec.HardMin)
	assert.NotEmpty(t, docs[0].Claims)

	assert.Equal(t, healthyBody, docs[1].Body, "healthy doc untouched")
}

func TestSnapshotNeverMutates(t *testing.T) {
	weak := model.ContractDoc{ID: "d1", RoleID: 1, Body: "Too thin."}
	docs := []model.ContractDoc{weak}

	strengths := Snapshot(docs)
	require.Len(t, strengths, 1)
	assert.True(t, strengths[0].Weak)
	assert.Equal(t, "Too thin.", docs[0].Body)
}
