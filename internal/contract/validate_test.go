package contract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

// validBody builds a compliant document body with roughly n words.
func validBody(n int) string {
	var b strings.Builder
	b.WriteString("## Purpose\n\n")
	filler := "This section records what the client asked for during intake."
	for WordCount(b.String()) < n-60 {
		b.WriteString(filler)
		b.WriteString(" ")
	}
	b.WriteString("\n\n## Key Decisions\n\nThe client confirmed the core direction of the build.\n")
	b.WriteString("\n## Acceptance Criteria\n\nThe site matches every confirmed decision.\n")
	b.WriteString("\n## Success Measures\n\nSteady inbound bookings within three months.\n")
	b.WriteString("\n## Unknowns\n\nNo open unknowns for this area.\n")
	b.WriteString("\n## Builder Notes\n\n- Check the ledger first.\n- Raise conflicts early.\n- Keep provenance intact.\n")
	return b.String()
}

func validClaim() model.Requirement {
	return model.Requirement{
		ID:    "req-1",
		Text:  "Visitors can book appointments online.",
		Label: model.TrustUserSaid,
		Provenance: []model.ProvenanceLink{
			{ID: "pl-1", Kind: model.ProvenanceTurn, RefID: "turn-1"},
		},
	}
}

func validPacketDocs() []model.ContractDoc {
	docs := make([]model.ContractDoc, 0, len(model.RoleCatalog))
	for _, spec := range model.RoleCatalog {
		docs = append(docs, model.ContractDoc{
			ID:     fmt.Sprintf("doc-%d", spec.ID),
			RoleID: spec.ID,
			Title:  spec.Title,
			Body:   validBody(spec.SoftTarget),
			Claims: []model.Requirement{validClaim()},
		})
	}
	return docs
}

func TestValidPacketPasses(t *testing.T) {
	issues := Validate(validPacketDocs(), nil)
	assert.False(t, Blocking(issues), "unexpected blocking issues: %v", issues)
}

func TestDocCountEnforced(t *testing.T) {
	docs := validPacketDocs()[:9]
	issues := Validate(docs, nil)
	assert.True(t, Blocking(issues))

	var codes []string
	for _, is := range issues {
		codes = append(codes, is.Code)
	}
	assert.Contains(t, codes, "DOC_COUNT")
	assert.Contains(t, codes, "ROLE_MISSING")
}

func TestHardMinimumBlocks(t *testing.T) {
	docs := validPacketDocs()
	// Role 1 has a hard minimum of 170 words; 150 must fail.
	spec, _ := model.RoleByID(1)
	require.Equal(t, 170, spec.HardMin)
	docs[0].Body = validBody(150)
	require.Less(t, WordCount(docs[0].Body), 170)

	issues := Validate(docs, nil)
	require.True(t, Blocking(issues))
	found := false
	for _, is := range issues {
		if is.Code == "BUDGET_UNDER" && is.RoleID == 1 && is.Severity == SeverityBlock {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSoftTargetOnlyWarns(t *testing.T) {
	docs := validPacketDocs()
	spec, _ := model.RoleByID(1)
	docs[0].Body = validBody(spec.HardMin + 30)

	issues := Validate(docs, nil)
	assert.False(t, Blocking(issues))
	found := false
	for _, is := range issues {
		if is.Code == "BUDGET_SOFT" && is.RoleID == 1 && is.Severity == SeverityWarn {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHardMaximumBlocks(t *testing.T) {
	docs := validPacketDocs()
	spec, _ := model.RoleByID(1)
	docs[0].Body = validBody(spec.HardMax + 200)

	issues := Validate(docs, nil)
	assert.True(t, Blocking(issues))
}

func TestMissingHeadingBlocks(t *testing.T) {
	docs := validPacketDocs()
	docs[2].Body = strings.Replace(docs[2].Body, "## Acceptance Criteria", "## Delivery Criteria", 1)

	issues := Validate(docs, nil)
	require.True(t, Blocking(issues))
	found := false
	for _, is := range issues {
		if is.Code == "HEADING_MISSING" && is.RoleID == 3 {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHeadingsMatchedCaseInsensitively(t *testing.T) {
	docs := validPacketDocs()
	docs[0].Body = strings.Replace(docs[0].Body, "## Acceptance Criteria", "## ACCEPTANCE CRITERIA", 1)
	issues := Validate(docs, nil)
	assert.False(t, Blocking(issues))
}

func TestBuilderNotesBulletRange(t *testing.T) {
	docs := validPacketDocs()
	docs[0].Body = strings.Replace(docs[0].Body,
		"- Check the ledger first.\n- Raise conflicts early.\n- Keep provenance intact.\n",
		"- Only one bullet.\n", 1)

	issues := Validate(docs, nil)
	require.True(t, Blocking(issues))

	docs = validPacketDocs()
	var many strings.Builder
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&many, "- Bullet %d.\n", i)
	}
	docs[0].Body = strings.Replace(docs[0].Body,
		"- Check the ledger first.\n- Raise conflicts early.\n- Keep provenance intact.\n",
		many.String(), 1)
	issues = Validate(docs, nil)
	assert.True(t, Blocking(issues))
}

func TestClaimRules(t *testing.T) {
	docs := validPacketDocs()
	docs[0].Claims = nil
	assert.True(t, Blocking(Validate(docs, nil)), "no claims")

	docs = validPacketDocs()
	docs[0].Claims[0].Provenance = nil
	assert.True(t, Blocking(Validate(docs, nil)), "no provenance")

	docs = validPacketDocs()
	docs[0].Claims[0].Label = "GUESSED"
	assert.True(t, Blocking(Validate(docs, nil)), "bad label")

	docs = validPacketDocs()
	docs[0].Claims[0].Text = "   "
	assert.True(t, Blocking(Validate(docs, nil)), "blank text")
}

func TestUnknownSurvival(t *testing.T) {
	decisions := []model.DecisionItem{
		{DecisionKey: "integration_scope", Claim: "unclear", Label: model.TrustUnknown},
	}

	issues := Validate(validPacketDocs(), decisions)
	require.True(t, Blocking(issues))
	found := false
	for _, is := range issues {
		if is.Code == "UNKNOWN_DROPPED" {
			found = true
		}
	}
	assert.True(t, found)

	docs := validPacketDocs()
	docs[8].Claims = append(docs[8].Claims, model.Requirement{
		ID:    "req-u",
		Text:  "Integration scope is unresolved.",
		Label: model.TrustUnknown,
		Provenance: []model.ProvenanceLink{
			{ID: "pl-u", Kind: model.ProvenanceDecision, RefID: "integration_scope"},
		},
	})
	assert.False(t, Blocking(Validate(docs, decisions)))
}
