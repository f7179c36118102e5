package contract

import (
	"fmt"
	"strings"

	"github.com/sells-group/intake-cli/internal/model"
)

// Severity tags a validation issue. Block issues abort the commit;
// warns are reported and ignored.
type Severity string

const (
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
)

// Issue is one validation finding against a packet.
type Issue struct {
	Severity Severity `json:"severity"`
	RoleID   int      `json:"role_id,omitempty"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

const (
	builderNotesMinBullets = 3
	builderNotesMaxBullets = 6
)

// Validate checks a packet against the full rule set and returns every
// issue found. It is a pure function; passing the same docs and
// decisions always yields the same issues.
func Validate(docs []model.ContractDoc, decisions []model.DecisionItem) []Issue {
	var issues []Issue

	if len(docs) != len(model.RoleCatalog) {
		issues = append(issues, Issue{
			Severity: SeverityBlock,
			Code:     "DOC_COUNT",
			Message:  fmt.Sprintf("packet has %d documents, want %d", len(docs), len(model.RoleCatalog)),
		})
	}

	seen := make(map[int]bool, len(docs))
	for _, doc := range docs {
		if _, ok := model.RoleByID(doc.RoleID); !ok {
			issues = append(issues, Issue{
				Severity: SeverityBlock,
				RoleID:   doc.RoleID,
				Code:     "ROLE_UNKNOWN",
				Message:  fmt.Sprintf("role id %d is not in the catalog", doc.RoleID),
			})
			continue
		}
		if seen[doc.RoleID] {
			issues = append(issues, Issue{
				Severity: SeverityBlock,
				RoleID:   doc.RoleID,
				Code:     "ROLE_DUPLICATE",
				Message:  fmt.Sprintf("role id %d appears more than once", doc.RoleID),
			})
		}
		seen[doc.RoleID] = true
	}
	for _, spec := range model.RoleCatalog {
		if !seen[spec.ID] {
			issues = append(issues, Issue{
				Severity: SeverityBlock,
				RoleID:   spec.ID,
				Code:     "ROLE_MISSING",
				Message:  fmt.Sprintf("role %d (%s) is missing", spec.ID, spec.Title),
			})
		}
	}

	for _, doc := range docs {
		spec, ok := model.RoleByID(doc.RoleID)
		if !ok {
			continue
		}
		issues = append(issues, validateDoc(doc, spec)...)
	}

	issues = append(issues, validateUnknownSurvival(docs, decisions)...)
	return issues
}

// Blocking reports whether any issue blocks the commit.
func Blocking(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

func validateDoc(doc model.ContractDoc, spec model.RoleSpec) []Issue {
	var issues []Issue

	words := WordCount(doc.Body)
	switch {
	case words < spec.HardMin:
		issues = append(issues, Issue{
			Severity: SeverityBlock,
			RoleID:   spec.ID,
			Code:     "BUDGET_UNDER",
			Message:  fmt.Sprintf("%s has %d words, hard minimum is %d", spec.Title, words, spec.HardMin),
		})
	case words > spec.HardMax:
		issues = append(issues, Issue{
			Severity: SeverityBlock,
			RoleID:   spec.ID,
			Code:     "BUDGET_OVER",
			Message:  fmt.Sprintf("%s has %d words, hard maximum is %d", spec.Title, words, spec.HardMax),
		})
	case words < spec.SoftTarget:
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			RoleID:   spec.ID,
			Code:     "BUDGET_SOFT",
			Message:  fmt.Sprintf("%s has %d words, soft target is %d", spec.Title, words, spec.SoftTarget),
		})
	}

	lowerBody := strings.ToLower(doc.Body)
	for _, heading := range model.RequiredHeadings {
		if !strings.Contains(lowerBody, strings.ToLower(heading)) {
			issues = append(issues, Issue{
				Severity: SeverityBlock,
				RoleID:   spec.ID,
				Code:     "HEADING_MISSING",
				Message:  fmt.Sprintf("%s is missing the %q section", spec.Title, heading),
			})
		}
	}

	bullets := builderNoteBullets(doc.Body)
	if bullets < builderNotesMinBullets || bullets > builderNotesMaxBullets {
		issues = append(issues, Issue{
			Severity: SeverityBlock,
			RoleID:   spec.ID,
			Code:     "BUILDER_NOTES",
			Message: fmt.Sprintf("%s has %d builder note bullets, want %d to %d",
				spec.Title, bullets, builderNotesMinBullets, builderNotesMaxBullets),
		})
	}

	if len(doc.Claims) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityBlock,
			RoleID:   spec.ID,
			Code:     "NO_CLAIMS",
			Message:  fmt.Sprintf("%s carries no claims", spec.Title),
		})
	}
	for _, claim := range doc.Claims {
		if !claim.Label.Valid() {
			issues = append(issues, Issue{
				Severity: SeverityBlock,
				RoleID:   spec.ID,
				Code:     "CLAIM_LABEL",
				Message:  fmt.Sprintf("%s has a claim with invalid trust label %q", spec.Title, claim.Label),
			})
		}
		if strings.TrimSpace(claim.Text) == "" {
			issues = append(issues, Issue{
				Severity: SeverityBlock,
				RoleID:   spec.ID,
				Code:     "CLAIM_EMPTY",
				Message:  fmt.Sprintf("%s has a claim with blank text", spec.Title),
			})
		}
		if len(claim.Provenance) == 0 {
			issues = append(issues, Issue{
				Severity: SeverityBlock,
				RoleID:   spec.ID,
				Code:     "CLAIM_NO_PROVENANCE",
				Message:  fmt.Sprintf("%s has a claim with no provenance", spec.Title),
			})
		}
	}

	return issues
}

// validateUnknownSurvival enforces the packet-level invariant: an
// UNKNOWN ledger decision must surface as at least one UNKNOWN claim
// somewhere in the packet, so unresolved meaning is never silently
// resolved away.
func validateUnknownSurvival(docs []model.ContractDoc, decisions []model.DecisionItem) []Issue {
	hasUnknownDecision := false
	for _, d := range decisions {
		if d.Label == model.TrustUnknown {
			hasUnknownDecision = true
			break
		}
	}
	if !hasUnknownDecision {
		return nil
	}
	for _, doc := range docs {
		for _, claim := range doc.Claims {
			if claim.Label == model.TrustUnknown {
				return nil
			}
		}
	}
	return []Issue{{
		Severity: SeverityBlock,
		Code:     "UNKNOWN_DROPPED",
		Message:  "ledger carries UNKNOWN decisions but no packet claim is labeled UNKNOWN",
	}}
}

// builderNoteBullets counts bullet lines under the Builder Notes
// heading, stopping at the next heading or end of document.
func builderNoteBullets(body string) int {
	lines := strings.Split(body, "\n")
	inSection := false
	count := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.Contains(lower, "builder notes") {
			inSection = true
			continue
		}
		if inSection {
			if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(lower, "## ") {
				break
			}
			if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
				count++
			}
		}
	}
	return count
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
