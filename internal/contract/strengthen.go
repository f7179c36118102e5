package contract

import (
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
)

// weakCoverageFloor is the claim-provenance coverage below which a
// document counts as weak.
const weakCoverageFloor = 0.6

// weakUnknownCeiling is the UNKNOWN claim count at which a document
// counts as weak.
const weakUnknownCeiling = 2

// Strength measures one document against its role spec.
func Strength(doc model.ContractDoc, spec model.RoleSpec) model.DocStrength {
	s := model.DocStrength{
		RoleID:     spec.ID,
		WordCount:  WordCount(doc.Body),
		ClaimCount: len(doc.Claims),
	}
	withProvenance := 0
	for _, c := range doc.Claims {
		if len(c.Provenance) > 0 {
			withProvenance++
		}
		if c.Label == model.TrustUnknown {
			s.UnknownClaims++
		}
	}
	if len(doc.Claims) > 0 {
		s.ProvenanceCoverage = float64(withProvenance) / float64(len(doc.Claims))
	}
	s.Weak = s.WordCount < spec.HardMin ||
		s.ProvenanceCoverage < weakCoverageFloor ||
		s.UnknownClaims >= weakUnknownCeiling
	return s
}

// Strengthen re-normalizes only the weak documents in place, padding
// thin bodies and restoring provenance. Documents that already pass are
// never touched, so a strengthen run cannot regress a healthy role.
func Strengthen(docs []model.ContractDoc, in Input) []model.DocStrength {
	strengths := make([]model.DocStrength, 0, len(docs))
	for i := range docs {
		spec, ok := model.RoleByID(docs[i].RoleID)
		if !ok {
			continue
		}
		s := Strength(docs[i], spec)
		if s.Weak {
			Normalize(&docs[i], spec, in)
			s = Strength(docs[i], spec)
			zap.L().Info("contract: strengthened weak document",
				zap.Int("role_id", spec.ID),
				zap.Int("words", s.WordCount),
			)
		}
		strengths = append(strengths, s)
	}
	return strengths
}

// Snapshot computes strengths for every document without modifying any.
func Snapshot(docs []model.ContractDoc) []model.DocStrength {
	strengths := make([]model.DocStrength, 0, len(docs))
	for _, doc := range docs {
		spec, ok := model.RoleByID(doc.RoleID)
		if !ok {
			continue
		}
		strengths = append(strengths, Strength(doc, spec))
	}
	return strengths
}
