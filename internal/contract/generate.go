package contract

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/intake-cli/internal/llm"
	"github.com/sells-group/intake-cli/internal/model"
)

var titleCaser = cases.Title(language.English)

// Input is everything document generation reads.
type Input struct {
	ProjectID string
	Cycle     int
	Turns     []model.Turn
	Decisions []model.DecisionItem
	Artifacts []model.ArtifactInput
}

// Generator produces the ten role documents. Each role is generated
// independently; a model failure on any role falls back to the
// deterministic builder, never to an error.
type Generator struct {
	gen llm.Generator
}

func NewGenerator(gen llm.Generator) *Generator {
	return &Generator{gen: gen}
}

const generateSystem = `You write one section of a product requirements packet for a website build.
Use ONLY the interview facts provided. Structure the document with these
exact markdown headings: Purpose, Key Decisions, Acceptance Criteria,
Success Measures, Unknowns, Builder Notes. Builder Notes must be 3 to 6
bullet lines starting with "- ". Do not invent facts.`

// Generate builds all ten documents concurrently. The returned slice is
// ordered by role id and every document is normalized into valid shape.
func (g *Generator) Generate(ctx context.Context, in Input) ([]model.ContractDoc, error) {
	docs := make([]model.ContractDoc, len(model.RoleCatalog))

	eg, ctx := errgroup.WithContext(ctx)
	for i, spec := range model.RoleCatalog {
		eg.Go(func() error {
			body := g.bodyForRole(ctx, spec, in)
			doc := model.ContractDoc{
				ID:     uuid.New().String(),
				RoleID: spec.ID,
				Title:  spec.Title,
				Body:   body,
			}
			Normalize(&doc, spec, in)
			docs[i] = doc
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// bodyForRole tries the model first and falls back to the deterministic
// builder on any failure or empty output.
func (g *Generator) bodyForRole(ctx context.Context, spec model.RoleSpec, in Input) string {
	if g.gen != nil && g.gen.Available() {
		prompt := buildRolePrompt(spec, in)
		out, err := g.gen.Generate(ctx, generateSystem, prompt)
		if err == nil && WordCount(out) > 0 {
			return out
		}
		if err != nil {
			zap.L().Warn("contract: model generation failed, using fallback",
				zap.Int("role_id", spec.ID),
				zap.Error(err),
			)
		}
	}
	return fallbackBody(spec, in)
}

func buildRolePrompt(spec model.RoleSpec, in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s (aim for about %d words, at least %d, at most %d).\n\n", spec.Title, spec.SoftTarget, spec.HardMin, spec.HardMax)
	b.WriteString("Confirmed and inferred decisions:\n")
	for _, d := range in.Decisions {
		fmt.Fprintf(&b, "- %s [%s]: %s\n", d.DecisionKey, d.Label, d.Claim)
	}
	if len(in.Artifacts) > 0 {
		b.WriteString("\nWebsite context:\n")
		for _, a := range in.Artifacts {
			if a.LatestSummary != "" {
				fmt.Fprintf(&b, "- %s (%s): %s\n", a.CanonicalURL, a.VerifyState, a.LatestSummary)
			}
		}
	}
	b.WriteString("\nInterview excerpts:\n")
	for _, t := range in.Turns {
		if t.Actor == model.ActorUser {
			fmt.Fprintf(&b, "- %s\n", t.Text)
		}
	}
	return b.String()
}

// roleDecisionKeys maps each role to the decision keys that ground it.
// Roles without a mapping draw on the full ledger.
var roleDecisionKeys = map[string][]string{
	"vision":       {model.KeyBusinessType, model.KeyPrimaryOutcome},
	"audience":     {model.KeyBusinessType, model.KeyLatestUserIntent},
	"features":     {model.KeyLaunchCapabilities, model.KeyPrimaryOutcome},
	"journeys":     {model.KeyPrimaryOutcome, model.KeyLaunchCapabilities},
	"monetization": {model.KeyMonetizationPath},
	"data":         {model.KeyBusinessType, model.KeyLaunchCapabilities},
	"platform":     {model.KeyLaunchCapabilities},
	"quality":      {model.KeyQualitySignal},
}

// fallbackBody deterministically builds a document from ledger state.
// The output always carries the six required headings and a compliant
// Builder Notes section; Normalize pads it up to the word budget.
func fallbackBody(spec model.RoleSpec, in Input) string {
	relevant := relevantDecisions(spec, in.Decisions)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", spec.Title)

	b.WriteString("## Purpose\n\n")
	fmt.Fprintf(&b, "This document captures the %s view of the build as stated during the intake interview. ", strings.ToLower(spec.Title))
	b.WriteString("Every statement below traces back to something the client said or a recorded assumption, and each carries its trust label so the builder knows what is settled and what is provisional.\n\n")

	b.WriteString("## Key Decisions\n\n")
	if len(relevant) == 0 {
		b.WriteString("No decisions specific to this area were recorded during the interview; the builder should raise it during kickoff.\n\n")
	}
	for _, d := range relevant {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", humanKey(d.DecisionKey), d.Claim, d.Label)
	}
	b.WriteString("\n")

	b.WriteString("## Acceptance Criteria\n\n")
	for _, d := range relevant {
		fmt.Fprintf(&b, "- The delivered site reflects the recorded %s: %s.\n", humanKey(d.DecisionKey), d.Claim)
	}
	fmt.Fprintf(&b, "- The %s content reads consistently with the rest of the packet and contradicts no confirmed decision.\n\n", strings.ToLower(spec.Title))

	b.WriteString("## Success Measures\n\n")
	b.WriteString("Success for this area is judged against the client's own framing from the interview rather than generic benchmarks. ")
	b.WriteString("Where a quality signal was confirmed, that signal is the primary measure; otherwise the builder should agree on one with the client before launch.\n\n")

	b.WriteString("## Unknowns\n\n")
	unknowns := 0
	for _, d := range in.Decisions {
		if d.Label == model.TrustUnknown {
			fmt.Fprintf(&b, "- %s remains unresolved: %s\n", humanKey(d.DecisionKey), d.Claim)
			unknowns++
		}
	}
	if unknowns == 0 {
		b.WriteString("No open unknowns were recorded for this area.\n")
	}
	b.WriteString("\n")

	b.WriteString("## Builder Notes\n\n")
	b.WriteString("- Treat USER_SAID claims as fixed requirements and ASSUMED claims as defaults the client can overturn.\n")
	b.WriteString("- Confirm any UNKNOWN item with the client before building against it.\n")
	b.WriteString("- Keep this document in sync with the others in the packet if scope shifts.\n")

	return b.String()
}

func relevantDecisions(spec model.RoleSpec, decisions []model.DecisionItem) []model.DecisionItem {
	keys, ok := roleDecisionKeys[spec.Key]
	if !ok {
		return decisions
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []model.DecisionItem
	for _, d := range decisions {
		if want[d.DecisionKey] {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return decisions
	}
	return out
}

func humanKey(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}

// Normalize forces a generated document into valid shape: title
// defaulted, missing headings appended, Builder Notes brought into the
// 3-6 bullet range, at least one claim synthesized from the ledger, and
// the body padded up to the role's hard minimum word count.
func Normalize(doc *model.ContractDoc, spec model.RoleSpec, in Input) {
	if strings.TrimSpace(doc.Title) == "" {
		doc.Title = spec.Title
	}

	lower := strings.ToLower(doc.Body)
	for _, heading := range model.RequiredHeadings {
		if !strings.Contains(lower, strings.ToLower(heading)) {
			if heading == "Builder Notes" {
				doc.Body += fmt.Sprintf("\n\n## %s\n\n- Review this area with the client at kickoff.\n- Flag any assumption that turns out wrong before building on it.\n- Keep provenance links intact when revising requirements.\n", heading)
			} else {
				doc.Body += fmt.Sprintf("\n\n## %s\n\nTo be elaborated with the client; nothing in the interview contradicts the rest of this document.\n", heading)
			}
			lower = strings.ToLower(doc.Body)
		}
	}

	if n := builderNoteBullets(doc.Body); n < builderNotesMinBullets {
		extra := []string{
			"- Cross-check this section against the confirmed decision ledger before implementation.",
			"- Surface any contradiction with another packet document rather than resolving it silently.",
			"- Prefer the client's recorded wording over paraphrase when in doubt.",
		}
		var add []string
		for i := 0; i < builderNotesMinBullets-n && i < len(extra); i++ {
			add = append(add, extra[i])
		}
		doc.Body += "\n" + strings.Join(add, "\n") + "\n"
	}

	if len(doc.Claims) == 0 {
		doc.Claims = synthesizeClaims(doc.ID, spec, in)
	}
	for i := range doc.Claims {
		if len(doc.Claims[i].Provenance) == 0 {
			doc.Claims[i].Provenance = []model.ProvenanceLink{selfProvenance(in)}
		}
	}

	padBody(doc, spec, in)
}

// synthesizeClaims derives claims from the ledger decisions relevant to
// the role, falling back to a single UNKNOWN claim when the ledger has
// nothing for it.
func synthesizeClaims(docID string, spec model.RoleSpec, in Input) []model.Requirement {
	relevant := relevantDecisions(spec, in.Decisions)
	var claims []model.Requirement
	for _, d := range relevant {
		claims = append(claims, model.Requirement{
			ID:         uuid.New().String(),
			DocID:      docID,
			Text:       fmt.Sprintf("%s: %s", humanKey(d.DecisionKey), d.Claim),
			Label:      d.Label,
			Provenance: provenanceFromRefs(d),
		})
	}
	if spec.Key == "risks" {
		for _, d := range in.Decisions {
			if d.Label == model.TrustUnknown && !containsDecision(relevant, d.DecisionKey) {
				claims = append(claims, model.Requirement{
					ID:         uuid.New().String(),
					DocID:      docID,
					Text:       fmt.Sprintf("%s is unresolved: %s", humanKey(d.DecisionKey), d.Claim),
					Label:      model.TrustUnknown,
					Provenance: provenanceFromRefs(d),
				})
			}
		}
	}
	if len(claims) == 0 {
		claims = append(claims, model.Requirement{
			ID:         uuid.New().String(),
			DocID:      docID,
			Text:       fmt.Sprintf("No interview evidence covers %s yet.", strings.ToLower(spec.Title)),
			Label:      model.TrustUnknown,
			Provenance: []model.ProvenanceLink{selfProvenance(in)},
		})
	}
	return claims
}

func containsDecision(decisions []model.DecisionItem, key string) bool {
	for _, d := range decisions {
		if d.DecisionKey == key {
			return true
		}
	}
	return false
}

// provenanceFromRefs converts a decision's stored "kind:ref" strings to
// links, defaulting to the decision's own row when none exist.
func provenanceFromRefs(d model.DecisionItem) []model.ProvenanceLink {
	var links []model.ProvenanceLink
	for _, ref := range d.ProvenanceRefs {
		kind, refID, ok := strings.Cut(ref, ":")
		if !ok {
			continue
		}
		links = append(links, model.ProvenanceLink{
			ID:    uuid.New().String(),
			Kind:  model.ProvenanceKind(kind),
			RefID: refID,
		})
	}
	if len(links) == 0 {
		links = append(links, model.ProvenanceLink{
			ID:    uuid.New().String(),
			Kind:  model.ProvenanceDecision,
			RefID: d.DecisionKey,
		})
	}
	return links
}

// selfProvenance points at the most recent user turn, or the first
// decision when no turns exist, so provenance is never empty.
func selfProvenance(in Input) model.ProvenanceLink {
	for i := len(in.Turns) - 1; i >= 0; i-- {
		if in.Turns[i].Actor == model.ActorUser {
			return model.ProvenanceLink{ID: uuid.New().String(), Kind: model.ProvenanceTurn, RefID: in.Turns[i].ID}
		}
	}
	if len(in.Decisions) > 0 {
		return model.ProvenanceLink{ID: uuid.New().String(), Kind: model.ProvenanceDecision, RefID: in.Decisions[0].DecisionKey}
	}
	return model.ProvenanceLink{ID: uuid.New().String(), Kind: model.ProvenanceTurn, RefID: "origin"}
}

// padSentences is the deterministic elaboration bank used to bring a
// thin document up to its hard minimum word count.
var padSentences = []string{
	"The builder should read this section together with the decision ledger, since every requirement here is anchored to a recorded claim rather than free interpretation.",
	"Where the client's wording was ambiguous, the recorded claim keeps the client's phrasing, and the trust label marks how much weight to give it.",
	"Scope changes during the build must flow back into this packet so the documents and the ledger never disagree about what was promised.",
	"Anything marked ASSUMED is a working default chosen to keep the project moving; the client can overturn it without renegotiating confirmed decisions.",
	"Anything marked UNKNOWN is a deliberate gap; resolving it is part of the build, not a prerequisite for starting it.",
	"The acceptance criteria above are checked against the delivered site as a whole, not against individual pages in isolation.",
	"If two documents in this packet appear to conflict, the one grounded in a USER_SAID decision wins, and the conflict should be raised with the client.",
	"The interview transcript remains the final arbiter of intent; this document summarizes it but does not replace it.",
}

// padBody appends elaboration sentences until the body reaches the hard
// minimum, then stops well clear of the hard maximum.
func padBody(doc *model.ContractDoc, spec model.RoleSpec, in Input) {
	words := WordCount(doc.Body)
	if words >= spec.HardMin {
		return
	}
	var b strings.Builder
	b.WriteString(doc.Body)
	b.WriteString("\n\n")
	i := 0
	for words < spec.HardMin && words < spec.HardMax-40 {
		s := padSentences[i%len(padSentences)]
		b.WriteString(s)
		b.WriteString(" ")
		words += WordCount(s)
		i++
	}
	doc.Body = strings.TrimSpace(b.String())
}
