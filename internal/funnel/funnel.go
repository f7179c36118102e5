// Package funnel drives the interview question order. Four core
// decisions are collected in a fixed sequence, then a quality stage,
// then the funnel reports ready. A pending checkpoint always overrides
// the funnel; the engine handles that before asking here.
package funnel

import (
	"strings"

	"github.com/sells-group/intake-cli/internal/model"
)

// Posture labels describe where the interview is, derived from ledger
// state. They are telemetry only and never gate anything.
const (
	PostureExploring  = "exploring"
	PostureDeciding   = "deciding"
	PostureConfirming = "confirming"
	PostureReady      = "ready"
)

// Move labels name what the assistant is doing this turn.
const (
	MoveAskCore        = "ask_core"
	MoveAskQuality     = "ask_quality"
	MoveVerifyArtifact = "verify_artifact"
	MoveAcknowledge    = "acknowledge"
	MoveReady          = "ready"
)

// Stage is one funnel step: the decision key it fills, the option
// prefix its typed answers carry, and the canned prompt.
type Stage struct {
	Key     string
	Prefix  string
	Prompt  string
	Options []model.Option
}

// Stages is the fixed interview order. Typed option IDs carry
// prefix:value; selecting one locks the stage's decision key.
var Stages = []Stage{
	{
		Key:    model.KeyBusinessType,
		Prefix: "biz",
		Prompt: "What kind of business is this for?",
		Options: []model.Option{
			{ID: "biz:local_service", Label: "Local service business"},
			{ID: "biz:online_store", Label: "Online store"},
			{ID: "biz:professional", Label: "Professional practice"},
			{ID: "biz:creator", Label: "Creator or portfolio"},
			{ID: "biz:other", Label: "Something else"},
		},
	},
	{
		Key:    model.KeyPrimaryOutcome,
		Prefix: "outcome",
		Prompt: "What's the main thing a visitor should be able to do?",
		Options: []model.Option{
			{ID: "outcome:book", Label: "Book an appointment"},
			{ID: "outcome:buy", Label: "Buy a product"},
			{ID: "outcome:contact", Label: "Get in touch"},
			{ID: "outcome:subscribe", Label: "Subscribe or sign up"},
			{ID: "outcome:learn", Label: "Learn about the business"},
		},
	},
	{
		Key:    model.KeyLaunchCapabilities,
		Prefix: "cap",
		Prompt: "What does the site need on day one?",
		Options: []model.Option{
			{ID: "cap:booking", Label: "Online booking"},
			{ID: "cap:payments", Label: "Payments"},
			{ID: "cap:catalog", Label: "Product or service catalog"},
			{ID: "cap:forms", Label: "Contact and intake forms"},
			{ID: "cap:content", Label: "Content pages only"},
		},
	},
	{
		Key:    model.KeyMonetizationPath,
		Prefix: "monetize",
		Prompt: "How does money actually come in?",
		Options: []model.Option{
			{ID: "monetize:per_job", Label: "Paid per job or visit"},
			{ID: "monetize:per_sale", Label: "Paid per sale"},
			{ID: "monetize:retainer", Label: "Retainers or contracts"},
			{ID: "monetize:subscription", Label: "Subscriptions"},
			{ID: "monetize:leads", Label: "Leads I close elsewhere"},
		},
	},
	{
		Key:    model.KeyQualitySignal,
		Prefix: "quality",
		Prompt: "What would make you say the site is actually working?",
		Options: []model.Option{
			{ID: "quality:bookings", Label: "Steady bookings"},
			{ID: "quality:sales", Label: "Sales volume"},
			{ID: "quality:inquiries", Label: "Inquiry volume"},
			{ID: "quality:presence", Label: "Looking credible online"},
		},
	},
}

// stageByPrefix maps typed option prefixes back to stages.
var stageByPrefix = func() map[string]*Stage {
	m := make(map[string]*Stage, len(Stages))
	for i := range Stages {
		m[Stages[i].Prefix] = &Stages[i]
	}
	return m
}()

// minRichChars is the floor for free text to count as rich evidence.
const minRichChars = 24

// Next returns the first stage whose decision key is not yet explicitly
// confirmed, or nil when the whole funnel is satisfied.
func Next(decisions map[string]*model.DecisionItem) *Stage {
	for i := range Stages {
		d := decisions[Stages[i].Key]
		if d == nil || !d.ExplicitlyConfirmed() {
			return &Stages[i]
		}
	}
	return nil
}

// ParseOption splits a typed option ID into its prefix and value. The
// second return is false when the ID is not prefix:value shaped.
func ParseOption(optionID string) (prefix, value string, ok bool) {
	i := strings.IndexByte(optionID, ':')
	if i <= 0 || i == len(optionID)-1 {
		return "", "", false
	}
	return optionID[:i], optionID[i+1:], true
}

// StageForOption resolves a typed option ID to the funnel stage it
// answers, or nil for unknown prefixes (checkpoint options included).
func StageForOption(optionID string) *Stage {
	prefix, _, ok := ParseOption(optionID)
	if !ok {
		return nil
	}
	return stageByPrefix[prefix]
}

// IsRich reports whether free text counts as rich evidence: long
// enough, not an echo of an offered option label, and not a bare URL.
func IsRich(text string, offered []model.Option) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minRichChars {
		return false
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		if !strings.ContainsAny(trimmed, " \t\n") {
			return false
		}
	}
	lower := strings.ToLower(trimmed)
	for _, opt := range offered {
		if lower == strings.ToLower(opt.Label) || lower == strings.ToLower(opt.ID) {
			return false
		}
	}
	return true
}

// CoreLocked reports how many of the four core decisions are explicitly
// confirmed.
func CoreLocked(decisions map[string]*model.DecisionItem) int {
	n := 0
	for _, key := range model.CoreDecisionKeys {
		if d := decisions[key]; d != nil && d.ExplicitlyConfirmed() {
			n++
		}
	}
	return n
}

// Posture derives the interview posture label from ledger state.
func Posture(decisions map[string]*model.DecisionItem, pendingCheckpoint bool) string {
	if pendingCheckpoint {
		return PostureConfirming
	}
	locked := CoreLocked(decisions)
	switch {
	case locked == 0:
		return PostureExploring
	case locked < len(model.CoreDecisionKeys):
		return PostureDeciding
	default:
		if d := decisions[model.KeyQualitySignal]; d != nil && d.ExplicitlyConfirmed() {
			return PostureReady
		}
		return PostureDeciding
	}
}
