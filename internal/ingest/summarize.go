package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/llm"
)

const (
	// maxSummaryInput keeps the prompt inside a predictable token budget.
	maxSummaryInput = 12_000

	confidenceLLM      = 0.6
	confidenceFallback = 0.3
)

const summarizeSystem = `You summarize business websites for a product intake interview.
Write 2-4 sentences describing what the business does, who it serves, and
how it appears to make money. State only what the page supports. If the
page does not support a detail, leave it out. Do not speculate.`

// Summarizer turns extracted page text into a short summary. When no
// model is available, or the model call fails, it degrades to a
// deterministic first-sentences fallback so ingestion never blocks on
// the model.
type Summarizer struct {
	gen llm.Generator
}

func NewSummarizer(gen llm.Generator) *Summarizer {
	return &Summarizer{gen: gen}
}

// SummaryResult carries the summary text plus how it was produced.
type SummaryResult struct {
	Text       string
	Confidence float64
	Fallback   bool
}

// Summarize produces a summary of extracted text. Errors never escape;
// the fallback path always yields a usable summary.
func (s *Summarizer) Summarize(ctx context.Context, canonicalURL, title, text string) *SummaryResult {
	if len(text) > maxSummaryInput {
		text = text[:maxSummaryInput]
	}

	if s.gen != nil && s.gen.Available() {
		prompt := fmt.Sprintf("URL: %s\nTitle: %s\n\nPage text:\n%s", canonicalURL, title, text)
		out, err := s.gen.Generate(ctx, summarizeSystem, prompt)
		if err == nil && strings.TrimSpace(out) != "" {
			return &SummaryResult{
				Text:       strings.TrimSpace(out),
				Confidence: confidenceLLM,
			}
		}
		if err != nil {
			zap.L().Warn("ingest: summarize model call failed, using fallback",
				zap.String("url", canonicalURL),
				zap.Error(err),
			)
		}
	}

	return &SummaryResult{
		Text:       fallbackSummary(title, text),
		Confidence: confidenceFallback,
		Fallback:   true,
	}
}

// fallbackSummary frames the first three sentences of the page as an
// unverified excerpt, so downstream verification treats it with low
// trust.
func fallbackSummary(title, text string) string {
	lead := firstSentences(text, 3)
	if title != "" {
		return fmt.Sprintf("Unverified excerpt from %q: %s", title, lead)
	}
	return "Unverified page excerpt: " + lead
}

// firstSentences returns up to n sentences, splitting on terminal
// punctuation followed by a space.
func firstSentences(text string, n int) string {
	var out strings.Builder
	count := 0
	start := 0
	for i := 0; i < len(text)-1 && count < n; i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && text[i+1] == ' ' {
			out.WriteString(text[start : i+1])
			out.WriteByte(' ')
			start = i + 2
			count++
		}
	}
	if count < n && start < len(text) {
		rest := text[start:]
		if len(rest) > 400 {
			rest = rest[:400]
		}
		out.WriteString(rest)
	}
	return strings.TrimSpace(out.String())
}
