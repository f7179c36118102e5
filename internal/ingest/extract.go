package ingest

import (
	"html"
	"regexp"
	"strings"

	"github.com/sells-group/intake-cli/internal/model"
)

// minExtractChars is the floor below which an extraction is treated as
// too thin to summarize.
const minExtractChars = 80

var (
	scriptRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleRe   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	tagRe     = regexp.MustCompile(`(?s)<[^>]+>`)
	spaceRe   = regexp.MustCompile(`\s+`)
	titleRe   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// ExtractResult is the readable text pulled out of a fetched page.
type ExtractResult struct {
	Title string
	Text  string
}

// Extract strips markup from a fetched body and collapses whitespace.
// Plain text passes through untouched apart from whitespace collapse.
// Returns EXTRACT_TOO_SMALL when fewer than 80 characters survive.
func Extract(body []byte, contentType string) (*ExtractResult, error) {
	raw := string(body)
	res := &ExtractResult{}

	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html") {
		if m := titleRe.FindStringSubmatch(raw); m != nil {
			res.Title = collapse(html.UnescapeString(m[1]))
		}
		raw = scriptRe.ReplaceAllString(raw, " ")
		raw = styleRe.ReplaceAllString(raw, " ")
		raw = commentRe.ReplaceAllString(raw, " ")
		raw = tagRe.ReplaceAllString(raw, " ")
		raw = html.UnescapeString(raw)
	}

	res.Text = collapse(raw)
	if len(res.Text) < minExtractChars {
		return nil, codedErr(model.IngestErrExtractTooSmall,
			"extracted %d chars, need at least %d", len(res.Text), minExtractChars)
	}
	return res, nil
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
