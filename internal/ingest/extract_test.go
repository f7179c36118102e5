package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

func TestExtractHTML(t *testing.T) {
	html := `<html><head>
		<title>Acme Plumbing &amp; Heating</title>
		<style>body { color: red }</style>
		<script>alert("hi")</script>
	</head><body>
		<!-- nav comment -->
		<h1>Acme Plumbing</h1>
		<p>Family-owned plumbing and heating serving the valley since 1987. We handle emergency repairs, boiler installs, and seasonal maintenance.</p>
	</body></html>`

	res, err := Extract([]byte(html), "text/html")
	require.NoError(t, err)

	assert.Equal(t, "Acme Plumbing & Heating", res.Title)
	assert.Contains(t, res.Text, "Family-owned plumbing")
	assert.NotContains(t, res.Text, "alert")
	assert.NotContains(t, res.Text, "color: red")
	assert.NotContains(t, res.Text, "nav comment")
	assert.NotContains(t, res.Text, "<p>")
}

func TestExtractPlainTextPassthrough(t *testing.T) {
	text := "We are a small bakery in Portland.   We sell\n\nsourdough and pastries to local cafes and markets."
	res, err := Extract([]byte(text), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "We are a small bakery in Portland. We sell sourdough and pastries to local cafes and markets.", res.Text)
	assert.Empty(t, res.Title)
}

func TestExtractTooSmall(t *testing.T) {
	_, err := Extract([]byte("<html><body>Hi</body></html>"), "text/html")
	require.Error(t, err)
	assert.Equal(t, model.IngestErrExtractTooSmall, ErrorCode(err))
}

func TestExtractCollapsesWhitespace(t *testing.T) {
	body := "<div>" + strings.Repeat("word  \n\t ", 40) + "</div>"
	res, err := Extract([]byte(body), "text/html")
	require.NoError(t, err)
	assert.NotContains(t, res.Text, "  ")
}
