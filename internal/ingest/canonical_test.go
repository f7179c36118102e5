package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://Example.COM/About", "https://example.com/About"},
		{"strips default port", "https://example.com:443/", "https://example.com/"},
		{"strips fragment", "https://example.com/page#section", "https://example.com/page"},
		{"adds root path", "https://example.com", "https://example.com/"},
		{"keeps query", "https://example.com/?ref=ad", "https://example.com/?ref=ad"},
		{"trims whitespace", "  https://example.com/  ", "https://example.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		code string
	}{
		{"empty", "", model.IngestErrInvalidURL},
		{"http", "http://example.com/", model.IngestErrInvalidURL},
		{"ftp", "ftp://example.com/", model.IngestErrInvalidURL},
		{"no host", "https:///path", model.IngestErrInvalidURL},
		{"loopback ip", "https://127.0.0.1/", model.IngestErrHostBlocked},
		{"private ten", "https://10.0.0.5/", model.IngestErrHostBlocked},
		{"private 172", "https://172.16.0.1/", model.IngestErrHostBlocked},
		{"private 192", "https://192.168.1.1/", model.IngestErrHostBlocked},
		{"link local", "https://169.254.1.1/", model.IngestErrHostBlocked},
		{"unspecified", "https://0.0.0.0/", model.IngestErrHostBlocked},
		{"localhost", "https://localhost/", model.IngestErrHostBlocked},
		{"localhost subdomain", "https://api.localhost/admin", model.IngestErrHostBlocked},
		{"ipv6 loopback", "https://[::1]/", model.IngestErrHostBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Canonicalize(tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.code, ErrorCode(err))
		})
	}
}

func TestKeyDeterministic(t *testing.T) {
	a := Key("proj-1", 1, "https://example.com/")
	b := Key("proj-1", 1, "https://example.com/")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Key("proj-2", 1, "https://example.com/"))
	assert.NotEqual(t, a, Key("proj-1", 2, "https://example.com/"))
	assert.NotEqual(t, a, Key("proj-1", 1, "https://example.com/about"))
}
