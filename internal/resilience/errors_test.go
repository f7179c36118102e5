package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient_MarkedError(t *testing.T) {
	base := errors.New("overloaded")
	err := Transient(base, http.StatusTooManyRequests)
	assert.True(t, IsTransient(err))
	assert.True(t, IsTransient(fmt.Errorf("llm: generate: %w", err)))
	assert.Equal(t, http.StatusTooManyRequests, err.StatusCode)
	assert.True(t, errors.Is(err, base))
}

func TestIsTransient_NetworkPatterns(t *testing.T) {
	for _, msg := range []string{
		"read tcp 10.0.0.1:443: connection reset by peer",
		"write: broken pipe",
		"dial tcp: lookup api.example.com: no such host",
		"context deadline exceeded (i/o timeout)",
		"net/http: tls handshake timeout",
	} {
		assert.True(t, IsTransient(errors.New(msg)), "message %q", msg)
	}
}

func TestIsTransient_FatalErrors(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("invalid api key")))
	// A provider rejection is not retryable without the transient mark.
	assert.False(t, IsTransient(errors.New("model does not exist")))
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422, 505} {
		assert.False(t, RetryableStatus(code), "status %d", code)
	}
}

func TestTransientErrorUnwraps(t *testing.T) {
	base := errors.New("bad gateway")
	var te *TransientError
	require.True(t, errors.As(fmt.Errorf("wrap: %w", Transient(base, 502)), &te))
	assert.Equal(t, 502, te.StatusCode)
}
