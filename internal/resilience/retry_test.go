package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDoValRetriesOverloadedProvider(t *testing.T) {
	calls := 0
	out, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Transient(errors.New("overloaded"), 529)
		}
		return "Riverside Yoga offers small-group classes.", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, out, "Riverside Yoga")
}

func TestDoValDoesNotRetryFatalProviderError(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("invalid api key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "fatal errors must fall straight to the deterministic fallback")
}

func TestDoValExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(2), func(ctx context.Context) (string, error) {
		calls++
		return "", Transient(errors.New("bad gateway"), 502)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	var te *TransientError
	assert.True(t, errors.As(err, &te), "the provider's failure detail survives the retries")
}

func TestDoValStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := DoVal(ctx, fastRetry(5), func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", Transient(errors.New("connection reset by peer"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValReportsRetriesToCallback(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error) { attempts = append(attempts, attempt) }

	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (string, error) {
		return "", Transient(errors.New("overloaded"), 529)
	})
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts, "no callback after the final attempt")
}

func TestDelayDoublesAndCaps(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, cfg.delay(0))
	assert.Equal(t, 200*time.Millisecond, cfg.delay(1))
	assert.Equal(t, 300*time.Millisecond, cfg.delay(2))

	cfg.Jitter = 0.5
	d := cfg.delay(0)
	assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	assert.LessOrEqual(t, d, 150*time.Millisecond)
}
