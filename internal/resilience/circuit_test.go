package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBreaker returns a breaker with a controllable clock.
func testBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: threshold, Cooldown: cooldown})
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func fail(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("overloaded")
	})
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := testBreaker(3, time.Minute)

	require.Error(t, fail(cb))
	require.Error(t, fail(cb))
	assert.Equal(t, CircuitClosed, cb.State())

	require.Error(t, fail(cb))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestOpenBreakerRejectsWithoutCallingProvider(t *testing.T) {
	cb, _ := testBreaker(1, time.Minute)
	require.Error(t, fail(cb))

	calls := 0
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _ := testBreaker(2, time.Minute)
	require.Error(t, fail(cb))
	require.NoError(t, succeed(cb))
	require.Error(t, fail(cb))
	assert.Equal(t, CircuitClosed, cb.State(), "non-consecutive failures never open the circuit")
}

func TestProbeAfterCooldownClosesOnSuccess(t *testing.T) {
	cb, now := testBreaker(1, time.Minute)
	require.Error(t, fail(cb))
	require.ErrorIs(t, fail(cb), ErrCircuitOpen)

	*now = now.Add(time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, succeed(cb))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestFailedProbeReopens(t *testing.T) {
	cb, now := testBreaker(1, time.Minute)
	require.Error(t, fail(cb))

	*now = now.Add(time.Minute)
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("still down")
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCircuitOpen, "the probe itself must reach the provider")
	assert.Equal(t, CircuitOpen, cb.State())

	// The cooldown restarts from the failed probe.
	require.ErrorIs(t, fail(cb), ErrCircuitOpen)
}
