package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("backend down")

func failing() error { return errDown }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Settings{FailureThreshold: 3, CoolOff: time.Hour})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(failing), errDown)
	}
	assert.Equal(t, Open, b.State())

	// Shedding: the backend is not called.
	calls := 0
	err := b.Do(func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 0, calls)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, SuccessThreshold: 2, CoolOff: 10 * time.Millisecond, MaxProbes: 2})

	require.ErrorIs(t, b.Do(failing), errDown)
	require.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	require.NoError(t, b.Do(func() error { return nil }))
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, Closed, b.State())
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, CoolOff: 10 * time.Millisecond})

	require.ErrorIs(t, b.Do(failing), errDown)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	assert.ErrorIs(t, b.Do(failing), errDown)
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Do(failing), ErrOpen)
}

func TestBreakerFailuresResetOnSuccess(t *testing.T) {
	b := New(Settings{FailureThreshold: 2, CoolOff: time.Hour})

	require.ErrorIs(t, b.Do(failing), errDown)
	require.NoError(t, b.Do(func() error { return nil }))
	require.ErrorIs(t, b.Do(failing), errDown)

	// Never two consecutive failures, so still closed.
	assert.Equal(t, Closed, b.State())
}
