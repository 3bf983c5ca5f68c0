package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnagent/lnagent/internal/core"
)

func testBackoff(now *time.Time) *Backoff {
	b := NewBackoff(BackoffConfig{
		BaseDelay:           time.Second,
		MaxDelay:            30 * time.Second,
		Jitter:              500 * time.Millisecond,
		CircuitBreakerAfter: 3,
		CircuitBreakerOpen:  2 * time.Minute,
	})
	b.Clock = func() time.Time { return *now }
	return b
}

func TestBackoffExponentialDelay(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBackoff(BackoffConfig{
		BaseDelay:           time.Second,
		MaxDelay:            5 * time.Second,
		CircuitBreakerAfter: 100,
		CircuitBreakerOpen:  time.Minute,
	})
	b.Clock = func() time.Time { return now }

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, want := range expected {
		require.Equal(t, want, b.NoteFailure(uint64(i), 0), "attempt %d", i+1)
	}
	require.True(t, b.Blocked())
	require.False(t, b.CircuitOpen())
	require.Equal(t, 5*time.Second, b.Remaining())
}

func TestBackoffCircuitOpensAfterThreshold(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := testBackoff(&now)

	for i := 0; i < 3; i++ {
		b.NoteFailure(7, 0)
	}

	require.True(t, b.CircuitOpen())
	require.True(t, b.Blocked())
	state := b.State()
	assert.Equal(t, uint32(0), state.Attempt)
	assert.Equal(t, uint32(0), state.ConsecutiveFailures)
	assert.Equal(t, now.Add(2*time.Minute), state.CircuitOpenUntil)

	now = now.Add(2*time.Minute - time.Millisecond)
	require.True(t, b.Blocked())

	now = now.Add(time.Millisecond)
	require.False(t, b.Blocked())
	require.False(t, b.CircuitOpen())
}

func TestBackoffSuccessResetsConsecutive(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := testBackoff(&now)

	b.NoteFailure(1, 0)
	b.NoteFailure(2, 0)
	require.Equal(t, uint32(2), b.State().ConsecutiveFailures)

	b.NoteSuccess()
	state := b.State()
	require.Equal(t, uint32(0), state.ConsecutiveFailures)
	require.Equal(t, uint32(0), state.Attempt)
	require.False(t, b.Blocked())

	b.NoteFailure(3, 0)
	b.NoteFailure(4, 0)
	require.False(t, b.CircuitOpen())
}

func TestBackoffSuccessLeavesCircuitOpen(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := testBackoff(&now)

	for i := 0; i < 3; i++ {
		b.NoteFailure(uint64(i), 0)
	}
	b.NoteSuccess()
	require.True(t, b.CircuitOpen())
}

func TestBackoffDeterministicJitter(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	steps := []struct {
		key        uint64
		retryAfter time.Duration
	}{
		{key: 11}, {key: 12, retryAfter: 3 * time.Second}, {key: 13},
		{key: 99}, {key: 100, retryAfter: 10 * time.Second},
	}

	run := func(start time.Time) []time.Duration {
		now := start
		b := testBackoff(&now)
		var out []time.Duration
		for _, step := range steps {
			b.NoteFailure(step.key, step.retryAfter)
			out = append(out, b.State().BlockedUntil.Sub(start))
			now = now.Add(time.Second)
		}
		return out
	}

	first := run(base)
	second := run(base.Add(17 * time.Hour))
	require.Equal(t, first, second)
}

func TestBackoffRetryAfterHint(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := testBackoff(&now)

	delay := b.NoteFailure(5, 20*time.Second)
	require.Equal(t, 20*time.Second, delay)
	require.Equal(t, now.Add(20*time.Second), b.State().BlockedUntil)
}

func TestBackoffNeverShortensBlock(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBackoff(BackoffConfig{
		BaseDelay:           time.Second,
		MaxDelay:            time.Minute,
		CircuitBreakerAfter: 10,
		CircuitBreakerOpen:  time.Minute,
	})
	b.Clock = func() time.Time { return now }

	b.NoteFailure(1, 45*time.Second)
	until := b.State().BlockedUntil

	b.NoteFailure(2, 0)
	require.Equal(t, until, b.State().BlockedUntil)
}

func TestJitterBounds(t *testing.T) {
	require.Zero(t, Jitter(42, 0))
	for key := uint64(0); key < 200; key++ {
		j := Jitter(key, 250*time.Millisecond)
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.LessOrEqual(t, j, 250*time.Millisecond)
		require.Equal(t, j, Jitter(key, 250*time.Millisecond))
	}
}

func TestBackoffRestore(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := testBackoff(&now)

	b.Restore(core.BackoffState{
		Attempt:          1,
		CircuitOpenUntil: now.Add(time.Minute),
	})
	assert.True(t, b.CircuitOpen())
	assert.Equal(t, time.Minute, b.Remaining())

	// The restored attempt counter continues the exponential schedule.
	delay := b.NoteFailure(0, 0)
	assert.Equal(t, 2*time.Second+Jitter(0, 500*time.Millisecond), delay)

	now = now.Add(2 * time.Minute)
	assert.False(t, b.Blocked())
}
