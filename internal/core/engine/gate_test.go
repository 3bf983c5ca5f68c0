package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGateSinglePermit(t *testing.T) {
	g := NewGate(0)
	require.Equal(t, 1, g.Capacity())

	require.True(t, g.TryAcquire())
	require.False(t, g.TryAcquire())
	require.Equal(t, 1, g.InFlight())

	g.Release()
	require.Equal(t, 0, g.InFlight())
	require.True(t, g.TryAcquire())
}

func TestGateReleaseWithoutAcquire(t *testing.T) {
	g := NewGate(2)
	g.Release()
	g.Release()
	require.Equal(t, 0, g.InFlight())

	require.True(t, g.TryAcquire())
	require.True(t, g.TryAcquire())
	require.False(t, g.TryAcquire())
}

func TestGateGuard(t *testing.T) {
	g := NewGate(1)

	ran, err := g.Guard(func() error {
		require.Equal(t, 1, g.InFlight())
		ran, _ := g.Guard(func() error { return nil })
		require.False(t, ran, "nested guard must not get a permit")
		return errors.New("boom")
	})
	require.True(t, ran)
	require.EqualError(t, err, "boom")
	require.Equal(t, 0, g.InFlight())
}

func TestGateGuardReleasesOnPanic(t *testing.T) {
	g := NewGate(1)

	require.Panics(t, func() {
		_, _ = g.Guard(func() error { panic("worker exploded") })
	})
	require.Equal(t, 0, g.InFlight())
	require.True(t, g.TryAcquire())
}
