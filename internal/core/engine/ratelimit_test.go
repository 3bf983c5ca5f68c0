package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterRequestBudget(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 2, CostUnitsPerMinute: 100})
	limiter.Clock = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		require.True(t, limiter.Allowed(1), "request %d", i)
		limiter.Spend(1)
	}
	require.False(t, limiter.Allowed(1))

	now = now.Add(30*time.Second + time.Millisecond)
	require.True(t, limiter.Allowed(1))
}

func TestRateLimiterCostBudget(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 100, CostUnitsPerMinute: 60})
	limiter.Clock = func() time.Time { return now }

	require.True(t, limiter.Allowed(60))
	require.False(t, limiter.Allowed(61))

	limiter.Spend(59.2)
	require.False(t, limiter.Allowed(1), "fractional cost is debited as whole units")

	now = now.Add(10*time.Second + time.Millisecond)
	require.True(t, limiter.Allowed(10))
	require.False(t, limiter.Allowed(11))
}

func TestRateLimiterRoundsCostUpBeforeAdmitting(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 100, CostUnitsPerMinute: 60})
	limiter.Clock = func() time.Time { return now }

	limiter.Spend(60)
	now = now.Add(59500 * time.Millisecond)

	require.False(t, limiter.Allowed(59.2), "59.2 is debited as 60 and only 59.5 are available")
	require.True(t, limiter.Allowed(59))
	limiter.Spend(59)
	require.GreaterOrEqual(t, limiter.Snapshot().Cost.Available, 0.0)
}

func TestRateLimiterCostCapacity(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 10, CostUnitsPerMinute: 4000})
	require.Equal(t, 4000.0, limiter.CostCapacity())

	limiter = NewRateLimiter(RateLimitConfig{})
	require.Equal(t, 1.0, limiter.CostCapacity())
}

func TestRateLimiterMinInterval(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute:  60,
		CostUnitsPerMinute: 1000,
		MinInterval:        5 * time.Second,
	})
	limiter.Clock = func() time.Time { return now }

	require.True(t, limiter.Allowed(1))
	limiter.Spend(1)
	require.False(t, limiter.Allowed(1))

	now = now.Add(4 * time.Second)
	require.False(t, limiter.Allowed(1))

	now = now.Add(time.Second)
	require.True(t, limiter.Allowed(1))
}

func TestRateLimiterReconcile(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 10, CostUnitsPerMinute: 100})
	limiter.Clock = func() time.Time { return now }

	limiter.Spend(20)
	limiter.Reconcile(50, 20)
	require.InDelta(t, 50, limiter.Snapshot().Cost.Available, 0.001)

	// Underestimates larger than what is left are dropped.
	limiter.Reconcile(200, 20)
	require.InDelta(t, 50, limiter.Snapshot().Cost.Available, 0.001)

	// Overestimates are never refunded.
	limiter.Reconcile(5, 20)
	require.InDelta(t, 50, limiter.Snapshot().Cost.Available, 0.001)
}

func TestRateLimiterSnapshot(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 6, CostUnitsPerMinute: 120, MinInterval: time.Second})
	limiter.Clock = func() time.Time { return now }

	limiter.Spend(0.5)
	snap := limiter.Snapshot()
	require.Equal(t, 6.0, snap.Requests.Capacity)
	require.InDelta(t, 0.1, snap.Requests.RefillPerSecond, 0.0001)
	require.InDelta(t, 5, snap.Requests.Available, 0.001)
	require.InDelta(t, 119, snap.Cost.Available, 0.001)
	require.Equal(t, now.Add(time.Second), snap.NextAllowedAt)
}
