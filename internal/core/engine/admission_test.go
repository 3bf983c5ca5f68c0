package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestAdmission(now *time.Time) *Admission {
	clock := func() time.Time { return *now }

	backoff := NewBackoff(BackoffConfig{
		BaseDelay:           time.Second,
		MaxDelay:            time.Minute,
		CircuitBreakerAfter: 2,
		CircuitBreakerOpen:  time.Minute,
	})
	backoff.Clock = clock

	limiter := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 2, CostUnitsPerMinute: 100})
	limiter.Clock = clock

	return &Admission{Backoff: backoff, Limiter: limiter, Gate: NewGate(1)}
}

func TestAdmissionOrder(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	adm := newTestAdmission(&now)

	release, denial := adm.Admit(10)
	require.Equal(t, DenyNone, denial)
	require.NotNil(t, release)

	// Gate held: the limiter still has budget so the gate is what refuses.
	_, denial = adm.Admit(10)
	require.Equal(t, DenyBusy, denial)
	release()

	release, denial = adm.Admit(10)
	require.Equal(t, DenyNone, denial)
	release()

	_, denial = adm.Admit(10)
	require.Equal(t, DenyRateLimit, denial)

	adm.Backoff.NoteFailure(1, 0)
	_, denial = adm.Admit(10)
	require.Equal(t, DenyBackoff, denial)

	adm.Backoff.NoteFailure(2, 0)
	_, denial = adm.Admit(10)
	require.Equal(t, DenyCircuit, denial)
}

func TestAdmissionDenialDoesNotSpend(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	adm := newTestAdmission(&now)

	hold, denial := adm.Admit(1)
	require.Equal(t, DenyNone, denial)

	before := adm.Limiter.Snapshot()
	_, denial = adm.Admit(1)
	require.Equal(t, DenyBusy, denial)
	after := adm.Limiter.Snapshot()
	require.Equal(t, before.Requests.Available, after.Requests.Available)
	hold()
}

func TestAdmissionState(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	adm := newTestAdmission(&now)

	release, _ := adm.Admit(5)
	st := adm.State()
	require.Equal(t, 1, st.InFlight)
	require.Equal(t, 1, st.MaxInFlight)
	require.False(t, st.Blocked)
	require.InDelta(t, 95, st.RateLimit.Cost.Available, 0.001)
	release()

	adm.Backoff.NoteFailure(3, 0)
	adm.Backoff.NoteFailure(4, 0)
	st = adm.State()
	require.True(t, st.Blocked)
	require.True(t, st.CircuitOpen)
}

func TestAdmissionWithoutGates(t *testing.T) {
	adm := &Admission{}
	release, denial := adm.Admit(1)
	require.Equal(t, DenyNone, denial)
	release()
}
