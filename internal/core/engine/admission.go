package engine

import (
	"github.com/lnagent/lnagent/internal/core"
)

// Denial names the gate that refused admission.
type Denial string

const (
	DenyNone      Denial = ""
	DenyCircuit   Denial = "circuit_open"
	DenyBackoff   Denial = "backoff"
	DenyRateLimit Denial = "rate_limit"
	DenyBusy      Denial = "concurrency"
)

// Admission chains the gates in fixed order: backoff, rate limiter,
// concurrency gate.
type Admission struct {
	Backoff *Backoff
	Limiter *RateLimiter
	Gate    *Gate
}

// AdmissionState is a read-only view of all three gates.
type AdmissionState struct {
	Backoff     core.BackoffState   `json:"backoff"`
	CircuitOpen bool                `json:"circuit_open"`
	Blocked     bool                `json:"blocked"`
	RateLimit   core.RateLimitState `json:"rate_limit"`
	InFlight    int                 `json:"in_flight"`
	MaxInFlight int                 `json:"max_in_flight"`
}

// Admit decides whether a request with the given estimated cost may proceed.
// On admission the rate budget is spent and a gate permit is held; the
// returned release func must be called exactly once when the request ends.
func (a *Admission) Admit(estimatedCost float64) (release func(), denial Denial) {
	if a.Backoff != nil && a.Backoff.Blocked() {
		if a.Backoff.CircuitOpen() {
			return nil, DenyCircuit
		}
		return nil, DenyBackoff
	}
	if a.Limiter != nil && !a.Limiter.Allowed(estimatedCost) {
		return nil, DenyRateLimit
	}
	if a.Gate != nil && !a.Gate.TryAcquire() {
		return nil, DenyBusy
	}
	if a.Limiter != nil {
		a.Limiter.Spend(estimatedCost)
	}

	if a.Gate == nil {
		return func() {}, DenyNone
	}
	return a.Gate.Release, DenyNone
}

// State snapshots the gates.
func (a *Admission) State() AdmissionState {
	var st AdmissionState
	if a.Backoff != nil {
		st.Backoff = a.Backoff.State()
		st.CircuitOpen = a.Backoff.CircuitOpen()
		st.Blocked = a.Backoff.Blocked()
	}
	if a.Limiter != nil {
		st.RateLimit = a.Limiter.Snapshot()
	}
	if a.Gate != nil {
		st.InFlight = a.Gate.InFlight()
		st.MaxInFlight = a.Gate.Capacity()
	}
	return st
}
