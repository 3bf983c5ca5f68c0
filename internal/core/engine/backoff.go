package engine

import (
	"encoding/binary"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/lnagent/lnagent/internal/core"
)

// BackoffConfig controls retry delays and the circuit breaker.
type BackoffConfig struct {
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	Jitter              time.Duration
	CircuitBreakerAfter int
	CircuitBreakerOpen  time.Duration
}

// Backoff is a deterministic exponential backoff with a failure-count
// circuit breaker. Jitter is derived from the failing request's key, never
// from randomness, so replays produce identical schedules.
type Backoff struct {
	Clock func() time.Time

	cfg   BackoffConfig
	state core.BackoffState
}

// NewBackoff normalizes cfg and returns an idle backoff.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.BaseDelay < time.Millisecond {
		cfg.BaseDelay = time.Millisecond
	}
	if cfg.MaxDelay < time.Millisecond {
		cfg.MaxDelay = time.Millisecond
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.CircuitBreakerAfter < 1 {
		cfg.CircuitBreakerAfter = 1
	}
	if cfg.CircuitBreakerOpen < time.Millisecond {
		cfg.CircuitBreakerOpen = time.Millisecond
	}
	return &Backoff{cfg: cfg}
}

// Blocked reports whether admission is suspended by either timer.
func (b *Backoff) Blocked() bool {
	return b.now().Before(b.until())
}

// CircuitOpen reports whether the circuit breaker is currently open.
func (b *Backoff) CircuitOpen() bool {
	return b.now().Before(b.state.CircuitOpenUntil)
}

// Remaining returns how long admission stays blocked, zero if not blocked.
func (b *Backoff) Remaining() time.Duration {
	if d := b.until().Sub(b.now()); d > 0 {
		return d
	}
	return 0
}

// NoteSuccess resets the retry counters. An open circuit is left to expire
// on its own.
func (b *Backoff) NoteSuccess() {
	b.state.Attempt = 0
	b.state.ConsecutiveFailures = 0
	b.state.BlockedUntil = time.Time{}
}

// NoteFailure records a failure for the request identified by key and
// returns the delay applied. A positive retryAfter raises the delay to at
// least that hint.
func (b *Backoff) NoteFailure(key uint64, retryAfter time.Duration) time.Duration {
	now := b.now()
	b.state.Attempt++
	b.state.ConsecutiveFailures++

	delay := b.exponential(b.state.Attempt) + Jitter(key, b.cfg.Jitter)
	if retryAfter > delay {
		delay = retryAfter
	}

	if until := now.Add(delay); until.After(b.state.BlockedUntil) {
		b.state.BlockedUntil = until
	}

	if b.state.ConsecutiveFailures >= uint32(b.cfg.CircuitBreakerAfter) {
		if open := now.Add(b.cfg.CircuitBreakerOpen); open.After(b.state.CircuitOpenUntil) {
			b.state.CircuitOpenUntil = open
		}
		b.state.Attempt = 0
		b.state.ConsecutiveFailures = 0
	}

	return delay
}

// Restore replaces the current state, typically with one persisted by a
// previous run. Expired timers are harmless and simply never block.
func (b *Backoff) Restore(state core.BackoffState) {
	b.state = state
}

// State returns a copy of the current state.
func (b *Backoff) State() core.BackoffState {
	return b.state
}

func (b *Backoff) exponential(attempt uint32) time.Duration {
	delay := b.cfg.BaseDelay
	for i := uint32(1); i < attempt && delay < b.cfg.MaxDelay; i++ {
		delay *= 2
	}
	if delay > b.cfg.MaxDelay {
		delay = b.cfg.MaxDelay
	}
	return delay
}

func (b *Backoff) until() time.Time {
	if b.state.CircuitOpenUntil.After(b.state.BlockedUntil) {
		return b.state.CircuitOpenUntil
	}
	return b.state.BlockedUntil
}

func (b *Backoff) now() time.Time {
	if b != nil && b.Clock != nil {
		return b.Clock()
	}
	return time.Now()
}

// Jitter returns a delay in [0, bound] with millisecond granularity that is a
// pure function of key.
func Jitter(key uint64, bound time.Duration) time.Duration {
	ms := uint64(bound / time.Millisecond)
	if ms == 0 {
		return 0
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return time.Duration(xxh3.Hash(buf[:])%(ms+1)) * time.Millisecond
}
