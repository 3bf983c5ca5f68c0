package engine

import (
	"context"
	"fmt"
	"time"
)

// Tick describes one scheduler activation.
type Tick struct {
	// Seq is the slot index k, so Scheduled == t0 + Seq*cadence.
	Seq       int64
	Scheduled time.Time
	// Skipped counts slots that passed while the previous iteration overran.
	Skipped int64
}

// Scheduler produces drift-free ticks: the k-th tick fires at t0 + k*cadence
// where t0 is the construction time. Time comes from time.Now, whose
// monotonic reading makes the schedule immune to wall clock adjustments.
type Scheduler struct {
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	cadence time.Duration
	t0      time.Time
	k       int64
}

// NewScheduler creates a scheduler with a fixed positive cadence.
func NewScheduler(cadence time.Duration) (*Scheduler, error) {
	return NewSchedulerAt(cadence, time.Now())
}

// NewSchedulerAt creates a scheduler anchored at t0.
func NewSchedulerAt(cadence time.Duration, t0 time.Time) (*Scheduler, error) {
	if cadence <= 0 {
		return nil, fmt.Errorf("scheduler cadence must be positive, got %s", cadence)
	}
	return &Scheduler{cadence: cadence, t0: t0}, nil
}

// Cadence returns the configured tick period.
func (s *Scheduler) Cadence() time.Duration {
	return s.cadence
}

// NextTickAt returns the time the next WaitNextTick call targets.
func (s *Scheduler) NextTickAt() time.Time {
	return s.slot(s.k)
}

// WaitNextTick blocks until the next slot. If one or more slots already
// passed, the missed ones are skipped and the call returns immediately, so a
// long iteration shortens the following sleep instead of stretching the
// period.
func (s *Scheduler) WaitNextTick(ctx context.Context) (Tick, error) {
	if err := ctx.Err(); err != nil {
		return Tick{}, err
	}

	target := s.slot(s.k)
	now := s.now()
	tick := Tick{Seq: s.k, Scheduled: target}

	if wait := target.Sub(now); wait > 0 {
		if err := s.sleep(ctx, wait); err != nil {
			return Tick{}, err
		}
	} else if behind := now.Sub(target); behind >= s.cadence {
		missed := int64(behind / s.cadence)
		s.k += missed
		tick.Seq = s.k
		tick.Scheduled = s.slot(s.k)
		tick.Skipped = missed
	}

	s.k++
	return tick, nil
}

func (s *Scheduler) slot(k int64) time.Time {
	return s.t0.Add(time.Duration(k) * s.cadence)
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
