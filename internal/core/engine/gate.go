package engine

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of in-flight privileged requests. Acquisition never
// blocks: a busy gate makes the caller skip the tick instead of stalling.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
}

// NewGate creates a gate with maxInFlight permits (minimum one).
func NewGate(maxInFlight int) *Gate {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(maxInFlight)),
		capacity: int64(maxInFlight),
	}
}

// TryAcquire takes a permit if one is free.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.inFlight.Add(1)
	return true
}

// Release returns a permit. Releasing with nothing held is a no-op.
func (g *Gate) Release() {
	for {
		cur := g.inFlight.Load()
		if cur <= 0 {
			return
		}
		if g.inFlight.CompareAndSwap(cur, cur-1) {
			g.sem.Release(1)
			return
		}
	}
}

// Guard runs fn while holding a permit. ran is false when no permit was
// free. The permit is released on every exit path, including panics.
func (g *Gate) Guard(fn func() error) (ran bool, err error) {
	if !g.TryAcquire() {
		return false, nil
	}
	defer g.Release()
	return true, fn()
}

// InFlight returns the number of held permits.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Capacity returns the permit count.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}
