package engine

import (
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/lnagent/lnagent/internal/core"
)

// RateLimitConfig describes the provider allocation.
type RateLimitConfig struct {
	RequestsPerMinute  int
	CostUnitsPerMinute int
	MinInterval        time.Duration
}

// RateLimiter enforces a request budget, a cost-unit budget and a minimum
// spacing between requests. Both buckets refill lazily from elapsed time.
//
// It is not safe for concurrent use; the control loop owns it.
type RateLimiter struct {
	Clock func() time.Time

	requests    *rate.Limiter
	cost        *rate.Limiter
	minInterval time.Duration
	nextAllowed time.Time
}

// NewRateLimiter builds a limiter with both buckets full. Budgets below one
// are raised to one.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rpm := cfg.RequestsPerMinute
	if rpm < 1 {
		rpm = 1
	}
	cpm := cfg.CostUnitsPerMinute
	if cpm < 1 {
		cpm = 1
	}
	minInterval := cfg.MinInterval
	if minInterval < 0 {
		minInterval = 0
	}

	return &RateLimiter{
		requests:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		cost:        rate.NewLimiter(rate.Limit(float64(cpm)/60.0), cpm),
		minInterval: minInterval,
	}
}

// Allowed reports whether a request of the given estimated cost may proceed
// now. The cost is rounded up to whole units, as Spend debits it. It never
// debits.
func (r *RateLimiter) Allowed(estimatedCost float64) bool {
	now := r.now()
	if now.Before(r.nextAllowed) {
		return false
	}
	if r.requests.TokensAt(now) < 1.0 {
		return false
	}
	return r.cost.TokensAt(now) >= float64(wholeUnits(normalizeCost(estimatedCost)))
}

// CostCapacity is the size of the cost bucket. A request estimated above it
// can never be admitted.
func (r *RateLimiter) CostCapacity() float64 {
	return float64(r.cost.Burst())
}

// Spend debits one request token and the estimated cost, and pushes the
// spacing gate forward. Call it only right after Allowed returned true.
func (r *RateLimiter) Spend(estimatedCost float64) {
	now := r.now()
	r.requests.ReserveN(now, 1)
	r.cost.ReserveN(now, wholeUnits(normalizeCost(estimatedCost)))

	if next := now.Add(r.minInterval); next.After(r.nextAllowed) {
		r.nextAllowed = next
	}
}

// Reconcile debits the overshoot when the actual cost exceeded the estimate.
// It is best effort: when the bucket cannot cover the difference nothing is
// taken and the natural refill absorbs it.
func (r *RateLimiter) Reconcile(actualCost, estimatedCost float64) {
	diff := actualCost - estimatedCost
	if diff <= 0 {
		return
	}

	now := r.now()
	units := wholeUnits(diff)
	if r.cost.TokensAt(now) >= float64(units) {
		r.cost.AllowN(now, units)
	}
}

// Snapshot reports the current bucket levels.
func (r *RateLimiter) Snapshot() core.RateLimitState {
	now := r.now()
	return core.RateLimitState{
		Requests: core.BucketState{
			Capacity:        float64(r.requests.Burst()),
			RefillPerSecond: float64(r.requests.Limit()),
			Available:       r.requests.TokensAt(now),
		},
		Cost: core.BucketState{
			Capacity:        float64(r.cost.Burst()),
			RefillPerSecond: float64(r.cost.Limit()),
			Available:       r.cost.TokensAt(now),
		},
		NextAllowedAt: r.nextAllowed,
	}
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

func normalizeCost(cost float64) float64 {
	if math.IsNaN(cost) || cost < 1 {
		return 1
	}
	return cost
}

func wholeUnits(cost float64) int {
	return int(math.Ceil(cost))
}
