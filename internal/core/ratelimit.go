package core

import "time"

// BackoffState captures the retry and circuit breaker state owned by the
// control loop.
type BackoffState struct {
	Attempt             uint32    `json:"attempt"`
	BlockedUntil        time.Time `json:"blocked_until"`
	CircuitOpenUntil    time.Time `json:"circuit_open_until"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
}

// BucketState is a point-in-time view of one token bucket.
type BucketState struct {
	Capacity        float64 `json:"capacity"`
	RefillPerSecond float64 `json:"refill_per_second"`
	Available       float64 `json:"available"`
}

// RateLimitState captures both budgets plus the spacing gate.
type RateLimitState struct {
	Requests      BucketState `json:"requests"`
	Cost          BucketState `json:"cost"`
	NextAllowedAt time.Time   `json:"next_allowed_at"`
}
