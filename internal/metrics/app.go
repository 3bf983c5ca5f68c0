package metrics

import (
	"time"

	"github.com/lnagent/lnagent/internal/observability"
)

// Control loop metrics following Prometheus conventions
var (
	// Tick metrics
	TicksTotal        = "agent_ticks_total"
	TicksSkippedTotal = "agent_ticks_skipped_total"
	TickDuration      = "agent_tick_duration_ms"

	// Dispatch metrics
	DispatchTotal    = "agent_dispatch_total"
	DispatchDuration = "agent_dispatch_duration_ms"
	DeferredTotal    = "agent_dispatch_deferred_total"

	// Admission metrics
	AdmissionDeniedTotal = "agent_admission_denied_total"
	RequestTokens        = "agent_rate_request_tokens"
	CostTokens           = "agent_rate_cost_tokens"
	CircuitOpen          = "agent_circuit_open"

	// Queue metrics
	QueueBacklogBytes = "agent_queue_backlog_bytes"
	MalformedTotal    = "agent_queue_malformed_total"

	// Lifecycle metrics
	AgentStartTime = "agent_start_time_seconds"
	WorkerRestarts = "agent_worker_restarts_total"
)

// RecordTick records one scheduler activation and how many slots it skipped.
func RecordTick(skipped int64, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(TicksTotal, 1, nil)
	if skipped > 0 {
		_ = observability.TelemetrySystem.Counter(TicksSkippedTotal, float64(skipped), nil)
	}
	_ = observability.TelemetrySystem.Histogram(TickDuration, duration, nil)
}

// RecordDispatch records one processed request with its terminal status.
func RecordDispatch(kind, status, errorKind string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{
		"kind":   kind,
		"status": status,
	}
	if errorKind != "" {
		labels["error_kind"] = errorKind
	}
	_ = observability.TelemetrySystem.Counter(DispatchTotal, 1, labels)
	if duration > 0 {
		_ = observability.TelemetrySystem.Histogram(DispatchDuration, duration, map[string]string{"kind": kind})
	}
}

// RecordDeferred records a retryable failure left in the queue for a later tick.
func RecordDeferred(kind, errorKind string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			DeferredTotal,
			1,
			map[string]string{
				"kind":       kind,
				"error_kind": errorKind,
			},
		)
	}
}

// RecordDenial records which gate refused admission.
func RecordDenial(gate string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AdmissionDeniedTotal,
			1,
			map[string]string{
				"gate": gate,
			},
		)
	}
}

// SetAdmission publishes the current bucket levels and circuit state.
func SetAdmission(requestTokens, costTokens float64, circuitOpen bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	open := 0.0
	if circuitOpen {
		open = 1
	}
	_ = observability.TelemetrySystem.Gauge(RequestTokens, requestTokens, nil)
	_ = observability.TelemetrySystem.Gauge(CostTokens, costTokens, nil)
	_ = observability.TelemetrySystem.Gauge(CircuitOpen, open, nil)
}

// SetQueueBacklog publishes the unconsumed size of the inbound log.
func SetQueueBacklog(bytes int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(QueueBacklogBytes, float64(bytes), nil)
	}
}

// RecordMalformed records skipped inbound lines.
func RecordMalformed(count int64) {
	if observability.TelemetrySystem != nil && count > 0 {
		_ = observability.TelemetrySystem.Counter(MalformedTotal, float64(count), nil)
	}
}

// RecordWorkerRestart records a worker relaunch.
func RecordWorkerRestart(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			WorkerRestarts,
			1,
			map[string]string{
				"status": status,
			},
		)
	}
}

// SetAgentStartTime records the control loop start time (Unix timestamp)
func SetAgentStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			AgentStartTime,
			float64(timestamp),
			nil,
		)
	}
}
