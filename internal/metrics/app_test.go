package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnagent/lnagent/internal/observability"
)

func emitAll() {
	RecordTick(2, 3*time.Millisecond)
	RecordDispatch("ln_pay", "error", "TOOL_ERROR", 40*time.Millisecond)
	RecordDispatch("ping", "ok", "", 0)
	RecordDeferred("ln_getinfo", "TRANSIENT_INFRA")
	RecordDenial("rate")
	SetAdmission(12.5, 4000, true)
	SetQueueBacklog(1024)
	RecordMalformed(0)
	RecordMalformed(3)
	RecordWorkerRestart(false)
	SetAgentStartTime(time.Now().Unix())
	RecordError("QUEUE_IO", "agent")
	RecordPanic("server")
	RecordHTTPError("/status", 500)
}

func TestHelpersWithoutTelemetry(t *testing.T) {
	require.Nil(t, observability.TelemetrySystem)
	assert.NotPanics(t, emitAll)
}

func TestHelpersWithTelemetry(t *testing.T) {
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = nil })

	emitAll()

	for _, name := range []string{
		TicksTotal, TicksSkippedTotal, TickDuration,
		DispatchTotal, DispatchDuration, DeferredTotal,
		AdmissionDeniedTotal, RequestTokens, CostTokens, CircuitOpen,
		QueueBacklogBytes, MalformedTotal, AgentStartTime, WorkerRestarts,
		ErrorsTotalName, PanicsTotalName, HTTPErrorsTotalName,
	} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, name)
	}

	// A zero delta emits nothing.
	before := collector.CountMetricsByName(MalformedTotal)
	RecordMalformed(0)
	assert.Equal(t, before, collector.CountMetricsByName(MalformedTotal))
}
