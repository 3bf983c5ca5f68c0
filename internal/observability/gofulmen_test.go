package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lnagent/lnagent/internal/observability"
)

func TestLoggers(t *testing.T) {
	t.Run("CLI logger", func(t *testing.T) {
		observability.InitCLILogger("lnagent-test", true)
		require.NotNil(t, observability.CLILogger)

		observability.CLILogger.Debug("queue opened", zap.String("dir", t.TempDir()))
	})

	t.Run("Agent logger", func(t *testing.T) {
		observability.InitAgentLogger("lnagent-test", " Warning ", "run-1")
		require.NotNil(t, observability.AgentLogger)

		observability.AgentLogger.Warn("admission denied",
			zap.String("gate", "rate"),
			zap.Uint64("request_id", 7))
	})
}

func TestMetricsLifecycle(t *testing.T) {
	require.NoError(t, observability.InitMetrics("lnagent-test", 0, "lnagent_test"))
	t.Cleanup(func() { _ = observability.ShutdownMetrics() })

	require.NotNil(t, observability.TelemetrySystem)
	assert.Positive(t, observability.GetMetricsPort())

	require.NoError(t, observability.ShutdownMetrics())
	assert.Nil(t, observability.TelemetrySystem)
	assert.Nil(t, observability.PrometheusExporter)
	// Stopping twice is harmless.
	require.NoError(t, observability.ShutdownMetrics())
}

func TestEmbeddedCrucible(t *testing.T) {
	version := crucible.GetVersion()
	assert.NotEmpty(t, version.Gofulmen)
	assert.NotEmpty(t, version.Crucible)
	assert.NotEmpty(t, crucible.GetVersionString())
}
