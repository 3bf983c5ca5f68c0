package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnagent/lnagent/internal/config"
	"github.com/lnagent/lnagent/internal/core"
	"github.com/lnagent/lnagent/internal/core/store"
	"github.com/lnagent/lnagent/internal/queue"
	"github.com/lnagent/lnagent/internal/server/handlers"
)

const runtimeFixture = `
network_health:
  status: ok
  nodes: 2
ln_getinfo:
  1:
    alias: alice
  2:
    alias: bob
`

// runtimeConfig wires the agent to this test binary acting as the worker.
func runtimeConfig(t *testing.T) *config.Config {
	t.Helper()
	fixture := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(runtimeFixture), 0o600))

	exe, err := os.Executable()
	require.NoError(t, err)

	cfg, err := config.Load(config.NewViper())
	require.NoError(t, err)
	cfg.Worker.Command = exe
	cfg.Worker.Args = nil
	cfg.Worker.Env = []string{testFixtureEnv + "=" + fixture}
	cfg.Worker.CallTimeout = 5 * time.Second
	cfg.Worker.ShutdownGrace = time.Second
	cfg.Scheduler.Tick = 20 * time.Millisecond
	cfg.Limits.MinInterval = 0
	cfg.Server.Enabled = false
	require.NoError(t, cfg.Validate(true))
	return cfg
}

func TestAgentRuntimeDrainsQueue(t *testing.T) {
	dir := testEnv(t)
	cfg := runtimeConfig(t)

	q, err := queue.Open(dir)
	require.NoError(t, err)
	_, err = q.Enqueue(nil, "ping", nil)
	require.NoError(t, err)
	_, err = q.Enqueue(nil, "ln_getinfo", map[string]any{"node": "2"})
	require.NoError(t, err)

	rt, err := newAgentRuntime(context.Background(), cfg, "run-test")
	require.NoError(t, err)
	closed := false
	t.Cleanup(func() {
		if !closed {
			rt.close()
		}
	})

	_, err = newAgentRuntime(context.Background(), cfg, "run-second")
	require.ErrorIs(t, err, queue.ErrLocked)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	served := make(chan error, 1)
	go func() { served <- rt.serve(ctx, done) }()

	var results []*queue.Result
	require.Eventually(t, func() bool {
		results, err = q.Results()
		return err == nil && len(results) == 2
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		if err != nil {
			assert.True(t, errors.Is(err, context.Canceled), "serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	<-done
	rt.close()
	closed = true

	assert.Equal(t, uint64(1), results[0].RequestID)
	assert.Equal(t, uint64(2), results[1].RequestID)
	for _, r := range results {
		assert.Equal(t, true, r.Extra["ok"], "result %d: %+v", r.RequestID, r)
	}
	assert.Contains(t, results[1].Content, "bob")

	cursor, err := q.Cursor()
	require.NoError(t, err)
	size, err := q.Size()
	require.NoError(t, err)
	assert.Equal(t, size, cursor)

	db := testStore(t)
	execs, err := db.ListExecutions(context.Background(), store.ExecutionQuery{})
	require.NoError(t, err)
	require.Len(t, execs, 2)
	for _, e := range execs {
		assert.Equal(t, core.ExecutionOK, e.Status)
		assert.Equal(t, "run-test", e.RunID)
	}

	// The lock is free again once the runtime is closed.
	holder, held, err := queue.LockHolder(canonicalQueueDir(dir))
	require.NoError(t, err)
	assert.False(t, held, holder)
}

func TestAgentRuntimeRestoresBackoff(t *testing.T) {
	dir := testEnv(t)
	cfg := runtimeConfig(t)

	blocked := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	db := testStore(t)
	require.NoError(t, db.SaveBackoff(context.Background(), canonicalQueueDir(dir), core.BackoffState{
		Attempt:             4,
		ConsecutiveFailures: 5,
		BlockedUntil:        blocked,
	}))

	rt, err := newAgentRuntime(context.Background(), cfg, "run-restore")
	require.NoError(t, err)
	defer rt.close()

	state := rt.loop.Admission.Backoff.State()
	assert.Equal(t, uint32(4), state.Attempt)
	assert.Equal(t, uint32(5), state.ConsecutiveFailures)
	assert.True(t, blocked.Equal(state.BlockedUntil), "blocked until %s, want %s", state.BlockedUntil, blocked)
}

func TestAgentRuntimeHealthChecks(t *testing.T) {
	testEnv(t)
	cfg := runtimeConfig(t)

	rt, err := newAgentRuntime(context.Background(), cfg, "run-health")
	require.NoError(t, err)
	defer rt.close()

	rec := httptest.NewRecorder()
	rt.healthManager().HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body handlers.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Checks["queue"])
	assert.Equal(t, "healthy", body.Checks["ledger"])
	assert.Equal(t, "healthy", body.Checks["worker"])
	assert.Equal(t, "healthy", body.Checks["circuit"])

	_ = rt.worker.Close()
	rec = httptest.NewRecorder()
	rt.healthManager().HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "degraded", body.Checks["worker"])
}
