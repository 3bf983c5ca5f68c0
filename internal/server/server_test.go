package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnagent/lnagent/internal/agent"
	"github.com/lnagent/lnagent/internal/server/handlers"
)

type snapshotSource struct{ snap agent.Snapshot }

func (s snapshotSource) Status() agent.Snapshot { return s.snap }

func testServer(t *testing.T, health *handlers.HealthManager) *Server {
	t.Helper()
	return New(Config{Host: "127.0.0.1"}, Deps{
		Status: snapshotSource{snap: agent.Snapshot{RunID: "run-1", Ticks: 7}},
		Health: health,
		Build:  handlers.BuildInfo{Version: "0.3.0"},
	})
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	srv := testServer(t, nil)

	rec := get(t, srv, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "run-1", status["run_id"])
	assert.EqualValues(t, 7, status["ticks"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusOK, get(t, srv, "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, srv, "/health/live").Code)
	assert.Equal(t, http.StatusOK, get(t, srv, "/version").Code)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	srv := testServer(t, nil)

	rec := get(t, srv, "/does-not-exist")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body handlers.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body.Error.RequestID)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUnhealthyCheckFailsHealth(t *testing.T) {
	health := handlers.NewHealthManager("0.3.0")
	health.RegisterChecker("queue", handlers.CheckFunc(func(context.Context) error {
		return errors.New("queue dir missing")
	}))
	srv := testServer(t, health)

	rec := get(t, srv, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body handlers.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestRunServesUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	srv := New(Config{Host: "127.0.0.1", Port: port, ShutdownTimeout: time.Second}, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health/live", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
