package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnagent/lnagent/internal/agent"
)

type fixedStatus agent.Snapshot

func (f fixedStatus) Status() agent.Snapshot { return agent.Snapshot(f) }

func TestStatusHandlerServesSnapshot(t *testing.T) {
	source := fixedStatus{
		RunID:      "run-9",
		StartedAt:  time.Now().Add(-time.Minute),
		Ticks:      12,
		Processed:  4,
		LastDenial: "rate",
		Cursor:     512,
	}

	rec := httptest.NewRecorder()
	StatusHandler(source).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "run-9", body["run_id"])
	assert.EqualValues(t, 12, body["ticks"])
	assert.Equal(t, "rate", body["last_denial"])
	assert.EqualValues(t, 512, body["cursor"])
	assert.NotEmpty(t, body["uptime"])
	assert.Contains(t, body, "admission")
}

func TestStatusHandlerWithoutLoop(t *testing.T) {
	rec := httptest.NewRecorder()
	StatusHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVersionHandler(t *testing.T) {
	handler := VersionHandler(
		BuildInfo{Version: "1.2.3", Commit: "abcd123", BuildDate: "2026-03-01T12:00:00Z"},
		&appidentity.Identity{BinaryName: "lnagent", Vendor: "lnagent"},
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "lnagent", resp.App.Name)
	assert.Equal(t, "1.2.3", resp.App.Version)
	assert.Equal(t, "abcd123", resp.App.Commit)
	assert.NotEmpty(t, resp.Dependencies.Gofulmen)
	assert.NotEmpty(t, resp.Runtime.Platform)
}

func TestStatusFromCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFromCode("NOT_FOUND"))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFromCode("SERVICE_UNAVAILABLE"))
	assert.Equal(t, http.StatusTooManyRequests, StatusFromCode("RATE_LIMITED"))
	assert.Equal(t, http.StatusInternalServerError, StatusFromCode("QUEUE_IO"))
}
