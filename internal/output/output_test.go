package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnagent/lnagent/internal/core"
	"github.com/lnagent/lnagent/internal/dispatch"
	"github.com/lnagent/lnagent/internal/queue"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleExecutions() []*core.Execution {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*core.Execution{
		{RequestID: 2, Kind: "ln_pay", Status: core.ExecutionError, ErrorKind: "TOOL_ERROR",
			Message: "no route | to destination", Attempts: 1, StartedAt: started, Duration: 1500 * time.Microsecond},
		{RequestID: 1, Kind: "ping", Status: core.ExecutionOK, Attempts: 1, StartedAt: started},
	}
}

func TestExecutionsFormats(t *testing.T) {
	table, err := Executions(FormatTable, sampleExecutions())
	require.NoError(t, err)
	assert.Contains(t, table, "ln_pay")
	assert.Contains(t, table, "TOOL_ERROR")
	assert.Contains(t, table, "2 rows")

	md, err := Executions(FormatMarkdown, sampleExecutions())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "## Execution history"))
	assert.Contains(t, md, `no route \| to destination`)

	raw, err := Executions(FormatJSON, sampleExecutions())
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	require.Len(t, decoded, 2)
}

func TestResultsClipsContent(t *testing.T) {
	results := []*queue.Result{{
		RequestID: 9,
		Content:   strings.Repeat("x", 200),
		Extra:     map[string]any{"ok": false, "error_kind": "TOOL_ERROR", "diagnostics": "stderr noise"},
	}}

	table, err := Results(FormatTable, results)
	require.NoError(t, err)
	assert.Contains(t, table, "…")
	assert.Contains(t, table, "error_kind=TOOL_ERROR ok=false")
	assert.NotContains(t, table, "stderr noise")

	raw, err := Results(FormatJSON, results)
	require.NoError(t, err)
	assert.Contains(t, raw, strings.Repeat("x", 200))
}

func TestOperationsListsRegistry(t *testing.T) {
	ops := dispatch.DefaultRegistry().Operations()
	require.NotEmpty(t, ops)

	table, err := Operations(FormatTable, ops)
	require.NoError(t, err)
	assert.Contains(t, table, "ping")
	assert.Contains(t, table, "ln_pay")

	raw, err := Operations(FormatJSON, ops)
	require.NoError(t, err)
	var decoded []operationView
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Len(t, decoded, len(ops))
}

func TestStatusAndBackoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-time.Minute)
	status := &QueueStatus{
		Dir:     "/srv/queue",
		Size:    300,
		Cursor:  100,
		Backlog: 200,
		Pending: 2,
		Backoff: &core.BackoffState{CircuitOpenUntil: now.Add(30 * time.Second)},
		Ledger: &core.ExecutionStats{
			Total:    3,
			ByStatus: map[string]int{"ok": 2, "error": 1},
			ByKind:   map[string]int{"TOOL_ERROR": 1},
			LastAt:   &last,
		},
	}

	table, err := Status(FormatTable, status, now)
	require.NoError(t, err)
	assert.Contains(t, table, "not running")
	assert.Contains(t, table, "(in 30s)")
	assert.Contains(t, table, "error=1 ok=2")

	none, err := Backoff(FormatTable, "/srv/queue", nil, now)
	require.NoError(t, err)
	assert.Contains(t, none, "none recorded")

	expired, err := Backoff(FormatMarkdown, "/srv/queue", &core.BackoffState{BlockedUntil: now.Add(-time.Second)}, now)
	require.NoError(t, err)
	assert.Contains(t, expired, "(expired)")
}

func TestClip(t *testing.T) {
	assert.Equal(t, "a b", clip("a\n  b", 10))
	assert.Equal(t, "héll…", clip("héllo world", 5))
}
