package output

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lnagent/lnagent/internal/core"
	"github.com/lnagent/lnagent/internal/dispatch"
	"github.com/lnagent/lnagent/internal/queue"
)

// Executions renders ledger rows, newest first as stored.
func Executions(format Format, execs []*core.Execution) (string, error) {
	v := view{
		title:  "Execution history",
		header: []string{"Request", "Kind", "Status", "Error", "Attempts", "Started", "Duration", "Message"},
		value:  execs,
	}
	for _, e := range execs {
		if e == nil {
			continue
		}
		v.rows = append(v.rows, []string{
			strconv.FormatUint(e.RequestID, 10),
			e.Kind,
			string(e.Status),
			orDash(e.ErrorKind),
			strconv.Itoa(e.Attempts),
			formatTime(e.StartedAt),
			e.Duration.Round(time.Millisecond).String(),
			clip(e.Message, 60),
		})
	}
	v.footer = fmt.Sprintf("%d rows", len(v.rows))
	return render(format, v)
}

// Results renders outbound records. Table and markdown show a clipped
// content column; JSON carries the full records.
func Results(format Format, results []*queue.Result) (string, error) {
	v := view{
		title:  "Results",
		header: []string{"Request", "Produced", "Content", "Extra"},
		value:  results,
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		v.rows = append(v.rows, []string{
			strconv.FormatUint(r.RequestID, 10),
			formatTime(r.ProducedAt),
			clip(r.Content, 80),
			extraSummary(r.Extra),
		})
	}
	return render(format, v)
}

type operationView struct {
	Kind        string   `json:"kind"`
	Method      string   `json:"method"`
	Idempotent  bool     `json:"idempotent"`
	Params      []string `json:"params"`
	Description string   `json:"description,omitempty"`
}

// Operations renders the dispatch table.
func Operations(format Format, ops []*dispatch.Operation) (string, error) {
	values := make([]operationView, 0, len(ops))
	v := view{
		title:  "Operations",
		header: []string{"Kind", "Method", "Retry", "Params", "Description"},
	}
	for _, op := range ops {
		if op == nil {
			continue
		}
		params := make([]string, 0, len(op.Params))
		for _, p := range op.Params {
			spec := p.Name + ":" + string(p.Type)
			if !p.Required {
				spec += "?"
			}
			params = append(params, spec)
		}
		values = append(values, operationView{
			Kind:        op.Kind,
			Method:      op.Method,
			Idempotent:  op.Idempotent,
			Params:      params,
			Description: op.Description,
		})
		retry := "no"
		if op.Idempotent {
			retry = "yes"
		}
		v.rows = append(v.rows, []string{op.Kind, op.Method, retry, strings.Join(params, " "), op.Description})
	}
	v.value = values
	return render(format, v)
}

// QueueStatus is the offline status of one queue directory.
type QueueStatus struct {
	Dir       string               `json:"dir"`
	Size      int64                `json:"size_bytes"`
	Cursor    int64                `json:"cursor"`
	Backlog   int64                `json:"backlog_bytes"`
	Pending   int                  `json:"pending"`
	Malformed int64                `json:"malformed"`
	Results   int                  `json:"results"`
	Locked    string               `json:"lock_holder,omitempty"`
	Backoff   *core.BackoffState   `json:"backoff,omitempty"`
	Ledger    *core.ExecutionStats `json:"ledger,omitempty"`
}

// Status renders a queue status report as key/value rows.
func Status(format Format, s *QueueStatus, now time.Time) (string, error) {
	v := view{
		title:  "Queue " + s.Dir,
		header: []string{"Field", "Value"},
		value:  s,
	}
	add := func(k, val string) { v.rows = append(v.rows, []string{k, val}) }

	add("size", fmt.Sprintf("%d bytes", s.Size))
	add("cursor", strconv.FormatInt(s.Cursor, 10))
	add("backlog", fmt.Sprintf("%d bytes", s.Backlog))
	add("pending", strconv.Itoa(s.Pending))
	add("malformed", strconv.FormatInt(s.Malformed, 10))
	add("results", strconv.Itoa(s.Results))
	add("agent", orDefault(s.Locked, "not running"))
	if s.Backoff != nil {
		v.rows = append(v.rows, backoffRows(*s.Backoff, now)...)
	}
	if s.Ledger != nil {
		add("ledger.total", strconv.Itoa(s.Ledger.Total))
		add("ledger.by_status", countSummary(s.Ledger.ByStatus))
		if len(s.Ledger.ByKind) > 0 {
			add("ledger.by_error_kind", countSummary(s.Ledger.ByKind))
		}
		if s.Ledger.LastAt != nil {
			add("ledger.last_at", formatTime(*s.Ledger.LastAt))
		}
	}
	return render(format, v)
}

// Backoff renders persisted backoff state for one queue.
func Backoff(format Format, queueDir string, state *core.BackoffState, now time.Time) (string, error) {
	v := view{
		title:  "Backoff " + queueDir,
		header: []string{"Field", "Value"},
		value:  state,
	}
	if state == nil {
		v.rows = [][]string{{"state", "none recorded"}}
	} else {
		v.rows = backoffRows(*state, now)
	}
	return render(format, v)
}

func backoffRows(state core.BackoffState, now time.Time) [][]string {
	return [][]string{
		{"backoff.attempt", strconv.FormatUint(uint64(state.Attempt), 10)},
		{"backoff.consecutive_failures", strconv.FormatUint(uint64(state.ConsecutiveFailures), 10)},
		{"backoff.blocked_until", untilLabel(state.BlockedUntil, now)},
		{"backoff.circuit_open_until", untilLabel(state.CircuitOpenUntil, now)},
	}
}

func untilLabel(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if remaining := t.Sub(now); remaining > 0 {
		return fmt.Sprintf("%s (in %s)", formatTime(t), remaining.Round(time.Second))
	}
	return formatTime(t) + " (expired)"
}

func countSummary(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func orDash(s string) string {
	return orDefault(s, "-")
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
