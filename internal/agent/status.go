package agent

import (
	"time"

	"github.com/lnagent/lnagent/internal/core/engine"
	"github.com/lnagent/lnagent/internal/metrics"
)

// Snapshot is the loop state published at the end of every tick.
type Snapshot struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	LastTickAt time.Time `json:"last_tick_at,omitempty"`

	Ticks        int64 `json:"ticks"`
	SkippedTicks int64 `json:"skipped_ticks"`
	Processed    int64 `json:"processed"`
	Succeeded    int64 `json:"succeeded"`
	Failed       int64 `json:"failed"`
	Deferred     int64 `json:"deferred"`

	LastDenial string `json:"last_denial,omitempty"`
	LastError  string `json:"last_error,omitempty"`

	Cursor    int64 `json:"cursor"`
	Backlog   int64 `json:"backlog_bytes"`
	Malformed int64 `json:"malformed"`

	Admission   engine.AdmissionState `json:"admission"`
	WorkerAlive bool                  `json:"worker_alive"`
}

// Status returns the latest snapshot. Safe for concurrent use.
func (l *Loop) Status() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

func (l *Loop) publishSnapshot(tick engine.Tick, report TickReport, tickErr error) {
	admission := l.Admission.State()
	cursor, _ := l.Queue.Cursor()
	backlog, _ := l.Queue.Backlog()
	malformed := l.Queue.Malformed()
	alive := l.Worker != nil && l.Worker.Alive()

	metrics.SetAdmission(admission.RateLimit.Requests.Available, admission.RateLimit.Cost.Available, admission.CircuitOpen)
	metrics.SetQueueBacklog(backlog)
	metrics.RecordMalformed(malformed - l.lastMalformed)
	l.lastMalformed = malformed

	l.mu.Lock()
	defer l.mu.Unlock()

	s := &l.snap
	s.LastTickAt = tick.Scheduled
	s.Ticks++
	s.SkippedTicks += tick.Skipped
	s.Processed += int64(report.Processed)
	s.Succeeded += int64(report.Succeeded)
	s.Failed += int64(report.Failed)
	if report.Deferred {
		s.Deferred++
	}
	s.LastDenial = string(report.Denied)
	if tickErr != nil {
		s.LastError = tickErr.Error()
	}
	s.Cursor = cursor
	s.Backlog = backlog
	s.Malformed = malformed
	s.Admission = admission
	s.WorkerAlive = alive
}
