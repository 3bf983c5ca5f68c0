package core

import "time"

// ExecutionStatus is the terminal state recorded for a dispatched request.
type ExecutionStatus string

const (
	ExecutionOK       ExecutionStatus = "ok"
	ExecutionError    ExecutionStatus = "error"
	ExecutionRejected ExecutionStatus = "rejected"
	// ExecutionUnknown marks a non-idempotent call cut short by shutdown;
	// the node may or may not have acted on it.
	ExecutionUnknown ExecutionStatus = "unknown"
)

// Execution captures one processed queue entry for the history ledger.
type Execution struct {
	RequestID     uint64          `json:"request_id"`
	Kind          string          `json:"kind"`
	Method        string          `json:"method,omitempty"`
	Status        ExecutionStatus `json:"status"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Message       string          `json:"message,omitempty"`
	Attempts      int             `json:"attempts"`
	EstimatedCost float64         `json:"estimated_cost"`
	ActualCost    float64         `json:"actual_cost"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
	RunID         string          `json:"run_id,omitempty"`
}

// ExecutionStats summarizes the ledger.
type ExecutionStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByKind   map[string]int `json:"by_error_kind"`
	LastAt   *time.Time     `json:"last_at,omitempty"`
}
