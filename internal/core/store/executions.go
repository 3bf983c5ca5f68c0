package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lnagent/lnagent/internal/core"
)

// ExecutionQuery filters ListExecutions. Zero values mean no filter.
type ExecutionQuery struct {
	Limit     int
	Kind      string
	Status    string
	RequestID uint64
	Since     time.Time
}

func (q ExecutionQuery) whereClause() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if kind := strings.TrimSpace(q.Kind); kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, kind)
	}
	if status := strings.TrimSpace(q.Status); status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, status)
	}
	if q.RequestID != 0 {
		clauses = append(clauses, "request_id = ?")
		args = append(args, int64(q.RequestID))
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, q.Since.UTC().UnixMilli())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// RecordExecution appends one processed request to the ledger.
func (s *Store) RecordExecution(ctx context.Context, exec *core.Execution) error {
	if err := s.ready(); err != nil {
		return err
	}
	if exec == nil {
		return fmt.Errorf("execution is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	startedAt := exec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO executions (
			request_id, kind, method, status, error_kind, message,
			attempts, estimated_cost, actual_cost, started_at, duration_ms, run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		int64(exec.RequestID),
		exec.Kind,
		nullString(exec.Method),
		string(exec.Status),
		nullString(exec.ErrorKind),
		nullString(exec.Message),
		exec.Attempts,
		exec.EstimatedCost,
		exec.ActualCost,
		startedAt.UTC().UnixMilli(),
		exec.Duration.Milliseconds(),
		nullString(exec.RunID),
	)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// ListExecutions returns ledger rows, newest first.
func (s *Store) ListExecutions(ctx context.Context, q ExecutionQuery) ([]*core.Execution, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := q.whereClause()
	query := fmt.Sprintf(`
		SELECT request_id, kind, method, status, error_kind, message,
			attempts, estimated_cost, actual_cost, started_at, duration_ms, run_id
		FROM executions
		%s
		ORDER BY started_at DESC, id DESC
	`, where)
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	executions := []*core.Execution{}
	for rows.Next() {
		var (
			requestID  int64
			exec       core.Execution
			method     sql.NullString
			status     string
			errorKind  sql.NullString
			message    sql.NullString
			startedAt  int64
			durationMs int64
			runID      sql.NullString
		)
		if err := rows.Scan(&requestID, &exec.Kind, &method, &status, &errorKind, &message,
			&exec.Attempts, &exec.EstimatedCost, &exec.ActualCost, &startedAt, &durationMs, &runID); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		exec.RequestID = uint64(requestID)
		exec.Method = method.String
		exec.Status = core.ExecutionStatus(status)
		exec.ErrorKind = errorKind.String
		exec.Message = message.String
		exec.StartedAt = time.UnixMilli(startedAt).UTC()
		exec.Duration = time.Duration(durationMs) * time.Millisecond
		exec.RunID = runID.String
		executions = append(executions, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return executions, nil
}

// ExecutionStats summarizes the whole ledger.
func (s *Store) ExecutionStats(ctx context.Context) (*core.ExecutionStats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	stats := &core.ExecutionStats{
		ByStatus: map[string]int{},
		ByKind:   map[string]int{},
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT status, COALESCE(error_kind, ''), COUNT(*)
		FROM executions
		GROUP BY status, COALESCE(error_kind, '')
	`)
	if err != nil {
		return nil, fmt.Errorf("execution stats: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			status    string
			errorKind string
			count     int
		)
		if err := rows.Scan(&status, &errorKind, &count); err != nil {
			return nil, fmt.Errorf("scan execution stats: %w", err)
		}
		stats.Total += count
		stats.ByStatus[status] += count
		if errorKind != "" {
			stats.ByKind[errorKind] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execution stats: %w", err)
	}

	var last sql.NullInt64
	if err := s.DB.QueryRowContext(ctx, `SELECT MAX(started_at) FROM executions`).Scan(&last); err != nil {
		return nil, fmt.Errorf("execution stats: %w", err)
	}
	if last.Valid {
		value := time.UnixMilli(last.Int64).UTC()
		stats.LastAt = &value
	}
	return stats, nil
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
