package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lnagent/lnagent/internal/core"
)

// LoadBackoff returns the persisted backoff state for a queue directory, or
// nil when none was saved.
func (s *Store) LoadBackoff(ctx context.Context, queueDir string) (*core.BackoffState, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	queueDir = strings.TrimSpace(queueDir)
	if queueDir == "" {
		return nil, errors.New("queue dir is required")
	}

	var (
		attempt          int64
		consecutive      int64
		blockedUntil     sql.NullInt64
		circuitOpenUntil sql.NullInt64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT attempt, consecutive_failures, blocked_until, circuit_open_until
		FROM admission_state
		WHERE queue_dir = ?
	`, queueDir)
	if err := row.Scan(&attempt, &consecutive, &blockedUntil, &circuitOpenUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch backoff state: %w", err)
	}

	state := &core.BackoffState{
		Attempt:             uint32(attempt),
		ConsecutiveFailures: uint32(consecutive),
	}
	if blockedUntil.Valid {
		state.BlockedUntil = time.UnixMilli(blockedUntil.Int64).UTC()
	}
	if circuitOpenUntil.Valid {
		state.CircuitOpenUntil = time.UnixMilli(circuitOpenUntil.Int64).UTC()
	}
	return state, nil
}

// SaveBackoff persists backoff state for a queue directory so a restarted
// agent honours an open circuit.
func (s *Store) SaveBackoff(ctx context.Context, queueDir string, state core.BackoffState) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	queueDir = strings.TrimSpace(queueDir)
	if queueDir == "" {
		return errors.New("queue dir is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO admission_state (queue_dir, attempt, consecutive_failures, blocked_until, circuit_open_until, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(queue_dir) DO UPDATE SET
			attempt = excluded.attempt,
			consecutive_failures = excluded.consecutive_failures,
			blocked_until = excluded.blocked_until,
			circuit_open_until = excluded.circuit_open_until,
			updated_at = excluded.updated_at
	`, queueDir, int64(state.Attempt), int64(state.ConsecutiveFailures),
		nullMillis(state.BlockedUntil), nullMillis(state.CircuitOpenUntil), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store backoff state: %w", err)
	}
	return nil
}

// ResetBackoff deletes persisted backoff state. An empty queueDir resets
// every queue.
func (s *Store) ResetBackoff(ctx context.Context, queueDir string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		result sql.Result
		err    error
	)
	if queueDir = strings.TrimSpace(queueDir); queueDir == "" {
		result, err = s.DB.ExecContext(ctx, `DELETE FROM admission_state`)
	} else {
		result, err = s.DB.ExecContext(ctx, `DELETE FROM admission_state WHERE queue_dir = ?`, queueDir)
	}
	if err != nil {
		return 0, fmt.Errorf("reset backoff state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset backoff state: %w", err)
	}
	return affected, nil
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}
