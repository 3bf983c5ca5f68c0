package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		method TEXT,
		status TEXT NOT NULL,
		error_kind TEXT,
		message TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		estimated_cost REAL NOT NULL DEFAULT 0,
		actual_cost REAL NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		run_id TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_executions_request ON executions(request_id);`,
	`CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at);`,
	`CREATE TABLE IF NOT EXISTS admission_state (
		queue_dir TEXT PRIMARY KEY,
		attempt INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		blocked_until INTEGER,
		circuit_open_until INTEGER,
		updated_at INTEGER NOT NULL
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
