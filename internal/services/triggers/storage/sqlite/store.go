// Package sqlite persists the trigger attempt ledger in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/revents/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/revents/internal/services/triggers/storage"
	"github.com/louisbranch/revents/internal/services/triggers/storage/sqlite/migrations"
)

// Store provides SQLite-backed attempt persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens an attempt store and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrations.FS)
	if err != nil {
		return nil, err
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordAttempt persists one delivery attempt.
func (s *Store) RecordAttempt(ctx context.Context, attempt storage.AttemptRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	attempt.ChangeID = strings.TrimSpace(attempt.ChangeID)
	attempt.Path = strings.TrimSpace(attempt.Path)
	attempt.Lifecycle = strings.TrimSpace(attempt.Lifecycle)
	attempt.Handlers = strings.TrimSpace(attempt.Handlers)
	attempt.Consumer = strings.TrimSpace(attempt.Consumer)
	attempt.Outcome = strings.TrimSpace(attempt.Outcome)
	attempt.LastError = strings.TrimSpace(attempt.LastError)
	if attempt.ChangeID == "" {
		return fmt.Errorf("change id is required")
	}
	if attempt.Path == "" {
		return fmt.Errorf("path is required")
	}
	if attempt.Lifecycle == "" {
		return fmt.Errorf("lifecycle is required")
	}
	if attempt.Consumer == "" {
		return fmt.Errorf("consumer is required")
	}
	if attempt.Outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO trigger_attempts (
	change_id,
	path,
	lifecycle,
	handlers,
	consumer,
	outcome,
	attempt_count,
	last_error,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		attempt.ChangeID,
		attempt.Path,
		attempt.Lifecycle,
		attempt.Handlers,
		attempt.Consumer,
		attempt.Outcome,
		attempt.AttemptCount,
		attempt.LastError,
		attempt.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ListAttempts lists newest-first attempt records.
func (s *Store) ListAttempts(ctx context.Context, limit int) ([]storage.AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+attemptColumns+`
FROM trigger_attempts
ORDER BY created_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows, limit)
}

// ListAttemptsForChange lists one change's attempts, oldest first.
func (s *Store) ListAttemptsForChange(ctx context.Context, changeID string) ([]storage.AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	changeID = strings.TrimSpace(changeID)
	if changeID == "" {
		return nil, fmt.Errorf("change id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+attemptColumns+`
FROM trigger_attempts
WHERE change_id = ?
ORDER BY id ASC
`, changeID)
	if err != nil {
		return nil, fmt.Errorf("list change attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows, 0)
}

const attemptColumns = `
	id,
	change_id,
	path,
	lifecycle,
	handlers,
	consumer,
	outcome,
	attempt_count,
	last_error,
	created_at`

func collectAttempts(rows *sql.Rows, capacity int) ([]storage.AttemptRecord, error) {
	records := make([]storage.AttemptRecord, 0, capacity)
	for rows.Next() {
		var record storage.AttemptRecord
		var createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.ChangeID,
			&record.Path,
			&record.Lifecycle,
			&record.Handlers,
			&record.Consumer,
			&record.Outcome,
			&record.AttemptCount,
			&record.LastError,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		record.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return records, nil
}

var _ storage.AttemptStore = (*Store)(nil)
