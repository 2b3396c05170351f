package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/revents/internal/services/triggers/docstore"
)

// Change row statuses.
const (
	StatusPending   = "pending"
	StatusLeased    = "leased"
	StatusSucceeded = "succeeded"
	StatusDead      = "dead"
)

type snapshotRecord struct {
	Data       docstore.Data `json:"data"`
	CreateTime int64         `json:"createTime"`
	UpdateTime int64         `json:"updateTime"`
}

func encodeSnapshot(state documentState) (sql.NullString, error) {
	if !state.exists {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(snapshotRecord{
		Data:       state.data,
		CreateTime: toMillis(state.createTime),
		UpdateTime: toMillis(state.updateTime),
	})
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeSnapshot(path string, value sql.NullString) (*docstore.Snapshot, error) {
	if !value.Valid {
		return nil, nil
	}
	var record snapshotRecord
	if err := json.Unmarshal([]byte(value.String), &record); err != nil {
		return nil, err
	}
	if record.Data == nil {
		record.Data = docstore.Data{}
	}
	state := documentState{
		exists:     true,
		data:       record.Data,
		createTime: fromMillis(record.CreateTime),
		updateTime: fromMillis(record.UpdateTime),
	}
	return state.snapshotPtr(path), nil
}

func (s *Store) recordChange(ctx context.Context, execer sqlExecer, path string, doc *pendingDocument, now time.Time) error {
	changeID, err := s.changeID()
	if err != nil {
		return err
	}
	before, err := encodeSnapshot(doc.before)
	if err != nil {
		return fmt.Errorf("encode before %s: %w", path, err)
	}
	after, err := encodeSnapshot(doc.after)
	if err != nil {
		return fmt.Errorf("encode after %s: %w", path, err)
	}
	_, err = execer.ExecContext(ctx, `
INSERT INTO document_changes (
	id,
	path,
	before_json,
	after_json,
	occurred_at,
	status,
	next_attempt_at,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, changeID, path, before, after, toMillis(now), StatusPending, toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("record change %s: %w", path, err)
	}
	return nil
}

// LeaseChanges leases up to req.Limit deliverable changes in capture order.
// A change is deliverable when pending and due, or leased with an expired lease.
func (s *Store) LeaseChanges(ctx context.Context, req docstore.LeaseRequest) ([]docstore.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	req.Consumer = strings.TrimSpace(req.Consumer)
	if req.Consumer == "" {
		return nil, fmt.Errorf("consumer is required")
	}
	if req.Limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if req.TTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be greater than zero")
	}
	if req.Now.IsZero() {
		req.Now = s.now()
	}
	now := toMillis(req.Now)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lease changes: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback lease changes: %v", cause, rollbackErr)
		}
		return cause
	}

	rows, err := tx.QueryContext(ctx, `
SELECT id, path, before_json, after_json, occurred_at, attempt_count
FROM document_changes
WHERE (status = ? AND next_attempt_at <= ?)
   OR (status = ? AND lease_expires_at <= ?)
ORDER BY seq ASC
LIMIT ?
`, StatusPending, now, StatusLeased, now, req.Limit)
	if err != nil {
		return nil, rollbackWith(fmt.Errorf("select deliverable changes: %w", err))
	}
	changes := make([]docstore.Change, 0, req.Limit)
	for rows.Next() {
		change, scanErr := scanChange(rows.Scan)
		if scanErr != nil {
			_ = rows.Close()
			return nil, rollbackWith(fmt.Errorf("scan change row: %w", scanErr))
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, rollbackWith(fmt.Errorf("iterate change rows: %w", err))
	}
	_ = rows.Close()

	expiresAt := toMillis(req.Now.Add(req.TTL))
	for i := range changes {
		if _, err := tx.ExecContext(ctx, `
UPDATE document_changes
SET status = ?, lease_owner = ?, lease_expires_at = ?, attempt_count = attempt_count + 1, updated_at = ?
WHERE id = ?
`, StatusLeased, req.Consumer, expiresAt, now, changes[i].ID); err != nil {
			return nil, rollbackWith(fmt.Errorf("lease change %s: %w", changes[i].ID, err))
		}
		changes[i].Attempt++
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease changes: %w", err)
	}
	return changes, nil
}

// AckChange settles a leased change. It returns docstore.ErrLeaseLost when
// the consumer no longer holds the lease.
func (s *Store) AckChange(ctx context.Context, ack docstore.Ack) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	ack.ChangeID = strings.TrimSpace(ack.ChangeID)
	ack.Consumer = strings.TrimSpace(ack.Consumer)
	ack.LastError = strings.TrimSpace(ack.LastError)
	if err := ack.Validate(); err != nil {
		return err
	}
	if ack.Now.IsZero() {
		ack.Now = s.now()
	}

	var result sql.Result
	var err error
	switch ack.Outcome {
	case docstore.AckSucceeded:
		result, err = s.sqlDB.ExecContext(ctx, `
UPDATE document_changes
SET status = ?, lease_owner = '', lease_expires_at = 0, last_error = '', updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?
`, StatusSucceeded, toMillis(ack.Now), ack.ChangeID, StatusLeased, ack.Consumer)
	case docstore.AckRetry:
		result, err = s.sqlDB.ExecContext(ctx, `
UPDATE document_changes
SET status = ?, lease_owner = '', lease_expires_at = 0, next_attempt_at = ?, last_error = ?, updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?
`, StatusPending, toMillis(ack.NextAttemptAt), ack.LastError, toMillis(ack.Now), ack.ChangeID, StatusLeased, ack.Consumer)
	case docstore.AckDead:
		result, err = s.sqlDB.ExecContext(ctx, `
UPDATE document_changes
SET status = ?, lease_owner = '', lease_expires_at = 0, last_error = ?, updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?
`, StatusDead, ack.LastError, toMillis(ack.Now), ack.ChangeID, StatusLeased, ack.Consumer)
	}
	if err != nil {
		return fmt.Errorf("ack change %s: %w", ack.ChangeID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ack change %s rows affected: %w", ack.ChangeID, err)
	}
	if affected == 0 {
		return fmt.Errorf("ack change %s: %w", ack.ChangeID, docstore.ErrLeaseLost)
	}
	return nil
}

// CountChanges reports how many change rows have status.
func (s *Store) CountChanges(ctx context.Context, status string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var count int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_changes WHERE status = ?`, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("count changes: %w", err)
	}
	return count, nil
}

// PruneChanges deletes succeeded changes settled before settledBefore and
// reports how many were removed.
func (s *Store) PruneChanges(ctx context.Context, settledBefore time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM document_changes
WHERE status = ? AND updated_at < ?
`, StatusSucceeded, toMillis(settledBefore))
	if err != nil {
		return 0, fmt.Errorf("prune changes: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune changes rows affected: %w", err)
	}
	return int(removed), nil
}

func scanChange(scan scanner) (docstore.Change, error) {
	var change docstore.Change
	var before sql.NullString
	var after sql.NullString
	var occurredAt int64
	if err := scan(&change.ID, &change.Path, &before, &after, &occurredAt, &change.Attempt); err != nil {
		return docstore.Change{}, err
	}
	var err error
	if change.Before, err = decodeSnapshot(change.Path, before); err != nil {
		return docstore.Change{}, fmt.Errorf("decode before: %w", err)
	}
	if change.After, err = decodeSnapshot(change.Path, after); err != nil {
		return docstore.Change{}, fmt.Errorf("decode after: %w", err)
	}
	change.OccurredAt = fromMillis(occurredAt)
	return change, nil
}
