// Package sqlite implements the document store and its change outbox on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/revents/internal/platform/id"
	sqlitemigrate "github.com/louisbranch/revents/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/revents/internal/services/triggers/docstore"
	"github.com/louisbranch/revents/internal/services/triggers/docstore/sqlite/migrations"
)

// Store persists documents and records every committed write as a pending
// change in the same transaction.
type Store struct {
	sqlDB    *sql.DB
	clock    func() time.Time
	changeID func() (string, error)
}

var (
	_ docstore.Store      = (*Store)(nil)
	_ docstore.Committer  = (*Store)(nil)
	_ docstore.ChangeFeed = (*Store)(nil)
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a document store at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrations.FS)
	if err != nil {
		return nil, err
	}
	return &Store{sqlDB: sqlDB, clock: time.Now, changeID: id.NewID}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

// Batch starts a write batch committed by this store.
func (s *Store) Batch() *docstore.WriteBatch {
	return docstore.NewBatch(s)
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, path string) (docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return docstore.Snapshot{}, fmt.Errorf("storage is not configured")
	}
	if _, _, err := docstore.SplitDoc(path); err != nil {
		return docstore.Snapshot{}, err
	}

	state, err := loadDocument(ctx, s.sqlDB, path)
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("get %s: %w", path, err)
	}
	if !state.exists {
		return docstore.Snapshot{}, fmt.Errorf("get %s: %w", path, docstore.ErrNotFound)
	}
	return state.snapshot(path), nil
}

// List reads the documents directly under collection, ordered by id.
// Filters compare top-level fields for equality.
func (s *Store) List(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}

	var query strings.Builder
	query.WriteString("SELECT path, data, create_time, update_time FROM documents WHERE parent = ?")
	args := []any{collection}
	for _, filter := range filters {
		if err := docstore.ValidateField(filter.Field); err != nil {
			return nil, err
		}
		query.WriteString(" AND json_extract(data, '$." + filter.Field + "') = ?")
		args = append(args, filterArg(filter.Value))
	}
	query.WriteString(" ORDER BY doc_id ASC")

	rows, err := s.sqlDB.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	snapshots := make([]docstore.Snapshot, 0)
	for rows.Next() {
		var path string
		var state documentState
		if err := scanDocument(rows.Scan, &path, &state); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		snapshots = append(snapshots, state.snapshot(path))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return snapshots, nil
}

// CommitWrites applies writes in one transaction. Each touched document
// yields one change row holding its state before the first write and after
// the last; require-only paths yield none.
func (s *Store) CommitWrites(ctx context.Context, writes []docstore.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(writes) == 0 {
		return fmt.Errorf("writes are required")
	}
	now := s.now()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin document write: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback document write: %v", cause, rollbackErr)
		}
		return cause
	}

	touched := make(map[string]*pendingDocument, len(writes))
	order := make([]string, 0, len(writes))
	for i, write := range writes {
		doc, ok := touched[write.Path]
		if !ok {
			before, err := loadDocument(ctx, tx, write.Path)
			if err != nil {
				return rollbackWith(fmt.Errorf("load %s: %w", write.Path, err))
			}
			doc = &pendingDocument{before: before, after: before}
			touched[write.Path] = doc
			order = append(order, write.Path)
		}

		data, exists, err := docstore.Resolve(write, doc.after.data, doc.after.exists, now)
		if err != nil {
			return rollbackWith(&docstore.WriteError{Index: i, Kind: write.Kind, Path: write.Path, Err: err})
		}
		if write.Kind == docstore.WriteRequire {
			continue
		}
		next := documentState{exists: exists, data: data, createTime: doc.after.createTime, updateTime: now}
		if !doc.after.exists {
			next.createTime = now
		}
		doc.after = next
		doc.written = true
	}

	for _, path := range order {
		doc := touched[path]
		if !doc.written {
			continue
		}
		if err := persistDocument(ctx, tx, path, doc.after); err != nil {
			return rollbackWith(err)
		}
		if !doc.before.exists && !doc.after.exists {
			continue
		}
		if err := s.recordChange(ctx, tx, path, doc, now); err != nil {
			return rollbackWith(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document write: %w", err)
	}
	return nil
}

type pendingDocument struct {
	before  documentState
	after   documentState
	written bool
}

type documentState struct {
	exists     bool
	data       docstore.Data
	createTime time.Time
	updateTime time.Time
}

func (d documentState) snapshot(path string) docstore.Snapshot {
	_, docID, _ := docstore.SplitDoc(path)
	return docstore.Snapshot{
		Path:       path,
		ID:         docID,
		Data:       d.data,
		CreateTime: d.createTime,
		UpdateTime: d.updateTime,
	}
}

func (d documentState) snapshotPtr(path string) *docstore.Snapshot {
	if !d.exists {
		return nil
	}
	snapshot := d.snapshot(path)
	return &snapshot
}

type scanner func(dest ...any) error

type sqlQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func loadDocument(ctx context.Context, queryer sqlQueryer, path string) (documentState, error) {
	row := queryer.QueryRowContext(ctx, `
SELECT path, data, create_time, update_time FROM documents WHERE path = ?
`, path)
	var found string
	var state documentState
	err := scanDocument(row.Scan, &found, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return documentState{}, nil
	}
	if err != nil {
		return documentState{}, err
	}
	return state, nil
}

func scanDocument(scan scanner, path *string, state *documentState) error {
	var raw string
	var createTime int64
	var updateTime int64
	if err := scan(path, &raw, &createTime, &updateTime); err != nil {
		return err
	}
	data, err := docstore.DecodeData([]byte(raw))
	if err != nil {
		return err
	}
	*state = documentState{
		exists:     true,
		data:       data,
		createTime: fromMillis(createTime),
		updateTime: fromMillis(updateTime),
	}
	return nil
}

func persistDocument(ctx context.Context, execer sqlExecer, path string, state documentState) error {
	if !state.exists {
		if _, err := execer.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
			return fmt.Errorf("delete %s: %w", path, err)
		}
		return nil
	}
	parent, docID, err := docstore.SplitDoc(path)
	if err != nil {
		return err
	}
	if state.data == nil {
		state.data = docstore.Data{}
	}
	raw, err := json.Marshal(state.data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	_, err = execer.ExecContext(ctx, `
INSERT INTO documents (path, parent, doc_id, data, create_time, update_time)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
	data = excluded.data,
	create_time = excluded.create_time,
	update_time = excluded.update_time
`, path, parent, docID, string(raw), toMillis(state.createTime), toMillis(state.updateTime))
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func filterArg(value any) any {
	switch v := value.(type) {
	case bool:
		if v {
			return 1
		}
		return 0
	case int:
		return int64(v)
	default:
		return value
	}
}
