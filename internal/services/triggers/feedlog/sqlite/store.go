// Package sqlite stores feed logs in SQLite, keyed by monotonic ULIDs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/revents/internal/platform/id"
	sqlitemigrate "github.com/louisbranch/revents/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/revents/internal/services/triggers/feedlog"
	"github.com/louisbranch/revents/internal/services/triggers/feedlog/sqlite/migrations"
)

// Store provides SQLite-backed feed logs.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
	keys  *id.LogKeys
}

var _ feedlog.Log = (*Store)(nil)

// Open opens a feed log store at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrations.FS)
	if err != nil {
		return nil, err
	}
	store := &Store{sqlDB: sqlDB, clock: time.Now}
	store.keys = id.NewLogKeys(store.now)
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

// Append stores entry at the end of owner's feed.
func (s *Store) Append(ctx context.Context, owner string, entry feedlog.Entry) (feedlog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return feedlog.Entry{}, err
	}
	if s == nil || s.sqlDB == nil {
		return feedlog.Entry{}, fmt.Errorf("storage is not configured")
	}
	entry, err := feedlog.Normalize(owner, entry)
	if err != nil {
		return feedlog.Entry{}, err
	}
	if entry.DedupeKey != "" {
		existing, found, err := s.getByDedupeKey(ctx, entry.Owner, entry.DedupeKey)
		if err != nil {
			return feedlog.Entry{}, err
		}
		if found {
			return existing, nil
		}
	}

	entry.Key, err = s.keys.Next()
	if err != nil {
		return feedlog.Entry{}, err
	}
	entry.Date = s.now()

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO feed_entries (
	entry_key,
	owner,
	photo_url,
	display_name,
	date,
	code,
	event_id,
	user_uid,
	title,
	dedupe_key
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		entry.Key,
		entry.Owner,
		entry.PhotoURL,
		entry.DisplayName,
		entry.Date.UnixMilli(),
		string(entry.Code),
		entry.EventID,
		entry.UserUID,
		entry.Title,
		entry.DedupeKey,
	)
	if err != nil {
		if entry.DedupeKey != "" && sqlitemigrate.IsUniqueConstraintError(err) {
			existing, found, lookupErr := s.getByDedupeKey(ctx, entry.Owner, entry.DedupeKey)
			if lookupErr != nil {
				return feedlog.Entry{}, lookupErr
			}
			if found {
				return existing, nil
			}
		}
		return feedlog.Entry{}, fmt.Errorf("append feed entry: %w", err)
	}
	return entry, nil
}

// List returns up to limit entries of owner's feed, newest first.
func (s *Store) List(ctx context.Context, owner string, limit int) ([]feedlog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("feed owner is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT entry_key, owner, photo_url, display_name, date, code, event_id, user_uid, title, dedupe_key
FROM feed_entries
WHERE owner = ?
ORDER BY entry_key DESC
LIMIT ?
`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list feed entries: %w", err)
	}
	defer rows.Close()

	entries := make([]feedlog.Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan feed entry row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed entry rows: %w", err)
	}
	return entries, nil
}

func (s *Store) getByDedupeKey(ctx context.Context, owner, dedupeKey string) (feedlog.Entry, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT entry_key, owner, photo_url, display_name, date, code, event_id, user_uid, title, dedupe_key
FROM feed_entries
WHERE owner = ? AND dedupe_key = ?
`, owner, dedupeKey)
	entry, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return feedlog.Entry{}, false, nil
	}
	if err != nil {
		return feedlog.Entry{}, false, fmt.Errorf("get feed entry by dedupe key: %w", err)
	}
	return entry, true, nil
}

type scanner func(dest ...any) error

func scanEntry(scan scanner) (feedlog.Entry, error) {
	var entry feedlog.Entry
	var date int64
	var code string
	if err := scan(
		&entry.Key,
		&entry.Owner,
		&entry.PhotoURL,
		&entry.DisplayName,
		&date,
		&code,
		&entry.EventID,
		&entry.UserUID,
		&entry.Title,
		&entry.DedupeKey,
	); err != nil {
		return feedlog.Entry{}, err
	}
	entry.Date = time.UnixMilli(date).UTC()
	entry.Code = feedlog.Code(code)
	return entry, nil
}
