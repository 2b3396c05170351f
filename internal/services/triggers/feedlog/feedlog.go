// Package feedlog defines the append-only per-user activity feed.
package feedlog

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Code identifies the kind of activity an entry reports.
type Code string

const (
	CodeJoinedEvent Code = "joined-event"
	CodeLeftEvent   Code = "left-event"
)

// Valid reports whether c is a known code.
func (c Code) Valid() bool {
	return c == CodeJoinedEvent || c == CodeLeftEvent
}

// Entry is one feed item. Key and Date are assigned by the log on append.
type Entry struct {
	Key         string    `json:"key"`
	Owner       string    `json:"owner"`
	PhotoURL    string    `json:"photoURL"`
	DisplayName string    `json:"displayName"`
	Date        time.Time `json:"date"`
	Code        Code      `json:"code"`
	EventID     string    `json:"eventId"`
	UserUID     string    `json:"userUid"`
	Title       string    `json:"title"`
	// DedupeKey makes appends idempotent per owner when set.
	DedupeKey string `json:"dedupeKey,omitempty"`
}

// Appender appends entries to an owner's feed. Appending an entry whose
// dedupe key already exists for the owner returns the stored entry.
type Appender interface {
	Append(ctx context.Context, owner string, entry Entry) (Entry, error)
}

// Log is an ordered, append-only feed store.
type Log interface {
	Appender
	// List returns up to limit entries, newest first.
	List(ctx context.Context, owner string, limit int) ([]Entry, error)
}

// Normalize trims entry fields, binds them to owner, and validates them.
func Normalize(owner string, entry Entry) (Entry, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Entry{}, fmt.Errorf("feed owner is required")
	}
	entry.Owner = owner
	entry.Code = Code(strings.TrimSpace(string(entry.Code)))
	entry.EventID = strings.TrimSpace(entry.EventID)
	entry.UserUID = strings.TrimSpace(entry.UserUID)
	entry.DedupeKey = strings.TrimSpace(entry.DedupeKey)
	if !entry.Code.Valid() {
		return Entry{}, fmt.Errorf("unknown feed code %q", entry.Code)
	}
	if entry.EventID == "" {
		return Entry{}, fmt.Errorf("event id is required")
	}
	if entry.UserUID == "" {
		return Entry{}, fmt.Errorf("user uid is required")
	}
	return entry, nil
}
