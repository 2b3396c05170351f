// Package storage defines the trigger delivery attempt ledger.
package storage

import (
	"context"
	"time"
)

// AttemptRecord is one durable delivery outcome for a change.
type AttemptRecord struct {
	ID           int64
	ChangeID     string
	Path         string
	Lifecycle    string
	Handlers     string
	Consumer     string
	Outcome      string
	AttemptCount int32
	LastError    string
	CreatedAt    time.Time
}

// AttemptStore persists delivery attempt records.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt AttemptRecord) error
	ListAttempts(ctx context.Context, limit int) ([]AttemptRecord, error)
	ListAttemptsForChange(ctx context.Context, changeID string) ([]AttemptRecord, error)
}
