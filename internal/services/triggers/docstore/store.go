package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested or updated document is missing.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists indicates a create targeted an existing document.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrPreconditionFailed indicates a batch precondition did not hold at commit.
	ErrPreconditionFailed = errors.New("document precondition failed")
	// ErrLeaseLost indicates a change was acknowledged by a consumer that no longer holds its lease.
	ErrLeaseLost = errors.New("change lease lost")
)

// Filter is an equality match on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Where builds an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Reader reads documents.
type Reader interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	List(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error)
}

// Writer starts atomic write batches.
type Writer interface {
	Batch() *WriteBatch
}

// Store is the document store handle passed explicitly to handlers.
type Store interface {
	Reader
	Writer
}

// ChangeKind is the lifecycle transition a change represents.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is the store's record of one committed document write.
type Change struct {
	ID         string
	Path       string
	Before     *Snapshot
	After      *Snapshot
	OccurredAt time.Time
	// Attempt counts leases of this change, starting at 1.
	Attempt int
}

// Kind derives the lifecycle transition from the before/after snapshots.
func (c Change) Kind() ChangeKind {
	switch {
	case c.Before == nil && c.After != nil:
		return ChangeCreated
	case c.Before != nil && c.After == nil:
		return ChangeDeleted
	default:
		return ChangeUpdated
	}
}

// AckOutcome is the delivery result a consumer reports for a leased change.
type AckOutcome string

const (
	AckSucceeded AckOutcome = "succeeded"
	AckRetry     AckOutcome = "retry"
	AckDead      AckOutcome = "dead"
)

// LeaseRequest asks for up to Limit deliverable changes.
type LeaseRequest struct {
	Consumer string
	Limit    int
	TTL      time.Duration
	Now      time.Time
}

// Ack settles one leased change.
type Ack struct {
	ChangeID      string
	Consumer      string
	Outcome       AckOutcome
	NextAttemptAt time.Time
	LastError     string
	Now           time.Time
}

// Validate checks the fields required for each outcome.
func (a Ack) Validate() error {
	if a.ChangeID == "" {
		return fmt.Errorf("change id is required")
	}
	if a.Consumer == "" {
		return fmt.Errorf("consumer is required")
	}
	switch a.Outcome {
	case AckSucceeded, AckDead:
	case AckRetry:
		if a.NextAttemptAt.IsZero() {
			return fmt.Errorf("next attempt at is required for retry")
		}
	default:
		return fmt.Errorf("unknown ack outcome %q", a.Outcome)
	}
	return nil
}

// ChangeFeed hands captured changes to consumers with at-least-once delivery.
// A leased change that is not acknowledged before its TTL becomes deliverable again.
type ChangeFeed interface {
	LeaseChanges(ctx context.Context, req LeaseRequest) ([]Change, error)
	AckChange(ctx context.Context, ack Ack) error
}

// ChangePruner deletes succeeded changes settled before a cutoff. Dead
// changes are kept for inspection.
type ChangePruner interface {
	PruneChanges(ctx context.Context, settledBefore time.Time) (int, error)
}
