package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Precondition constrains a document's existence at commit time.
type Precondition int

const (
	// NoPrecondition places no constraint.
	NoPrecondition Precondition = iota
	// Exists requires the document to exist.
	Exists
	// Missing requires the document to be absent.
	Missing
)

func (p Precondition) String() string {
	switch p {
	case Exists:
		return "exists"
	case Missing:
		return "missing"
	default:
		return "none"
	}
}

// WriteKind names a batch operation.
type WriteKind string

const (
	WriteSet     WriteKind = "set"
	WriteCreate  WriteKind = "create"
	WriteUpdate  WriteKind = "update"
	WriteDelete  WriteKind = "delete"
	WriteRequire WriteKind = "require"
)

// Write is one queued batch operation.
type Write struct {
	Kind         WriteKind
	Path         string
	Data         Data
	Fields       map[string]any
	Precondition Precondition
}

// WriteError identifies the write that made a commit fail.
type WriteError struct {
	Index int
	Kind  WriteKind
	Path  string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %d (%s %s): %v", e.Index, e.Kind, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Committer applies a batch's writes atomically.
type Committer interface {
	CommitWrites(ctx context.Context, writes []Write) error
}

// WriteBatch groups writes that commit all together or not at all.
// It is not safe for concurrent use.
type WriteBatch struct {
	committer Committer
	writes    []Write
	err       error
	committed bool
}

// NewBatch creates an empty batch committed through c.
func NewBatch(c Committer) *WriteBatch {
	return &WriteBatch{committer: c}
}

// Set replaces the document at path.
func (b *WriteBatch) Set(path string, data Data) *WriteBatch {
	return b.add(Write{Kind: WriteSet, Path: path, Data: data})
}

// Create writes a new document; the commit fails with ErrAlreadyExists if it exists.
func (b *WriteBatch) Create(path string, data Data) *WriteBatch {
	return b.add(Write{Kind: WriteCreate, Path: path, Data: data})
}

// Update merges fields into an existing document; the commit fails with
// ErrNotFound if it is missing. Field values may be Transforms.
func (b *WriteBatch) Update(path string, fields map[string]any) *WriteBatch {
	if len(fields) == 0 {
		b.fail(fmt.Errorf("update %s: fields are required", path))
		return b
	}
	return b.add(Write{Kind: WriteUpdate, Path: path, Fields: fields})
}

// Delete removes the document. With Exists, the commit fails with
// ErrPreconditionFailed when the document is already gone.
func (b *WriteBatch) Delete(path string, precondition ...Precondition) *WriteBatch {
	write := Write{Kind: WriteDelete, Path: path}
	if len(precondition) > 0 {
		write.Precondition = precondition[0]
	}
	return b.add(write)
}

// Require makes the commit fail with ErrPreconditionFailed unless the
// document at path satisfies precondition. It writes nothing.
func (b *WriteBatch) Require(path string, precondition Precondition) *WriteBatch {
	if precondition == NoPrecondition {
		b.fail(fmt.Errorf("require %s: precondition is required", path))
		return b
	}
	return b.add(Write{Kind: WriteRequire, Path: path, Precondition: precondition})
}

// Len reports the number of queued writes.
func (b *WriteBatch) Len() int {
	return len(b.writes)
}

// Writes returns a copy of the queued writes.
func (b *WriteBatch) Writes() []Write {
	out := make([]Write, len(b.writes))
	copy(out, b.writes)
	return out
}

// Commit applies every queued write atomically. A batch commits at most once.
func (b *WriteBatch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if b.committed {
		return errors.New("batch already committed")
	}
	if len(b.writes) == 0 {
		return errors.New("batch has no writes")
	}
	if b.committer == nil {
		return errors.New("batch committer is not configured")
	}
	b.committed = true
	return b.committer.CommitWrites(ctx, b.Writes())
}

func (b *WriteBatch) add(write Write) *WriteBatch {
	if b.err != nil {
		return b
	}
	if _, _, err := SplitDoc(write.Path); err != nil {
		b.fail(fmt.Errorf("%s: %w", write.Kind, err))
		return b
	}
	b.writes = append(b.writes, write)
	return b
}

func (b *WriteBatch) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Resolve computes what a write leaves at its path given the current document.
// Require writes return the current state unchanged.
func Resolve(write Write, current Data, exists bool, now time.Time) (Data, bool, error) {
	switch write.Kind {
	case WriteRequire:
		if err := checkPrecondition(write.Precondition, exists); err != nil {
			return nil, false, err
		}
		return current, exists, nil
	case WriteSet:
		next, err := ApplySet(write.Data, now)
		return next, err == nil, err
	case WriteCreate:
		if exists {
			return nil, false, ErrAlreadyExists
		}
		next, err := ApplySet(write.Data, now)
		return next, err == nil, err
	case WriteUpdate:
		if !exists {
			return nil, false, ErrNotFound
		}
		next, err := ApplyUpdate(current, write.Fields, now)
		return next, err == nil, err
	case WriteDelete:
		if err := checkPrecondition(write.Precondition, exists); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("unknown write kind %q", write.Kind)
	}
}

func checkPrecondition(precondition Precondition, exists bool) error {
	switch precondition {
	case Exists:
		if !exists {
			return ErrPreconditionFailed
		}
	case Missing:
		if exists {
			return ErrPreconditionFailed
		}
	}
	return nil
}
