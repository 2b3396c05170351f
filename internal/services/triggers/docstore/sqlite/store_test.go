package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/revents/internal/services/triggers/docstore"
)

func TestGetMissingDocument(t *testing.T) {
	store := openTempStore(t)

	_, err := store.Get(context.Background(), "users/nobody")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestBatchCommitWritesAndReads(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	err := store.Batch().
		Set("users/alice", docstore.Data{"uid": "alice", "displayName": "Alice", "followingCount": 0}).
		Set("users/bob", docstore.Data{"uid": "bob", "displayName": "Bob"}).
		Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap, err := store.Get(ctx, "users/alice")
	if err != nil {
		t.Fatalf("get alice: %v", err)
	}
	if snap.ID != "alice" || snap.Data.String("displayName") != "Alice" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.CreateTime.IsZero() || snap.UpdateTime.IsZero() {
		t.Fatalf("expected timestamps, got %+v", snap)
	}

	users, err := store.List(ctx, "users")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 || users[0].ID != "alice" || users[1].ID != "bob" {
		t.Fatalf("users = %+v", users)
	}

	filtered, err := store.List(ctx, "users", docstore.Where("displayName", "Bob"))
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "bob" {
		t.Fatalf("filtered = %+v", filtered)
	}
}

func TestListOnlyDirectChildren(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	err := store.Batch().
		Set("following/alice/userFollowing/bob", docstore.Data{"uid": "bob"}).
		Set("following/carol/userFollowing/bob", docstore.Data{"uid": "bob"}).
		Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	docs, err := store.List(ctx, "following/alice/userFollowing")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].Path != "following/alice/userFollowing/bob" {
		t.Fatalf("docs = %+v", docs)
	}
}

func TestBatchIsAllOrNothing(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.Batch().Set("users/bob", docstore.Data{"followerCount": 0}).Commit(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := store.Batch().
		Create("following/bob/userFollowers/alice", docstore.Data{"uid": "alice"}).
		Update("users/bob", map[string]any{"followerCount": docstore.Increment(1)}).
		Require("following/alice/userFollowing/bob", docstore.Exists).
		Commit(ctx)
	if !errors.Is(err, docstore.ErrPreconditionFailed) {
		t.Fatalf("err = %v, want precondition failed", err)
	}
	var writeErr *docstore.WriteError
	if !errors.As(err, &writeErr) || writeErr.Index != 2 {
		t.Fatalf("expected write error at index 2, got %v", err)
	}

	if _, err := store.Get(ctx, "following/bob/userFollowers/alice"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected reverse entry to be rolled back, got %v", err)
	}
	bob, err := store.Get(ctx, "users/bob")
	if err != nil {
		t.Fatalf("get bob: %v", err)
	}
	if got := bob.Data.Int64("followerCount"); got != 0 {
		t.Fatalf("followerCount = %d, want 0", got)
	}
	if got := countChanges(t, store, StatusPending); got != 1 {
		t.Fatalf("pending changes = %d, want 1", got)
	}
}

func TestCreateExistingFails(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.Batch().Create("users/a", docstore.Data{}).Commit(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.Batch().Create("users/a", docstore.Data{}).Commit(ctx)
	if !errors.Is(err, docstore.ErrAlreadyExists) {
		t.Fatalf("err = %v, want already exists", err)
	}
}

func TestUpdateMissingFails(t *testing.T) {
	store := openTempStore(t)

	err := store.Batch().Update("users/ghost", map[string]any{"followerCount": docstore.Increment(1)}).Commit(context.Background())
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestConcurrentIncrementsAreAtomic(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.Batch().Set("users/bob", docstore.Data{"followerCount": 0}).Commit(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Batch().Update("users/bob", map[string]any{"followerCount": docstore.Increment(1)}).Commit(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	bob, err := store.Get(ctx, "users/bob")
	if err != nil {
		t.Fatalf("get bob: %v", err)
	}
	if got := bob.Data.Int64("followerCount"); got != writers {
		t.Fatalf("followerCount = %d, want %d", got, writers)
	}
}

func TestCommitRecordsChanges(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return now }

	if err := store.Batch().Set("events/e1", docstore.Data{"title": "Picnic"}).Commit(ctx); err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := store.Batch().Update("events/e1", map[string]any{"title": "Party"}).Commit(ctx); err != nil {
		t.Fatalf("update event: %v", err)
	}
	if err := store.Batch().Delete("events/e1").Commit(ctx); err != nil {
		t.Fatalf("delete event: %v", err)
	}
	if err := store.Batch().Delete("events/never").Commit(ctx); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	changes, err := store.LeaseChanges(ctx, docstore.LeaseRequest{Consumer: "w1", Limit: 10, TTL: time.Minute, Now: now})
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("changes len = %d, want 3", len(changes))
	}
	wantKinds := []docstore.ChangeKind{docstore.ChangeCreated, docstore.ChangeUpdated, docstore.ChangeDeleted}
	for i, change := range changes {
		if change.Kind() != wantKinds[i] {
			t.Fatalf("changes[%d].kind = %q, want %q", i, change.Kind(), wantKinds[i])
		}
		if change.Attempt != 1 {
			t.Fatalf("changes[%d].attempt = %d, want 1", i, change.Attempt)
		}
	}
	update := changes[1]
	if update.Before.Data.String("title") != "Picnic" || update.After.Data.String("title") != "Party" {
		t.Fatalf("update before/after = %v / %v", update.Before.Data, update.After.Data)
	}
	if update.Before.ID != "e1" {
		t.Fatalf("before id = %q, want e1", update.Before.ID)
	}
}

func TestLeaseAndAck(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return now }

	if err := store.Batch().Set("users/a", docstore.Data{}).Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	leased, err := store.LeaseChanges(ctx, docstore.LeaseRequest{Consumer: "w1", Limit: 10, TTL: time.Minute, Now: now})
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease = %v, %v", leased, err)
	}
	again, err := store.LeaseChanges(ctx, docstore.LeaseRequest{Consumer: "w2", Limit: 10, TTL: time.Minute, Now: now.Add(30 * time.Second)})
	if err != nil {
		t.Fatalf("lease again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected active lease to hide change, got %d", len(again))
	}

	err = store.AckChange(ctx, docstore.Ack{
		ChangeID:      leased[0].ID,
		Consumer:      "w1",
		Outcome:       docstore.AckRetry,
		NextAttemptAt: now.Add(10 * time.Second),
		LastError:     "boom",
		Now:           now,
	})
	if err != nil {
		t.Fatalf("ack retry: %v", err)
	}

	early, err := store.LeaseChanges(ctx, docstore.LeaseRequest{Consumer: "w1", Limit: 10, TTL: time.Minute, Now: now.Add(5 * time.Second)})
	if err != nil {
		t.Fatalf("lease early: %v", err)
	}
	if len(early) != 0 {
		t.Fatalf("expected retry to wait for next attempt, got %d", len(early))
	}

	retried, err := store.LeaseChanges(ctx, docstore.LeaseRequest{Consumer: "w1", Limit: 10, TTL: time.Minute, Now: now.Add(10 * time.Second)})
	if err != nil || len(retried) != 1 {
		t.Fatalf("lease retried = %v, %v", retried, err)
	}
	if retried[0].Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", retried[0].Attempt)
	}

	if err := store.AckChange(ctx, docstore.Ack{ChangeID: retried[0].ID, Consumer: "w2", Outcome: docstore.AckSucceeded}); !errors.Is(err, docstore.ErrLeaseLost) {
		t.Fatalf("ack by non-owner err = %v, want lease lost", err)
	}
	if err := store.AckChange(ctx, docstore.Ack{ChangeID: retried[0].ID, Consumer: "w1", Outcome: docstore.AckSucceeded}); err != nil {
		t.Fatalf("ack succeeded: %v", err)
	}
	if got := countChanges(t, store, StatusSucceeded); got != 1 {
		t.Fatalf("succeeded = %d, want 1", got)
	}
}

func TestExpiredLeaseIsRedelivered(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return now }

	if err := store.Batch().Set("users/a", docstore.Data{}).Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	first, err := store.LeaseChanges(ctx, docstore.LeaseRequest{Consumer: "w1", Limit: 1, TTL: time.Minute, Now: now})
	if err != nil || len(first) != 1 {
		t.Fatalf("lease = %v, %v", first, err)
	}
	second, err := store.LeaseChanges(ctx, docstore.LeaseRequest{Consumer: "w2", Limit: 1, TTL: time.Minute, Now: now.Add(2 * time.Minute)})
	if err != nil || len(second) != 1 {
		t.Fatalf("lease after expiry = %v, %v", second, err)
	}
	if second[0].ID != first[0].ID {
		t.Fatalf("redelivered id = %q, want %q", second[0].ID, first[0].ID)
	}
	if err := store.AckChange(ctx, docstore.Ack{ChangeID: first[0].ID, Consumer: "w1", Outcome: docstore.AckSucceeded}); !errors.Is(err, docstore.ErrLeaseLost) {
		t.Fatalf("stale ack err = %v, want lease lost", err)
	}
	if err := store.AckChange(ctx, docstore.Ack{ChangeID: second[0].ID, Consumer: "w2", Outcome: docstore.AckDead, LastError: "gone"}); err != nil {
		t.Fatalf("ack dead: %v", err)
	}
	if got := countChanges(t, store, StatusDead); got != 1 {
		t.Fatalf("dead = %d, want 1", got)
	}
}

func TestPruneChangesKeepsUnsettledAndDead(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return now }

	for _, path := range []string{"users/a", "users/b", "users/c"} {
		if err := store.Batch().Set(path, docstore.Data{}).Commit(ctx); err != nil {
			t.Fatalf("commit %s: %v", path, err)
		}
	}
	leased, err := store.LeaseChanges(ctx, docstore.LeaseRequest{Consumer: "w1", Limit: 2, TTL: time.Minute, Now: now})
	if err != nil || len(leased) != 2 {
		t.Fatalf("lease = %v, %v", leased, err)
	}
	if err := store.AckChange(ctx, docstore.Ack{ChangeID: leased[0].ID, Consumer: "w1", Outcome: docstore.AckSucceeded, Now: now}); err != nil {
		t.Fatalf("ack succeeded: %v", err)
	}
	if err := store.AckChange(ctx, docstore.Ack{ChangeID: leased[1].ID, Consumer: "w1", Outcome: docstore.AckDead, LastError: "bad", Now: now}); err != nil {
		t.Fatalf("ack dead: %v", err)
	}

	removed, err := store.PruneChanges(ctx, now)
	if err != nil || removed != 0 {
		t.Fatalf("prune at settle time = %d, %v; want 0", removed, err)
	}
	removed, err = store.PruneChanges(ctx, now.Add(time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("prune = %d, %v; want 1", removed, err)
	}
	if got := countChanges(t, store, StatusSucceeded); got != 0 {
		t.Fatalf("succeeded = %d, want 0", got)
	}
	if got := countChanges(t, store, StatusDead); got != 1 {
		t.Fatalf("dead = %d, want 1", got)
	}
	if got := countChanges(t, store, StatusPending); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
}

func TestLeaseValidation(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	tests := []docstore.LeaseRequest{
		{Limit: 1, TTL: time.Minute},
		{Consumer: "w1", TTL: time.Minute},
		{Consumer: "w1", Limit: 1},
	}
	for i, req := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			if _, err := store.LeaseChanges(ctx, req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func countChanges(t *testing.T, store *Store, status string) int {
	t.Helper()
	count, err := store.CountChanges(context.Background(), status)
	if err != nil {
		t.Fatalf("count changes: %v", err)
	}
	return count
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docstore.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
