package domain

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/louisbranch/revents/internal/services/triggers/docstore"
	docsqlite "github.com/louisbranch/revents/internal/services/triggers/docstore/sqlite"
	feedsqlite "github.com/louisbranch/revents/internal/services/triggers/feedlog/sqlite"
	"github.com/louisbranch/revents/internal/services/triggers/trigger"
)

func openTempDocStore(t *testing.T) *docsqlite.Store {
	t.Helper()
	store, err := docsqlite.Open(context.Background(), filepath.Join(t.TempDir(), "docstore.db"))
	if err != nil {
		t.Fatalf("open docstore: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close docstore: %v", err)
		}
	})
	return store
}

func openTempFeedLog(t *testing.T) *feedsqlite.Store {
	t.Helper()
	store, err := feedsqlite.Open(context.Background(), filepath.Join(t.TempDir(), "feed.db"))
	if err != nil {
		t.Fatalf("open feed log: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close feed log: %v", err)
		}
	})
	return store
}

func putUser(t *testing.T, store docstore.Store, user User) {
	t.Helper()
	data, err := docstore.DataOf(user)
	if err != nil {
		t.Fatalf("encode user: %v", err)
	}
	if err := store.Batch().Set(UserPath(user.UID), data).Commit(context.Background()); err != nil {
		t.Fatalf("put user %s: %v", user.UID, err)
	}
}

func getUser(t *testing.T, store docstore.Reader, uid string) User {
	t.Helper()
	snap, err := store.Get(context.Background(), UserPath(uid))
	if err != nil {
		t.Fatalf("get user %s: %v", uid, err)
	}
	var user User
	if err := snap.DataTo(&user); err != nil {
		t.Fatalf("decode user %s: %v", uid, err)
	}
	return user
}

func followEvent(changeID string, lifecycle trigger.Lifecycle, follower, followee string) trigger.Event {
	return trigger.Event{
		ChangeID:  changeID,
		Path:      FollowingPath(follower, followee),
		Lifecycle: lifecycle,
		Params:    trigger.Params{"followerUid": follower, "followeeUid": followee},
	}
}

func eventUpdate(t *testing.T, changeID string, before, after Event) trigger.Event {
	t.Helper()
	beforeData, err := docstore.DataOf(before)
	if err != nil {
		t.Fatalf("encode before: %v", err)
	}
	afterData, err := docstore.DataOf(after)
	if err != nil {
		t.Fatalf("encode after: %v", err)
	}
	path := EventPath(before.ID)
	return trigger.Event{
		ChangeID:  changeID,
		Path:      path,
		Lifecycle: trigger.Updated,
		Params:    trigger.Params{"eventId": before.ID},
		Before:    &docstore.Snapshot{Path: path, ID: before.ID, Data: beforeData},
		After:     &docstore.Snapshot{Path: path, ID: after.ID, Data: afterData},
	}
}
