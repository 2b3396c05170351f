package domain

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/louisbranch/revents/internal/services/triggers/docstore"
	"github.com/louisbranch/revents/internal/services/triggers/feedlog"
)

type fakeAppender struct {
	mu      sync.Mutex
	failFor map[string]error
	entries map[string][]feedlog.Entry
}

func (f *fakeAppender) Append(_ context.Context, owner string, entry feedlog.Entry) (feedlog.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[owner]; err != nil {
		return feedlog.Entry{}, err
	}
	if f.entries == nil {
		f.entries = make(map[string][]feedlog.Entry)
	}
	entry.Owner = owner
	f.entries[owner] = append(f.entries[owner], entry)
	return entry, nil
}

func addFollower(t *testing.T, store docstore.Store, followee, follower string) {
	t.Helper()
	err := store.Batch().
		Set(FollowerPath(followee, follower), docstore.Data{"uid": follower}).
		Commit(context.Background())
	if err != nil {
		t.Fatalf("add follower %s of %s: %v", follower, followee, err)
	}
}

func testEvent(id, title string, ids ...string) Event {
	return Event{ID: id, Title: title, HostUID: "host", Attendees: attendees(ids...)}
}

func listFeed(t *testing.T, feed feedlog.Log, owner string) []feedlog.Entry {
	t.Helper()
	entries, err := feed.List(context.Background(), owner, 50)
	if err != nil {
		t.Fatalf("list feed %s: %v", owner, err)
	}
	return entries
}

func TestFeedNotifierJoinScenario(t *testing.T) {
	store := openTempDocStore(t)
	feed := openTempFeedLog(t)
	addFollower(t, store, "u1", "f1")
	notifier := NewFeedNotifier(store, feed, zaptest.NewLogger(t), FanoutOptions{})

	event := eventUpdate(t, "c1", testEvent("e1", "Picnic", "host"), testEvent("e1", "Picnic", "host", "u1"))
	if err := notifier.OnEventUpdated(context.Background(), event); err != nil {
		t.Fatalf("on event updated: %v", err)
	}

	entries := listFeed(t, feed, "f1")
	if len(entries) != 1 {
		t.Fatalf("f1 entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Code != feedlog.CodeJoinedEvent || entry.UserUID != "u1" || entry.EventID != "e1" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.DisplayName != "name-u1" || entry.Title != "Picnic" {
		t.Fatalf("entry display = %+v", entry)
	}
	if entry.DedupeKey != "c1:u1:joined-event" {
		t.Fatalf("dedupe key = %q", entry.DedupeKey)
	}
}

func TestFeedNotifierEveryFollowerGetsOneEntry(t *testing.T) {
	store := openTempDocStore(t)
	feed := openTempFeedLog(t)
	for _, follower := range []string{"A", "B", "C"} {
		addFollower(t, store, "u1", follower)
	}
	addFollower(t, store, "someone-else", "D")
	notifier := NewFeedNotifier(store, feed, zaptest.NewLogger(t), FanoutOptions{Concurrency: 2, Rate: 1000, Burst: 10})

	event := eventUpdate(t, "c1", testEvent("e1", "Picnic", "host"), testEvent("e1", "Picnic", "host", "u1"))
	for i := 0; i < 2; i++ {
		if err := notifier.OnEventUpdated(context.Background(), event); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	for _, follower := range []string{"A", "B", "C"} {
		entries := listFeed(t, feed, follower)
		if len(entries) != 1 {
			t.Fatalf("%s entries = %d, want 1", follower, len(entries))
		}
		if entries[0].EventID != "e1" || entries[0].Code != feedlog.CodeJoinedEvent {
			t.Fatalf("%s entry = %+v", follower, entries[0])
		}
	}
	if entries := listFeed(t, feed, "D"); len(entries) != 0 {
		t.Fatalf("D entries = %d, want 0", len(entries))
	}
}

func TestFeedNotifierLeaveUsesBeforeTitle(t *testing.T) {
	store := openTempDocStore(t)
	feed := openTempFeedLog(t)
	addFollower(t, store, "u1", "f1")
	notifier := NewFeedNotifier(store, feed, zaptest.NewLogger(t), FanoutOptions{})

	before := testEvent("e1", "Picnic", "host", "u1")
	after := testEvent("e1", "Picnic (moved)", "host")
	if err := notifier.OnEventUpdated(context.Background(), eventUpdate(t, "c2", before, after)); err != nil {
		t.Fatalf("on event updated: %v", err)
	}
	entries := listFeed(t, feed, "f1")
	if len(entries) != 1 {
		t.Fatalf("f1 entries = %d, want 1", len(entries))
	}
	if entries[0].Code != feedlog.CodeLeftEvent || entries[0].Title != "Picnic" {
		t.Fatalf("entry = %+v", entries[0])
	}
}

func TestFeedNotifierNoDeltaNoFanout(t *testing.T) {
	store := openTempDocStore(t)
	appender := &fakeAppender{}
	addFollower(t, store, "a", "f1")
	notifier := NewFeedNotifier(store, appender, zaptest.NewLogger(t), FanoutOptions{})

	event := eventUpdate(t, "c1", testEvent("e1", "Picnic", "a", "b"), testEvent("e1", "Renamed", "b", "a"))
	if err := notifier.OnEventUpdated(context.Background(), event); err != nil {
		t.Fatalf("on event updated: %v", err)
	}
	if len(appender.entries) != 0 {
		t.Fatalf("appends = %v, want none", appender.entries)
	}
}

func TestFeedNotifierIsolatesFollowerFailures(t *testing.T) {
	store := openTempDocStore(t)
	boom := errors.New("log unavailable")
	appender := &fakeAppender{failFor: map[string]error{"B": boom}}
	for _, follower := range []string{"A", "B", "C"} {
		addFollower(t, store, "u1", follower)
	}
	notifier := NewFeedNotifier(store, appender, zaptest.NewLogger(t), FanoutOptions{Concurrency: 1})

	event := eventUpdate(t, "c1", testEvent("e1", "Picnic", "host"), testEvent("e1", "Picnic", "host", "u1"))
	err := notifier.OnEventUpdated(context.Background(), event)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if IsPermanent(err) {
		t.Fatal("expected fan-out failure to be retryable")
	}
	for _, follower := range []string{"A", "C"} {
		if got := len(appender.entries[follower]); got != 1 {
			t.Fatalf("%s entries = %d, want 1", follower, got)
		}
	}
	if got := len(appender.entries["B"]); got != 0 {
		t.Fatalf("B entries = %d, want 0", got)
	}
}

func TestFeedNotifierMultipleDeltas(t *testing.T) {
	store := openTempDocStore(t)
	feed := openTempFeedLog(t)
	addFollower(t, store, "u1", "f1")
	addFollower(t, store, "u2", "f1")
	notifier := NewFeedNotifier(store, feed, zaptest.NewLogger(t), FanoutOptions{})

	event := eventUpdate(t, "c1", testEvent("e1", "Picnic", "host", "u2"), testEvent("e1", "Picnic", "host", "u1"))
	if err := notifier.OnEventUpdated(context.Background(), event); err != nil {
		t.Fatalf("on event updated: %v", err)
	}
	entries := listFeed(t, feed, "f1")
	if len(entries) != 2 {
		t.Fatalf("f1 entries = %d, want 2", len(entries))
	}
	codes := map[feedlog.Code]string{}
	for _, entry := range entries {
		codes[entry.Code] = entry.UserUID
	}
	if codes[feedlog.CodeJoinedEvent] != "u1" || codes[feedlog.CodeLeftEvent] != "u2" {
		t.Fatalf("codes = %v", codes)
	}
}

func TestFeedNotifierEqualSizeSwapFansOutBothDeltas(t *testing.T) {
	store := openTempDocStore(t)
	appender := &fakeAppender{}
	addFollower(t, store, "u1", "f1")
	addFollower(t, store, "u2", "f2")
	core, logs := observer.New(zap.InfoLevel)
	notifier := NewFeedNotifier(store, appender, zap.New(core), FanoutOptions{})

	event := eventUpdate(t, "c9", testEvent("e1", "Picnic", "host", "u1"), testEvent("e1", "Picnic", "host", "u2"))
	if err := notifier.OnEventUpdated(context.Background(), event); err != nil {
		t.Fatalf("on event updated: %v", err)
	}

	left := appender.entries["f1"]
	if len(left) != 1 || left[0].Code != feedlog.CodeLeftEvent || left[0].UserUID != "u1" || left[0].DedupeKey != "c9:u1:left-event" {
		t.Fatalf("f1 entries = %+v", left)
	}
	joined := appender.entries["f2"]
	if len(joined) != 1 || joined[0].Code != feedlog.CodeJoinedEvent || joined[0].UserUID != "u2" || joined[0].DedupeKey != "c9:u2:joined-event" {
		t.Fatalf("f2 entries = %+v", joined)
	}

	multi := logs.FilterMessage("attendance change carries multiple deltas").All()
	if len(multi) != 1 {
		t.Fatalf("multiple delta logs = %d, want 1", len(multi))
	}
	if _, ok := multi[0].ContextMap()["primary_subject"]; ok {
		t.Fatal("equal size swap has no primary delta")
	}
}

func TestFeedNotifierBadSnapshotIsPermanent(t *testing.T) {
	notifier := NewFeedNotifier(openTempDocStore(t), &fakeAppender{}, zaptest.NewLogger(t), FanoutOptions{})
	event := eventUpdate(t, "c1", testEvent("e1", "x", "a"), testEvent("e1", "x", "a"))
	event.After.Data = docstore.Data{"attendees": "not-a-list"}

	if err := notifier.OnEventUpdated(context.Background(), event); !IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
}
