package feedlog

import "testing"

func TestNormalize(t *testing.T) {
	entry, err := Normalize(" bob ", Entry{
		Owner:     "ignored",
		Code:      CodeJoinedEvent,
		EventID:   " e1 ",
		UserUID:   "alice",
		DedupeKey: " c1:alice:joined-event ",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if entry.Owner != "bob" || entry.EventID != "e1" || entry.DedupeKey != "c1:alice:joined-event" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestNormalizeValidation(t *testing.T) {
	tests := []struct {
		name  string
		owner string
		entry Entry
	}{
		{name: "owner", entry: Entry{Code: CodeLeftEvent, EventID: "e1", UserUID: "u1"}},
		{name: "code", owner: "bob", entry: Entry{Code: "posted", EventID: "e1", UserUID: "u1"}},
		{name: "event", owner: "bob", entry: Entry{Code: CodeLeftEvent, UserUID: "u1"}},
		{name: "user", owner: "bob", entry: Entry{Code: CodeLeftEvent, EventID: "e1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize(tt.owner, tt.entry); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
