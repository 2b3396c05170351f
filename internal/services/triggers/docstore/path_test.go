package docstore

import "testing"

func TestJoin(t *testing.T) {
	got := Join("following", "/alice/", "userFollowing", " bob ")
	if got != "following/alice/userFollowing/bob" {
		t.Fatalf("join = %q", got)
	}
}

func TestSplitDoc(t *testing.T) {
	tests := []struct {
		path       string
		collection string
		id         string
		wantErr    bool
	}{
		{path: "users/alice", collection: "users", id: "alice"},
		{path: "following/alice/userFollowers/bob", collection: "following/alice/userFollowers", id: "bob"},
		{path: "users", wantErr: true},
		{path: "users//alice", wantErr: true},
		{path: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			collection, id, err := SplitDoc(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("split doc: %v", err)
			}
			if collection != tt.collection || id != tt.id {
				t.Fatalf("split = (%q, %q), want (%q, %q)", collection, id, tt.collection, tt.id)
			}
		})
	}
}

func TestValidateCollection(t *testing.T) {
	if err := ValidateCollection("following/alice/userFollowers"); err != nil {
		t.Fatalf("validate collection: %v", err)
	}
	if err := ValidateCollection("users/alice"); err == nil {
		t.Fatal("expected error for document path")
	}
}
