// Package social implements the client write path: profiles, follow edges,
// events, and attendance. Its writes are what the trigger worker reacts to.
package social

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/revents/internal/platform/id"
	"github.com/louisbranch/revents/internal/services/social/profile"
	"github.com/louisbranch/revents/internal/services/triggers/docstore"
	"github.com/louisbranch/revents/internal/services/triggers/domain"
	"github.com/louisbranch/revents/internal/services/triggers/feedlog"
)

var (
	// ErrNotFound indicates a referenced user or event is missing.
	ErrNotFound = docstore.ErrNotFound
	// ErrSelfFollow indicates a user tried to follow themselves.
	ErrSelfFollow = errors.New("users cannot follow themselves")
	// ErrAlreadyFollowing indicates the follow edge already exists.
	ErrAlreadyFollowing = errors.New("already following")
	// ErrNotFollowing indicates the follow edge does not exist.
	ErrNotFollowing = errors.New("not following")
	// ErrEventCancelled indicates a join on a cancelled event.
	ErrEventCancelled = errors.New("event is cancelled")
	// ErrHostCannotLeave indicates the host tried to leave their own event.
	ErrHostCannotLeave = errors.New("host cannot leave their own event")
)

// Service performs client writes against the document store.
type Service struct {
	store docstore.Store
	feed  feedlog.Log
	newID func() (string, error)
}

// New creates a client write path. feed may be nil when feeds are not read.
func New(store docstore.Store, feed feedlog.Log) *Service {
	return &Service{store: store, feed: feed, newID: id.NewID}
}

// ProfileInput holds the editable profile fields.
type ProfileInput struct {
	UID         string
	DisplayName string
	PhotoURL    string
	Email       string
}

// SetUserProfile creates or updates a profile. Counters are only set on
// creation; afterwards they change through increments.
func (s *Service) SetUserProfile(ctx context.Context, in ProfileInput) error {
	normalized, err := profile.Normalize(in.UID, in.DisplayName, in.PhotoURL, in.Email)
	if err != nil {
		return err
	}
	path := domain.UserPath(normalized.UID)
	fields := map[string]any{
		"uid":         normalized.UID,
		"displayName": normalized.DisplayName,
		"photoURL":    normalized.PhotoURL,
		"email":       normalized.Email,
	}

	_, err = s.store.Get(ctx, path)
	switch {
	case err == nil:
		return s.updateProfile(ctx, path, fields)
	case !errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("read profile %s: %w", normalized.UID, err)
	}

	created := docstore.Data{
		"followerCount":  0,
		"followingCount": 0,
		"createdAt":      docstore.ServerTimestamp(),
	}
	for field, value := range fields {
		created[field] = value
	}
	err = s.store.Batch().Create(path, created).Commit(ctx)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return s.updateProfile(ctx, path, fields)
	}
	if err != nil {
		return fmt.Errorf("create profile %s: %w", normalized.UID, err)
	}
	return nil
}

func (s *Service) updateProfile(ctx context.Context, path string, fields map[string]any) error {
	if err := s.store.Batch().Update(path, fields).Commit(ctx); err != nil {
		return fmt.Errorf("update profile %s: %w", path, err)
	}
	return nil
}

// GetUserProfile reads a profile.
func (s *Service) GetUserProfile(ctx context.Context, uid string) (domain.User, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return domain.User{}, fmt.Errorf("user id is required")
	}
	snap, err := s.store.Get(ctx, domain.UserPath(uid))
	if err != nil {
		return domain.User{}, err
	}
	var user domain.User
	if err := snap.DataTo(&user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// ListFeed returns the newest limit entries of uid's activity feed.
func (s *Service) ListFeed(ctx context.Context, uid string, limit int) ([]feedlog.Entry, error) {
	if s.feed == nil {
		return nil, fmt.Errorf("feed log is not configured")
	}
	return s.feed.List(ctx, uid, limit)
}
