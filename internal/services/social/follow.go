package social

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/revents/internal/services/triggers/docstore"
	"github.com/louisbranch/revents/internal/services/triggers/domain"
)

// FollowUser writes the forward edge with a snapshot of the followee and
// increments the follower's followingCount in one batch. The reverse edge
// and followerCount are left to the follow graph trigger.
func (s *Service) FollowUser(ctx context.Context, followerUID, followeeUID string) error {
	followerUID, followeeUID, err := edgeIDs(followerUID, followeeUID)
	if err != nil {
		return err
	}
	followee, err := s.GetUserProfile(ctx, followeeUID)
	if err != nil {
		return fmt.Errorf("read followee %s: %w", followeeUID, err)
	}
	if followee.UID == "" {
		followee.UID = followeeUID
	}
	summary, err := docstore.DataOf(domain.SummaryOf(followee))
	if err != nil {
		return err
	}

	err = s.store.Batch().
		Create(domain.FollowingPath(followerUID, followeeUID), summary).
		Update(domain.UserPath(followerUID), map[string]any{"followingCount": docstore.Increment(1)}).
		Commit(ctx)
	switch {
	case errors.Is(err, docstore.ErrAlreadyExists):
		return ErrAlreadyFollowing
	case err != nil:
		return fmt.Errorf("follow %s: %w", followeeUID, err)
	}
	return nil
}

// UnfollowUser deletes the forward edge and decrements followingCount.
func (s *Service) UnfollowUser(ctx context.Context, followerUID, followeeUID string) error {
	followerUID, followeeUID, err := edgeIDs(followerUID, followeeUID)
	if err != nil {
		return err
	}
	err = s.store.Batch().
		Delete(domain.FollowingPath(followerUID, followeeUID), docstore.Exists).
		Update(domain.UserPath(followerUID), map[string]any{"followingCount": docstore.Increment(-1)}).
		Commit(ctx)
	switch {
	case errors.Is(err, docstore.ErrPreconditionFailed):
		return ErrNotFollowing
	case err != nil:
		return fmt.Errorf("unfollow %s: %w", followeeUID, err)
	}
	return nil
}

// IsFollowing reports whether the forward edge exists.
func (s *Service) IsFollowing(ctx context.Context, followerUID, followeeUID string) (bool, error) {
	followerUID, followeeUID, err := edgeIDs(followerUID, followeeUID)
	if err != nil {
		return false, err
	}
	_, err = s.store.Get(ctx, domain.FollowingPath(followerUID, followeeUID))
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListFollowers reads uid's reverse index.
func (s *Service) ListFollowers(ctx context.Context, uid string) ([]domain.Summary, error) {
	return s.listSummaries(ctx, domain.FollowersCollection(strings.TrimSpace(uid)))
}

// ListFollowing reads uid's forward index.
func (s *Service) ListFollowing(ctx context.Context, uid string) ([]domain.Summary, error) {
	return s.listSummaries(ctx, domain.FollowingCollection(strings.TrimSpace(uid)))
}

func (s *Service) listSummaries(ctx context.Context, collection string) ([]domain.Summary, error) {
	snaps, err := s.store.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.Summary, 0, len(snaps))
	for _, snap := range snaps {
		var summary domain.Summary
		if err := snap.DataTo(&summary); err != nil {
			return nil, err
		}
		if summary.UID == "" {
			summary.UID = snap.ID
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func edgeIDs(followerUID, followeeUID string) (string, string, error) {
	followerUID = strings.TrimSpace(followerUID)
	followeeUID = strings.TrimSpace(followeeUID)
	if followerUID == "" || followeeUID == "" {
		return "", "", fmt.Errorf("follower and followee ids are required")
	}
	if followerUID == followeeUID {
		return "", "", ErrSelfFollow
	}
	return followerUID, followeeUID, nil
}
