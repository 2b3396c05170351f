package domain

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/louisbranch/revents/internal/platform/logging"
	"github.com/louisbranch/revents/internal/services/triggers/docstore"
	"github.com/louisbranch/revents/internal/services/triggers/trigger"
)

// FollowGraph maintains the reverse follower index and follower counts from
// forward edges written by clients.
//
// Each batch is guarded by the forward edge's current existence, so a
// duplicate or out-of-order delivery fails its precondition and is dropped
// instead of double-counting.
type FollowGraph struct {
	store  docstore.Store
	logger *zap.Logger
}

// NewFollowGraph creates the follow graph handlers.
func NewFollowGraph(store docstore.Store, logger *zap.Logger) *FollowGraph {
	logger = logging.OrNop(logger)
	return &FollowGraph{store: store, logger: logger.Named("follow_graph")}
}

// Bindings subscribes the handlers to forward edge creation and deletion.
func (g *FollowGraph) Bindings() []trigger.Binding {
	return []trigger.Binding{
		trigger.Bind("follow-graph.edge-created", FollowEdgePattern, trigger.Created, trigger.HandlerFunc(g.OnEdgeCreated)),
		trigger.Bind("follow-graph.edge-deleted", FollowEdgePattern, trigger.Deleted, trigger.HandlerFunc(g.OnEdgeDeleted)),
	}
}

// OnEdgeCreated copies the follower's summary into the followee's reverse
// index and increments the followee's followerCount.
func (g *FollowGraph) OnEdgeCreated(ctx context.Context, event trigger.Event) error {
	follower, followee, err := g.edge(event)
	if err != nil {
		return err
	}

	profile, err := g.store.Get(ctx, UserPath(follower))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Permanentf("follower profile %s: %w", follower, err)
		}
		return fmt.Errorf("read follower profile %s: %w", follower, err)
	}
	var user User
	if err := profile.DataTo(&user); err != nil {
		return Permanent(err)
	}
	if user.UID == "" {
		user.UID = follower
	}
	summary, err := docstore.DataOf(SummaryOf(user))
	if err != nil {
		return Permanent(err)
	}

	err = g.store.Batch().
		Require(FollowingPath(follower, followee), docstore.Exists).
		Create(FollowerPath(followee, follower), summary).
		Update(UserPath(followee), map[string]any{"followerCount": docstore.Increment(1)}).
		Commit(ctx)
	return g.settle(event, follower, followee, err)
}

// OnEdgeDeleted removes the reverse index entry and decrements the
// followee's followerCount.
func (g *FollowGraph) OnEdgeDeleted(ctx context.Context, event trigger.Event) error {
	follower, followee, err := g.edge(event)
	if err != nil {
		return err
	}

	err = g.store.Batch().
		Require(FollowingPath(follower, followee), docstore.Missing).
		Delete(FollowerPath(followee, follower), docstore.Exists).
		Update(UserPath(followee), map[string]any{"followerCount": docstore.Increment(-1)}).
		Commit(ctx)
	return g.settle(event, follower, followee, err)
}

func (g *FollowGraph) edge(event trigger.Event) (string, string, error) {
	follower := event.Param("followerUid")
	followee := event.Param("followeeUid")
	if follower == "" || followee == "" {
		return "", "", Permanentf("follow edge %s: missing uid parameters", event.Path)
	}
	return follower, followee, nil
}

func (g *FollowGraph) settle(event trigger.Event, follower, followee string, err error) error {
	fields := []zap.Field{
		zap.String("change_id", event.ChangeID),
		zap.String("lifecycle", string(event.Lifecycle)),
		zap.String("follower", follower),
		zap.String("followee", followee),
	}
	switch {
	case err == nil:
		g.logger.Debug("follow edge applied", fields...)
		return nil
	case errors.Is(err, docstore.ErrPreconditionFailed), errors.Is(err, docstore.ErrAlreadyExists):
		g.logger.Info("follow edge superseded; skipping", append(fields, zap.Error(err))...)
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return Permanentf("followee profile %s: %w", followee, err)
	default:
		return fmt.Errorf("commit follow edge %s: %w", event.Path, err)
	}
}
