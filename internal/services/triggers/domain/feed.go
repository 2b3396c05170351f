package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/louisbranch/revents/internal/platform/logging"
	"github.com/louisbranch/revents/internal/services/triggers/docstore"
	"github.com/louisbranch/revents/internal/services/triggers/feedlog"
	"github.com/louisbranch/revents/internal/services/triggers/trigger"
)

const defaultFanoutConcurrency = 8

// FanoutOptions bounds feed fan-out work per invocation.
type FanoutOptions struct {
	// Concurrency caps in-flight appends; zero uses a default.
	Concurrency int
	// Rate caps appends per second across invocations; zero disables pacing.
	Rate  float64
	Burst int
}

// FeedNotifier appends attendance changes to the feeds of the attendee's
// followers.
type FeedNotifier struct {
	store       docstore.Reader
	feed        feedlog.Appender
	logger      *zap.Logger
	concurrency int
	limiter     *rate.Limiter
}

// NewFeedNotifier creates the feed fan-out handler.
func NewFeedNotifier(store docstore.Reader, feed feedlog.Appender, logger *zap.Logger, opts FanoutOptions) *FeedNotifier {
	logger = logging.OrNop(logger)
	notifier := &FeedNotifier{
		store:       store,
		feed:        feed,
		logger:      logger.Named("feed_notifier"),
		concurrency: opts.Concurrency,
	}
	if notifier.concurrency <= 0 {
		notifier.concurrency = defaultFanoutConcurrency
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		notifier.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return notifier
}

// Bindings subscribes the notifier to event updates.
func (n *FeedNotifier) Bindings() []trigger.Binding {
	return []trigger.Binding{
		trigger.Bind("feed.event-updated", EventPattern, trigger.Updated, trigger.HandlerFunc(n.OnEventUpdated)),
	}
}

// OnEventUpdated diffs the attendee lists and fans each delta out to the
// subject's followers. Append failures do not stop the remaining appends;
// they are joined and returned so the change is redelivered, and dedupe keys
// keep already written entries from repeating.
func (n *FeedNotifier) OnEventUpdated(ctx context.Context, event trigger.Event) error {
	if event.Before == nil || event.After == nil {
		return nil
	}
	var before, after Event
	if err := event.Before.DataTo(&before); err != nil {
		return Permanent(err)
	}
	if err := event.After.DataTo(&after); err != nil {
		return Permanent(err)
	}
	eventID := event.Param("eventId")
	if eventID == "" {
		eventID = event.Before.ID
	}

	deltas := DiffAttendees(before.Attendees, after.Attendees)
	if len(deltas) == 0 {
		return nil
	}
	if len(deltas) > 1 {
		fields := []zap.Field{
			zap.String("change_id", event.ChangeID),
			zap.String("event_id", eventID),
			zap.Int("deltas", len(deltas)),
		}
		if primary, ok := PrimaryDelta(before.Attendees, after.Attendees); ok {
			fields = append(fields, zap.String("primary_subject", primary.Subject.ID), zap.String("primary_action", string(primary.Action)))
		}
		n.logger.Info("attendance change carries multiple deltas", fields...)
	}

	var errs []error
	for _, delta := range deltas {
		if err := n.fanOut(ctx, event.ChangeID, eventID, before.Title, delta); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("fan out event %s: %w", eventID, err)
	}
	return nil
}

func (n *FeedNotifier) fanOut(ctx context.Context, changeID, eventID, title string, delta AttendanceDelta) error {
	followers, err := n.store.List(ctx, FollowersCollection(delta.Subject.ID))
	if err != nil {
		return fmt.Errorf("list followers of %s: %w", delta.Subject.ID, err)
	}
	code := delta.Action.FeedCode()
	entry := feedlog.Entry{
		PhotoURL:    delta.Subject.PhotoURL,
		DisplayName: delta.Subject.DisplayName,
		Code:        code,
		EventID:     eventID,
		UserUID:     delta.Subject.ID,
		Title:       title,
		DedupeKey:   DedupeKey(changeID, delta.Subject.ID, code),
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var group errgroup.Group
	group.SetLimit(n.concurrency)
	for _, follower := range followers {
		owner := follower.ID
		group.Go(func() error {
			if err := n.appendOne(ctx, owner, entry); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	n.logger.Debug("feed fan-out",
		zap.String("change_id", changeID),
		zap.String("event_id", eventID),
		zap.String("subject", delta.Subject.ID),
		zap.String("code", string(code)),
		zap.Int("followers", len(followers)),
		zap.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

func (n *FeedNotifier) appendOne(ctx context.Context, owner string, entry feedlog.Entry) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("append feed %s: %w", owner, err)
		}
	}
	if _, err := n.feed.Append(ctx, owner, entry); err != nil {
		return fmt.Errorf("append feed %s: %w", owner, err)
	}
	return nil
}

// DedupeKey identifies one attendance change for one subject, so every
// redelivery of the same change appends at most once per follower.
func DedupeKey(changeID, subject string, code feedlog.Code) string {
	return changeID + ":" + subject + ":" + string(code)
}
