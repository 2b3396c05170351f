package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/revents/internal/platform/logging"
	"github.com/louisbranch/revents/internal/services/triggers/docstore"
	"github.com/louisbranch/revents/internal/services/triggers/trigger"
)

const (
	defaultPollInterval  = 2 * time.Second
	defaultLeaseTTL      = 2 * time.Minute
	defaultBatchSize     = 32
	defaultConcurrency   = 4
	defaultMaxAttempts   = 8
	defaultRetryBackoff  = 5 * time.Second
	defaultRetryMaxDelay = 5 * time.Minute
	defaultRetention     = 24 * time.Hour
	defaultPruneInterval = 10 * time.Minute
)

var defaultConsumer = "triggers-" + hostname()

func hostname() string {
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		return "local"
	}
	return name
}

// Config tunes the delivery loop.
type Config struct {
	Consumer      string
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	BatchSize     int
	Concurrency   int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	// Retention keeps succeeded changes this long before they are pruned.
	Retention     time.Duration
	PruneInterval time.Duration
}

func (c Config) normalized() Config {
	c.Consumer = strings.TrimSpace(c.Consumer)
	if c.Consumer == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryBackoff {
		c.RetryMaxDelay = c.RetryBackoff
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = defaultPruneInterval
	}
	return c
}

// Attempt is one settled delivery of a change.
type Attempt struct {
	ChangeID     string
	Path         string
	Lifecycle    trigger.Lifecycle
	Handlers     []string
	Outcome      docstore.AckOutcome
	AttemptCount int32
	Error        string
	CreatedAt    time.Time
}

// AttemptRecorder persists delivery attempts.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// Loop leases captured changes, dispatches them, and settles each lease.
// Delivery is at-least-once: a change whose ack is lost is redelivered once
// its lease expires.
type Loop struct {
	feed       docstore.ChangeFeed
	dispatcher *Dispatcher
	recorder   AttemptRecorder
	cfg        Config
	logger     *zap.Logger
	clock      func() time.Time
}

// New creates a delivery loop. A nil recorder skips attempt recording.
func New(feed docstore.ChangeFeed, dispatcher *Dispatcher, recorder AttemptRecorder, cfg Config, logger *zap.Logger) *Loop {
	logger = logging.OrNop(logger)
	return &Loop{
		feed:       feed,
		dispatcher: dispatcher,
		recorder:   recorder,
		cfg:        cfg.normalized(),
		logger:     logger.Named("loop"),
		clock:      time.Now,
	}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another poll.
func (l *Loop) Run(ctx context.Context) error {
	if l == nil || l.feed == nil || l.dispatcher == nil {
		return fmt.Errorf("delivery loop is not configured")
	}
	l.logger.Info("delivery loop started",
		zap.String("consumer", l.cfg.Consumer),
		zap.Duration("poll_interval", l.cfg.PollInterval),
		zap.Int("batch_size", l.cfg.BatchSize),
		zap.Int("concurrency", l.cfg.Concurrency),
	)
	timer := time.NewTimer(0)
	defer timer.Stop()
	nextPrune := l.now()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("delivery loop stopped")
			return nil
		case <-timer.C:
		}

		processed, err := l.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			l.logger.Error("delivery poll failed", zap.Error(err))
		}
		if now := l.now(); !now.Before(nextPrune) {
			l.prune(ctx)
			nextPrune = now.Add(l.cfg.PruneInterval)
		}
		if processed >= l.cfg.BatchSize {
			timer.Reset(0)
		} else {
			timer.Reset(l.cfg.PollInterval)
		}
	}
}

// PruneOnce deletes succeeded changes older than the retention window when
// the change feed supports pruning.
func (l *Loop) PruneOnce(ctx context.Context) (int, error) {
	pruner, ok := l.feed.(docstore.ChangePruner)
	if !ok {
		return 0, nil
	}
	removed, err := pruner.PruneChanges(ctx, l.now().Add(-l.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("prune changes: %w", err)
	}
	return removed, nil
}

func (l *Loop) prune(ctx context.Context) {
	removed, err := l.PruneOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("change pruning failed", zap.Error(err))
		}
		return
	}
	if removed > 0 {
		l.logger.Debug("pruned succeeded changes", zap.Int("removed", removed), zap.Duration("retention", l.cfg.Retention))
	}
}

// RunOnce leases one batch and settles every change in it. It returns the
// number of changes leased.
func (l *Loop) RunOnce(ctx context.Context) (int, error) {
	changes, err := l.feed.LeaseChanges(ctx, docstore.LeaseRequest{
		Consumer: l.cfg.Consumer,
		Limit:    l.cfg.BatchSize,
		TTL:      l.cfg.LeaseTTL,
		Now:      l.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("lease changes: %w", err)
	}
	if len(changes) == 0 {
		return 0, nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var group errgroup.Group
	group.SetLimit(l.cfg.Concurrency)
	for _, change := range changes {
		group.Go(func() error {
			if err := l.process(ctx, change); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return len(changes), errors.Join(errs...)
}

func (l *Loop) process(ctx context.Context, change docstore.Change) error {
	result := l.dispatcher.Dispatch(ctx, change)
	now := l.now()
	ack := docstore.Ack{
		ChangeID: change.ID,
		Consumer: l.cfg.Consumer,
		Outcome:  docstore.AckSucceeded,
		Now:      now,
	}
	if result.Err != nil {
		ack.LastError = result.Err.Error()
		switch {
		case result.Permanent:
			ack.Outcome = docstore.AckDead
		case change.Attempt >= l.cfg.MaxAttempts:
			ack.Outcome = docstore.AckDead
		default:
			ack.Outcome = docstore.AckRetry
			ack.NextAttemptAt = now.Add(l.retryDelay(change.Attempt))
		}
	}

	fields := []zap.Field{
		zap.String("change_id", change.ID),
		zap.String("path", change.Path),
		zap.String("outcome", string(ack.Outcome)),
		zap.Int("attempt", change.Attempt),
	}
	switch ack.Outcome {
	case docstore.AckDead:
		l.logger.Error("change dead-lettered", append(fields, zap.String("error", ack.LastError))...)
	case docstore.AckRetry:
		l.logger.Warn("change scheduled for retry", append(fields, zap.Time("next_attempt_at", ack.NextAttemptAt), zap.String("error", ack.LastError))...)
	}

	if err := l.feed.AckChange(ctx, ack); err != nil {
		if errors.Is(err, docstore.ErrLeaseLost) {
			l.logger.Warn("change lease lost before ack", fields...)
		}
		return fmt.Errorf("ack change %s: %w", change.ID, err)
	}

	if l.recorder != nil {
		if err := l.recorder.RecordAttempt(ctx, Attempt{
			ChangeID:     change.ID,
			Path:         change.Path,
			Lifecycle:    trigger.LifecycleOf(change),
			Handlers:     result.Handlers,
			Outcome:      ack.Outcome,
			AttemptCount: int32(change.Attempt),
			Error:        ack.LastError,
			CreatedAt:    now,
		}); err != nil {
			l.logger.Warn("record attempt failed", append(fields, zap.Error(err))...)
		}
	}
	return nil
}

// retryDelay doubles RetryBackoff per prior attempt, capped at RetryMaxDelay.
func (l *Loop) retryDelay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     l.cfg.RetryBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         l.cfg.RetryMaxDelay,
	}
	b.Reset()
	delay := l.cfg.RetryBackoff
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (l *Loop) now() time.Time {
	return l.clock().UTC()
}
