package app

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/revents/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/revents/internal/platform/grpc"
	"github.com/louisbranch/revents/internal/platform/logging"
	"github.com/louisbranch/revents/internal/platform/timeouts"
	"github.com/louisbranch/revents/internal/services/triggers/docstore"
	docsqlite "github.com/louisbranch/revents/internal/services/triggers/docstore/sqlite"
	"github.com/louisbranch/revents/internal/services/triggers/domain"
	"github.com/louisbranch/revents/internal/services/triggers/feedlog"
	feedredis "github.com/louisbranch/revents/internal/services/triggers/feedlog/redis"
	feedsqlite "github.com/louisbranch/revents/internal/services/triggers/feedlog/sqlite"
	"github.com/louisbranch/revents/internal/services/triggers/storage"
	attemptsqlite "github.com/louisbranch/revents/internal/services/triggers/storage/sqlite"
	"github.com/louisbranch/revents/internal/services/triggers/trigger"
)

// Feed log backends.
const (
	FeedBackendSQLite = "sqlite"
	FeedBackendRedis  = "redis"
)

// RuntimeConfig controls trigger worker startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port              int
	DocstoreDBPath    string
	FeedBackend       string
	FeedDBPath        string
	RedisAddr         string
	AttemptsDBPath    string
	Consumer          string
	PollInterval      time.Duration
	LeaseTTL          time.Duration
	BatchSize         int
	Concurrency       int
	MaxAttempts       int
	RetryBackoff      time.Duration
	RetryMaxDelay     time.Duration
	ChangeRetention   time.Duration
	HandlerBudget     time.Duration
	FanoutConcurrency int
	FanoutRate        float64
}

const (
	defaultDocstoreDB = "data/docstore.db"
	defaultFeedDB     = "data/feed.db"
	defaultAttemptsDB = "data/triggers.db"
)

// HealthService is the gRPC health service name reported by the worker.
const HealthService = "triggers.runtime"

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if cfg.Port <= 0 {
		cfg.Port = discovery.GRPCPort(discovery.ServiceTriggers)
	}
	if strings.TrimSpace(cfg.DocstoreDBPath) == "" {
		cfg.DocstoreDBPath = defaultDocstoreDB
	}
	cfg.FeedBackend = strings.ToLower(strings.TrimSpace(cfg.FeedBackend))
	if cfg.FeedBackend == "" {
		cfg.FeedBackend = FeedBackendSQLite
	}
	if strings.TrimSpace(cfg.FeedDBPath) == "" {
		cfg.FeedDBPath = defaultFeedDB
	}
	if strings.TrimSpace(cfg.AttemptsDBPath) == "" {
		cfg.AttemptsDBPath = defaultAttemptsDB
	}
	if cfg.HandlerBudget <= 0 {
		cfg.HandlerBudget = timeouts.HandlerBudget
	}
	// A handler still running when its lease expires would overlap a redelivery.
	if lease := cfg.loopConfig().normalized().LeaseTTL; cfg.HandlerBudget >= lease {
		cfg.HandlerBudget = lease / 2
	}
	return cfg
}

func (cfg RuntimeConfig) loopConfig() Config {
	return Config{
		Consumer:      cfg.Consumer,
		PollInterval:  cfg.PollInterval,
		LeaseTTL:      cfg.LeaseTTL,
		BatchSize:     cfg.BatchSize,
		Concurrency:   cfg.Concurrency,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		RetryMaxDelay: cfg.RetryMaxDelay,
		Retention:     cfg.ChangeRetention,
	}
}

// NewTable registers every trigger handler against the given stores.
func NewTable(store docstore.Store, feed feedlog.Appender, logger *zap.Logger, fanout domain.FanoutOptions) (*trigger.Table, error) {
	var bindings []trigger.Binding
	bindings = append(bindings, domain.NewFollowGraph(store, logger).Bindings()...)
	bindings = append(bindings, domain.NewFeedNotifier(store, feed, logger, fanout).Bindings()...)
	table, err := trigger.NewTable(bindings...)
	if err != nil {
		return nil, fmt.Errorf("build trigger table: %w", err)
	}
	return table, nil
}

// OpenFeedLog opens the configured feed log backend.
func OpenFeedLog(ctx context.Context, backend, dbPath, redisAddr string) (feedlog.Log, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", FeedBackendSQLite:
		store, err := feedsqlite.Open(ctx, dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open feed sqlite store: %w", err)
		}
		return store, store.Close, nil
	case FeedBackendRedis:
		store, err := feedredis.Open(ctx, redisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("open feed redis store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown feed backend %q", backend)
	}
}

// Run starts the trigger worker: stores, handler table, delivery loop, and
// the gRPC health endpoint. It blocks until ctx is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger = logging.OrNop(logger)
	requestedBudget := cfg.HandlerBudget
	cfg = cfg.normalized()
	if requestedBudget > 0 && requestedBudget != cfg.HandlerBudget {
		logger.Warn("handler budget clamped below lease ttl",
			zap.Duration("requested", requestedBudget),
			zap.Duration("handler_budget", cfg.HandlerBudget),
		)
	}

	openCtx, cancelOpen := context.WithTimeout(ctx, timeouts.StoreOpen)
	defer cancelOpen()

	docStore, err := docsqlite.Open(openCtx, cfg.DocstoreDBPath)
	if err != nil {
		return fmt.Errorf("open docstore sqlite store: %w", err)
	}
	defer closeWith(logger, "docstore", docStore.Close)

	feed, closeFeed, err := OpenFeedLog(openCtx, cfg.FeedBackend, cfg.FeedDBPath, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer closeWith(logger, "feed log", closeFeed)

	attemptStore, err := attemptsqlite.Open(openCtx, cfg.AttemptsDBPath)
	if err != nil {
		return fmt.Errorf("open attempts sqlite store: %w", err)
	}
	defer closeWith(logger, "attempts", attemptStore.Close)

	table, err := NewTable(docStore, feed, logger, domain.FanoutOptions{
		Concurrency: cfg.FanoutConcurrency,
		Rate:        cfg.FanoutRate,
	})
	if err != nil {
		return err
	}
	loopConfig := cfg.loopConfig().normalized()
	loop := New(
		docStore,
		NewDispatcher(table, logger, cfg.HandlerBudget),
		newAttemptStoreRecorder(attemptStore, loopConfig.Consumer),
		loopConfig,
		logger,
	)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on triggers port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	healthServer := platformgrpc.ServeHealth(listener, HealthService)
	defer healthServer.Stop()

	logger.Info("triggers server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("feed_backend", cfg.FeedBackend),
		zap.Int("bindings", len(table.Bindings())),
	)
	return loop.Run(ctx)
}

func closeWith(logger *zap.Logger, name string, closeFn func() error) {
	if closeFn == nil {
		return
	}
	if err := closeFn(); err != nil {
		logger.Warn("close store", zap.String("store", name), zap.Error(err))
	}
}

type attemptStoreRecorder struct {
	store    storage.AttemptStore
	consumer string
}

func newAttemptStoreRecorder(store storage.AttemptStore, consumer string) *attemptStoreRecorder {
	normalizedConsumer := strings.TrimSpace(consumer)
	if normalizedConsumer == "" {
		normalizedConsumer = defaultConsumer
	}
	return &attemptStoreRecorder{store: store, consumer: normalizedConsumer}
}

func (r *attemptStoreRecorder) RecordAttempt(ctx context.Context, attempt Attempt) error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.RecordAttempt(ctx, storage.AttemptRecord{
		ChangeID:     attempt.ChangeID,
		Path:         attempt.Path,
		Lifecycle:    string(attempt.Lifecycle),
		Handlers:     handlerNames(attempt.Handlers),
		Consumer:     r.consumer,
		Outcome:      canonicalOutcomeValue(attempt.Outcome),
		AttemptCount: attempt.AttemptCount,
		LastError:    attempt.Error,
		CreatedAt:    attempt.CreatedAt,
	})
}

func canonicalOutcomeValue(outcome docstore.AckOutcome) string {
	switch outcome {
	case docstore.AckSucceeded, docstore.AckRetry, docstore.AckDead:
		return string(outcome)
	default:
		return "unknown"
	}
}
