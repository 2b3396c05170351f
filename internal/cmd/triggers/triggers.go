// Package triggers parses trigger worker flags and launches the worker runtime.
package triggers

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	entrypoint "github.com/louisbranch/revents/internal/platform/cmd"
	"github.com/louisbranch/revents/internal/platform/discovery"
	triggersapp "github.com/louisbranch/revents/internal/services/triggers/app"
)

// Config holds trigger worker command configuration.
type Config struct {
	Port              int           `env:"TRIGGERS_PORT" envDefault:"8089"`
	DocstoreDBPath    string        `env:"TRIGGERS_DOCSTORE_DB_PATH" envDefault:"data/docstore.db"`
	FeedBackend       string        `env:"TRIGGERS_FEED_BACKEND" envDefault:"sqlite"`
	FeedDBPath        string        `env:"TRIGGERS_FEED_DB_PATH" envDefault:"data/feed.db"`
	RedisAddr         string        `env:"TRIGGERS_REDIS_ADDR"`
	AttemptsDBPath    string        `env:"TRIGGERS_ATTEMPTS_DB_PATH" envDefault:"data/triggers.db"`
	Consumer          string        `env:"TRIGGERS_CONSUMER"`
	PollInterval      time.Duration `env:"TRIGGERS_POLL_INTERVAL" envDefault:"2s"`
	LeaseTTL          time.Duration `env:"TRIGGERS_LEASE_TTL" envDefault:"2m"`
	BatchSize         int           `env:"TRIGGERS_BATCH_SIZE" envDefault:"32"`
	Concurrency       int           `env:"TRIGGERS_CONCURRENCY" envDefault:"4"`
	MaxAttempts       int           `env:"TRIGGERS_MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff      time.Duration `env:"TRIGGERS_RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay     time.Duration `env:"TRIGGERS_RETRY_MAX_DELAY" envDefault:"5m"`
	ChangeRetention   time.Duration `env:"TRIGGERS_CHANGE_RETENTION" envDefault:"24h"`
	HandlerBudget     time.Duration `env:"TRIGGERS_HANDLER_BUDGET" envDefault:"60s"`
	FanoutConcurrency int           `env:"TRIGGERS_FANOUT_CONCURRENCY" envDefault:"8"`
	FanoutRate        float64       `env:"TRIGGERS_FANOUT_RATE" envDefault:"0"`
	LogLevel          string        `env:"TRIGGERS_LOG_LEVEL" envDefault:"info"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The trigger worker health gRPC server port")
	fs.StringVar(&cfg.DocstoreDBPath, "docstore-db-path", cfg.DocstoreDBPath, "The document store SQLite database path")
	fs.StringVar(&cfg.FeedBackend, "feed-backend", cfg.FeedBackend, "Feed log backend (sqlite, redis)")
	fs.StringVar(&cfg.FeedDBPath, "feed-db-path", cfg.FeedDBPath, "The feed log SQLite database path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "The Redis address for the redis feed backend")
	fs.StringVar(&cfg.AttemptsDBPath, "attempts-db-path", cfg.AttemptsDBPath, "The delivery attempt ledger SQLite database path")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Change feed consumer name")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Change feed poll interval")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Change lease duration")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Changes leased per poll")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Changes dispatched in parallel")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum delivery attempts before dead-letter")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	fs.DurationVar(&cfg.ChangeRetention, "change-retention", cfg.ChangeRetention, "How long succeeded changes are kept before pruning")
	fs.DurationVar(&cfg.HandlerBudget, "handler-budget", cfg.HandlerBudget, "Execution budget per handler invocation")
	fs.IntVar(&cfg.FanoutConcurrency, "fanout-concurrency", cfg.FanoutConcurrency, "Parallel feed appends per fan-out")
	fs.Float64Var(&cfg.FanoutRate, "fanout-rate", cfg.FanoutRate, "Feed appends per second (0 = unlimited)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.FeedBackend == triggersapp.FeedBackendRedis {
		cfg.RedisAddr = discovery.OrDefaultTCPAddr(cfg.RedisAddr, discovery.ServiceRedis)
	}
	return cfg, nil
}

// Run starts the trigger worker runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceTriggers, entrypoint.RunOptions{LogLevel: cfg.LogLevel}, func(ctx context.Context, logger *zap.Logger) error {
		return triggersapp.Run(ctx, triggersapp.RuntimeConfig{
			Port:              cfg.Port,
			DocstoreDBPath:    cfg.DocstoreDBPath,
			FeedBackend:       cfg.FeedBackend,
			FeedDBPath:        cfg.FeedDBPath,
			RedisAddr:         cfg.RedisAddr,
			AttemptsDBPath:    cfg.AttemptsDBPath,
			Consumer:          cfg.Consumer,
			PollInterval:      cfg.PollInterval,
			LeaseTTL:          cfg.LeaseTTL,
			BatchSize:         cfg.BatchSize,
			Concurrency:       cfg.Concurrency,
			MaxAttempts:       cfg.MaxAttempts,
			RetryBackoff:      cfg.RetryBackoff,
			RetryMaxDelay:     cfg.RetryMaxDelay,
			ChangeRetention:   cfg.ChangeRetention,
			HandlerBudget:     cfg.HandlerBudget,
			FanoutConcurrency: cfg.FanoutConcurrency,
			FanoutRate:        cfg.FanoutRate,
		}, logger)
	})
}
