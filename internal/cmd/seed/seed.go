// Package seed writes demo users, follows, and attendance through the client
// write path so a running trigger worker has changes to react to.
package seed

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	entrypoint "github.com/louisbranch/revents/internal/platform/cmd"
	"github.com/louisbranch/revents/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/revents/internal/platform/grpc"
	"github.com/louisbranch/revents/internal/services/social"
	triggersapp "github.com/louisbranch/revents/internal/services/triggers/app"
	docsqlite "github.com/louisbranch/revents/internal/services/triggers/docstore/sqlite"
)

// Config holds seed command configuration.
type Config struct {
	DocstoreDBPath string `env:"SEED_DOCSTORE_DB_PATH" envDefault:"data/docstore.db"`
	LogLevel       string `env:"SEED_LOG_LEVEL" envDefault:"info"`
	SkipLeave      bool   `env:"SEED_SKIP_LEAVE"`
	// WaitTriggers delays seeding until the trigger worker reports healthy.
	WaitTriggers bool          `env:"SEED_WAIT_TRIGGERS"`
	TriggersAddr string        `env:"SEED_TRIGGERS_ADDR"`
	WaitTimeout  time.Duration `env:"SEED_WAIT_TIMEOUT" envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DocstoreDBPath, "docstore-db-path", cfg.DocstoreDBPath, "The document store SQLite database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.SkipLeave, "skip-leave", cfg.SkipLeave, "Do not leave events after joining")
	fs.BoolVar(&cfg.WaitTriggers, "wait-triggers", cfg.WaitTriggers, "Wait for the trigger worker health check before seeding")
	fs.StringVar(&cfg.TriggersAddr, "triggers-addr", cfg.TriggersAddr, "The trigger worker health gRPC address")
	fs.DurationVar(&cfg.WaitTimeout, "wait-timeout", cfg.WaitTimeout, "How long to wait for the trigger worker")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.TriggersAddr = discovery.OrDefaultGRPCAddr(cfg.TriggersAddr, discovery.ServiceTriggers)
	return cfg, nil
}

// Run executes the seed command.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceSeed, entrypoint.RunOptions{LogLevel: cfg.LogLevel}, func(ctx context.Context, logger *zap.Logger) error {
		if cfg.WaitTriggers {
			conn, err := platformgrpc.DialHealthy(ctx, cfg.TriggersAddr, triggersapp.HealthService, cfg.WaitTimeout, logger)
			if err != nil {
				return fmt.Errorf("wait for trigger worker at %s: %w", cfg.TriggersAddr, err)
			}
			_ = conn.Close()
			logger.Info("trigger worker is serving", zap.String("addr", cfg.TriggersAddr))
		}

		store, err := docsqlite.Open(ctx, cfg.DocstoreDBPath)
		if err != nil {
			return fmt.Errorf("open docstore sqlite store: %w", err)
		}
		defer store.Close()

		summary, err := Populate(ctx, social.New(store, nil), Options{SkipLeave: cfg.SkipLeave})
		if err != nil {
			return err
		}
		logger.Info("seed complete",
			zap.Int("users", summary.Users),
			zap.Int("follows", summary.Follows),
			zap.Int("events", summary.Events),
			zap.Int("joins", summary.Joins),
			zap.Int("leaves", summary.Leaves),
		)
		return nil
	})
}

// Options tunes Populate.
type Options struct {
	SkipLeave bool
}

// Summary counts the writes Populate made.
type Summary struct {
	Users   int
	Follows int
	Events  int
	Joins   int
	Leaves  int
}

type demoUser struct {
	uid  string
	name string
}

var demoUsers = []demoUser{
	{uid: "ada", name: "Ada Lovelace"},
	{uid: "grace", name: "Grace Hopper"},
	{uid: "alan", name: "Alan Turing"},
	{uid: "edsger", name: "Edsger Dijkstra"},
	{uid: "barbara", name: "Barbara Liskov"},
}

// follower -> followees
var demoFollows = map[string][]string{
	"grace":   {"ada", "alan"},
	"alan":    {"ada"},
	"edsger":  {"ada", "grace"},
	"barbara": {"alan", "grace"},
}

type demoEvent struct {
	host      string
	title     string
	city      string
	category  string
	joiners   []string
	leavers   []string
	daysAhead int
}

var demoEvents = []demoEvent{
	{host: "ada", title: "Analytical engine meetup", city: "London", category: "culture", joiners: []string{"alan", "grace"}, leavers: []string{"grace"}, daysAhead: 7},
	{host: "barbara", title: "Abstraction walk", city: "Boston", category: "travel", joiners: []string{"ada", "edsger"}, daysAhead: 14},
}

// Populate writes the demo dataset. Existing users are updated and existing
// follows are left in place, so it can run repeatedly.
func Populate(ctx context.Context, client *social.Service, opts Options) (Summary, error) {
	var summary Summary
	for _, user := range demoUsers {
		err := client.SetUserProfile(ctx, social.ProfileInput{
			UID:         user.uid,
			DisplayName: user.name,
			PhotoURL:    "https://example.com/avatars/" + user.uid + ".png",
			Email:       user.uid + "@example.com",
		})
		if err != nil {
			return summary, fmt.Errorf("seed user %s: %w", user.uid, err)
		}
		summary.Users++
	}

	for _, user := range demoUsers {
		for _, followee := range demoFollows[user.uid] {
			err := client.FollowUser(ctx, user.uid, followee)
			if errors.Is(err, social.ErrAlreadyFollowing) {
				continue
			}
			if err != nil {
				return summary, fmt.Errorf("seed follow %s -> %s: %w", user.uid, followee, err)
			}
			summary.Follows++
		}
	}

	start := time.Now().UTC().Truncate(time.Hour)
	for _, demo := range demoEvents {
		event, err := client.CreateEvent(ctx, demo.host, social.EventInput{
			Title:    demo.title,
			Date:     start.AddDate(0, 0, demo.daysAhead),
			City:     demo.city,
			Category: demo.category,
		})
		if err != nil {
			return summary, fmt.Errorf("seed event %q: %w", demo.title, err)
		}
		summary.Events++
		for _, uid := range demo.joiners {
			if err := client.JoinEvent(ctx, event.ID, uid); err != nil {
				return summary, fmt.Errorf("seed join %s: %w", uid, err)
			}
			summary.Joins++
		}
		if opts.SkipLeave {
			continue
		}
		for _, uid := range demo.leavers {
			if err := client.LeaveEvent(ctx, event.ID, uid); err != nil {
				return summary, fmt.Errorf("seed leave %s: %w", uid, err)
			}
			summary.Leaves++
		}
	}
	return summary, nil
}
