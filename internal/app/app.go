// Package app assembles the services shared by the api and worker binaries.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"manageros/internal/archive"
	"manageros/internal/config"
	"manageros/internal/cron"
	"manageros/internal/executions"
	"manageros/internal/jobs"
	"manageros/internal/lock"
	"manageros/internal/mail"
	"manageros/internal/notify"
	"manageros/internal/queue"
	"manageros/internal/store"
)

// App holds the wired dependencies. Redis-backed fields are nil when
// REDIS_ADDR is unset.
type App struct {
	Store    *store.Store
	Registry *jobs.Registry
	Runner   *cron.Runner

	Redis  *redis.Client
	Locker *lock.Locker
	Queue  *queue.RedisQueue
}

// New connects to Postgres, applies migrations and builds the cron runner.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := st.RunMigrations(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	a := &App{Store: st}
	if cfg.RedisEnabled() {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.Locker = lock.NewLocker(a.Redis, "cron:lock:")
		a.Queue = queue.NewRedisQueue(a.Redis, cfg.VisibilityTimeout, cfg.DLQName)
	}

	var mailer notify.Mailer
	if cfg.EmailEnabled {
		client, err := mail.NewSESClient(ctx, cfg.SESRegion)
		if err != nil {
			a.Close()
			return nil, err
		}
		mailer = mail.NewSESMailer(client, cfg.EmailFrom)
	}

	registry, err := jobs.NewRegistry(notify.NewNotifier(st, mailer, logger).Jobs()...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = registry

	opts := []cron.Option{cron.WithConcurrency(cfg.CronConcurrency)}
	if a.Locker != nil {
		opts = append(opts, cron.WithLocker(a.Locker, cfg.PairLockTTL))
	}
	archiver, err := archive.New(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if archiver != nil {
		opts = append(opts, cron.WithArchiver(archiver))
	}
	a.Runner = cron.NewRunner(registry, st, executions.NewTracker(st), logger, opts...)

	logger.Info("services wired",
		zap.Int("jobs", registry.Len()),
		zap.Bool("redis", a.Redis != nil),
		zap.Bool("email", mailer != nil),
		zap.Bool("archive", archiver != nil))
	return a, nil
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.Store.Close()
}

// WorkerID prefers WORKER_ID, then the hostname, then the pid.
func WorkerID(cfg config.Config) string {
	if cfg.WorkerID != "" {
		return cfg.WorkerID
	}
	if hostname, _ := os.Hostname(); hostname != "" {
		return hostname
	}
	return fmt.Sprintf("worker-%d", os.Getpid())
}
