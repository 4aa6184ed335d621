package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"manageros/internal/api"
	"manageros/internal/app"
	"manageros/internal/config"
	"manageros/internal/logging"
	"manageros/internal/ratelimit"
	"manageros/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, "manageros-api", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []api.Option{api.WithHealthCheck(a.Store)}
	if a.Redis != nil {
		opts = append(opts,
			api.WithLimiter(ratelimit.NewTokenBucket(a.Redis, "rl:cron:", cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)),
			api.WithQueue(a.Queue))
	}
	if cfg.CronSecret == "" {
		logger.Warn("CRON_SECRET is empty; cron triggers will be refused")
	}

	server := api.New(cfg, a.Runner, a.Store, logger, opts...)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger.Info("shutting down api")
	return httpServer.Shutdown(shutdownCtx)
}
