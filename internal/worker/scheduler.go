package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	robfigcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"manageros/internal/cron"
	"manageros/internal/lock"
	"manageros/internal/models"
	"manageros/internal/telemetry"
)

// Planner lists the pairs of a run. *cron.Runner implements it.
type Planner interface {
	Plan(ctx context.Context, req cron.Request) ([]cron.Pair, error)
}

// Enqueuer accepts pair messages. *queue.RedisQueue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg models.PairMessage) error
}

// cronLogger adapts zap to the robfig/cron logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

// Info logs routine messages about cron's operation.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

// Error logs an error condition.
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler enqueues every planned pair on a cron schedule. A per-tick lease
// keeps several worker processes from enqueueing the same tick twice.
type Scheduler struct {
	cron    *robfigcron.Cron
	planner Planner
	queue   Enqueuer
	locker  *lock.Locker
	logger  *zap.Logger
}

func NewScheduler(planner Planner, q Enqueuer, locker *lock.Locker, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    robfigcron.New(robfigcron.WithLogger(cronLogger{logger.Sugar().Named("cron")})),
		planner: planner,
		queue:   q,
		locker:  locker,
		logger:  logger,
	}
}

// Start registers the tick on spec and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Tick(ctx, time.Now()); err != nil {
			s.logger.Error("scheduler tick", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	s.cron.Start()
	return nil
}

// Shutdown gracefully shuts down the Scheduler.
func (s *Scheduler) Shutdown() {
	ctx, cancel := context.WithTimeout(s.cron.Stop(), 30*time.Second)
	defer cancel()
	<-ctx.Done()
}

// Tick enqueues all pairs for the tick at t and returns how many were
// enqueued. A tick already claimed by another process enqueues nothing.
func (s *Scheduler) Tick(ctx context.Context, t time.Time) (int, error) {
	if s.locker != nil {
		key := "tick:" + t.UTC().Truncate(time.Minute).Format(time.RFC3339)
		// The lease is left to expire so late peers see the tick as taken.
		if _, err := s.locker.Acquire(ctx, key, time.Hour); err != nil {
			if errors.Is(err, lock.ErrHeld) {
				s.logger.Debug("tick claimed by another worker", zap.String("key", key))
				return 0, nil
			}
			return 0, err
		}
	}

	pairs, err := s.planner.Plan(ctx, cron.Request{})
	if err != nil {
		return 0, fmt.Errorf("plan tick: %w", err)
	}
	for i, p := range pairs {
		msg := models.PairMessage{JobID: p.Job.ID, OrganizationID: p.OrganizationID, Attempt: 1}
		if err := s.queue.Enqueue(ctx, msg); err != nil {
			return i, fmt.Errorf("enqueue %s/%s: %w", p.Job.ID, p.OrganizationID, err)
		}
		telemetry.EnqueueCounter.Inc()
	}
	s.logger.Info("scheduler tick enqueued pairs", zap.Int("pairs", len(pairs)))
	return len(pairs), nil
}
