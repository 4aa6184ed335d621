package worker

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"manageros/internal/config"
	"manageros/internal/cron"
	"manageros/internal/models"
	"manageros/internal/queue"
	"manageros/internal/telemetry"
)

// PairRunner runs one pair. *cron.Runner implements it.
type PairRunner interface {
	Pair(jobID, orgID string) (cron.Pair, error)
	RunPair(ctx context.Context, p cron.Pair, verbose bool) cron.Result
}

// Processor drives the worker execution loops.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	runner   PairRunner
	logger   *zap.Logger
	workerID string
	now      func() time.Time
}

// NewProcessor creates a processor; workerID tags its log lines.
func NewProcessor(cfg config.Config, q *queue.RedisQueue, runner PairRunner, logger *zap.Logger, workerID string) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		runner:   runner,
		logger:   logger.With(zap.String("worker_id", workerID)),
		workerID: workerID,
		now:      time.Now,
	}
}

// Run starts WORKER_CONCURRENCY loops plus queue maintenance and blocks until
// ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.maintain(ctx)
		return nil
	})
	for i := 0; i < p.cfg.WorkerConcurrency; i++ {
		g.Go(func() error {
			p.loop(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (p *Processor) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.WorkerPollInterval)
	defer ticker.Stop()
	for {
		p.Maintain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Maintain promotes due retries, reclaims expired leases and refreshes gauges.
func (p *Processor) Maintain(ctx context.Context) {
	now := p.now()
	if _, err := p.queue.PromoteScheduled(ctx, now, 100); err != nil && ctx.Err() == nil {
		p.logger.Warn("promote scheduled pairs", zap.Error(err))
	}
	if n, err := p.queue.RequeueExpired(ctx, now, 100); err != nil && ctx.Err() == nil {
		p.logger.Warn("reclaim expired leases", zap.Error(err))
	} else if n > 0 {
		p.logger.Info("reclaimed expired leases", zap.Int("count", n))
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
	if inflight, err := p.queue.InflightDepth(ctx); err == nil {
		telemetry.InFlightGauge.Set(float64(inflight))
	}
}

func (p *Processor) loop(ctx context.Context) {
	for ctx.Err() == nil {
		worked, err := p.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("dequeue pair", zap.Error(err))
		}
		if !worked {
			sleep(ctx, p.cfg.WorkerPollInterval)
		}
	}
}

// ProcessOne handles at most one message. It reports whether one was found.
func (p *Processor) ProcessOne(ctx context.Context) (bool, error) {
	d, err := p.queue.DequeueWithLease(ctx)
	if err != nil || d == nil {
		return false, err
	}
	p.handle(ctx, d)
	return true, nil
}

func (p *Processor) handle(ctx context.Context, d *queue.Delivery) {
	msg := d.Message
	log := p.logger.With(
		zap.String("job_id", msg.JobID),
		zap.String("organization_id", msg.OrganizationID),
		zap.Int("attempt", msg.Attempt),
	)

	pair, err := p.runner.Pair(msg.JobID, msg.OrganizationID)
	if err != nil {
		p.deadLetter(ctx, d, err.Error(), log)
		return
	}

	stop := p.heartbeat(ctx, d, log)
	res := p.runner.RunPair(ctx, pair, false)
	stop()
	if res.Success {
		if err := p.queue.Ack(ctx, d); err != nil {
			log.Warn("ack pair", zap.Error(err))
		}
		return
	}

	if msg.Attempt >= p.cfg.MaxAttempts {
		p.deadLetter(ctx, d, res.Error, log)
		return
	}

	next := msg
	next.Attempt++
	runAt := p.now().Add(backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, msg.Attempt))
	if err := p.queue.Schedule(ctx, next, runAt); err != nil {
		// Leave the lease in place; reclaim will redeliver it.
		log.Error("schedule retry", zap.Error(err))
		return
	}
	if err := p.queue.Ack(ctx, d); err != nil {
		log.Warn("ack pair", zap.Error(err))
	}
	telemetry.WorkerRetries.Inc()
	log.Info("pair failed, retry scheduled", zap.String("error", res.Error), zap.Time("next_run", runAt))
}

// heartbeat renews d's visibility lease every half window so a long pair is
// not reclaimed and run twice. The returned func stops it and waits.
func (p *Processor) heartbeat(ctx context.Context, d *queue.Delivery, log *zap.Logger) func() {
	interval := p.queue.Visibility() / 2
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.queue.ExtendLease(ctx, d); err != nil && ctx.Err() == nil {
					log.Warn("extend pair lease", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Processor) deadLetter(ctx context.Context, d *queue.Delivery, reason string, log *zap.Logger) {
	err := p.queue.DLQPush(ctx, models.DeadLetter{
		PairMessage: d.Message,
		LastError:   reason,
		FailedAt:    p.now().UTC(),
	})
	if err != nil {
		log.Error("push dead letter", zap.Error(err))
		return
	}
	if err := p.queue.Ack(ctx, d); err != nil {
		log.Warn("ack pair", zap.Error(err))
	}
	telemetry.WorkerDeadLetter.Inc()
	log.Warn("pair moved to dead letter queue", zap.String("error", reason))
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || exp > float64(math.MaxInt64) {
		wait = max
	}
	half := wait / 2
	if half <= 0 {
		return wait
	}
	return half + rand.N(half)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
