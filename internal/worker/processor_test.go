package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"manageros/internal/config"
	"manageros/internal/cron"
	"manageros/internal/executions"
	"manageros/internal/jobs"
	"manageros/internal/lock"
	"manageros/internal/models"
	"manageros/internal/queue"
	"manageros/internal/store/memory"
)

func TestBackoffWithJitter(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > base {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < 2*base || b3 > 4*base {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}

	if b := backoffWithJitter(base, max, 60); b < max/2 || b > max {
		t.Fatalf("backoff not capped: %s", b)
	}
	if b := backoffWithJitter(0, max, 1); b != 0 {
		t.Fatalf("zero base should not jitter: %s", b)
	}
}

type fixture struct {
	store  *memory.Store
	client *redis.Client
	runner *cron.Runner
	cfg    config.Config
	queue  *queue.RedisQueue
	proc   *Processor
	calls  map[string]int
	mu     sync.Mutex
}

// withVisibility rebuilds the queue and processor with a different lease window.
func (f *fixture) withVisibility(t *testing.T, visibility time.Duration) {
	f.queue = queue.NewRedisQueue(f.client, visibility, "cron:queue:dlq")
	f.proc = NewProcessor(f.cfg, f.queue, f.runner, zaptest.NewLogger(t), "test-worker")
}

func newFixture(t *testing.T, run jobs.RunFunc) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{store: memory.New(), client: client, calls: map[string]int{}}
	f.store.AddOrganization(models.Organization{ID: "org-1", Name: "One", Slug: "one"})
	f.store.AddOrganization(models.Organization{ID: "org-2", Name: "Two", Slug: "two"})

	reg := jobs.MustRegistry(jobs.Job{ID: "reminders", Name: "Reminders", Run: func(ctx context.Context, rc jobs.RunContext) (jobs.Result, error) {
		f.mu.Lock()
		f.calls[rc.OrganizationID]++
		f.mu.Unlock()
		return run(ctx, rc)
	}})
	logger := zaptest.NewLogger(t)
	runner := cron.NewRunner(reg, f.store, executions.NewTracker(f.store), logger)

	cfg := config.Config{
		WorkerConcurrency:  2,
		WorkerPollInterval: 10 * time.Millisecond,
		MaxAttempts:        2,
		BackoffInitial:     time.Second,
		BackoffMax:         time.Minute,
	}
	f.runner = runner
	f.cfg = cfg
	f.queue = queue.NewRedisQueue(client, time.Minute, "cron:queue:dlq")
	f.proc = NewProcessor(cfg, f.queue, runner, logger, "test-worker")
	return f
}

func TestLongPairKeepsItsLease(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	f := newFixture(t, func(context.Context, jobs.RunContext) (jobs.Result, error) {
		close(started)
		time.Sleep(700 * time.Millisecond)
		return jobs.Result{NotificationsCreated: 1}, nil
	})
	f.withVisibility(t, 200*time.Millisecond)
	other := NewProcessor(f.cfg, f.queue, f.runner, zaptest.NewLogger(t), "other-worker")
	require.NoError(t, f.queue.Enqueue(ctx, models.PairMessage{JobID: "reminders", OrganizationID: "org-1", Attempt: 1}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		worked, err := f.proc.ProcessOne(ctx)
		assert.NoError(t, err)
		assert.True(t, worked)
	}()

	<-started
	for i := 0; i < 4; i++ {
		time.Sleep(100 * time.Millisecond)
		other.Maintain(ctx)
		worked, err := other.ProcessOne(ctx)
		require.NoError(t, err)
		assert.False(t, worked, "running pair was redelivered")
	}
	<-done

	execs := f.store.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, models.ExecutionSuccess, execs[0].Status)
	inflight, err := f.queue.InflightDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, inflight)
	retries, err := f.client.ZCard(ctx, "cron:queue:scheduled").Result()
	require.NoError(t, err)
	assert.Zero(t, retries)
}

func TestProcessOneSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(context.Context, jobs.RunContext) (jobs.Result, error) {
		return jobs.Result{NotificationsCreated: 2}, nil
	})
	require.NoError(t, f.queue.Enqueue(ctx, models.PairMessage{JobID: "reminders", OrganizationID: "org-1", Attempt: 1}))

	worked, err := f.proc.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	execs := f.store.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, models.ExecutionSuccess, execs[0].Status)

	inflight, err := f.queue.InflightDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, inflight)

	worked, err = f.proc.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestFailedPairIsRetriedThenDeadLettered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(context.Context, jobs.RunContext) (jobs.Result, error) {
		return jobs.Result{}, errors.New("DB timeout")
	})
	clock := time.Now()
	f.proc.now = func() time.Time { return clock }

	require.NoError(t, f.queue.Enqueue(ctx, models.PairMessage{JobID: "reminders", OrganizationID: "org-1", Attempt: 1}))
	_, err := f.proc.ProcessOne(ctx)
	require.NoError(t, err)

	// The retry waits for its backoff.
	worked, err := f.proc.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, worked)

	clock = clock.Add(time.Hour)
	f.proc.Maintain(ctx)
	_, err = f.proc.ProcessOne(ctx)
	require.NoError(t, err)

	dead, err := f.queue.DLQPeek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].Attempt)
	assert.Equal(t, "DB timeout", dead[0].LastError)

	// Every attempt is its own terminal execution record.
	execs := f.store.Executions()
	require.Len(t, execs, 2)
	for _, e := range execs {
		assert.Equal(t, models.ExecutionFailure, e.Status)
	}
}

func TestUnknownJobIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(context.Context, jobs.RunContext) (jobs.Result, error) {
		return jobs.Result{}, nil
	})
	require.NoError(t, f.queue.Enqueue(ctx, models.PairMessage{JobID: "retired-job", OrganizationID: "org-1", Attempt: 1}))

	_, err := f.proc.ProcessOne(ctx)
	require.NoError(t, err)

	dead, err := f.queue.DLQPeek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].LastError, "retired-job")
	assert.Empty(t, f.store.Executions())
}

func TestRunDrainsQueueUntilCancelled(t *testing.T) {
	f := newFixture(t, func(context.Context, jobs.RunContext) (jobs.Result, error) {
		return jobs.Result{NotificationsCreated: 1}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, org := range []string{"org-1", "org-2"} {
		require.NoError(t, f.queue.Enqueue(ctx, models.PairMessage{JobID: "reminders", OrganizationID: org, Attempt: 1}))
	}

	done := make(chan error, 1)
	go func() { done <- f.proc.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.store.Executions()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestSchedulerTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(context.Context, jobs.RunContext) (jobs.Result, error) {
		return jobs.Result{}, nil
	})
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := lock.NewLocker(client, "cron:lock:")

	runner := cron.NewRunner(jobs.MustRegistry(jobs.Job{ID: "reminders", Run: func(context.Context, jobs.RunContext) (jobs.Result, error) {
		return jobs.Result{}, nil
	}}), f.store, executions.NewTracker(f.store), zaptest.NewLogger(t))
	s := NewScheduler(runner, f.queue, locker, zaptest.NewLogger(t))

	at := time.Date(2025, 3, 1, 9, 0, 10, 0, time.UTC)
	n, err := s.Tick(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A second process firing on the same minute enqueues nothing.
	n, err = s.Tick(ctx, at.Add(20*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	depth, err := f.queue.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(nil, nil, nil, zaptest.NewLogger(t))
	require.Error(t, s.Start(context.Background(), "not a schedule"))
}
