// Package cron plans and runs (job, organization) pairs and aggregates their
// outcomes into a run summary.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"manageros/internal/archive"
	"manageros/internal/executions"
	"manageros/internal/jobs"
	"manageros/internal/lock"
	"manageros/internal/models"
	"manageros/internal/store"
	"manageros/internal/telemetry"
)

// ErrInProgress is the failure recorded when another run holds the pair lease.
var ErrInProgress = errors.New("execution already in progress")

// Pair is one job to run for one organization.
type Pair struct {
	Job            jobs.Job
	OrganizationID string
}

// Request filters a run. Empty filters select everything.
type Request struct {
	JobID          string
	OrganizationID string
	Verbose        bool
}

// Runner executes pairs through the execution tracker.
type Runner struct {
	registry    *jobs.Registry
	orgs        store.Organizations
	tracker     *executions.Tracker
	locker      *lock.Locker
	archiver    archive.Archiver
	logger      *zap.Logger
	concurrency int
	lockTTL     time.Duration
	now         func() time.Time
}

// Option configures optional Runner collaborators.
type Option func(*Runner)

// WithConcurrency bounds how many pairs run at once. 1 runs them in order.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLocker guards each pair with a Redis lease held for ttl.
func WithLocker(l *lock.Locker, ttl time.Duration) Option {
	return func(r *Runner) {
		r.locker = l
		r.lockTTL = ttl
	}
}

// WithArchiver stores every run summary.
func WithArchiver(a archive.Archiver) Option {
	return func(r *Runner) { r.archiver = a }
}

// NewRunner builds a Runner over registry and orgs. Without options pairs run
// one at a time with no lease or archive.
func NewRunner(registry *jobs.Registry, orgs store.Organizations, tracker *executions.Tracker, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		registry:    registry,
		orgs:        orgs,
		tracker:     tracker,
		logger:      logger,
		concurrency: 1,
		lockTTL:     10 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan resolves the pairs selected by req: organizations outer, jobs inner. An
// unknown job fails before organizations are listed.
func (r *Runner) Plan(ctx context.Context, req Request) ([]Pair, error) {
	selected := r.registry.All()
	if req.JobID != "" {
		job, err := r.registry.Get(req.JobID)
		if err != nil {
			return nil, err
		}
		selected = []jobs.Job{job}
	}

	var ids []string
	if req.OrganizationID != "" {
		ids = []string{req.OrganizationID}
	}
	orgs, err := r.orgs.ListOrganizations(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}

	pairs := make([]Pair, 0, len(orgs)*len(selected))
	for _, org := range orgs {
		for _, job := range selected {
			pairs = append(pairs, Pair{Job: job, OrganizationID: org.ID})
		}
	}
	return pairs, nil
}

// Pair resolves a single pair by job id.
func (r *Runner) Pair(jobID, orgID string) (Pair, error) {
	job, err := r.registry.Get(jobID)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Job: job, OrganizationID: orgID}, nil
}

// Run plans, executes every pair, and archives the summary. Pair failures are
// reported in the summary; only planning and archival fail the run.
func (r *Runner) Run(ctx context.Context, req Request) (Summary, error) {
	pairs, err := r.Plan(ctx, req)
	if err != nil {
		return Summary{}, err
	}

	results := make([]Result, len(pairs))
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, p := range pairs {
		g.Go(func() error {
			res := r.RunPair(ctx, p, req.Verbose)
			if !req.Verbose {
				res = res.brief()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	summary := Summarize(results)
	if r.archiver != nil {
		if err := r.archive(ctx, req, summary); err != nil {
			return Summary{}, err
		}
	}
	return summary, nil
}

type archivedRun struct {
	Job          string  `json:"job,omitempty"`
	Organization string  `json:"org,omitempty"`
	Summary      Summary `json:"summary"`
	Timestamp    string  `json:"timestamp"`
}

func (r *Runner) archive(ctx context.Context, req Request, summary Summary) error {
	at := r.now()
	body, err := json.Marshal(archivedRun{
		Job:          req.JobID,
		Organization: req.OrganizationID,
		Summary:      summary,
		Timestamp:    at.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	loc, err := r.archiver.Put(ctx, archive.SummaryKey(at), body, "application/json")
	if err != nil {
		return fmt.Errorf("archive run summary: %w", err)
	}
	r.logger.Debug("archived run summary", zap.String("location", loc))
	return nil
}

// RunPair opens an execution record, runs the job, and closes the record.
// It never returns an error; failures are carried on the Result.
func (r *Runner) RunPair(ctx context.Context, p Pair, verbose bool) (res Result) {
	ctx, span := telemetry.Tracer().Start(ctx, "cron.pair", trace.WithAttributes(
		attribute.String("job.id", p.Job.ID),
		attribute.String("organization.id", p.OrganizationID),
	))
	defer span.End()

	began := time.Now()
	res = Result{JobID: p.Job.ID, JobName: p.Job.Name, OrganizationID: p.OrganizationID}
	defer func() {
		ms := time.Since(began).Milliseconds()
		res.DurationMs = &ms
		r.observe(p, res, verbose)
		if !res.Success {
			span.SetStatus(codes.Error, res.Error)
		}
	}()

	exec, err := r.tracker.Start(ctx, executions.StartParams{
		JobID:          p.Job.ID,
		JobName:        p.Job.Name,
		OrganizationID: p.OrganizationID,
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.ExecutionID = exec.ID
	span.SetAttributes(attribute.String("execution.id", exec.ID))

	// Terminal writes must land even if the caller went away.
	finishCtx := context.WithoutCancel(ctx)
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("job panicked", zap.String("job_id", p.Job.ID),
				zap.String("organization_id", p.OrganizationID), zap.Any("panic", v), zap.Stack("stack"))
			r.fail(finishCtx, &res, exec.ID, fmt.Sprintf("job panicked: %v", v), nil)
		}
	}()

	if r.locker != nil {
		lease, err := r.locker.Acquire(ctx, lock.PairKey(p.Job.ID, p.OrganizationID), r.lockTTL)
		if err != nil {
			msg := err.Error()
			if errors.Is(err, lock.ErrHeld) {
				msg = ErrInProgress.Error()
				telemetry.PairsLocked.WithLabelValues(p.Job.ID).Inc()
			}
			r.fail(finishCtx, &res, exec.ID, msg, nil)
			return res
		}
		defer func() {
			if err := lease.Release(finishCtx); err != nil {
				r.logger.Warn("release pair lease", zap.String("job_id", p.Job.ID),
					zap.String("organization_id", p.OrganizationID), zap.Error(err))
			}
		}()
	}

	out, err := r.registry.Execute(ctx, p.Job.ID, jobs.RunContext{
		StartedAt:      exec.StartedAt,
		OrganizationID: p.OrganizationID,
	})
	if err != nil {
		r.fail(finishCtx, &res, exec.ID, err.Error(), nil)
		return res
	}
	res.Metadata = out.Metadata

	if err := r.tracker.Complete(finishCtx, exec.ID, out.NotificationsCreated, out.Metadata); err != nil {
		r.fail(finishCtx, &res, exec.ID, err.Error(), out.Metadata)
		return res
	}
	res.Success = true
	res.NotificationsCreated = out.NotificationsCreated
	return res
}

func (r *Runner) fail(ctx context.Context, res *Result, execID, msg string, meta map[string]any) {
	res.Success = false
	res.NotificationsCreated = 0
	res.Error = msg
	if err := r.tracker.Fail(ctx, execID, msg, meta); err != nil {
		r.logger.Error("record execution failure",
			zap.String("execution_id", execID),
			zap.String("job_id", res.JobID),
			zap.String("organization_id", res.OrganizationID),
			zap.Error(err))
	}
}

func (r *Runner) observe(p Pair, res Result, verbose bool) {
	status := models.ExecutionSuccess
	if !res.Success {
		status = models.ExecutionFailure
	}
	telemetry.PairExecutions.WithLabelValues(p.Job.ID, status).Inc()
	var ms int64
	if res.DurationMs != nil {
		ms = *res.DurationMs
	}
	telemetry.PairDuration.WithLabelValues(p.Job.ID).Observe(float64(ms) / 1000)
	if res.Success {
		telemetry.NotificationsCreated.WithLabelValues(p.Job.ID).Add(float64(res.NotificationsCreated))
	}

	fields := []zap.Field{
		zap.String("job_id", p.Job.ID),
		zap.String("organization_id", p.OrganizationID),
		zap.String("execution_id", res.ExecutionID),
		zap.Bool("success", res.Success),
		zap.Int("notifications_created", res.NotificationsCreated),
		zap.Int64("duration_ms", ms),
	}
	switch {
	case !res.Success:
		r.logger.Warn("cron pair failed", append(fields, zap.String("error", res.Error))...)
	case verbose:
		r.logger.Info("cron pair finished", fields...)
	default:
		r.logger.Debug("cron pair finished", fields...)
	}
}
