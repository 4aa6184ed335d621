// Package jobs holds the registry of notification jobs. A Registry is built
// once at startup and never changes afterwards.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

var ErrJobNotFound = errors.New("job not found")

// RunContext is what a job receives for one organization.
type RunContext struct {
	StartedAt      time.Time
	OrganizationID string
}

// Result is what a job reports back. Metadata values must be JSON-serializable.
type Result struct {
	NotificationsCreated int
	Metadata             map[string]any
}

// RunFunc executes a job for a single organization.
type RunFunc func(ctx context.Context, rc RunContext) (Result, error)

// Job describes one class of notification-producing work.
type Job struct {
	ID          string
	Name        string
	Description string
	Run         RunFunc
}

// Registry maps job ids to jobs, preserving registration order.
type Registry struct {
	ordered []Job
	byID    map[string]int
}

// NewRegistry validates and registers jobs in the given order.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{
		ordered: make([]Job, 0, len(jobs)),
		byID:    make(map[string]int, len(jobs)),
	}
	for _, j := range jobs {
		if j.ID == "" {
			return nil, errors.New("register job: empty id")
		}
		if j.Run == nil {
			return nil, fmt.Errorf("register job %q: nil run func", j.ID)
		}
		if _, dup := r.byID[j.ID]; dup {
			return nil, fmt.Errorf("register job %q: duplicate id", j.ID)
		}
		if j.Name == "" {
			j.Name = j.ID
		}
		r.byID[j.ID] = len(r.ordered)
		r.ordered = append(r.ordered, j)
	}
	return r, nil
}

// MustRegistry is NewRegistry for statically known job sets.
func MustRegistry(jobs ...Job) *Registry {
	r, err := NewRegistry(jobs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the job registered under id.
func (r *Registry) Get(id string) (Job, error) {
	i, ok := r.byID[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return r.ordered[i], nil
}

// All returns the jobs in registration order. The slice is a copy.
func (r *Registry) All() []Job {
	return slices.Clone(r.ordered)
}

// Len reports the number of registered jobs.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Execute runs job id. Errors from the job body are returned as is.
func (r *Registry) Execute(ctx context.Context, id string, rc RunContext) (Result, error) {
	job, err := r.Get(id)
	if err != nil {
		return Result{}, err
	}
	res, err := job.Run(ctx, rc)
	if err != nil {
		return Result{}, err
	}
	if res.NotificationsCreated < 0 {
		return Result{}, fmt.Errorf("job %s reported %d notifications", id, res.NotificationsCreated)
	}
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	return res, nil
}
