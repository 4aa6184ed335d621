// Package executions records the lifecycle of one job run for one
// organization: pending, then exactly one of success or failure.
package executions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"manageros/internal/models"
	"manageros/internal/store"
)

// StartParams identifies the pair an execution belongs to.
type StartParams struct {
	JobID          string
	JobName        string
	OrganizationID string
}

// Tracker opens and closes execution records.
type Tracker struct {
	store store.Executions
	now   func() time.Time
}

// NewTracker returns a Tracker writing through st.
func NewTracker(st store.Executions) *Tracker {
	return &Tracker{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Start inserts a pending record stamped with the current time.
func (t *Tracker) Start(ctx context.Context, p StartParams) (models.Execution, error) {
	exec := models.Execution{
		ID:             uuid.NewString(),
		JobID:          p.JobID,
		JobName:        p.JobName,
		OrganizationID: p.OrganizationID,
		Status:         models.ExecutionPending,
		Metadata:       map[string]any{},
		StartedAt:      t.now(),
	}
	if err := t.store.CreateExecution(ctx, exec); err != nil {
		return models.Execution{}, fmt.Errorf("start execution %s/%s: %w", p.JobID, p.OrganizationID, err)
	}
	return exec, nil
}

// Complete marks id successful.
func (t *Tracker) Complete(ctx context.Context, id string, notificationsCreated int, metadata map[string]any) error {
	return t.finish(ctx, id, models.ExecutionOutcome{
		Status:               models.ExecutionSuccess,
		NotificationsCreated: notificationsCreated,
		Metadata:             Normalize(metadata),
		CompletedAt:          t.now(),
	})
}

// Fail marks id failed with errorMessage.
func (t *Tracker) Fail(ctx context.Context, id, errorMessage string, metadata map[string]any) error {
	return t.finish(ctx, id, models.ExecutionOutcome{
		Status:       models.ExecutionFailure,
		Metadata:     Normalize(metadata),
		ErrorMessage: &errorMessage,
		CompletedAt:  t.now(),
	})
}

func (t *Tracker) finish(ctx context.Context, id string, out models.ExecutionOutcome) error {
	if err := t.store.FinishExecution(ctx, id, out); err != nil {
		return fmt.Errorf("finish execution as %s: %w", out.Status, err)
	}
	return nil
}

// Normalize returns a copy of meta whose values all encode as JSON. Values
// that do not are replaced with their fmt representation.
func Normalize(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if _, err := json.Marshal(v); err != nil {
			out[k] = fmt.Sprintf("%v", v)
			continue
		}
		out[k] = v
	}
	return out
}
