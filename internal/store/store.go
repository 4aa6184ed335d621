// Package store persists organizations, cron executions and tenant-owned data.
//
// Tenant-owned data is only reachable through TenantData, which is bound to a
// single organization when it is opened. Every read filters on that
// organization, every insert stamps it, and every update or delete of an
// existing row is an atomic filtered statement on (id, organization_id).
package store

import (
	"context"
	"errors"
	"time"

	"manageros/internal/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrExecutionFinished  = errors.New("execution already finished")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Organizations enumerates tenants. With no ids every organization is
// returned in creation order; otherwise only the matching ones.
type Organizations interface {
	ListOrganizations(ctx context.Context, ids ...string) ([]models.Organization, error)
}

// Executions persists cron execution records.
type Executions interface {
	CreateExecution(ctx context.Context, exec models.Execution) error
	// FinishExecution applies the terminal outcome to a pending execution.
	// It returns ErrExecutionNotFound for an unknown id and
	// ErrExecutionFinished when the execution is no longer pending.
	FinishExecution(ctx context.Context, id string, out models.ExecutionOutcome) error
	GetExecution(ctx context.Context, id string) (models.Execution, error)
}

// TenantData is the data access of exactly one organization.
type TenantData interface {
	OrganizationID() string

	GetPerson(ctx context.Context, id string) (models.Person, error)
	ListOverdueTasks(ctx context.Context, asOf time.Time) ([]models.Task, error)
	ListStaleInitiatives(ctx context.Context, checkedInBefore time.Time) ([]models.Initiative, error)
	ListCampaignsEndingBetween(ctx context.Context, from, to time.Time) ([]models.FeedbackCampaign, error)
	ListOneOnOnesBetween(ctx context.Context, from, to time.Time) ([]models.OneOnOne, error)

	// CreateNotification inserts n for the bound organization. The boolean is
	// false when a notification with the same dedupe identity already exists;
	// the stored row is returned then.
	CreateNotification(ctx context.Context, n models.Notification) (models.Notification, bool, error)
	ListNotifications(ctx context.Context, personID string, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, personID, id string, at time.Time) error

	ListExecutions(ctx context.Context, limit int) ([]models.Execution, error)
}

// Opener binds tenant data access to one organization.
type Opener interface {
	Tenant(orgID string) TenantData
}
