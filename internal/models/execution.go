package models

import "time"

// Execution status values persisted in cron_job_executions.
const (
	ExecutionPending = "pending"
	ExecutionSuccess = "success"
	ExecutionFailure = "failure"
)

// Execution records one attempt to run one job for one organization.
type Execution struct {
	ID                   string         `json:"id"`
	JobID                string         `json:"job_id"`
	JobName              string         `json:"job_name"`
	OrganizationID       string         `json:"organization_id"`
	Status               string         `json:"status"`
	NotificationsCreated int            `json:"notifications_created"`
	Metadata             map[string]any `json:"metadata"`
	ErrorMessage         *string        `json:"error_message,omitempty"`
	StartedAt            time.Time      `json:"started_at"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
}

// Terminal reports whether the execution reached success or failure.
func (e Execution) Terminal() bool {
	return e.Status == ExecutionSuccess || e.Status == ExecutionFailure
}

// ExecutionOutcome is the single terminal write applied to a pending execution.
type ExecutionOutcome struct {
	Status               string
	NotificationsCreated int
	Metadata             map[string]any
	ErrorMessage         *string
	CompletedAt          time.Time
}
