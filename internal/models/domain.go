package models

import "time"

// Task status values.
const (
	TaskTodo    = "todo"
	TaskDoing   = "doing"
	TaskBlocked = "blocked"
	TaskDone    = "done"
	TaskDropped = "dropped"
)

// Initiative status values.
const (
	InitiativePlanned    = "planned"
	InitiativeInProgress = "in_progress"
	InitiativePaused     = "paused"
	InitiativeDone       = "done"
	InitiativeCanceled   = "canceled"
)

// Feedback campaign status values.
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

// Person is someone tracked by the organization, optionally linked to a user account.
type Person struct {
	ID             string  `json:"id"`
	OrganizationID string  `json:"organization_id"`
	Name           string  `json:"name"`
	Email          *string `json:"email,omitempty"`
	ManagerID      *string `json:"manager_id,omitempty"`
	UserID         *string `json:"user_id,omitempty"`
}

type Task struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Title          string     `json:"title"`
	AssigneeID     *string    `json:"assignee_id,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	Status         string     `json:"status"`
}

type Initiative struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Title          string     `json:"title"`
	OwnerID        string     `json:"owner_id"`
	Status         string     `json:"status"`
	LastCheckInAt  *time.Time `json:"last_check_in_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type FeedbackCampaign struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	OwnerID        string    `json:"owner_id"`
	TargetPersonID string    `json:"target_person_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Status         string    `json:"status"`
}

type OneOnOne struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	ManagerID      string    `json:"manager_id"`
	ReportID       string    `json:"report_id"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}
