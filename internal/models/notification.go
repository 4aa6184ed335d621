package models

import "time"

// Notification types produced by the cron jobs.
const (
	NotificationTaskOverdue      = "task_overdue"
	NotificationInitiativeStale  = "initiative_check_in"
	NotificationCampaignDeadline = "feedback_campaign_deadline"
	NotificationOneOnOneUpcoming = "one_on_one_upcoming"
)

// Notification is an in-app message addressed to one person of an organization.
type Notification struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	PersonID       string     `json:"person_id"`
	Type           string     `json:"type"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	EntityType     string     `json:"entity_type"`
	EntityID       string     `json:"entity_id"`
	DedupeKey      string     `json:"-"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
