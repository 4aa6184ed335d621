// Package notify implements the notification jobs run by the cron pipeline.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"manageros/internal/jobs"
	"manageros/internal/models"
	"manageros/internal/store"
)

// Mailer delivers a notification by email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Notifier owns the dependencies shared by every job body.
type Notifier struct {
	opener store.Opener
	mailer Mailer
	logger *zap.Logger
}

// NewNotifier builds a Notifier. mailer may be nil.
func NewNotifier(opener store.Opener, mailer Mailer, logger *zap.Logger) *Notifier {
	return &Notifier{opener: opener, mailer: mailer, logger: logger}
}

// Jobs returns the built-in jobs in their registration order.
func (n *Notifier) Jobs() []jobs.Job {
	return []jobs.Job{
		{
			ID:          "overdue-tasks",
			Name:        "Overdue Task Reminders",
			Description: "Reminds assignees about open tasks past their due date.",
			Run:         n.overdueTasks,
		},
		{
			ID:          "stale-initiatives",
			Name:        "Initiative Check-in Reminders",
			Description: "Asks owners of in-progress initiatives for a check-in after two quiet weeks.",
			Run:         n.staleInitiatives,
		},
		{
			ID:          "feedback-campaign-deadlines",
			Name:        "Feedback Campaign Deadlines",
			Description: "Warns campaign owners when an active campaign closes within three days.",
			Run:         n.campaignDeadlines,
		},
		{
			ID:          "upcoming-one-on-ones",
			Name:        "Upcoming 1:1 Reminders",
			Description: "Reminds both participants of 1:1s in the next 24 hours.",
			Run:         n.upcomingOneOnOnes,
		},
	}
}

// dedupeKey scopes notifications to one UTC day so repeated runs on the same
// day do not notify twice.
func dedupeKey(startedAt time.Time) string {
	return startedAt.UTC().Format(time.DateOnly)
}

// tally accumulates what a job run produced.
type tally struct {
	created       int
	duplicates    int
	skipped       int
	emailFailures int
}

func (t tally) metadata(extra map[string]any) map[string]any {
	meta := map[string]any{
		"duplicates": t.duplicates,
		"skipped":    t.skipped,
	}
	if t.emailFailures > 0 {
		meta["emailFailures"] = t.emailFailures
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

// deliver stores one notification and emails it when it is new. A recipient
// outside the tenant is counted as skipped, not as an error.
func (n *Notifier) deliver(ctx context.Context, data store.TenantData, note models.Notification, t *tally) error {
	created, isNew, err := data.CreateNotification(ctx, note)
	if errors.Is(err, store.ErrNotFound) {
		t.skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s notification for %s: %w", note.Type, note.PersonID, err)
	}
	if !isNew {
		t.duplicates++
		return nil
	}
	t.created++

	if n.mailer == nil {
		return nil
	}
	person, err := data.GetPerson(ctx, created.PersonID)
	if err != nil || person.Email == nil || *person.Email == "" {
		return nil
	}
	if err := n.mailer.Send(ctx, *person.Email, created.Title, created.Message); err != nil {
		t.emailFailures++
		n.logger.Warn("notification email failed",
			zap.String("organization_id", data.OrganizationID()),
			zap.String("notification_id", created.ID),
			zap.Error(err))
	}
	return nil
}
