package notify

import (
	"context"
	"fmt"
	"time"

	"manageros/internal/jobs"
	"manageros/internal/models"
)

const (
	staleInitiativeAfter = 14 * 24 * time.Hour
	campaignDeadlineIn   = 3 * 24 * time.Hour
	oneOnOneLookahead    = 24 * time.Hour
)

func (n *Notifier) overdueTasks(ctx context.Context, rc jobs.RunContext) (jobs.Result, error) {
	data := n.opener.Tenant(rc.OrganizationID)
	tasks, err := data.ListOverdueTasks(ctx, rc.StartedAt)
	if err != nil {
		return jobs.Result{}, err
	}

	var t tally
	key := dedupeKey(rc.StartedAt)
	for _, task := range tasks {
		days := int(rc.StartedAt.Sub(*task.DueDate).Hours() / 24)
		note := models.Notification{
			PersonID:   *task.AssigneeID,
			Type:       models.NotificationTaskOverdue,
			Title:      "Task overdue",
			Message:    fmt.Sprintf("%q was due %s (%d days ago).", task.Title, task.DueDate.UTC().Format(time.DateOnly), days),
			EntityType: "task",
			EntityID:   task.ID,
			DedupeKey:  key,
		}
		if err := n.deliver(ctx, data, note, &t); err != nil {
			return jobs.Result{}, err
		}
	}
	return jobs.Result{
		NotificationsCreated: t.created,
		Metadata:             t.metadata(map[string]any{"overdueTasks": len(tasks)}),
	}, nil
}

func (n *Notifier) staleInitiatives(ctx context.Context, rc jobs.RunContext) (jobs.Result, error) {
	data := n.opener.Tenant(rc.OrganizationID)
	stale, err := data.ListStaleInitiatives(ctx, rc.StartedAt.Add(-staleInitiativeAfter))
	if err != nil {
		return jobs.Result{}, err
	}

	var t tally
	key := dedupeKey(rc.StartedAt)
	for _, in := range stale {
		note := models.Notification{
			PersonID:   in.OwnerID,
			Type:       models.NotificationInitiativeStale,
			Title:      "Initiative check-in due",
			Message:    fmt.Sprintf("%q has had no check-in for over two weeks.", in.Title),
			EntityType: "initiative",
			EntityID:   in.ID,
			DedupeKey:  key,
		}
		if err := n.deliver(ctx, data, note, &t); err != nil {
			return jobs.Result{}, err
		}
	}
	return jobs.Result{
		NotificationsCreated: t.created,
		Metadata:             t.metadata(map[string]any{"staleInitiatives": len(stale)}),
	}, nil
}

func (n *Notifier) campaignDeadlines(ctx context.Context, rc jobs.RunContext) (jobs.Result, error) {
	data := n.opener.Tenant(rc.OrganizationID)
	campaigns, err := data.ListCampaignsEndingBetween(ctx, rc.StartedAt, rc.StartedAt.Add(campaignDeadlineIn))
	if err != nil {
		return jobs.Result{}, err
	}

	var t tally
	key := dedupeKey(rc.StartedAt)
	for _, c := range campaigns {
		note := models.Notification{
			PersonID:   c.OwnerID,
			Type:       models.NotificationCampaignDeadline,
			Title:      "Feedback campaign ending soon",
			Message:    fmt.Sprintf("%q closes on %s.", c.Name, c.EndDate.UTC().Format(time.DateOnly)),
			EntityType: "feedback_campaign",
			EntityID:   c.ID,
			DedupeKey:  key,
		}
		if err := n.deliver(ctx, data, note, &t); err != nil {
			return jobs.Result{}, err
		}
	}
	return jobs.Result{
		NotificationsCreated: t.created,
		Metadata:             t.metadata(map[string]any{"campaignsEndingSoon": len(campaigns)}),
	}, nil
}

func (n *Notifier) upcomingOneOnOnes(ctx context.Context, rc jobs.RunContext) (jobs.Result, error) {
	data := n.opener.Tenant(rc.OrganizationID)
	meetings, err := data.ListOneOnOnesBetween(ctx, rc.StartedAt, rc.StartedAt.Add(oneOnOneLookahead))
	if err != nil {
		return jobs.Result{}, err
	}

	var t tally
	key := dedupeKey(rc.StartedAt)
	for _, m := range meetings {
		when := m.ScheduledAt.UTC().Format("Mon Jan 2 15:04 MST")
		for _, personID := range []string{m.ManagerID, m.ReportID} {
			note := models.Notification{
				PersonID:   personID,
				Type:       models.NotificationOneOnOneUpcoming,
				Title:      "Upcoming 1:1",
				Message:    fmt.Sprintf("You have a 1:1 scheduled for %s.", when),
				EntityType: "one_on_one",
				EntityID:   m.ID,
				DedupeKey:  key,
			}
			if err := n.deliver(ctx, data, note, &t); err != nil {
				return jobs.Result{}, err
			}
		}
	}
	return jobs.Result{
		NotificationsCreated: t.created,
		Metadata:             t.metadata(map[string]any{"upcomingOneOnOnes": len(meetings)}),
	}, nil
}
