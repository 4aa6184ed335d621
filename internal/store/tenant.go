package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"manageros/internal/models"
)

// tenantStore is the Postgres TenantData. Every statement carries orgID.
type tenantStore struct {
	pool  *pgxpool.Pool
	orgID string
}

func (t *tenantStore) OrganizationID() string { return t.orgID }

func (t *tenantStore) GetPerson(ctx context.Context, id string) (models.Person, error) {
	var p models.Person
	var email, manager, user pgtype.Text
	err := t.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, email, manager_id, user_id
		FROM people WHERE id = $1 AND organization_id = $2
	`, id, t.orgID).Scan(&p.ID, &p.OrganizationID, &p.Name, &email, &manager, &user)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Person{}, fmt.Errorf("person %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Person{}, classify("get person", err)
	}
	p.Email = textPtr(email)
	p.ManagerID = textPtr(manager)
	p.UserID = textPtr(user)
	return p, nil
}

func (t *tenantStore) ListOverdueTasks(ctx context.Context, asOf time.Time) ([]models.Task, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT id, organization_id, title, assignee_id, due_date, status
		FROM tasks
		WHERE organization_id = $1
		  AND due_date < $2
		  AND status = ANY($3)
		  AND assignee_id IS NOT NULL
		ORDER BY due_date, id
	`, t.orgID, asOf, []string{models.TaskTodo, models.TaskDoing, models.TaskBlocked})
	if err != nil {
		return nil, classify("list overdue tasks", err)
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Task, error) {
		var task models.Task
		var assignee pgtype.Text
		var due pgtype.Timestamptz
		err := row.Scan(&task.ID, &task.OrganizationID, &task.Title, &assignee, &due, &task.Status)
		task.AssigneeID = textPtr(assignee)
		task.DueDate = timePtr(due)
		return task, err
	})
	return tasks, classify("scan tasks", err)
}

func (t *tenantStore) ListStaleInitiatives(ctx context.Context, checkedInBefore time.Time) ([]models.Initiative, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT id, organization_id, title, owner_id, status, last_check_in_at, created_at
		FROM initiatives
		WHERE organization_id = $1
		  AND status = $2
		  AND COALESCE(last_check_in_at, created_at) < $3
		ORDER BY created_at, id
	`, t.orgID, models.InitiativeInProgress, checkedInBefore)
	if err != nil {
		return nil, classify("list stale initiatives", err)
	}
	initiatives, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Initiative, error) {
		var in models.Initiative
		var last pgtype.Timestamptz
		err := row.Scan(&in.ID, &in.OrganizationID, &in.Title, &in.OwnerID, &in.Status, &last, &in.CreatedAt)
		in.LastCheckInAt = timePtr(last)
		return in, err
	})
	return initiatives, classify("scan initiatives", err)
}

func (t *tenantStore) ListCampaignsEndingBetween(ctx context.Context, from, to time.Time) ([]models.FeedbackCampaign, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT id, organization_id, name, owner_id, target_person_id, start_date, end_date, status
		FROM feedback_campaigns
		WHERE organization_id = $1
		  AND status = $2
		  AND end_date >= $3 AND end_date <= $4
		ORDER BY end_date, id
	`, t.orgID, models.CampaignActive, from, to)
	if err != nil {
		return nil, classify("list feedback campaigns", err)
	}
	campaigns, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.FeedbackCampaign])
	return campaigns, classify("scan feedback campaigns", err)
}

func (t *tenantStore) ListOneOnOnesBetween(ctx context.Context, from, to time.Time) ([]models.OneOnOne, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT id, organization_id, manager_id, report_id, scheduled_at
		FROM one_on_ones
		WHERE organization_id = $1
		  AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at, id
	`, t.orgID, from, to)
	if err != nil {
		return nil, classify("list one-on-ones", err)
	}
	meetings, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.OneOnOne])
	return meetings, classify("scan one-on-ones", err)
}

// CreateNotification inserts n stamped with the bound organization. The
// recipient must belong to the same organization; the INSERT ... SELECT
// yields no row otherwise.
func (t *tenantStore) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.OrganizationID = t.orgID

	tag, err := t.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, organization_id, person_id, type, title, message, entity_type, entity_id, dedupe_key, created_at)
		SELECT $1::text, p.organization_id, p.id, $4::text, $5::text, $6::text, $7::text, $8::text, $9::text, $10::timestamptz
		FROM people p
		WHERE p.id = $3 AND p.organization_id = $2
		ON CONFLICT (organization_id, person_id, type, entity_id, dedupe_key) DO NOTHING
	`, n.ID, t.orgID, n.PersonID, n.Type, n.Title, n.Message, n.EntityType, n.EntityID, n.DedupeKey, n.CreatedAt)
	if err != nil {
		return models.Notification{}, false, classify("insert notification", err)
	}
	if tag.RowsAffected() == 1 {
		return n, true, nil
	}

	// Either a duplicate or a recipient outside the tenant.
	existing, err := scanNotification(t.pool.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE organization_id = $1 AND person_id = $2 AND type = $3 AND entity_id = $4 AND dedupe_key = $5
	`, t.orgID, n.PersonID, n.Type, n.EntityID, n.DedupeKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Notification{}, false, fmt.Errorf("person %s: %w", n.PersonID, ErrNotFound)
	}
	if err != nil {
		return models.Notification{}, false, classify("query duplicate notification", err)
	}
	return existing, false, nil
}

const notificationColumns = `id, organization_id, person_id, type, title, message, entity_type, entity_id, dedupe_key, read_at, created_at`

func scanNotification(row pgx.Row) (models.Notification, error) {
	var n models.Notification
	var readAt pgtype.Timestamptz
	err := row.Scan(&n.ID, &n.OrganizationID, &n.PersonID, &n.Type, &n.Title, &n.Message,
		&n.EntityType, &n.EntityID, &n.DedupeKey, &readAt, &n.CreatedAt)
	n.ReadAt = timePtr(readAt)
	return n, err
}

func (t *tenantStore) ListNotifications(ctx context.Context, personID string, limit int) ([]models.Notification, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE organization_id = $1 AND person_id = $2
		ORDER BY created_at DESC, id
		LIMIT $3
	`, t.orgID, personID, limit)
	if err != nil {
		return nil, classify("list notifications", err)
	}
	notifications, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Notification, error) {
		return scanNotification(row)
	})
	return notifications, classify("scan notifications", err)
}

func (t *tenantStore) MarkNotificationRead(ctx context.Context, personID, id string, at time.Time) error {
	tag, err := t.pool.Exec(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, $4)
		WHERE id = $1 AND organization_id = $2 AND person_id = $3
	`, id, t.orgID, personID, at)
	if err != nil {
		return classify("mark notification read", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (t *tenantStore) ListExecutions(ctx context.Context, limit int) ([]models.Execution, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM cron_job_executions
		WHERE organization_id = $1
		ORDER BY started_at DESC, id
		LIMIT $2
	`, t.orgID, limit)
	if err != nil {
		return nil, classify("list executions", err)
	}
	execs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Execution, error) {
		return scanExecution(row)
	})
	return execs, classify("scan executions", err)
}
