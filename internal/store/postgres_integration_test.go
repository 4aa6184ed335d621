//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"manageros/internal/models"
)

func setupPostgres(t *testing.T, ctx context.Context) *Store {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "manageros",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	st, err := New(ctx, fmt.Sprintf("postgres://test:test@%s:%s/manageros?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	require.NoError(t, st.RunMigrations(ctx))
	require.NoError(t, st.RunMigrations(ctx), "migrations must be re-runnable")
	return st
}

func seedTenants(t *testing.T, ctx context.Context, st *Store) {
	t.Helper()
	stmts := []string{
		`INSERT INTO organizations (id, name, slug, created_at) VALUES
			('org-a', 'A', 'a', '2025-01-01T00:00:00Z'),
			('org-b', 'B', 'b', '2025-01-02T00:00:00Z')`,
		`INSERT INTO people (id, organization_id, name, email) VALUES
			('p-a', 'org-a', 'Ada', 'ada@example.com'),
			('p-b', 'org-b', 'Bob', NULL)`,
		`INSERT INTO tasks (id, organization_id, title, assignee_id, due_date, status) VALUES
			('t-a', 'org-a', 'Late', 'p-a', NOW() - INTERVAL '2 days', 'todo'),
			('t-a2', 'org-a', 'Finished', 'p-a', NOW() - INTERVAL '2 days', 'done'),
			('t-b', 'org-b', 'Late too', 'p-b', NOW() - INTERVAL '2 days', 'doing')`,
	}
	for _, stmt := range stmts {
		_, err := st.pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
}

func TestIntegration_Organizations(t *testing.T) {
	ctx := context.Background()
	st := setupPostgres(t, ctx)
	seedTenants(t, ctx, st)

	all, err := st.ListOrganizations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "org-a", all[0].ID)

	one, err := st.ListOrganizations(ctx, "org-b")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "org-b", one[0].ID)

	none, err := st.ListOrganizations(ctx, "org-missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIntegration_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	st := setupPostgres(t, ctx)
	seedTenants(t, ctx, st)
	a := st.Tenant("org-a")

	tasks, err := a.ListOverdueTasks(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t-a", tasks[0].ID)

	_, err = a.GetPerson(ctx, "p-b")
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = a.CreateNotification(ctx, models.Notification{
		PersonID: "p-b", Type: models.NotificationTaskOverdue, Title: "x", Message: "x",
		EntityType: "task", EntityID: "t-b", DedupeKey: "2025-01-01",
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIntegration_NotificationDedupe(t *testing.T) {
	ctx := context.Background()
	st := setupPostgres(t, ctx)
	seedTenants(t, ctx, st)
	a := st.Tenant("org-a")

	note := models.Notification{
		PersonID: "p-a", Type: models.NotificationTaskOverdue, Title: "Overdue", Message: "Late is overdue",
		EntityType: "task", EntityID: "t-a", DedupeKey: "2025-01-01",
	}
	first, created, err := a.CreateNotification(ctx, note)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "org-a", first.OrganizationID)

	dup, created, err := a.CreateNotification(ctx, note)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, dup.ID, "duplicate returns the stored row")
	assert.Equal(t, "Late is overdue", dup.Message)

	note.DedupeKey = "2025-01-02"
	_, created, err = a.CreateNotification(ctx, note)
	require.NoError(t, err)
	assert.True(t, created)

	list, err := a.ListNotifications(ctx, "p-a", 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, a.MarkNotificationRead(ctx, "p-a", first.ID, time.Now()))
	require.ErrorIs(t, st.Tenant("org-b").MarkNotificationRead(ctx, "p-a", first.ID, time.Now()), ErrNotFound)
}

func TestIntegration_ExecutionFinishesOnce(t *testing.T) {
	ctx := context.Background()
	st := setupPostgres(t, ctx)
	seedTenants(t, ctx, st)

	exec := models.Execution{
		ID: "exec-1", JobID: "overdue-tasks", JobName: "Overdue", OrganizationID: "org-a",
		Status: models.ExecutionPending, Metadata: map[string]any{}, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateExecution(ctx, exec))

	err := st.FinishExecution(ctx, exec.ID, models.ExecutionOutcome{
		Status: models.ExecutionSuccess, NotificationsCreated: 2,
		Metadata: map[string]any{"overdueTasks": 2}, CompletedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	msg := "late write"
	err = st.FinishExecution(ctx, exec.ID, models.ExecutionOutcome{
		Status: models.ExecutionFailure, ErrorMessage: &msg, CompletedAt: time.Now().UTC(),
	})
	require.ErrorIs(t, err, ErrExecutionFinished)

	err = st.FinishExecution(ctx, "missing", models.ExecutionOutcome{Status: models.ExecutionSuccess, CompletedAt: time.Now()})
	require.ErrorIs(t, err, ErrExecutionNotFound)

	got, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSuccess, got.Status)
	assert.Equal(t, 2, got.NotificationsCreated)
	assert.EqualValues(t, 2, got.Metadata["overdueTasks"])
	assert.Nil(t, got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)

	listed, err := st.Tenant("org-a").ListExecutions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	empty, err := st.Tenant("org-b").ListExecutions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
