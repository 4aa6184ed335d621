package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"manageros/internal/jobs"
	"manageros/internal/models"
	"manageros/internal/store/memory"
)

var now = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to)
	return nil
}

func seed() *memory.Store {
	st := memory.New()
	st.AddOrganization(models.Organization{ID: "org-a", Name: "A", Slug: "a"})
	st.AddOrganization(models.Organization{ID: "org-b", Name: "B", Slug: "b"})
	st.AddPerson(models.Person{ID: "ada", OrganizationID: "org-a", Name: "Ada", Email: ptr("ada@example.com")})
	st.AddPerson(models.Person{ID: "lin", OrganizationID: "org-a", Name: "Lin"})
	st.AddPerson(models.Person{ID: "bob", OrganizationID: "org-b", Name: "Bob"})
	return st
}

func registry(t *testing.T, st *memory.Store, mailer Mailer) *jobs.Registry {
	t.Helper()
	r, err := jobs.NewRegistry(NewNotifier(st, mailer, zaptest.NewLogger(t)).Jobs()...)
	require.NoError(t, err)
	return r
}

func TestJobsRegistered(t *testing.T) {
	r := registry(t, memory.New(), nil)
	var got []string
	for _, j := range r.All() {
		got = append(got, j.ID)
	}
	assert.Equal(t, []string{"overdue-tasks", "stale-initiatives", "feedback-campaign-deadlines", "upcoming-one-on-ones"}, got)
}

func TestOverdueTasksIsTenantScopedAndDeduplicated(t *testing.T) {
	ctx := context.Background()
	st := seed()
	st.AddTask(models.Task{ID: "t1", OrganizationID: "org-a", Title: "Write doc", AssigneeID: ptr("ada"), DueDate: ptr(now.Add(-48 * time.Hour)), Status: models.TaskTodo})
	st.AddTask(models.Task{ID: "t2", OrganizationID: "org-a", Title: "Done", AssigneeID: ptr("ada"), DueDate: ptr(now.Add(-48 * time.Hour)), Status: models.TaskDone})
	st.AddTask(models.Task{ID: "t3", OrganizationID: "org-a", Title: "Future", AssigneeID: ptr("lin"), DueDate: ptr(now.Add(time.Hour)), Status: models.TaskDoing})
	st.AddTask(models.Task{ID: "t4", OrganizationID: "org-b", Title: "Other org", AssigneeID: ptr("bob"), DueDate: ptr(now.Add(-time.Hour)), Status: models.TaskBlocked})
	// Assignee belongs to another organization; the notification is refused.
	st.AddTask(models.Task{ID: "t5", OrganizationID: "org-a", Title: "Leak", AssigneeID: ptr("bob"), DueDate: ptr(now.Add(-time.Hour)), Status: models.TaskTodo})

	r := registry(t, st, nil)
	rc := jobs.RunContext{StartedAt: now, OrganizationID: "org-a"}

	res, err := r.Execute(ctx, "overdue-tasks", rc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NotificationsCreated)
	assert.Equal(t, 2, res.Metadata["overdueTasks"])
	assert.Equal(t, 1, res.Metadata["skipped"])

	notes := st.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "org-a", notes[0].OrganizationID)
	assert.Equal(t, "ada", notes[0].PersonID)
	assert.Equal(t, "t1", notes[0].EntityID)

	res, err = r.Execute(ctx, "overdue-tasks", rc)
	require.NoError(t, err)
	assert.Equal(t, 0, res.NotificationsCreated)
	assert.Equal(t, 1, res.Metadata["duplicates"])

	// Next day: t1 gets a fresh dedupe key and t3 has become overdue.
	rc.StartedAt = now.Add(24 * time.Hour)
	res, err = r.Execute(ctx, "overdue-tasks", rc)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NotificationsCreated)

	notes = st.Notifications()
	require.Len(t, notes, 3)
	var nextDay []string
	for _, n := range notes[1:] {
		nextDay = append(nextDay, n.PersonID+"/"+n.EntityID)
	}
	assert.ElementsMatch(t, []string{"ada/t1", "lin/t3"}, nextDay)
}

func TestStaleInitiatives(t *testing.T) {
	st := seed()
	st.AddInitiative(models.Initiative{ID: "i1", OrganizationID: "org-a", Title: "Migrate", OwnerID: "ada", Status: models.InitiativeInProgress, CreatedAt: now.Add(-30 * 24 * time.Hour)})
	st.AddInitiative(models.Initiative{ID: "i2", OrganizationID: "org-a", Title: "Fresh", OwnerID: "ada", Status: models.InitiativeInProgress, CreatedAt: now.Add(-30 * 24 * time.Hour), LastCheckInAt: ptr(now.Add(-24 * time.Hour))})
	st.AddInitiative(models.Initiative{ID: "i3", OrganizationID: "org-a", Title: "Paused", OwnerID: "lin", Status: models.InitiativePaused, CreatedAt: now.Add(-30 * 24 * time.Hour)})

	res, err := registry(t, st, nil).Execute(context.Background(), "stale-initiatives", jobs.RunContext{StartedAt: now, OrganizationID: "org-a"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NotificationsCreated)
	assert.Equal(t, "i1", st.Notifications()[0].EntityID)
}

func TestCampaignDeadlines(t *testing.T) {
	st := seed()
	st.AddFeedbackCampaign(models.FeedbackCampaign{ID: "c1", OrganizationID: "org-a", Name: "Q1 review", OwnerID: "lin", TargetPersonID: "ada", EndDate: now.Add(48 * time.Hour), Status: models.CampaignActive})
	st.AddFeedbackCampaign(models.FeedbackCampaign{ID: "c2", OrganizationID: "org-a", Name: "Later", OwnerID: "lin", TargetPersonID: "ada", EndDate: now.Add(10 * 24 * time.Hour), Status: models.CampaignActive})
	st.AddFeedbackCampaign(models.FeedbackCampaign{ID: "c3", OrganizationID: "org-a", Name: "Draft", OwnerID: "lin", TargetPersonID: "ada", EndDate: now.Add(24 * time.Hour), Status: models.CampaignDraft})

	res, err := registry(t, st, nil).Execute(context.Background(), "feedback-campaign-deadlines", jobs.RunContext{StartedAt: now, OrganizationID: "org-a"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NotificationsCreated)
	assert.Equal(t, "lin", st.Notifications()[0].PersonID)
}

func TestUpcomingOneOnOnesNotifiesBothParticipants(t *testing.T) {
	st := seed()
	st.AddOneOnOne(models.OneOnOne{ID: "m1", OrganizationID: "org-a", ManagerID: "lin", ReportID: "ada", ScheduledAt: now.Add(3 * time.Hour)})
	st.AddOneOnOne(models.OneOnOne{ID: "m2", OrganizationID: "org-a", ManagerID: "lin", ReportID: "ada", ScheduledAt: now.Add(72 * time.Hour)})

	mailer := &fakeMailer{}
	res, err := registry(t, st, mailer).Execute(context.Background(), "upcoming-one-on-ones", jobs.RunContext{StartedAt: now, OrganizationID: "org-a"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.NotificationsCreated)
	assert.Equal(t, []string{"ada@example.com"}, mailer.sent)
}

func TestEmailFailuresDoNotFailTheJob(t *testing.T) {
	st := seed()
	st.AddTask(models.Task{ID: "t1", OrganizationID: "org-a", Title: "Write doc", AssigneeID: ptr("ada"), DueDate: ptr(now.Add(-time.Hour)), Status: models.TaskTodo})

	mailer := &fakeMailer{err: errors.New("ses throttled")}
	res, err := registry(t, st, mailer).Execute(context.Background(), "overdue-tasks", jobs.RunContext{StartedAt: now, OrganizationID: "org-a"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NotificationsCreated)
	assert.Equal(t, 1, res.Metadata["emailFailures"])
}
