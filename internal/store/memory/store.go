// Package memory is an in-process implementation of the store interfaces.
// It backs tests and local runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"manageros/internal/models"
	"manageros/internal/store"
)

var (
	_ store.Organizations = (*Store)(nil)
	_ store.Executions    = (*Store)(nil)
	_ store.Opener        = (*Store)(nil)
)

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	orgs          []models.Organization
	people        map[string]models.Person
	tasks         []models.Task
	initiatives   []models.Initiative
	campaigns     []models.FeedbackCampaign
	oneOnOnes     []models.OneOnOne
	notifications []models.Notification
	executions    map[string]models.Execution
	executionSeq  []string
}

func New() *Store {
	return &Store{
		people:     make(map[string]models.Person),
		executions: make(map[string]models.Execution),
	}
}

// AddOrganization appends org; listing order is insertion order.
func (s *Store) AddOrganization(org models.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	s.orgs = append(s.orgs, org)
}

func (s *Store) AddPerson(p models.Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.people[p.ID] = p
}

func (s *Store) AddTask(t models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
}

func (s *Store) AddInitiative(in models.Initiative) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initiatives = append(s.initiatives, in)
}

func (s *Store) AddFeedbackCampaign(c models.FeedbackCampaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns = append(s.campaigns, c)
}

func (s *Store) AddOneOnOne(o models.OneOnOne) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oneOnOnes = append(s.oneOnOnes, o)
}

// Executions returns every execution record in creation order.
func (s *Store) Executions() []models.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Execution, 0, len(s.executionSeq))
	for _, id := range s.executionSeq {
		out = append(out, cloneExecution(s.executions[id]))
	}
	return out
}

// Notifications returns every notification across all organizations.
func (s *Store) Notifications() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.notifications)
}

func (s *Store) ListOrganizations(_ context.Context, ids ...string) ([]models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		if len(ids) > 0 && !slices.Contains(ids, org.ID) {
			continue
		}
		out = append(out, org)
	}
	return out, nil
}

func (s *Store) CreateExecution(_ context.Context, exec models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; ok {
		return fmt.Errorf("execution %s already exists", exec.ID)
	}
	s.executions[exec.ID] = cloneExecution(exec)
	s.executionSeq = append(s.executionSeq, exec.ID)
	return nil
}

func (s *Store) FinishExecution(_ context.Context, id string, out models.ExecutionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrExecutionNotFound, id)
	}
	if exec.Status != models.ExecutionPending {
		return fmt.Errorf("%w: %s is %s", store.ErrExecutionFinished, id, exec.Status)
	}
	completed := out.CompletedAt
	exec.Status = out.Status
	exec.NotificationsCreated = out.NotificationsCreated
	exec.Metadata = maps.Clone(out.Metadata)
	exec.ErrorMessage = out.ErrorMessage
	exec.CompletedAt = &completed
	s.executions[id] = exec
	return nil
}

func (s *Store) GetExecution(_ context.Context, id string) (models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return models.Execution{}, fmt.Errorf("%w: %s", store.ErrExecutionNotFound, id)
	}
	return cloneExecution(exec), nil
}

func (s *Store) Tenant(orgID string) store.TenantData {
	return &tenant{s: s, orgID: orgID}
}

type tenant struct {
	s     *Store
	orgID string
}

func (t *tenant) OrganizationID() string { return t.orgID }

func (t *tenant) GetPerson(_ context.Context, id string) (models.Person, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.personLocked(id)
}

func (t *tenant) personLocked(id string) (models.Person, error) {
	p, ok := t.s.people[id]
	if !ok || p.OrganizationID != t.orgID {
		return models.Person{}, fmt.Errorf("person %s: %w", id, store.ErrNotFound)
	}
	return p, nil
}

func (t *tenant) ListOverdueTasks(_ context.Context, asOf time.Time) ([]models.Task, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []models.Task
	for _, task := range t.s.tasks {
		if task.OrganizationID != t.orgID || task.AssigneeID == nil || task.DueDate == nil {
			continue
		}
		if !task.DueDate.Before(asOf) {
			continue
		}
		switch task.Status {
		case models.TaskTodo, models.TaskDoing, models.TaskBlocked:
			out = append(out, task)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(*out[j].DueDate) })
	return out, nil
}

func (t *tenant) ListStaleInitiatives(_ context.Context, checkedInBefore time.Time) ([]models.Initiative, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []models.Initiative
	for _, in := range t.s.initiatives {
		if in.OrganizationID != t.orgID || in.Status != models.InitiativeInProgress {
			continue
		}
		last := in.CreatedAt
		if in.LastCheckInAt != nil {
			last = *in.LastCheckInAt
		}
		if last.Before(checkedInBefore) {
			out = append(out, in)
		}
	}
	return out, nil
}

func (t *tenant) ListCampaignsEndingBetween(_ context.Context, from, to time.Time) ([]models.FeedbackCampaign, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []models.FeedbackCampaign
	for _, c := range t.s.campaigns {
		if c.OrganizationID != t.orgID || c.Status != models.CampaignActive {
			continue
		}
		if c.EndDate.Before(from) || c.EndDate.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *tenant) ListOneOnOnesBetween(_ context.Context, from, to time.Time) ([]models.OneOnOne, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []models.OneOnOne
	for _, o := range t.s.oneOnOnes {
		if o.OrganizationID != t.orgID || o.ScheduledAt.Before(from) || !o.ScheduledAt.Before(to) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (t *tenant) CreateNotification(_ context.Context, n models.Notification) (models.Notification, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, err := t.personLocked(n.PersonID); err != nil {
		return models.Notification{}, false, err
	}
	n.OrganizationID = t.orgID
	for _, existing := range t.s.notifications {
		if existing.OrganizationID == n.OrganizationID && existing.PersonID == n.PersonID &&
			existing.Type == n.Type && existing.EntityID == n.EntityID && existing.DedupeKey == n.DedupeKey {
			return existing, false, nil
		}
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	t.s.notifications = append(t.s.notifications, n)
	return n, true, nil
}

func (t *tenant) ListNotifications(_ context.Context, personID string, limit int) ([]models.Notification, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []models.Notification
	for i := len(t.s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		n := t.s.notifications[i]
		if n.OrganizationID == t.orgID && n.PersonID == personID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (t *tenant) MarkNotificationRead(_ context.Context, personID, id string, at time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i, n := range t.s.notifications {
		if n.ID != id || n.OrganizationID != t.orgID || n.PersonID != personID {
			continue
		}
		if n.ReadAt == nil {
			t.s.notifications[i].ReadAt = &at
		}
		return nil
	}
	return fmt.Errorf("notification %s: %w", id, store.ErrNotFound)
}

func (t *tenant) ListExecutions(_ context.Context, limit int) ([]models.Execution, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []models.Execution
	for i := len(t.s.executionSeq) - 1; i >= 0 && len(out) < limit; i-- {
		exec := t.s.executions[t.s.executionSeq[i]]
		if exec.OrganizationID == t.orgID {
			out = append(out, cloneExecution(exec))
		}
	}
	return out, nil
}

func cloneExecution(e models.Execution) models.Execution {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}
