package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"manageros/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, classify("connect postgres", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks that the pool can reach Postgres.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping postgres", s.pool.Ping(ctx))
}

// Tenant binds data access to orgID.
func (s *Store) Tenant(orgID string) TenantData {
	return &tenantStore{pool: s.pool, orgID: orgID}
}

// ListOrganizations returns organizations in creation order, optionally
// restricted to ids.
func (s *Store) ListOrganizations(ctx context.Context, ids ...string) ([]models.Organization, error) {
	query := `
		SELECT id, name, slug, external_ref, created_at
		FROM organizations`
	args := []any{}
	if len(ids) > 0 {
		query += ` WHERE id = ANY($1)`
		args = append(args, ids)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list organizations", err)
	}
	orgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Organization, error) {
		var org models.Organization
		var ref pgtype.Text
		err := row.Scan(&org.ID, &org.Name, &org.Slug, &ref, &org.CreatedAt)
		org.ExternalRef = ref.String
		return org, err
	})
	if err != nil {
		return nil, classify("scan organizations", err)
	}
	return orgs, nil
}

// CreateExecution inserts a pending execution record.
func (s *Store) CreateExecution(ctx context.Context, exec models.Execution) error {
	meta, err := marshalMetadata(exec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cron_job_executions
			(id, job_id, job_name, organization_id, status, notifications_created, metadata, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, exec.ID, exec.JobID, exec.JobName, exec.OrganizationID, exec.Status, exec.NotificationsCreated, meta, exec.StartedAt)
	return classify("insert execution", err)
}

// FinishExecution moves a pending execution to its terminal state. The
// status filter makes the transition happen at most once.
func (s *Store) FinishExecution(ctx context.Context, id string, out models.ExecutionOutcome) error {
	meta, err := marshalMetadata(out.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE cron_job_executions
		SET status = $2, notifications_created = $3, metadata = $4, error_message = $5, completed_at = $6
		WHERE id = $1 AND status = $7
	`, id, out.Status, out.NotificationsCreated, meta, out.ErrorMessage, out.CompletedAt, models.ExecutionPending)
	if err != nil {
		return classify("finish execution", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM cron_job_executions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	if err != nil {
		return classify("query execution status", err)
	}
	return fmt.Errorf("%w: %s is %s", ErrExecutionFinished, id, status)
}

// GetExecution fetches an execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (models.Execution, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+executionColumns+`
		FROM cron_job_executions WHERE id = $1
	`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Execution{}, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	if err != nil {
		return models.Execution{}, classify("scan execution", err)
	}
	return exec, nil
}

const executionColumns = `id, job_id, job_name, organization_id, status, notifications_created, metadata, error_message, started_at, completed_at`

func scanExecution(row pgx.Row) (models.Execution, error) {
	var exec models.Execution
	var meta []byte
	var errMsg pgtype.Text
	var completed pgtype.Timestamptz
	if err := row.Scan(&exec.ID, &exec.JobID, &exec.JobName, &exec.OrganizationID, &exec.Status,
		&exec.NotificationsCreated, &meta, &errMsg, &exec.StartedAt, &completed); err != nil {
		return models.Execution{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &exec.Metadata); err != nil {
			return models.Execution{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	exec.ErrorMessage = textPtr(errMsg)
	exec.CompletedAt = timePtr(completed)
	return exec, nil
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
