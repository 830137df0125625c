// Package postgres provides the Postgres-backed job store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/widget-forge/internal/widget"
)

const uniqueViolation = "23505"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// JobStore persists widget jobs in Postgres. Every status change runs in a
// transaction whose UPDATE is guarded by the current status.
type JobStore struct {
	pool  pool
	table string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: p, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "widget_jobs"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the job table and its mask index when missing.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            TEXT PRIMARY KEY,
	mask_id       TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	urls          TEXT[] NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL,
	result        JSONB,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_mask_status_idx ON %[1]s (mask_id, status, updated_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job widget.Job) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, mask_id, user_id, title, description, urls, status, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)
	urls := job.URLs
	if urls == nil {
		urls = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.MaskID,
		job.UserID,
		job.Title,
		job.Description,
		urls,
		string(job.Status),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", widget.ErrJobExists, job.ID)
		}
		return fmt.Errorf("%w: insert job %s: %w", widget.ErrPersistence, job.ID, err)
	}
	return nil
}

// MarkProcessing moves a pending job to processing.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID string, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, updated_at = $3
WHERE id = $1 AND status = $4`, s.table)
	return s.guardedUpdate(ctx, jobID, query,
		jobID, string(widget.JobStatusProcessing), at, string(widget.JobStatusPending))
}

// CompleteJob stores the result of a non-terminal job.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, result json.RawMessage, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, result = $3, error_message = NULL, updated_at = $4
WHERE id = $1 AND status IN ($5, $6)`, s.table)
	return s.guardedUpdate(ctx, jobID, query,
		jobID, string(widget.JobStatusCompleted), []byte(result), at,
		string(widget.JobStatusPending), string(widget.JobStatusProcessing))
}

// FailJob records the failure of a non-terminal job.
func (s *JobStore) FailJob(ctx context.Context, jobID string, errText string, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, result = NULL, error_message = $3, updated_at = $4
WHERE id = $1 AND status IN ($5, $6)`, s.table)
	return s.guardedUpdate(ctx, jobID, query,
		jobID, string(widget.JobStatusFailed), errText, at,
		string(widget.JobStatusPending), string(widget.JobStatusProcessing))
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (widget.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return widget.Job{}, fmt.Errorf("%w: %s", widget.ErrJobNotFound, jobID)
	}
	if err != nil {
		return widget.Job{}, fmt.Errorf("%w: get job %s: %w", widget.ErrPersistence, jobID, err)
	}
	return job, nil
}

// LatestCompleted returns the most recently updated completed job of a mask.
func (s *JobStore) LatestCompleted(ctx context.Context, maskID string) (widget.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE mask_id = $1 AND status = $2
ORDER BY updated_at DESC, id DESC
LIMIT 1`, jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, maskID, string(widget.JobStatusCompleted)))
	if errors.Is(err, pgx.ErrNoRows) {
		return widget.Job{}, fmt.Errorf("%w: no completed job for mask %s", widget.ErrJobNotFound, maskID)
	}
	if err != nil {
		return widget.Job{}, fmt.Errorf("%w: latest job for mask %s: %w", widget.ErrPersistence, maskID, err)
	}
	return job, nil
}

// guardedUpdate runs a status-guarded UPDATE in a transaction. When the guard
// matches no row the transaction is rolled back and the current state decides
// between ErrJobNotFound and ErrInvalidTransition.
func (s *JobStore) guardedUpdate(ctx context.Context, jobID, query string, args ...any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", widget.ErrPersistence, err)
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("%w: update job %s: %w", widget.ErrPersistence, jobID, err)
	}
	if tag.RowsAffected() == 0 {
		err := s.conflict(ctx, tx, jobID)
		rollback(ctx, tx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit job %s: %w", widget.ErrPersistence, jobID, err)
	}
	return nil
}

func (s *JobStore) conflict(ctx context.Context, tx pgx.Tx, jobID string) error {
	var status string
	err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table), jobID).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %s", widget.ErrJobNotFound, jobID)
	case err != nil:
		return fmt.Errorf("%w: read job %s: %w", widget.ErrPersistence, jobID, err)
	default:
		return fmt.Errorf("%w: %s is %s", widget.ErrInvalidTransition, jobID, status)
	}
}

func rollback(ctx context.Context, tx pgx.Tx) {
	// The caller already has the error worth returning.
	_ = tx.Rollback(ctx)
}

const jobColumns = `id, mask_id, user_id, title, description, urls, status, result,
	COALESCE(error_message, ''), created_at, updated_at`

func scanJob(row pgx.Row) (widget.Job, error) {
	var (
		job    widget.Job
		status string
		result []byte
	)
	err := row.Scan(
		&job.ID,
		&job.MaskID,
		&job.UserID,
		&job.Title,
		&job.Description,
		&job.URLs,
		&status,
		&result,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return widget.Job{}, err
	}
	job.Status = widget.JobStatus(status)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	return job, nil
}
