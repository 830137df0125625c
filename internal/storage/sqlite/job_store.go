// Package sqlite provides an embedded SQLite job store for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/widget-forge/internal/widget"
)

// JobStore is a SQLite-backed widget.JobStore.
type JobStore struct {
	db *sql.DB
}

// NewJobStore opens (or creates) the SQLite database at path and runs
// migrations. ":memory:" gives a private in-process database.
func NewJobStore(path string) (*JobStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &JobStore{db: db}
	if err = s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *JobStore) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *JobStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS widget_jobs (
			id            TEXT PRIMARY KEY,
			mask_id       TEXT NOT NULL,
			user_id       TEXT NOT NULL DEFAULT '',
			title         TEXT NOT NULL DEFAULT '',
			description   TEXT NOT NULL DEFAULT '',
			urls          TEXT NOT NULL DEFAULT '[]',
			status        TEXT NOT NULL,
			result        TEXT,
			error_message TEXT,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_widget_jobs_mask ON widget_jobs(mask_id, status, updated_at);
	`)
	return err
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job widget.Job) error {
	urls := job.URLs
	if urls == nil {
		urls = []string{}
	}
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("marshal urls: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO widget_jobs
			(id, mask_id, user_id, title, description, urls, status, created_at, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.MaskID,
		job.UserID,
		job.Title,
		job.Description,
		string(urlsJSON),
		string(job.Status),
		job.CreatedAt.UnixNano(),
		job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		// Primary codes are the low byte of extended ones.
		if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return fmt.Errorf("%w: %s", widget.ErrJobExists, job.ID)
		}
		return fmt.Errorf("%w: create job %s: %w", widget.ErrPersistence, job.ID, err)
	}
	return nil
}

// MarkProcessing moves a pending job to processing.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID string, at time.Time) error {
	return s.guardedUpdate(ctx, jobID, `
		UPDATE widget_jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(widget.JobStatusProcessing), at.UnixNano(), jobID, string(widget.JobStatusPending))
}

// CompleteJob stores the result of a non-terminal job.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, result json.RawMessage, at time.Time) error {
	return s.guardedUpdate(ctx, jobID, `
		UPDATE widget_jobs SET status = ?, result = ?, error_message = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(widget.JobStatusCompleted), string(result), at.UnixNano(), jobID,
		string(widget.JobStatusPending), string(widget.JobStatusProcessing))
}

// FailJob records the failure of a non-terminal job.
func (s *JobStore) FailJob(ctx context.Context, jobID string, errText string, at time.Time) error {
	return s.guardedUpdate(ctx, jobID, `
		UPDATE widget_jobs SET status = ?, result = NULL, error_message = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(widget.JobStatusFailed), errText, at.UnixNano(), jobID,
		string(widget.JobStatusPending), string(widget.JobStatusProcessing))
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (widget.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM widget_jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return widget.Job{}, fmt.Errorf("%w: %s", widget.ErrJobNotFound, jobID)
	}
	if err != nil {
		return widget.Job{}, fmt.Errorf("%w: get job %s: %w", widget.ErrPersistence, jobID, err)
	}
	return job, nil
}

// LatestCompleted returns the most recently updated completed job of a mask.
func (s *JobStore) LatestCompleted(ctx context.Context, maskID string) (widget.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM widget_jobs
		WHERE mask_id = ? AND status = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, maskID, string(widget.JobStatusCompleted))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return widget.Job{}, fmt.Errorf("%w: no completed job for mask %s", widget.ErrJobNotFound, maskID)
	}
	if err != nil {
		return widget.Job{}, fmt.Errorf("%w: latest job for mask %s: %w", widget.ErrPersistence, maskID, err)
	}
	return job, nil
}

func (s *JobStore) guardedUpdate(ctx context.Context, jobID, query string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", widget.ErrPersistence, err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: update job %s: %w", widget.ErrPersistence, jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: rows affected: %w", widget.ErrPersistence, err)
	}
	if affected == 0 {
		err = conflict(ctx, tx, jobID)
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit job %s: %w", widget.ErrPersistence, jobID, err)
	}
	return nil
}

func conflict(ctx context.Context, tx *sql.Tx, jobID string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM widget_jobs WHERE id = ?`, jobID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s", widget.ErrJobNotFound, jobID)
	case err != nil:
		return fmt.Errorf("%w: read job %s: %w", widget.ErrPersistence, jobID, err)
	default:
		return fmt.Errorf("%w: %s is %s", widget.ErrInvalidTransition, jobID, status)
	}
}

const jobColumns = `id, mask_id, user_id, title, description, urls, status, result,
	error_message, created_at, updated_at`

func scanJob(row *sql.Row) (widget.Job, error) {
	var (
		job                  widget.Job
		urls, status         string
		result, errorMessage sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&job.ID, &job.MaskID, &job.UserID, &job.Title, &job.Description,
		&urls, &status, &result, &errorMessage, &createdAt, &updatedAt,
	)
	if err != nil {
		return widget.Job{}, err
	}
	if err := json.Unmarshal([]byte(urls), &job.URLs); err != nil {
		return widget.Job{}, fmt.Errorf("decode urls: %w", err)
	}
	job.Status = widget.JobStatus(status)
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	job.ErrorMessage = errorMessage.String
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return job, nil
}
