package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/widget-forge/internal/widget"
)

// JobStore provides an in-memory implementation for development/testing.
// Transitions are checked and applied under a single lock.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]widget.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]widget.Job),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job widget.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", widget.ErrJobExists, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// MarkProcessing moves a pending job to processing.
func (s *JobStore) MarkProcessing(_ context.Context, jobID string, at time.Time) error {
	return s.transition(jobID, func(job *widget.Job) error {
		if job.Status != widget.JobStatusPending {
			return fmt.Errorf("%w: %s is %s", widget.ErrInvalidTransition, jobID, job.Status)
		}
		job.Status = widget.JobStatusProcessing
		job.UpdatedAt = at
		return nil
	})
}

// CompleteJob stores the result of a non-terminal job.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, result json.RawMessage, at time.Time) error {
	return s.transition(jobID, func(job *widget.Job) error {
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", widget.ErrInvalidTransition, jobID, job.Status)
		}
		job.Status = widget.JobStatusCompleted
		job.Result = append(json.RawMessage(nil), result...)
		job.ErrorMessage = ""
		job.UpdatedAt = at
		return nil
	})
}

// FailJob records the failure of a non-terminal job.
func (s *JobStore) FailJob(_ context.Context, jobID string, errText string, at time.Time) error {
	return s.transition(jobID, func(job *widget.Job) error {
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", widget.ErrInvalidTransition, jobID, job.Status)
		}
		job.Status = widget.JobStatusFailed
		job.Result = nil
		job.ErrorMessage = errText
		job.UpdatedAt = at
		return nil
	})
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (widget.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return widget.Job{}, fmt.Errorf("%w: %s", widget.ErrJobNotFound, jobID)
	}
	return cloneJob(job), nil
}

// LatestCompleted returns the most recently updated completed job of a mask.
func (s *JobStore) LatestCompleted(_ context.Context, maskID string) (widget.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest widget.Job
		found  bool
	)
	for _, job := range s.jobs {
		if job.MaskID != maskID || job.Status != widget.JobStatusCompleted {
			continue
		}
		if !found || job.UpdatedAt.After(latest.UpdatedAt) ||
			(job.UpdatedAt.Equal(latest.UpdatedAt) && job.ID > latest.ID) {
			latest = job
			found = true
		}
	}
	if !found {
		return widget.Job{}, fmt.Errorf("%w: no completed job for mask %s", widget.ErrJobNotFound, maskID)
	}
	return cloneJob(latest), nil
}

func (s *JobStore) transition(jobID string, apply func(*widget.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", widget.ErrJobNotFound, jobID)
	}
	if err := apply(&job); err != nil {
		return err
	}
	s.jobs[jobID] = job
	return nil
}

func cloneJob(job widget.Job) widget.Job {
	job.URLs = append([]string(nil), job.URLs...)
	if job.Result != nil {
		job.Result = append(json.RawMessage(nil), job.Result...)
	}
	return job
}
