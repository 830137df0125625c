// Package jobs owns the widget job lifecycle: creation and enqueueing, the
// guarded status transitions, reads, and terminal-state events.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/widget-forge/internal/metrics"
	"github.com/JakeFAU/widget-forge/internal/widget"
)

// DefaultEnqueueTimeout bounds how long Create waits for queue capacity.
const DefaultEnqueueTimeout = 5 * time.Second

// ErrInvalidRequest is returned when a create request fails validation.
var ErrInvalidRequest = errors.New("invalid job request")

// CreateRequest is the input of Create.
type CreateRequest struct {
	MaskID      string
	UserID      string
	Title       string
	Description string
	URLs        []string
}

// Event is published when a job reaches a terminal status.
type Event struct {
	JobID     string    `json:"job_id"`
	MaskID    string    `json:"mask_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Attributes exposes the event's routing fields as message attributes.
func (e Event) Attributes() map[string]string {
	return map[string]string{"job_id": e.JobID, "mask_id": e.MaskID, "status": e.Status}
}

// Enqueuer accepts queued jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, item widget.QueueItem) error
}

// Config wires a Manager.
type Config struct {
	Store          widget.JobStore
	Queue          Enqueuer
	IDs            widget.IDGenerator
	Clock          widget.Clock
	Publisher      widget.Publisher
	Topic          string
	EnqueueTimeout time.Duration
	Logger         *zap.Logger
}

// Manager implements the job lifecycle on top of a JobStore.
type Manager struct {
	store          widget.JobStore
	queue          Enqueuer
	ids            widget.IDGenerator
	clock          widget.Clock
	publisher      widget.Publisher
	topic          string
	enqueueTimeout time.Duration
	logger         *zap.Logger
}

// NewManager validates cfg and builds a Manager. Publisher is optional.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("job store is required")
	case cfg.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case cfg.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	case cfg.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = DefaultEnqueueTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:          cfg.Store,
		queue:          cfg.Queue,
		ids:            cfg.IDs,
		clock:          cfg.Clock,
		publisher:      cfg.Publisher,
		topic:          cfg.Topic,
		enqueueTimeout: cfg.EnqueueTimeout,
		logger:         logger,
	}, nil
}

// Create inserts a pending job and enqueues it for a worker. It returns as
// soon as the job is queued; the pipeline runs later.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	jobID, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := m.clock.Now()
	job := widget.Job{
		ID:          jobID,
		MaskID:      req.MaskID,
		UserID:      req.UserID,
		Title:       req.Title,
		Description: req.Description,
		URLs:        append([]string(nil), req.URLs...),
		Status:      widget.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, m.enqueueTimeout)
	defer cancel()
	item := widget.QueueItem{JobID: jobID, Input: job.Input(), Attempt: 1, Submitted: now.Unix()}
	if err := m.queue.Enqueue(enqueueCtx, item); err != nil {
		m.logger.Error("enqueue failed", zap.String("job_id", jobID), zap.Error(err))
		// Use a fresh context: the request context may be the reason enqueue failed.
		failCtx, failCancel := context.WithTimeout(context.WithoutCancel(ctx), m.enqueueTimeout)
		defer failCancel()
		if failErr := m.Fail(failCtx, jobID, fmt.Sprintf("enqueue job: %v", err)); failErr != nil {
			m.logger.Error("failed to mark unqueued job failed", zap.String("job_id", jobID), zap.Error(failErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	m.logger.Info("job created",
		zap.String("job_id", jobID),
		zap.String("mask_id", req.MaskID),
		zap.Int("urls", len(req.URLs)),
	)
	return jobID, nil
}

// MarkProcessing moves a pending job to processing. ErrInvalidTransition
// means another trigger already ran or is running the job.
func (m *Manager) MarkProcessing(ctx context.Context, jobID string) error {
	if err := m.store.MarkProcessing(ctx, jobID, m.clock.Now()); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// Complete stores the artifact as {"html_code": ...} and publishes the event.
func (m *Manager) Complete(ctx context.Context, jobID string, artifact widget.Artifact) error {
	payload, err := json.Marshal(artifact.Payload())
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := m.store.CompleteJob(ctx, jobID, payload, m.clock.Now()); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	m.terminal(ctx, jobID, widget.JobStatusCompleted)
	return nil
}

// Fail records errText on a non-terminal job and publishes the event.
func (m *Manager) Fail(ctx context.Context, jobID string, errText string) error {
	if err := m.store.FailJob(ctx, jobID, errText, m.clock.Now()); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	m.terminal(ctx, jobID, widget.JobStatusFailed)
	return nil
}

// Get returns the job or an error wrapping widget.ErrJobNotFound.
func (m *Manager) Get(ctx context.Context, jobID string) (widget.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// LatestCompleted returns the newest completed job of a mask.
func (m *Manager) LatestCompleted(ctx context.Context, maskID string) (widget.Job, error) {
	return m.store.LatestCompleted(ctx, maskID)
}

func (m *Manager) terminal(ctx context.Context, jobID string, status widget.JobStatus) {
	metrics.ObserveJob(string(status))
	if m.publisher == nil || m.topic == "" {
		return
	}
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		m.logger.Warn("load job for event", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	event := Event{JobID: jobID, MaskID: job.MaskID, Status: string(status), Timestamp: job.UpdatedAt}
	if _, err := m.publisher.Publish(ctx, m.topic, event); err != nil {
		m.logger.Warn("publish job event", zap.String("job_id", jobID), zap.Error(err))
	}
}

func validate(req CreateRequest) error {
	if strings.TrimSpace(req.MaskID) == "" {
		return fmt.Errorf("%w: mask_id is required", ErrInvalidRequest)
	}
	if len(req.URLs) == 0 {
		return fmt.Errorf("%w: at least one url is required", ErrInvalidRequest)
	}
	for _, raw := range req.URLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: invalid url %q", ErrInvalidRequest, raw)
		}
	}
	return nil
}
