// Package worker implements the widget job execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/widget-forge/internal/metrics"
	"github.com/JakeFAU/widget-forge/internal/widget"
)

// Defaults applied by New.
const (
	DefaultJobTimeout    = 10 * time.Minute
	DefaultArchivePrefix = "widgets"
	DefaultWriteTimeout  = 10 * time.Second
)

// Runner executes the pipeline for one job.
type Runner interface {
	Run(ctx context.Context, in widget.JobInput) (widget.Artifact, error)
}

// Lifecycle is the subset of the job manager a worker drives.
type Lifecycle interface {
	MarkProcessing(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, artifact widget.Artifact) error
	Fail(ctx context.Context, jobID string, errText string) error
}

// Config controls Worker behavior.
type Config struct {
	JobTimeout    time.Duration
	ArchivePrefix string
	ContentType   string
	// WriteTimeout bounds the terminal write-back, which runs detached from
	// the job context so that a timed-out job can still be failed.
	WriteTimeout time.Duration
}

// Worker consumes queue items and runs the pipeline for each.
type Worker struct {
	queue   widget.Queue
	jobs    Lifecycle
	runner  Runner
	archive widget.BlobStore
	hasher  widget.Hasher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker. archive and hasher are optional; without both the
// artifact is not archived.
func New(
	queue widget.Queue,
	jobs Lifecycle,
	runner Runner,
	archive widget.BlobStore,
	hasher widget.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if strings.Trim(cfg.ArchivePrefix, "/") == "" {
		cfg.ArchivePrefix = DefaultArchivePrefix
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Worker{
		queue:   queue,
		jobs:    jobs,
		runner:  runner,
		archive: archive,
		hasher:  hasher,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if errors.Is(err, widget.ErrQueueClosed) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item widget.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("mask_id", item.Input.MaskID))

	if err := w.jobs.MarkProcessing(ctx, item.JobID); err != nil {
		if errors.Is(err, widget.ErrInvalidTransition) || errors.Is(err, widget.ErrJobNotFound) {
			logger.Info("skipping job", zap.Error(err))
			return
		}
		logger.Error("mark processing failed", zap.Error(err))
		if errors.Is(err, widget.ErrPersistence) {
			w.fail(ctx, logger, item.JobID, err.Error())
		}
		return
	}

	input := item.Input
	input.JobID = item.JobID

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	artifact, err := w.run(jobCtx, input)
	if err != nil {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("job timed out after %s: %w", w.cfg.JobTimeout, err)
		}
		logger.Warn("pipeline failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		w.fail(ctx, logger, item.JobID, err.Error())
		return
	}

	if err := w.complete(ctx, item.JobID, artifact); err != nil {
		if errors.Is(err, widget.ErrPersistence) {
			logger.Error("complete failed, failing job", zap.Error(err))
			w.fail(ctx, logger, item.JobID, err.Error())
			return
		}
		logger.Warn("complete rejected", zap.Error(err))
		return
	}
	logger.Info("job completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("fenced", artifact.Fenced),
		zap.Int("html_bytes", len(artifact.HTML)),
	)

	w.archiveArtifact(ctx, logger, input, artifact)
}

// run invokes the runner and turns a panic into an error so one bad job
// cannot take down the process.
func (w *Worker) run(ctx context.Context, in widget.JobInput) (artifact widget.Artifact, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("pipeline panicked",
				zap.String("job_id", in.JobID),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			artifact, err = widget.Artifact{}, fmt.Errorf("pipeline panic: %v", rec)
		}
	}()
	return w.runner.Run(ctx, in)
}

func (w *Worker) complete(ctx context.Context, jobID string, artifact widget.Artifact) error {
	writeCtx, cancel := w.writeContext(ctx)
	defer cancel()
	return w.jobs.Complete(writeCtx, jobID, artifact)
}

func (w *Worker) fail(ctx context.Context, logger *zap.Logger, jobID, errText string) {
	writeCtx, cancel := w.writeContext(ctx)
	defer cancel()
	if err := w.jobs.Fail(writeCtx, jobID, errText); err != nil {
		logger.Error("fail job status update failed", zap.Error(err))
	}
}

func (w *Worker) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), w.cfg.WriteTimeout)
}

func (w *Worker) archiveArtifact(ctx context.Context, logger *zap.Logger, in widget.JobInput, artifact widget.Artifact) {
	if w.archive == nil || w.hasher == nil {
		return
	}
	body := []byte(artifact.HTML)
	hash, err := w.hasher.Hash(body)
	if err != nil {
		logger.Warn("hash artifact failed", zap.Error(err))
		return
	}
	path := w.buildArchivePath(in.MaskID, in.JobID, hash)
	uri, err := w.archive.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("archive artifact failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("artifact archived", zap.String("uri", uri))
}

func (w *Worker) buildArchivePath(maskID, jobID, hash string) string {
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	return fmt.Sprintf("%s/%s/%s-%s.html", prefix, maskID, jobID, hash)
}
