// Package pipeline runs one widget job: fetch the sources, extract the facts
// relevant to the description, generate the HTML, and pull the document out
// of the model output.
//
// The generation stage receives only the extraction summary plus the job's
// title and description, never the fetched content.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/widget-forge/internal/acquire"
	"github.com/JakeFAU/widget-forge/internal/widget"
)

// SourceFetcher produces the fetch report for a job's URLs.
type SourceFetcher interface {
	FetchAll(ctx context.Context, jobID string, urls []string) acquire.Report
}

// ExtractionStage summarizes aggregated content for a task.
type ExtractionStage interface {
	Extract(ctx context.Context, content, task string) (string, error)
}

// GenerationStage produces raw document text from a summary.
type GenerationStage interface {
	Generate(ctx context.Context, summary, title, description string) (string, error)
}

// Options tune a Pipeline.
type Options struct {
	// RequireContent fails a run whose fetch report has no successful source
	// instead of passing the error blocks on to extraction.
	RequireContent bool
	Logger         *zap.Logger
}

// Pipeline sequences the stages of a job.
type Pipeline struct {
	sources    SourceFetcher
	extraction ExtractionStage
	generation GenerationStage
	opts       Options
	logger     *zap.Logger
}

// New wires a Pipeline.
func New(sources SourceFetcher, extraction ExtractionStage, generation GenerationStage, opts Options) (*Pipeline, error) {
	if sources == nil || extraction == nil || generation == nil {
		return nil, fmt.Errorf("pipeline requires sources, extraction, and generation stages")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		sources:    sources,
		extraction: extraction,
		generation: generation,
		opts:       opts,
		logger:     logger,
	}, nil
}

// Run executes every stage for in. Any stage error aborts the run; nothing is
// retried.
func (p *Pipeline) Run(ctx context.Context, in widget.JobInput) (widget.Artifact, error) {
	logger := p.logger.With(zap.String("job_id", in.JobID), zap.String("mask_id", in.MaskID))

	report := p.sources.FetchAll(ctx, in.JobID, in.URLs)
	if p.opts.RequireContent && report.AllFailed() {
		return widget.Artifact{}, widget.ErrNoContent
	}

	summary, err := p.extraction.Extract(ctx, report.Text(), taskFor(in))
	if err != nil {
		return widget.Artifact{}, err
	}
	logger.Info("extraction complete", zap.Int("summary_chars", len(summary)))

	raw, err := p.generation.Generate(ctx, summary, in.Title, in.Description)
	if err != nil {
		return widget.Artifact{}, err
	}

	artifact := ExtractArtifact(raw)
	if !artifact.Fenced {
		logger.Warn("generation output had no html fence, using raw text")
	}
	logger.Info("generation complete", zap.Int("html_chars", len(artifact.HTML)))
	return artifact, nil
}

func taskFor(in widget.JobInput) string {
	if in.Description == "" {
		return in.Title
	}
	if in.Title == "" {
		return in.Description
	}
	return in.Title + ": " + in.Description
}
