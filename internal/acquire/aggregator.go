package acquire

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/widget-forge/internal/metrics"
	"github.com/JakeFAU/widget-forge/internal/widget"
)

// NoSourcesBlock is the report text for a job without URLs.
const NoSourcesBlock = "### NO SOURCES ###\nNo source URLs were provided."

// URLFetcher fetches one URL into a FetchResult. TwoTier implements it.
type URLFetcher interface {
	Fetch(ctx context.Context, jobID, url string) widget.FetchResult
}

// Report is the ordered outcome of fetching every URL of a job.
type Report struct {
	Results []widget.FetchResult
}

// Text renders the aggregated content handed to the extraction stage.
func (r Report) Text() string {
	if len(r.Results) == 0 {
		return NoSourcesBlock
	}
	blocks := make([]string, len(r.Results))
	for i, res := range r.Results {
		if res.Failed() {
			blocks[i] = fmt.Sprintf("### ERROR SCRAPING %s ###\n%s", res.URL, res.Err)
			continue
		}
		blocks[i] = fmt.Sprintf("### DATA FROM %s ###\n%s", res.URL, res.Content)
	}
	return strings.Join(blocks, "\n\n")
}

// AllFailed reports whether no URL produced content. A report without
// results counts as all failed.
func (r Report) AllFailed() bool {
	for _, res := range r.Results {
		if !res.Failed() {
			return false
		}
	}
	return true
}

// Aggregator fans a URLFetcher out over a job's URLs.
type Aggregator struct {
	fetcher     URLFetcher
	maxParallel int
	logger      *zap.Logger
}

// NewAggregator builds an Aggregator. maxParallel <= 0 fetches sequentially.
func NewAggregator(fetcher URLFetcher, maxParallel int, logger *zap.Logger) *Aggregator {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{fetcher: fetcher, maxParallel: maxParallel, logger: logger}
}

// FetchAll fetches every URL and returns one result per URL in input order.
// It never fails; per-URL problems are carried in the results.
func (a *Aggregator) FetchAll(ctx context.Context, jobID string, urls []string) Report {
	start := time.Now()
	results := make([]widget.FetchResult, len(urls))

	var g errgroup.Group
	g.SetLimit(a.maxParallel)
	for i, url := range urls {
		g.Go(func() error {
			results[i] = a.fetcher.Fetch(ctx, jobID, url)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results}
	metrics.ObserveStage(metrics.StageFetch, time.Since(start))
	a.logger.Info("sources fetched",
		zap.String("job_id", jobID),
		zap.Int("urls", len(urls)),
		zap.Bool("all_failed", report.AllFailed()),
	)
	return report
}
