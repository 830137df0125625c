// Package dispatcher runs the fixed worker pool that drains the job queue.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner is a worker loop. It returns when ctx ends or its queue is closed
// and drained.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher owns the worker pool lifetime.
type Dispatcher struct {
	workers []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher over workers.
func New(workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, logger: logger}
}

// Run starts every worker and blocks until all of them have returned.
func (d *Dispatcher) Run(ctx context.Context) {
	start := time.Now()
	d.logger.Info("worker pool started", zap.Int("workers", len(d.workers)))

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()

	d.logger.Info("worker pool stopped", zap.Duration("uptime", time.Since(start)))
}
