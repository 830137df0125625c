// Package app builds the long-lived services of widgetd from configuration
// and runs them: the HTTP API, the dispatcher, and its worker pool.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/widget-forge/internal/acquire"
	"github.com/JakeFAU/widget-forge/internal/api"
	"github.com/JakeFAU/widget-forge/internal/clock/system"
	"github.com/JakeFAU/widget-forge/internal/config"
	"github.com/JakeFAU/widget-forge/internal/dispatcher"
	"github.com/JakeFAU/widget-forge/internal/embed"
	collyfetcher "github.com/JakeFAU/widget-forge/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/widget-forge/internal/fetcher/headless"
	"github.com/JakeFAU/widget-forge/internal/hash/sha256"
	"github.com/JakeFAU/widget-forge/internal/headless/detector"
	"github.com/JakeFAU/widget-forge/internal/id/uuid"
	"github.com/JakeFAU/widget-forge/internal/jobs"
	"github.com/JakeFAU/widget-forge/internal/llm"
	"github.com/JakeFAU/widget-forge/internal/pipeline"
	"github.com/JakeFAU/widget-forge/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/widget-forge/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/widget-forge/internal/queue/memory"
	gcsstore "github.com/JakeFAU/widget-forge/internal/storage/gcs"
	localstore "github.com/JakeFAU/widget-forge/internal/storage/local"
	memorystore "github.com/JakeFAU/widget-forge/internal/storage/memory"
	postgresstore "github.com/JakeFAU/widget-forge/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/widget-forge/internal/storage/sqlite"
	"github.com/JakeFAU/widget-forge/internal/widget"
	"github.com/JakeFAU/widget-forge/internal/worker"
)

// archiveDigestLength is the number of hex digits of the content hash kept in
// archive object names.
const archiveDigestLength = 16

// App holds the shared, long-lived services of the process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	manager    *jobs.Manager
	queue      *queuememory.Queue
	dispatcher *dispatcher.Dispatcher
	server     *api.Server
	closers    []func()
}

// New builds every service described by cfg. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
		zap.Int("workers", cfg.Worker.Count),
	)
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	store, ready, err := a.buildJobStore(ctx)
	if err != nil {
		return err
	}

	archive, err := a.buildArchive(ctx)
	if err != nil {
		return err
	}

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return err
	}

	runner, err := a.buildPipeline()
	if err != nil {
		return err
	}

	a.queue = queuememory.NewQueue(cfg.Worker.QueueDepth)
	a.manager, err = jobs.NewManager(jobs.Config{
		Store:          store,
		Queue:          a.queue,
		IDs:            uuid.New(),
		Clock:          system.New(),
		Publisher:      publisher,
		Topic:          cfg.PubSub.TopicName,
		EnqueueTimeout: time.Duration(cfg.Worker.EnqueueTimeoutMs) * time.Millisecond,
		Logger:         logger.Named("jobs"),
	})
	if err != nil {
		return fmt.Errorf("build job manager: %w", err)
	}

	workerCfg := worker.Config{
		JobTimeout:    cfg.JobTimeout(),
		ArchivePrefix: cfg.Archive.Prefix,
		ContentType:   cfg.Worker.ArchiveContentType,
		WriteTimeout:  time.Duration(cfg.Worker.WriteTimeoutSeconds) * time.Second,
	}
	hasher := sha256.New(archiveDigestLength)
	workers := make([]dispatcher.Runner, 0, cfg.Worker.Count)
	for i := 0; i < cfg.Worker.Count; i++ {
		workers = append(workers, worker.New(
			a.queue,
			a.manager,
			runner,
			archive,
			hasher,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatcher = dispatcher.New(workers, a.logger.Named("dispatcher"))

	renderer := embed.NewRenderer(a.manager, logger.Named("embed"))
	a.server = api.NewServer(a.manager, renderer, ready, cfg, logger.Named("api"))
	return nil
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Manager returns the job lifecycle manager.
func (a *App) Manager() *jobs.Manager {
	return a.manager
}

// Run serves HTTP on the configured port until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the dispatcher and serves HTTP on ln until ctx ends, then shuts
// down: the server stops accepting jobs first, then the queue closes and the
// workers finish their current job.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Count))
		a.dispatcher.Run(workCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			a.logger.Error("http server error", zap.Error(err))
			runErr = fmt.Errorf("serve http: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()

	select {
	case <-dispatched:
	case <-shutdownCtx.Done():
		stopWork()
		<-dispatched
		a.logger.Warn("workers did not drain before shutdown deadline",
			zap.Int("jobs_left_pending", a.queue.Len()))
	}
	a.logger.Info("shutdown complete")
	return runErr
}

// Close releases every backend, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) buildJobStore(ctx context.Context) (widget.JobStore, api.Pinger, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memorystore.NewJobStore(), nil, nil
	case config.BackendSQLite:
		store, err := sqlitestore.NewJobStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite job store: %w", err)
		}
		a.onClose(func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("close sqlite job store", zap.Error(err))
			}
		})
		return store, store, nil
	case config.BackendPostgres:
		store, err := postgresstore.NewJobStore(ctx, postgresstore.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: time.Duration(cfg.Postgres.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres job store: %w", err)
		}
		a.onClose(store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func (a *App) buildArchive(ctx context.Context) (widget.BlobStore, error) {
	cfg := a.cfg.Archive
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return memorystore.NewBlobStore(), nil
	case config.BackendLocal:
		store, err := localstore.New(localstore.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context) (widget.Publisher, error) {
	cfg := a.cfg.PubSub
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client)
	a.onClose(func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	})
	return publisher, nil
}

func (a *App) buildPipeline() (*pipeline.Pipeline, error) {
	cfg := a.cfg
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})

	var dynamic widget.Fetcher
	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			Settle:            time.Duration(cfg.Headless.SettleMillis) * time.Millisecond,
			ExecPath:          cfg.Headless.ExecPath,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			dynamic = headless
			a.onClose(headless.Close)
		}
	}

	gate := detector.NewQualityGate(cfg.Fetch.MinChars, cfg.Fetch.BlockedPhrases)
	twoTier, err := acquire.NewTwoTier(static, dynamic, gate, acquire.TwoTierConfig{
		MaxChars:       cfg.Fetch.MaxChars,
		StaticTimeout:  cfg.FetchTimeout(),
		DynamicTimeout: cfg.NavTimeout(),
		Limiter:        ratelimit.New(ratelimit.Config{RPS: cfg.Fetch.PerHostRPS, Burst: cfg.Fetch.PerHostBurst}),
	}, a.logger.Named("fetch"))
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}
	sources := acquire.NewAggregator(twoTier, cfg.Fetch.MaxParallel, a.logger.Named("aggregator"))

	extractionModel, err := a.buildModel(cfg.LLM.ExtractionModel)
	if err != nil {
		return nil, fmt.Errorf("build extraction model: %w", err)
	}
	generationModel, err := a.buildModel(cfg.LLM.GenerationModel)
	if err != nil {
		return nil, fmt.Errorf("build generation model: %w", err)
	}

	var tokens *llm.TokenCounter
	if cfg.LLM.TokenEncoding != config.TokenEncodingEstimate {
		tokens, err = llm.NewTokenCounter(cfg.LLM.TokenEncoding)
		if err != nil {
			a.logger.Warn("token encoding unavailable, estimating prompt tokens", zap.Error(err))
		}
	}

	p, err := pipeline.New(
		sources,
		pipeline.NewExtractor(extractionModel, cfg.LLM.MaxIterations, tokens, a.logger.Named("extraction")),
		pipeline.NewGenerator(generationModel, tokens, a.logger.Named("generation")),
		pipeline.Options{RequireContent: cfg.Pipeline.RequireContent, Logger: a.logger.Named("pipeline")},
	)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return p, nil
}

func (a *App) buildModel(model string) (*llm.OpenAIClient, error) {
	temperature := a.cfg.LLM.Temperature
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:      a.cfg.LLM.APIKey,
		BaseURL:     a.cfg.LLM.BaseURL,
		Model:       model,
		Temperature: &temperature,
		MaxTokens:   a.cfg.LLM.MaxTokens,
		Timeout:     a.cfg.LLMTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("build model client: %w", err)
	}
	return client, nil
}
