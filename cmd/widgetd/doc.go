// Package main hosts the widgetd entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts widget jobs on POST /v1/jobs, persists them as pending through
//     the job manager, and enqueues them for the worker pool. GET /embed/{mask_id} serves the latest finished
//     widget (or a self-refreshing placeholder) to iframes.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by worker.queue_depth and fan out
//     to worker.count workers. Each worker claims a job (pending to processing), runs the pipeline under
//     worker.job_timeout_seconds, and writes back exactly one of completed or failed.
//   - Pipeline: every source URL is fetched concurrently. The Colly tier runs first; a quality gate promotes
//     thin, empty, or blocked pages to the Chromedp tier. The labelled report goes to the extraction model,
//     whose summary alone feeds the generation model. The html fence of the reply is the widget.
//   - Persistence & fanout: jobs live in memory, SQLite, or Postgres. Finished widgets are optionally archived
//     (memory, local disk, GCS), and terminal job events are optionally published to Pub/Sub.
//   - Configuration & plumbing: Viper populates config from a YAML file, a .env file, and WIDGET_* variables;
//     zap provides structured logging; Prometheus metrics are served on /metrics.
//
// Quick checklist:
//   - Point llm.base_url at an OpenAI-compatible endpoint (for example Ollama) or set WIDGET_LLM_API_KEY.
//   - Run locally: go run ./cmd/widgetd --config config.yaml, or check a config with widgetd check-config.
//   - The process drains on SIGTERM: the HTTP server stops first, then queued jobs finish within
//     server.shutdown_timeout_seconds.
package main
