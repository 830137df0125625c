// Package config loads and validates widget service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage and archive backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendNone     = "none"
)

// TokenEncodingEstimate skips tiktoken and estimates prompt tokens from the
// character count.
const TokenEncodingEstimate = "estimate"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Headless HeadlessConfig `mapstructure:"headless"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles. Only /v1 is protected.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WorkerConfig sizes the worker pool and its queue.
type WorkerConfig struct {
	Count               int    `mapstructure:"count"`
	QueueDepth          int    `mapstructure:"queue_depth"`
	JobTimeoutSeconds   int    `mapstructure:"job_timeout_seconds"`
	EnqueueTimeoutMs    int    `mapstructure:"enqueue_timeout_ms"`
	ArchiveContentType  string `mapstructure:"archive_content_type"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

// FetchConfig governs the static tier and the quality gate.
type FetchConfig struct {
	MaxParallel    int      `mapstructure:"max_parallel"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	UserAgent      string   `mapstructure:"user_agent"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
	MaxChars       int      `mapstructure:"max_chars"`
	MinChars       int      `mapstructure:"min_chars"`
	BlockedPhrases []string `mapstructure:"blocked_phrases"`
	PerHostRPS     float64  `mapstructure:"per_host_rps"`
	PerHostBurst   int      `mapstructure:"per_host_burst"`
}

// HeadlessConfig configures the dynamic render tier.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	SettleMillis  int    `mapstructure:"settle_ms"`
	ExecPath      string `mapstructure:"exec_path"`
}

// LLMConfig points both model roles at an OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL         string  `mapstructure:"base_url"`
	APIKey          string  `mapstructure:"api_key"`
	ExtractionModel string  `mapstructure:"extraction_model"`
	GenerationModel string  `mapstructure:"generation_model"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	MaxIterations   int     `mapstructure:"max_iterations"`
	TokenEncoding   string  `mapstructure:"token_encoding"`
}

// PipelineConfig toggles pipeline semantics.
type PipelineConfig struct {
	RequireContent bool `mapstructure:"require_content"`
}

// StorageConfig selects the job store.
type StorageConfig struct {
	Backend    string         `mapstructure:"backend"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// ArchiveConfig selects where finished widgets are archived.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for job event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional .env file, an optional YAML file,
// and WIDGET_* environment variables, in increasing precedence.
func Load(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("WIDGET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.job_timeout_seconds", 600)
	v.SetDefault("worker.enqueue_timeout_ms", 5000)
	v.SetDefault("worker.archive_content_type", "text/html; charset=utf-8")
	v.SetDefault("worker.write_timeout_seconds", 10)
	v.SetDefault("fetch.max_parallel", 4)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.user_agent", "widget-forge/0.1")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.max_chars", 5000)
	v.SetDefault("fetch.min_chars", 800)
	v.SetDefault("fetch.blocked_phrases", []string{"maintenance", "access denied", "robot"})
	v.SetDefault("fetch.per_host_rps", 0.0)
	v.SetDefault("fetch.per_host_burst", 1)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_ms", 2000)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.extraction_model", "gpt-4o-mini")
	v.SetDefault("llm.generation_model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.max_iterations", 5)
	v.SetDefault("llm.token_encoding", "cl100k_base")
	v.SetDefault("pipeline.require_content", false)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.sqlite_path", "widget-forge.db")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "widget_jobs")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "widgets")
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "widget-jobs")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be > 0")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	if c.Worker.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("worker.job_timeout_seconds must be > 0")
	}
	if c.Fetch.MaxParallel <= 0 {
		return fmt.Errorf("fetch.max_parallel must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxChars <= 0 {
		return fmt.Errorf("fetch.max_chars must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.LLM.ExtractionModel == "" || c.LLM.GenerationModel == "" {
		return fmt.Errorf("llm.extraction_model and llm.generation_model are required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	if c.LLM.MaxIterations <= 0 {
		return fmt.Errorf("llm.max_iterations must be > 0")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("llm.timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	return nil
}

// JobTimeout is the whole-job budget.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.JobTimeoutSeconds) * time.Second
}

// FetchTimeout is the static tier budget per URL.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout is the dynamic tier budget per URL.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// LLMTimeout bounds each model call.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds each HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
