package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", "")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Fetch.MaxParallel)
	require.Equal(t, 5000, cfg.Fetch.MaxChars)
	require.Equal(t, 800, cfg.Fetch.MinChars)
	require.Equal(t, []string{"maintenance", "access denied", "robot"}, cfg.Fetch.BlockedPhrases)
	require.Zero(t, cfg.Fetch.PerHostRPS)
	require.Equal(t, 1, cfg.Fetch.PerHostBurst)
	require.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	require.Equal(t, 5, cfg.LLM.MaxIterations)
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.Equal(t, BackendNone, cfg.Archive.Backend)
	require.False(t, cfg.Pipeline.RequireContent)
	require.Equal(t, 10*time.Minute, cfg.JobTimeout())
	require.Equal(t, 15*time.Second, cfg.FetchTimeout())
	require.Equal(t, 120*time.Second, cfg.LLMTimeout())
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
worker:
  count: 2
  job_timeout_seconds: 90
fetch:
  max_parallel: 8
  blocked_phrases: ["captcha"]
headless:
  enabled: false
llm:
  base_url: http://localhost:11434/v1
  extraction_model: llama3
  generation_model: qwen2.5-coder
  temperature: 0.1
pipeline:
  require_content: true
storage:
  backend: sqlite
  sqlite_path: /tmp/widgets.db
archive:
  backend: gcs
  gcs_bucket: widget-archive
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path, "")
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 2, cfg.Worker.Count)
	require.Equal(t, 90*time.Second, cfg.JobTimeout())
	require.Equal(t, 8, cfg.Fetch.MaxParallel)
	require.Equal(t, []string{"captcha"}, cfg.Fetch.BlockedPhrases)
	require.False(t, cfg.Headless.Enabled)
	require.Equal(t, "llama3", cfg.LLM.ExtractionModel)
	require.Equal(t, "qwen2.5-coder", cfg.LLM.GenerationModel)
	require.True(t, cfg.Pipeline.RequireContent)
	require.Equal(t, BackendSQLite, cfg.Storage.Backend)
	require.Equal(t, "widget-archive", cfg.Archive.GCSBucket)
	require.False(t, cfg.Logging.Development)
}

func TestLoadEnvOverridesAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("WIDGET_LLM_API_KEY=from-dotenv\n"), 0o600))

	t.Setenv("WIDGET_SERVER_PORT", "7070")
	t.Setenv("WIDGET_PIPELINE_REQUIRE_CONTENT", "true")
	t.Setenv("WIDGET_STORAGE_POSTGRES_TABLE", "jobs_v2")
	t.Setenv("WIDGET_LLM_API_KEY", "")
	require.NoError(t, os.Unsetenv("WIDGET_LLM_API_KEY"))

	cfg, err := Load("", envFile)
	require.NoError(t, err)

	require.Equal(t, 7070, cfg.Server.Port)
	require.True(t, cfg.Pipeline.RequireContent)
	require.Equal(t, "jobs_v2", cfg.Storage.Postgres.Table)
	require.Equal(t, "from-dotenv", cfg.LLM.APIKey)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	t.Parallel()

	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("", "")
	require.NoError(t, err)
	require.NoError(t, base.Validate())

	tests := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"port": {
			mutate: func(c *Config) { c.Server.Port = 0 },
			want:   "server.port",
		},
		"auth key": {
			mutate: func(c *Config) { c.Auth.Enabled = true },
			want:   "auth.api_key",
		},
		"workers": {
			mutate: func(c *Config) { c.Worker.Count = 0 },
			want:   "worker.count",
		},
		"fetch parallel": {
			mutate: func(c *Config) { c.Fetch.MaxParallel = 0 },
			want:   "fetch.max_parallel",
		},
		"headless parallel": {
			mutate: func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 },
			want:   "headless.max_parallel",
		},
		"temperature": {
			mutate: func(c *Config) { c.LLM.Temperature = 3 },
			want:   "llm.temperature",
		},
		"iterations": {
			mutate: func(c *Config) { c.LLM.MaxIterations = 0 },
			want:   "llm.max_iterations",
		},
		"storage backend": {
			mutate: func(c *Config) { c.Storage.Backend = "redis" },
			want:   "storage.backend",
		},
		"postgres dsn": {
			mutate: func(c *Config) { c.Storage.Backend = BackendPostgres },
			want:   "storage.postgres.dsn",
		},
		"gcs bucket": {
			mutate: func(c *Config) { c.Archive.Backend = BackendGCS },
			want:   "archive.gcs_bucket",
		},
		"pubsub project": {
			mutate: func(c *Config) { c.PubSub.Enabled = true },
			want:   "pubsub.project_id",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
