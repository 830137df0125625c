// Package metrics exposes Prometheus collectors for the widget service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stage labels.
const (
	StageFetch      = "fetch"
	StageExtraction = "extraction"
	StageGeneration = "generation"
)

var (
	widgetJobsTotal            *prometheus.CounterVec
	widgetFetchTotal           *prometheus.CounterVec
	widgetStageDuration        *prometheus.HistogramVec
	widgetLLMPromptTokens      *prometheus.CounterVec
	widgetActiveWorkers        prometheus.Gauge
	widgetRateLimitDelay       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		widgetJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widget_jobs_total",
				Help: "Total number of jobs that reached a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		widgetFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widget_fetch_total",
				Help: "Total number of source fetches, labeled by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		)

		widgetStageDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "widget_stage_duration_seconds",
				Help:    "Histogram of pipeline stage latencies, labeled by stage.",
				Buckets: []float64{0.25, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		)

		widgetLLMPromptTokens = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widget_llm_prompt_tokens",
				Help: "Prompt tokens sent to the language model, labeled by stage.",
			},
			[]string{"stage"},
		)

		widgetActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "widget_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		widgetRateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "widget_fetch_ratelimit_delay_seconds",
				Help:    "Time spent waiting on the per-host fetch limiter, labeled by site.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	Init()
	widgetJobsTotal.WithLabelValues(status).Inc()
}

// ObserveFetch counts one source fetch. outcome is "ok" or "error".
func ObserveFetch(tier, outcome string) {
	Init()
	widgetFetchTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	widgetStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObservePromptTokens adds the prompt token estimate for a model call.
func ObservePromptTokens(stage string, tokens int) {
	if tokens <= 0 {
		return
	}
	Init()
	widgetLLMPromptTokens.WithLabelValues(stage).Add(float64(tokens))
}

// ObserveRateLimitDelay records a wait imposed by the per-host limiter.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	Init()
	widgetRateLimitDelay.WithLabelValues(site).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	widgetActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	widgetActiveWorkers.Dec()
}
