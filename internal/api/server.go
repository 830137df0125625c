// Package api exposes the HTTP interface for the widget service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/widget-forge/internal/config"
	"github.com/JakeFAU/widget-forge/internal/jobs"
	"github.com/JakeFAU/widget-forge/internal/metrics"
	"github.com/JakeFAU/widget-forge/internal/widget"
)

const (
	maxBodyBytes   = 1 << 20
	readyzTimeout  = 2 * time.Second
	defaultTimeout = 60 * time.Second
)

// JobService is the job lifecycle surface used by the handlers.
type JobService interface {
	Create(ctx context.Context, req jobs.CreateRequest) (string, error)
	Get(ctx context.Context, jobID string) (widget.Job, error)
	LatestCompleted(ctx context.Context, maskID string) (widget.Job, error)
}

// WidgetRenderer produces the public iframe document for a mask.
type WidgetRenderer interface {
	Render(ctx context.Context, maskID string) string
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the job manager and the widget renderer.
type Server struct {
	router   chi.Router
	jobs     JobService
	renderer WidgetRenderer
	ready    Pinger
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(
	jobService JobService,
	renderer WidgetRenderer,
	ready Pinger,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:     jobService,
		renderer: renderer,
		ready:    ready,
		cfg:      cfg,
		logger:   logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/embed/{mask_id}", s.embed)

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/jobs", s.submitJob)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/masks/{mask_id}/result", s.getMaskResult)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyzTimeout)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "job store unavailable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	MaskID      string   `json:"mask_id"`
	UserID      string   `json:"user_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	URLs        []string `json:"urls"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	jobID, err := s.jobs.Create(r.Context(), jobs.CreateRequest{
		MaskID:      req.MaskID,
		UserID:      req.UserID,
		Title:       req.Title,
		Description: req.Description,
		URLs:        req.URLs,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, jobs.ErrInvalidRequest):
			status = http.StatusBadRequest
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		default:
			s.logger.Error("create job failed", zap.String("mask_id", req.MaskID), zap.Error(err))
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

type jobResponse struct {
	JobID  string          `json:"job_id"`
	MaskID string          `json:"mask_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.lookupError(w, err, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, jobResponse{
		JobID:  job.ID,
		MaskID: job.MaskID,
		Status: string(job.Status),
		Result: job.Result,
		Error:  job.ErrorMessage,
	})
}

func (s *Server) getMaskResult(w http.ResponseWriter, r *http.Request) {
	maskID := chi.URLParam(r, "mask_id")
	job, err := s.jobs.LatestCompleted(r.Context(), maskID)
	if err != nil {
		s.lookupError(w, err, "no completed widget for mask")
		return
	}
	if len(job.Result) == 0 {
		s.writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	s.writeJSON(w, http.StatusOK, job.Result)
}

func (s *Server) embed(w http.ResponseWriter, r *http.Request) {
	doc := s.renderer.Render(r.Context(), chi.URLParam(r, "mask_id"))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		s.logger.Warn("write widget failed", zap.Error(err))
	}
}

func (s *Server) lookupError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, widget.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, notFound)
		return
	}
	s.logger.Error("job lookup failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "job lookup failed")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
