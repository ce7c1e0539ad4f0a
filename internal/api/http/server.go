// Package http exposes a thin, optional submission surface over
// *engine.Engine (§12.3): plain net/http and encoding/json, grounded in
// the teacher's internal/http and internal/infrastructure/http response
// and middleware packages rather than its generated OpenAPI/gRPC-gateway
// layer. The engine never imports this package; a caller embedding the
// engine directly never needs it.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/jobengine/internal/api/http/middleware"
	"github.com/rezkam/jobengine/internal/api/http/response"
	"github.com/rezkam/jobengine/internal/domain"
	"github.com/rezkam/jobengine/internal/engine"
	"github.com/rezkam/jobengine/internal/metrics"
)

// DefaultMaxBodyBytes caps request bodies at 1MB, preventing accidental
// or malicious oversized submissions.
const DefaultMaxBodyBytes = 1 << 20

// Config configures the submission surface.
type Config struct {
	MaxBodyBytes int64
}

func (c *Config) withDefaults() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Server adapts engine.Engine to net/http.
type Server struct {
	eng *engine.Engine
	m   *metrics.Registry
}

// NewHandler builds the routed, middleware-wrapped http.Handler for the
// submission surface described by §12.3.
func NewHandler(eng *engine.Engine, m *metrics.Registry, cfg Config) http.Handler {
	cfg.withDefaults()
	s := &Server{eng: eng, m: m}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /jobs", s.submitJob)
	mux.HandleFunc("GET /jobs/{id}", s.getJob)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.cancelJob)
	mux.HandleFunc("GET /deadletter", s.listDeadLetters)
	mux.HandleFunc("POST /deadletter/{id}/retry", s.retryDeadLetter)
	mux.HandleFunc("POST /deadletter/{id}/discard", s.discardDeadLetter)
	mux.HandleFunc("GET /metrics", s.metricsSnapshot)

	return middleware.MaxBodyBytes(cfg.MaxBodyBytes)(withRecover(mux))
}

// withRecover turns a handler panic into a 500 instead of killing the
// server's connection goroutine, mirroring the teacher's chi.Recoverer.
func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.ErrorContext(r.Context(), "panic handling request", "panic", rec, "path", r.URL.Path)
				response.InternalError(w, r, nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

type submitJobRequest struct {
	JobID      string         `json:"job_id"`
	Priority   int            `json:"priority"`
	Mode       string         `json:"mode"`
	MaxRetries int            `json:"max_retries"`
	Payload    map[string]any `json:"payload"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	job := domain.NewJob(req.JobID, req.Priority, domain.Mode(req.Mode), req.MaxRetries, req.Payload, time.Now())
	if err := s.eng.Submit(r.Context(), job); err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	response.Created(w, submitJobResponse{JobID: job.ID})
}

type jobStatusResponse struct {
	JobID     string     `json:"job_id"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	Output    any        `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, result, err := s.eng.Status(r.Context(), id)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	resp := jobStatusResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		Attempts:  job.Attempts,
		LastError: job.LastError,
	}
	if result != nil {
		resp.Output = result.Output
		resp.Error = result.Error
		resp.StartedAt = &result.StartedAt
		resp.EndedAt = &result.EndedAt
	}
	response.OK(w, resp)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.eng.RequestCancel(r.Context(), id); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := parsePositiveInt(raw); err == nil {
			limit = parsed
		}
	}

	entries, err := s.eng.ListDeadLetters(r.Context(), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, entries)
}

type retryDeadLetterResponse struct {
	NewJobID string `json:"new_job_id"`
}

func (s *Server) retryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	newJobID, err := s.eng.RetryDeadLetter(r.Context(), id)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, retryDeadLetterResponse{NewJobID: newJobID})
}

type discardDeadLetterRequest struct {
	Note string `json:"note"`
}

func (s *Server) discardDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req discardDeadLetterRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.eng.DiscardDeadLetter(r.Context(), id, req.Note); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (s *Server) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	response.OK(w, s.m.Snapshot())
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, domain.ErrValidation
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
