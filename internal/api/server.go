package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"report-jobs/internal/jobs"
	"report-jobs/internal/models"
	"report-jobs/internal/queue"
	"report-jobs/internal/store"
	"report-jobs/internal/telemetry"
)

// Limiter gates submissions per client.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (bool, float64, error)
}

// Server wires HTTP handlers for the submission and polling API.
type Server struct {
	submitter *jobs.Submitter
	store     store.RecordStore
	dlq       queue.DeadLetterReader
	limiter   Limiter
	logger    *slog.Logger
}

// New constructs the API server. limiter may be nil; GET /dlq answers 501 when the queue
// cannot list dead letters.
func New(sub *jobs.Submitter, st store.RecordStore, q queue.MessageQueue, limiter Limiter, logger *slog.Logger) *Server {
	s := &Server{
		submitter: sub,
		store:     st,
		limiter:   limiter,
		logger:    logger,
	}
	if r, ok := q.(queue.DeadLetterReader); ok {
		s.dlq = r
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/dlq", s.handleDLQ)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	JobID string `json:"jobId,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	// Invalid requests are rejected before they take a token from the client's bucket.
	var validation *jobs.ValidationError
	if errors.As(jobs.Validate(req), &validation) {
		telemetry.JobsRejected.Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Error(), Field: validation.Field})
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), req.ClientID)
		if err != nil {
			s.logger.Error("rate limiter unavailable", slog.Any("error", err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "rate limit error"})
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limited"})
			return
		}
	}

	handle, err := s.submitter.Submit(r.Context(), req)
	var gap *jobs.DeliveryGapError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, handle)
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Error(), Field: validation.Field})
	case errors.As(err, &gap):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "job recorded but could not be enqueued", JobID: gap.JobID})
	default:
		s.logger.Error("submit job failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "submit failed"})
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found", JobID: id})
		return
	}
	if err != nil {
		s.logger.Error("load job failed", slog.String("job_id", id), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "load failed"})
		return
	}
	writeJSON(w, http.StatusOK, job.Handle())
}

// handleDLQ returns the oldest dead-lettered messages.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "queue backend does not expose dead letters"})
		return
	}
	limit := int64(100)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	items, err := s.dlq.DeadLetters(r.Context(), limit)
	if err != nil {
		s.logger.Error("read dlq failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read dlq"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
