// Package api exposes the HTTP surface: job submission, status polling, and
// result retrieval.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/endrilickollari/ldp/internal/docstore"
	"github.com/endrilickollari/ldp/internal/models"
	"github.com/endrilickollari/ldp/internal/queue"
	"github.com/endrilickollari/ldp/internal/quota"
	"github.com/endrilickollari/ldp/internal/ratelimit"
	"github.com/endrilickollari/ldp/internal/store"
	"github.com/endrilickollari/ldp/internal/telemetry"
)

// Uploads are buffered in memory up to this size before spilling to disk.
const multipartMemoryLimit = 8 << 20

// Server wires the HTTP handlers for the extraction API.
type Server struct {
	jobs    store.JobStore
	docs    docstore.Store
	queue   queue.Queue
	gate    *quota.Gate
	limiter *ratelimit.SubmissionLimiter
	log     *slog.Logger
}

func New(jobs store.JobStore, docs docstore.Store, q queue.Queue, gate *quota.Gate, limiter *ratelimit.SubmissionLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{jobs: jobs, docs: docs, queue: q, gate: gate, limiter: limiter, log: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/v1/jobs", s.handleSubmit)
	r.Get("/v1/jobs/{id}", s.handleStatus)
	r.Get("/v1/jobs/{id}/result", s.handleResult)
	return r
}

type submitResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), user.ID)
		if err != nil {
			s.log.Error("rate limit check failed", "user_id", user.ID, "error", err)
			writeFault(w, http.StatusInternalServerError, models.FaultInternal, "rate limit check failed")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeFault(w, http.StatusTooManyRequests, "rate_limited", "too many submissions, slow down")
			return
		}
	}

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeFault(w, http.StatusBadRequest, models.FaultUnsupportedFileType, "request is not valid multipart form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeFault(w, http.StatusBadRequest, models.FaultUnsupportedFileType, "file is required")
		return
	}
	defer file.Close()

	kind := models.KindForFilename(header.Filename)
	if kind == "" {
		writeFault(w, http.StatusBadRequest, models.FaultUnsupportedFileType,
			"unsupported file type: "+header.Filename)
		return
	}

	pageStart, err := optionalInt(r.FormValue("page_start"))
	if err != nil {
		writeFault(w, http.StatusBadRequest, models.FaultInvalidPageRange, "page_start must be an integer")
		return
	}
	pageEnd, err := optionalInt(r.FormValue("page_end"))
	if err != nil {
		writeFault(w, http.StatusBadRequest, models.FaultInvalidPageRange, "page_end must be an integer")
		return
	}
	if pageStart != nil && *pageStart < 1 {
		writeFault(w, http.StatusBadRequest, models.FaultInvalidPageRange, "page_start must be >= 1")
		return
	}
	if pageEnd != nil && *pageEnd < 1 {
		writeFault(w, http.StatusBadRequest, models.FaultInvalidPageRange, "page_end must be >= 1")
		return
	}
	if pageStart != nil && pageEnd != nil && *pageStart > *pageEnd {
		writeFault(w, http.StatusBadRequest, models.FaultInvalidPageRange, "page_start must be <= page_end")
		return
	}

	outputFormat := r.FormValue("output_format")
	if outputFormat == "" {
		outputFormat = models.OutputCombined
	}
	if outputFormat != models.OutputCombined && outputFormat != models.OutputPerPage {
		writeFault(w, http.StatusBadRequest, models.FaultInvalidOutputFormat,
			"output_format must be 'combined' or 'per_page'")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeFault(w, http.StatusBadRequest, models.FaultInternal, "could not read uploaded file")
		return
	}

	if err := s.gate.Check(r.Context(), user, int64(len(data))); err != nil {
		kind := models.FaultKind(err)
		switch kind {
		case models.FaultFileTooLarge:
			telemetry.QuotaRejects.Inc()
			writeFault(w, http.StatusRequestEntityTooLarge, kind, models.FaultMessage(err))
		case models.FaultMonthlyLimitExceeded:
			telemetry.QuotaRejects.Inc()
			writeFault(w, http.StatusTooManyRequests, kind, models.FaultMessage(err))
		default:
			s.log.Error("quota check failed", "user_id", user.ID, "error", err)
			writeFault(w, http.StatusInternalServerError, models.FaultInternal, "quota check failed")
		}
		return
	}

	jobID := uuid.New().String()
	if err := s.docs.Put(r.Context(), jobID, data); err != nil {
		s.log.Error("document store failed", "job_id", jobID, "error", err)
		writeFault(w, http.StatusInternalServerError, models.FaultStorageFailure, "could not store document")
		return
	}

	job, err := s.jobs.Create(r.Context(), store.CreateParams{
		ID:           jobID,
		UserID:       user.ID,
		Filename:     header.Filename,
		Kind:         kind,
		FileSize:     int64(len(data)),
		PageStart:    pageStart,
		PageEnd:      pageEnd,
		OutputFormat: outputFormat,
	})
	if err != nil {
		s.log.Error("job create failed", "job_id", jobID, "error", err)
		writeFault(w, http.StatusInternalServerError, models.FaultInternal, "could not create job")
		return
	}

	if err := s.queue.Enqueue(r.Context(), job.ID); err != nil {
		// The job stays QUEUED in the store; the caller can resubmit once the
		// queue is back.
		s.log.Error("enqueue failed", "job_id", job.ID, "error", err)
		writeFault(w, http.StatusServiceUnavailable, models.FaultQueueUnavailable, "job queue unavailable")
		return
	}

	telemetry.JobsSubmitted.Inc()
	s.log.Info("job submitted",
		"job_id", job.ID,
		"user_id", user.ID,
		"kind", kind,
		"file_size", len(data),
		"output_format", outputFormat,
	)

	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:     job.ID,
		Status:    job.Status,
		StatusURL: "/v1/jobs/" + job.ID,
	})
}

type statusResponse struct {
	JobID       string           `json:"job_id"`
	Status      string           `json:"status"`
	Stage       string           `json:"stage,omitempty"`
	Progress    int              `json:"progress"`
	Filename    string           `json:"filename"`
	Error       *models.JobError `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Stage:       job.Stage,
		Progress:    job.Progress,
		Filename:    job.Filename,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	switch job.Status {
	case models.StatusSuccess:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(job.Result)
	case models.StatusFailure:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": job.Status,
			"error":  job.Error,
		})
	default:
		writeFault(w, http.StatusConflict, "job_not_finished",
			"job is "+job.Status+", result not available yet")
	}
}

// ownedJob loads the job in the URL and checks it belongs to the caller.
// Foreign jobs read as 404 so IDs cannot be probed.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (models.Job, bool) {
	user, ok := s.identity(w, r)
	if !ok {
		return models.Job{}, false
	}

	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeFault(w, http.StatusNotFound, "not_found", "job not found")
		return models.Job{}, false
	}
	if err != nil {
		s.log.Error("job lookup failed", "job_id", id, "error", err)
		writeFault(w, http.StatusInternalServerError, models.FaultInternal, "job lookup failed")
		return models.Job{}, false
	}
	if job.UserID != user.ID {
		writeFault(w, http.StatusNotFound, "not_found", "job not found")
		return models.Job{}, false
	}
	return job, true
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		writeFault(w, http.StatusUnauthorized, "unauthenticated", "X-User-ID header is required")
		return models.User{}, false
	}
	plan := r.Header.Get("X-User-Plan")
	if plan == "" {
		plan = "free"
	}
	return models.User{ID: id, Plan: plan}, true
}

func optionalInt(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

type faultResponse struct {
	Error models.JobError `json:"error"`
}

func writeFault(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, faultResponse{Error: models.JobError{Kind: kind, Message: message}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
