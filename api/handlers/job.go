package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mriscale/api/dto"
	"mriscale/api/middleware"
	"mriscale/api/service"
	"mriscale/jobs"
	"mriscale/storage"
)

// JobService is the slice of the service layer the handlers depend on.
type JobService interface {
	CreatePreprocessJob(ctx context.Context, ownerID, jobID string, inputFiles []string) (*jobs.Job, error)
	RunInference(ctx context.Context, ownerID, sourceJobID string) (*jobs.Job, error)
	GetJob(ctx context.Context, ownerID, jobID string) (*jobs.Job, error)
	GetJobStatus(ctx context.Context, ownerID, jobID string) (jobs.JobStatus, int, error)
	ListJobs(ctx context.Context, ownerID string, page, pageSize int) (*service.JobList, error)
	DeleteJob(ctx context.Context, ownerID, jobID string) error
	TriggerJob(ctx context.Context, ownerID, jobID string) (*service.TriggerResult, error)
}

type JobHandler struct {
	service     JobService
	files       storage.Store
	logger      *zap.Logger
	maxFileSize int64
}

func NewJobHandler(service JobService, files storage.Store, logger *zap.Logger, maxFileSize int64) *JobHandler {
	return &JobHandler{
		service:     service,
		files:       files,
		logger:      logger,
		maxFileSize: maxFileSize,
	}
}

// Infer validates the source preprocess job and starts an inference job
// consuming its outputs.
func (h *JobHandler) Infer(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	ownerID := middleware.GetPrincipal(r.Context())

	var req dto.InferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceJobID == "" {
		h.handleError(w, "source_job_id is required", err, traceID, http.StatusBadRequest)
		return
	}

	job, err := h.service.RunInference(r.Context(), ownerID, req.SourceJobID)
	if err != nil {
		h.mapError(w, err, traceID, job)
		return
	}

	h.logger.Info("Inference started",
		zap.String("trace_id", traceID),
		zap.String("job_id", job.ID),
		zap.String("source_job_id", req.SourceJobID),
	)

	h.respondJSON(w, http.StatusAccepted, dto.InferenceResponse{
		InferenceJobID: job.ID,
		Status:         string(job.Status),
		Message:        "Inference started",
	})
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	ownerID := middleware.GetPrincipal(r.Context())

	// Unparseable values come back as 0 and get normalized downstream.
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	list, err := h.service.ListJobs(r.Context(), ownerID, page, pageSize)
	if err != nil {
		h.mapError(w, err, traceID, nil)
		return
	}

	resp := dto.JobListResponse{
		Jobs:     make([]*dto.JobResponse, 0, len(list.Jobs)),
		Total:    list.Total,
		Page:     list.Page,
		PageSize: list.PageSize,
	}
	for _, job := range list.Jobs {
		resp.Jobs = append(resp.Jobs, dto.FromJob(job))
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	ownerID := middleware.GetPrincipal(r.Context())
	jobID := chi.URLParam(r, "jobID")

	job, err := h.service.GetJob(r.Context(), ownerID, jobID)
	if err != nil {
		h.mapError(w, err, traceID, nil)
		return
	}
	h.respondJSON(w, http.StatusOK, dto.FromJob(job))
}

func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	ownerID := middleware.GetPrincipal(r.Context())
	jobID := chi.URLParam(r, "jobID")

	status, progress, err := h.service.GetJobStatus(r.Context(), ownerID, jobID)
	if err != nil {
		h.mapError(w, err, traceID, nil)
		return
	}
	h.respondJSON(w, http.StatusOK, dto.StatusResponse{
		ID:       jobID,
		Status:   string(status),
		Progress: progress,
	})
}

func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	ownerID := middleware.GetPrincipal(r.Context())
	jobID := chi.URLParam(r, "jobID")

	if err := h.service.DeleteJob(r.Context(), ownerID, jobID); err != nil {
		h.mapError(w, err, traceID, nil)
		return
	}

	h.logger.Info("Job deleted",
		zap.String("trace_id", traceID),
		zap.String("job_id", jobID),
	)
	w.WriteHeader(http.StatusNoContent)
}

// Trigger re-dispatches a pending job. A job in any other status yields an
// informational 200 naming the current status, never a second dispatch.
func (h *JobHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	ownerID := middleware.GetPrincipal(r.Context())
	jobID := chi.URLParam(r, "jobID")

	result, err := h.service.TriggerJob(r.Context(), ownerID, jobID)
	if err != nil {
		h.mapError(w, err, traceID, nil)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.TriggerResponse{
		JobID:     result.Job.ID,
		Triggered: result.Triggered,
		Status:    string(result.Job.Status),
		Message:   dto.TriggerMessage(result.Triggered, result.Job.Status),
	})
}

// mapError translates the domain error taxonomy into HTTP fault kinds. A
// DispatchError may carry the created-but-undelivered job so the client can
// re-trigger it.
func (h *JobHandler) mapError(w http.ResponseWriter, err error, traceID string, job *jobs.Job) {
	var (
		ise *jobs.InvalidStateError
		de  *jobs.DispatchError
	)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		h.handleError(w, "Job not found", err, traceID, http.StatusNotFound)
	case errors.Is(err, jobs.ErrForbidden):
		h.handleError(w, "Access forbidden", err, traceID, http.StatusForbidden)
	case errors.Is(err, jobs.ErrConflict):
		h.handleError(w, "Job already exists", err, traceID, http.StatusConflict)
	case errors.As(err, &ise):
		h.handleError(w, ise.Reason, err, traceID, http.StatusBadRequest)
	case errors.As(err, &de):
		msg := "Queue unavailable; job not dispatched"
		if job != nil {
			msg = "Queue unavailable; job " + job.ID + " is pending and can be re-triggered"
		}
		h.handleError(w, msg, err, traceID, http.StatusServiceUnavailable)
	default:
		h.handleError(w, "Internal server error", err, traceID, http.StatusInternalServerError)
	}
}

func (h *JobHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *JobHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func newJobID() string {
	return uuid.New().String()
}
