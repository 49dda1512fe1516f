package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mriscale/api/cache"
	"mriscale/api/kafka"
	"mriscale/api/repository"
	"mriscale/jobs"
	"mriscale/storage"
)

// StatusCache is the slice of the status cache the service needs.
type StatusCache interface {
	Get(ctx context.Context, jobID string) (*cache.Entry, error)
	Set(ctx context.Context, job *jobs.Job) error
	Delete(ctx context.Context, jobID string) error
}

// JobService owns the request-tier half of the orchestration: creating jobs,
// guarding ownership, validating the preprocess->inference dependency, and
// dispatching work. Workers never call into it; they talk to the record
// store through the progress reporter.
type JobService struct {
	repo   repository.Repository
	cache  StatusCache
	queue  kafka.Dispatcher
	files  storage.Store
	logger *zap.Logger
}

func NewJobService(repo repository.Repository, cache StatusCache, queue kafka.Dispatcher, files storage.Store, logger *zap.Logger) *JobService {
	return &JobService{
		repo:   repo,
		cache:  cache,
		queue:  queue,
		files:  files,
		logger: logger,
	}
}

// TriggerResult reports what a re-trigger request did. A job that is no
// longer pending is not an error; the caller gets the current status back.
type TriggerResult struct {
	Job       *jobs.Job
	Triggered bool
}

// CreatePreprocessJob records a new preprocess job and dispatches it. The
// caller supplies the job id because uploaded artifacts are already stored
// under it. If the queue is unreachable the job is returned alongside the
// DispatchError: it stays pending and can be re-triggered later.
func (s *JobService) CreatePreprocessJob(ctx context.Context, ownerID, jobID string, inputFiles []string) (*jobs.Job, error) {
	job := &jobs.Job{
		ID:         jobID,
		OwnerID:    ownerID,
		Type:       jobs.TypePreprocess,
		Status:     jobs.StatusPending,
		Progress:   0,
		InputFiles: inputFiles,
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, job); err != nil {
		s.logger.Warn("status cache set failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	if err := s.dispatch(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// RunInference validates the source preprocess job, then creates and
// dispatches an inference job whose inputs are the source job's outputs.
func (s *JobService) RunInference(ctx context.Context, ownerID, sourceJobID string) (*jobs.Job, error) {
	source, err := s.ValidateForInference(ctx, ownerID, sourceJobID)
	if err != nil {
		return nil, err
	}

	job := &jobs.Job{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		Type:       jobs.TypeInference,
		Status:     jobs.StatusPending,
		Progress:   0,
		InputFiles: inferenceInputs(source.OutputFiles),
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, job); err != nil {
		s.logger.Warn("status cache set failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	if err := s.dispatch(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// ValidateForInference enforces the stage-dependency contract: the source
// job must exist, belong to the caller, be completed, and have outputs. On
// success it returns the source job so inference inputs can be derived from
// its outputs — the sole coupling between the two stages.
func (s *JobService) ValidateForInference(ctx context.Context, ownerID, jobID string) (*jobs.Job, error) {
	job, err := s.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != jobs.StatusCompleted {
		return nil, &jobs.InvalidStateError{Reason: "preprocessing not complete"}
	}
	if len(job.OutputFiles) == 0 {
		return nil, &jobs.InvalidStateError{Reason: "no output files available from preprocessing"}
	}
	return job, nil
}

// GetJob loads a job and authorizes the caller against it.
func (s *JobService) GetJob(ctx context.Context, ownerID, jobID string) (*jobs.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := job.Authorize(ownerID); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJobStatus answers a status poll, preferring the cache and falling back
// to the record store (backfilling the cache on a miss).
func (s *JobService) GetJobStatus(ctx context.Context, ownerID, jobID string) (jobs.JobStatus, int, error) {
	if entry, err := s.cache.Get(ctx, jobID); err == nil {
		if entry.OwnerID != ownerID {
			return "", 0, jobs.ErrForbidden
		}
		return entry.Status, entry.Progress, nil
	}

	job, err := s.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return "", 0, err
	}

	if err := s.cache.Set(ctx, job); err != nil {
		s.logger.Warn("status cache set failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	return job.Status, job.Progress, nil
}

// JobList is one page of a caller's jobs, newest first.
type JobList struct {
	Jobs     []*jobs.Job
	Total    int
	Page     int
	PageSize int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListJobs returns one page of the caller's jobs, newest first. Pages are
// 1-based; out-of-range page and size values are normalized, not rejected.
func (s *JobService) ListJobs(ctx context.Context, ownerID string, page, pageSize int) (*JobList, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	list, total, err := s.repo.GetJobsByOwner(ctx, ownerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &JobList{Jobs: list, Total: total, Page: page, PageSize: pageSize}, nil
}

// DeleteJob removes the record and releases its artifacts. Artifact and
// cache cleanup are best-effort: failures are logged and never block
// deletion of the record itself.
func (s *JobService) DeleteJob(ctx context.Context, ownerID, jobID string) error {
	job, err := s.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return err
	}

	if err := s.files.RemoveJob(job.ID); err != nil {
		s.logger.Warn("artifact cleanup failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
	if err := s.cache.Delete(ctx, job.ID); err != nil {
		s.logger.Warn("status cache delete failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	return s.repo.DeleteJob(ctx, job.ID)
}

// TriggerJob re-dispatches a job stuck in pending. Any other status is an
// informational no-op reporting the current state, never a second dispatch.
func (s *JobService) TriggerJob(ctx context.Context, ownerID, jobID string) (*TriggerResult, error) {
	job, err := s.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != jobs.StatusPending {
		return &TriggerResult{Job: job, Triggered: false}, nil
	}
	if len(job.InputFiles) == 0 {
		return nil, &jobs.InvalidStateError{Reason: "job has no input files"}
	}

	if err := s.dispatch(ctx, job); err != nil {
		return nil, err
	}
	return &TriggerResult{Job: job, Triggered: true}, nil
}

func (s *JobService) dispatch(ctx context.Context, job *jobs.Job) error {
	msg := &jobs.DispatchMessage{
		JobID:      job.ID,
		JobType:    job.Type,
		InputFiles: job.InputFiles,
	}
	queue := jobs.QueueForType(job.Type)

	if err := s.queue.Dispatch(ctx, queue, msg); err != nil {
		var de *jobs.DispatchError
		if !errors.As(err, &de) {
			err = &jobs.DispatchError{Queue: queue, Err: err}
		}
		s.logger.Error("dispatch failed",
			zap.String("job_id", job.ID),
			zap.String("queue", queue),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("job dispatched",
		zap.String("job_id", job.ID),
		zap.String("queue", queue),
		zap.String("job_type", string(job.Type)),
	)
	return nil
}

// inferenceInputs derives inference inputs from preprocess output pairs:
// the low-resolution member of each pair is what the model consumes.
func inferenceInputs(outputs []jobs.OutputFile) []string {
	inputs := make([]string, 0, len(outputs))
	for _, out := range outputs {
		switch {
		case out.LR != "":
			inputs = append(inputs, out.LR)
		case out.SR != "":
			inputs = append(inputs, out.SR)
		case out.HR != "":
			inputs = append(inputs, out.HR)
		}
	}
	return inputs
}
