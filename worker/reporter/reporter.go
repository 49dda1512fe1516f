// Package reporter is the worker-side write channel into the job record
// store. Pipeline executors see it as a narrow capability: report progress,
// stage partial outputs, finish, or fail. Every call loads the current job,
// applies the state machine, and persists the result.
package reporter

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mriscale/jobs"
	"mriscale/worker/repository"
)

// Reporter is the contract handed to pipeline executors.
type Reporter interface {
	// Start claims the job (pending -> processing) with a status-guarded
	// update, so at most one concurrent delivery per job id wins. An
	// InvalidStateError means another execution already claimed or finished
	// it; the caller drops the dispatch as a duplicate.
	Start(ctx context.Context, jobID string) error
	ReportProgress(ctx context.Context, jobID string, percent int) error
	ReportPartialOutput(ctx context.Context, jobID string, entry jobs.OutputFile) error
	ReportCompleted(ctx context.Context, jobID string, outputs []jobs.OutputFile, metrics map[string]float64) error
	ReportFailed(ctx context.Context, jobID, reason string) error
}

// StatusWriter mirrors status/progress into the poll cache.
type StatusWriter interface {
	Set(ctx context.Context, job *jobs.Job) error
}

type JobReporter struct {
	repo   repository.Repository
	cache  StatusWriter
	logger *zap.Logger
}

func NewJobReporter(repo repository.Repository, cache StatusWriter, logger *zap.Logger) *JobReporter {
	return &JobReporter{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// Start delegates the pending->processing transition to the record store's
// guarded claim update rather than a load-then-store, so two deliveries of
// the same job racing through here cannot both claim it.
func (r *JobReporter) Start(ctx context.Context, jobID string) error {
	job, err := r.repo.ClaimJob(ctx, jobID)
	if err != nil {
		return err
	}
	r.writeThrough(ctx, job)
	return nil
}

// ReportProgress records a progress report. A missing record is swallowed
// as a warning — the job may have been deleted while the worker was busy —
// but a regressed or out-of-range value is a caller bug and is returned.
func (r *JobReporter) ReportProgress(ctx context.Context, jobID string, percent int) error {
	job, err := r.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			r.logger.Warn("progress report for missing job",
				zap.String("job_id", jobID),
				zap.Int("progress", percent),
			)
			return nil
		}
		return err
	}

	if err := jobs.AdvanceProgress(job, percent); err != nil {
		r.logger.Warn("progress report rejected",
			zap.String("job_id", jobID),
			zap.Int("progress", percent),
			zap.Error(err),
		)
		return err
	}

	if err := r.repo.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			r.logger.Warn("job vanished during progress report", zap.String("job_id", jobID))
			return nil
		}
		return err
	}
	r.writeThrough(ctx, job)
	return nil
}

func (r *JobReporter) ReportPartialOutput(ctx context.Context, jobID string, entry jobs.OutputFile) error {
	job, err := r.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := jobs.AppendPartial(job, entry); err != nil {
		return err
	}
	return r.repo.UpdateJob(ctx, job)
}

func (r *JobReporter) ReportCompleted(ctx context.Context, jobID string, outputs []jobs.OutputFile, metrics map[string]float64) error {
	job, err := r.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := jobs.Complete(job, outputs, metrics, time.Now().UTC()); err != nil {
		return err
	}
	if err := r.repo.UpdateJob(ctx, job); err != nil {
		return err
	}

	r.writeThrough(ctx, job)
	r.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.Int("output_files", len(job.OutputFiles)),
	)
	return nil
}

// ReportFailed records a terminal failure. Missing records and already
// terminal jobs are warn-level no-ops; a worker must never crash on a
// dangling failure report. Record store unavailability is the only error
// that propagates.
func (r *JobReporter) ReportFailed(ctx context.Context, jobID, reason string) error {
	job, err := r.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			r.logger.Warn("failure report for missing job",
				zap.String("job_id", jobID),
				zap.String("reason", reason),
			)
			return nil
		}
		return err
	}

	if err := jobs.Fail(job, reason, time.Now().UTC()); err != nil {
		r.logger.Warn("failure report rejected",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
		return nil
	}

	if err := r.repo.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			r.logger.Warn("job vanished during failure report", zap.String("job_id", jobID))
			return nil
		}
		return err
	}

	r.writeThrough(ctx, job)
	r.logger.Info("job failed",
		zap.String("job_id", job.ID),
		zap.String("reason", reason),
	)
	return nil
}

func (r *JobReporter) writeThrough(ctx context.Context, job *jobs.Job) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, job); err != nil {
		r.logger.Warn("status cache write failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}
