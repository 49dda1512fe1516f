package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mriscale/jobs"
	"mriscale/worker/pipeline"
	"mriscale/worker/reporter"
)

// Processor is the boundary between queue delivery and pipeline execution.
// It claims the job, hands it to the right executor, and converts executor
// errors and panics into failure reports. A worker process never dies
// because one job went wrong.
type Processor struct {
	executors pipeline.Registry
	reporter  reporter.Reporter
	logger    *zap.Logger
}

func NewProcessor(executors pipeline.Registry, rep reporter.Reporter, logger *zap.Logger) *Processor {
	return &Processor{
		executors: executors,
		reporter:  rep,
		logger:    logger,
	}
}

func (p *Processor) Process(ctx context.Context, msg *jobs.DispatchMessage) error {
	// Claim the job. Duplicate deliveries and trigger races land here and
	// are dropped: the claim only succeeds from pending.
	if err := p.reporter.Start(ctx, msg.JobID); err != nil {
		switch {
		case jobs.IsInvalidState(err):
			p.logger.Info("skipping already-claimed job",
				zap.String("job_id", msg.JobID),
				zap.Error(err),
			)
			return nil
		case errors.Is(err, jobs.ErrNotFound):
			p.logger.Warn("dispatch for missing job",
				zap.String("job_id", msg.JobID),
			)
			return nil
		default:
			return err
		}
	}

	executor, ok := p.executors.For(msg.JobType)
	if !ok {
		return p.fail(ctx, msg.JobID, fmt.Sprintf("no executor for job type %q", msg.JobType))
	}

	if err := p.execute(ctx, executor, msg); err != nil {
		return p.fail(ctx, msg.JobID, err.Error())
	}
	return nil
}

// execute runs the pipeline with a panic guard.
func (p *Processor) execute(ctx context.Context, executor pipeline.Executor, msg *jobs.DispatchMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("executor panicked",
				zap.String("job_id", msg.JobID),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("pipeline panicked: %v", r)
		}
	}()
	return executor.Execute(ctx, msg, p.reporter)
}

func (p *Processor) fail(ctx context.Context, jobID, reason string) error {
	p.logger.Error("job execution failed",
		zap.String("job_id", jobID),
		zap.String("reason", reason),
	)
	// Only record store unavailability propagates from here; the worker
	// framework redelivers on its own schedule.
	return p.reporter.ReportFailed(ctx, jobID, reason)
}
