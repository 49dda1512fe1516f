package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mriscale/jobs"
	"mriscale/storage"
	"mriscale/worker/reporter"
)

// InferenceExecutor runs the super-resolution model over the LR artifacts a
// completed preprocess job produced. The model is an injected capability,
// loaded once at worker startup.
type InferenceExecutor struct {
	files  storage.Store
	model  *ModelManager
	logger *zap.Logger
}

func NewInferenceExecutor(files storage.Store, model *ModelManager, logger *zap.Logger) *InferenceExecutor {
	return &InferenceExecutor{
		files:  files,
		model:  model,
		logger: logger,
	}
}

func (e *InferenceExecutor) Execute(ctx context.Context, msg *jobs.DispatchMessage, rep reporter.Reporter) error {
	if len(msg.InputFiles) == 0 {
		return fmt.Errorf("inference job %s has no input files", msg.JobID)
	}
	if e.model == nil {
		return fmt.Errorf("inference job %s: model not loaded", msg.JobID)
	}

	// Model ready.
	if err := rep.ReportProgress(ctx, msg.JobID, 10); err != nil {
		return err
	}

	total := len(msg.InputFiles)
	metrics := map[string]float64{}

	for idx, ref := range msg.InputFiles {
		if err := ctx.Err(); err != nil {
			return err
		}

		base := 20 + idx*70/total
		if err := rep.ReportProgress(ctx, msg.JobID, base); err != nil {
			return err
		}

		src, err := e.files.Open(ref)
		if err != nil {
			return fmt.Errorf("open lr artifact: %w", err)
		}

		name := fmt.Sprintf("sr_%d%s", idx, artifactExt(ref))
		out, fileMetrics, err := e.model.Apply(src, name)
		src.Close()
		if err != nil {
			return fmt.Errorf("apply model: %w", err)
		}

		srRef, err := e.files.Save(msg.JobID, name, out)
		if err != nil {
			return fmt.Errorf("write sr artifact: %w", err)
		}

		for k, v := range fileMetrics {
			metrics[k] = v
		}

		e.logger.Info("super-resolved artifact",
			zap.String("job_id", msg.JobID),
			zap.String("input", ref),
			zap.String("output", srRef),
		)

		if err := rep.ReportPartialOutput(ctx, msg.JobID, jobs.OutputFile{SR: srRef}); err != nil {
			return err
		}
	}

	return rep.ReportCompleted(ctx, msg.JobID, nil, metrics)
}
