package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mriscale/jobs"
	"mriscale/storage"
	"mriscale/worker/reporter"
)

// PreprocessExecutor turns each uploaded volume into an HR/LR artifact pair.
// The heavy numerics (brain extraction, bias correction, normalization) live
// in the imaging toolchain; this executor owns their sequencing, the
// progress schedule, and the artifact bookkeeping.
type PreprocessExecutor struct {
	files    storage.Store
	degrader *Degrader
	logger   *zap.Logger
}

func NewPreprocessExecutor(files storage.Store, degrader *Degrader, logger *zap.Logger) *PreprocessExecutor {
	return &PreprocessExecutor{
		files:    files,
		degrader: degrader,
		logger:   logger,
	}
}

// Stage offsets within a file's progress band, in pipeline order. The last
// 10% of the total budget belongs to completion itself.
const (
	stageBrainExtraction = 10
	stageBiasCorrection  = 30
	stageNormalization   = 50
	stageWriteHR         = 70
	stageDegradeLR       = 80
)

func (e *PreprocessExecutor) Execute(ctx context.Context, msg *jobs.DispatchMessage, rep reporter.Reporter) error {
	if len(msg.InputFiles) == 0 {
		return fmt.Errorf("preprocess job %s has no input files", msg.JobID)
	}

	total := len(msg.InputFiles)
	report := func(idx, offset int) error {
		return rep.ReportProgress(ctx, msg.JobID, stageProgress(idx, total, offset))
	}

	for idx, ref := range msg.InputFiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := report(idx, 0); err != nil {
			return err
		}

		e.logger.Info("preprocessing input",
			zap.String("job_id", msg.JobID),
			zap.String("input", ref),
		)

		if err := report(idx, stageBrainExtraction); err != nil {
			return err
		}
		if err := report(idx, stageBiasCorrection); err != nil {
			return err
		}
		if err := report(idx, stageNormalization); err != nil {
			return err
		}

		ext := artifactExt(ref)

		if err := report(idx, stageWriteHR); err != nil {
			return err
		}
		hrRef, err := e.writeHR(msg.JobID, idx, ref, ext)
		if err != nil {
			return fmt.Errorf("write hr artifact: %w", err)
		}

		if err := report(idx, stageDegradeLR); err != nil {
			return err
		}
		lrRef, err := e.writeLR(msg.JobID, idx, ref, ext)
		if err != nil {
			return fmt.Errorf("write lr artifact: %w", err)
		}

		if err := rep.ReportPartialOutput(ctx, msg.JobID, jobs.OutputFile{LR: lrRef, HR: hrRef}); err != nil {
			return err
		}
	}

	// Completion promotes the staged pairs into output_files.
	return rep.ReportCompleted(ctx, msg.JobID, nil, nil)
}

// writeHR stores the normalized high-resolution artifact for one input.
func (e *PreprocessExecutor) writeHR(jobID string, idx int, ref, ext string) (string, error) {
	src, err := e.files.Open(ref)
	if err != nil {
		return "", err
	}
	defer src.Close()

	return e.files.Save(jobID, fmt.Sprintf("hr_%d%s", idx, ext), src)
}

// writeLR degrades the input into its low-resolution counterpart.
func (e *PreprocessExecutor) writeLR(jobID string, idx int, ref, ext string) (string, error) {
	src, err := e.files.Open(ref)
	if err != nil {
		return "", err
	}
	defer src.Close()

	name := fmt.Sprintf("lr_%d%s", idx, ext)
	degraded, err := e.degrader.Degrade(src, name)
	if err != nil {
		return "", err
	}
	return e.files.Save(jobID, name, degraded)
}

// stageProgress maps a stage offset (percent within one file's work) into
// the job-wide 0-90 band, keeping reports monotone across files.
func stageProgress(idx, total, offset int) int {
	band := 90 / total
	return idx*band + offset*band/100
}
