package jobs

import (
	"time"
)

// State machine: pending -> processing -> {completed, failed}. Terminal
// states freeze the job; progress only moves forward. The functions here
// mutate the in-memory job and do no I/O — persisting the result is the
// caller's responsibility.

// Start moves a pending job into processing and stamps started_at once.
// Starting an already-processing or terminal job is rejected. The record
// store's guarded claim update enforces the same rule atomically; this is
// the in-memory statement of it.
func Start(j *Job, now time.Time) error {
	if j.Status.Terminal() {
		return invalidState("job %s is already %s", j.ID, j.Status)
	}
	if j.Status == StatusProcessing {
		return invalidState("job %s is already processing", j.ID)
	}
	j.Status = StatusProcessing
	if j.StartedAt == nil {
		t := now
		j.StartedAt = &t
	}
	return nil
}

// AdvanceProgress records a progress report. Progress must stay within
// [0,100] and never regress; a lower value than the stored one is rejected
// rather than clamped, so a misbehaving worker is surfaced instead of hidden.
func AdvanceProgress(j *Job, percent int) error {
	if j.Status != StatusProcessing {
		return invalidState("job %s is %s, not processing", j.ID, j.Status)
	}
	if percent < 0 || percent > 100 {
		return invalidState("progress %d out of range", percent)
	}
	if percent < j.Progress {
		return invalidState("progress regressed from %d to %d", j.Progress, percent)
	}
	j.Progress = percent
	return nil
}

// AppendPartial stages one produced artifact while the job is still running.
// Partials live next to, not in, OutputFiles: output_files must stay empty
// until the job completes.
func AppendPartial(j *Job, entry OutputFile) error {
	if j.Status != StatusProcessing {
		return invalidState("job %s is %s, not processing", j.ID, j.Status)
	}
	j.PartialOutputs = append(j.PartialOutputs, entry)
	return nil
}

// Complete finishes a processing job. Outputs must be non-empty; an empty
// argument promotes the staged partial outputs. Progress is forced to 100
// and completed_at is stamped exactly once.
func Complete(j *Job, outputs []OutputFile, metrics map[string]float64, now time.Time) error {
	if j.Status != StatusProcessing {
		return invalidState("job %s is %s, not processing", j.ID, j.Status)
	}
	if len(outputs) == 0 {
		outputs = j.PartialOutputs
	}
	if len(outputs) == 0 {
		return invalidState("job %s completed without output files", j.ID)
	}
	j.Status = StatusCompleted
	j.Progress = 100
	j.OutputFiles = outputs
	j.PartialOutputs = nil
	if metrics != nil {
		j.Metrics = metrics
	}
	if j.CompletedAt == nil {
		t := now
		j.CompletedAt = &t
	}
	return nil
}

// Fail moves a processing job into failed. A reason is required.
func Fail(j *Job, reason string, now time.Time) error {
	if j.Status.Terminal() {
		return invalidState("job %s is already %s", j.ID, j.Status)
	}
	if j.Status != StatusProcessing {
		return invalidState("job %s is %s, not processing", j.ID, j.Status)
	}
	if reason == "" {
		return invalidState("job %s failed without an error message", j.ID)
	}
	j.Status = StatusFailed
	j.ErrorMessage = reason
	if j.CompletedAt == nil {
		t := now
		j.CompletedAt = &t
	}
	return nil
}
