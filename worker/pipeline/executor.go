// Package pipeline holds the executors that perform the actual pipeline
// stages. The orchestration core treats them as opaque collaborators: they
// consume a dispatch message and talk back exclusively through the progress
// reporter.
package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"mriscale/jobs"
	"mriscale/worker/reporter"
)

// Executor runs one job end to end, reporting progress, partial outputs,
// and the terminal outcome through the reporter. A returned error is
// converted into a failure report by the caller; executors never crash the
// worker process.
type Executor interface {
	Execute(ctx context.Context, msg *jobs.DispatchMessage, rep reporter.Reporter) error
}

// Registry selects the executor for a job type.
type Registry map[jobs.JobType]Executor

func (r Registry) For(t jobs.JobType) (Executor, bool) {
	e, ok := r[t]
	return e, ok
}

// artifactExt keeps the input's extension on produced artifacts, treating
// .nii.gz as a single unit.
func artifactExt(ref string) string {
	base := strings.ToLower(filepath.Base(ref))
	if strings.HasSuffix(base, ".nii.gz") {
		return ".nii.gz"
	}
	return filepath.Ext(base)
}
