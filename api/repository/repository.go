package repository

import (
	"context"

	"mriscale/jobs"
)

// Repository is the Job Record Store. All mutations are atomic single-record
// statements; the orchestration core never needs a cross-record transaction.
type Repository interface {
	CreateJob(ctx context.Context, job *jobs.Job) error
	GetJob(ctx context.Context, id string) (*jobs.Job, error)
	// GetJobsByOwner returns one page of the owner's jobs, newest first,
	// along with the owner's total job count.
	GetJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*jobs.Job, int, error)
	UpdateJob(ctx context.Context, job *jobs.Job) error
	DeleteJob(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
