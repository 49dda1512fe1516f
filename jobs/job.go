package jobs

import (
	"time"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions may leave this status.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type JobType string

const (
	TypePreprocess JobType = "preprocess"
	TypeInference  JobType = "inference"
)

// Queue names double as Kafka topics. Each selects a worker pool.
const (
	QueuePreprocessing = "preprocessing"
	QueueInference     = "inference"
)

// QueueForType returns the queue a job of the given type is dispatched to.
func QueueForType(t JobType) string {
	if t == TypeInference {
		return QueueInference
	}
	return QueuePreprocessing
}

// OutputFile is one produced artifact reference. Preprocess jobs emit LR/HR
// pairs; inference jobs emit a single super-resolved reference.
type OutputFile struct {
	LR string `json:"lr,omitempty"`
	HR string `json:"hr,omitempty"`
	SR string `json:"sr,omitempty"`
}

// Job is the unit of pipeline work, either a preprocessing stage or an
// inference stage. The record store row is the single source of truth for a
// job; the api and worker tiers share no other state.
type Job struct {
	ID           string
	OwnerID      string
	Type         JobType
	Status       JobStatus
	Progress     int
	InputFiles   []string
	OutputFiles  []OutputFile
	// PartialOutputs accumulates per-file results while the job is still
	// processing. OutputFiles stays empty until the job completes.
	PartialOutputs []OutputFile
	Metrics        map[string]float64
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Authorize checks that the principal owns the job. Fails closed with
// ErrForbidden; callers must run this before any read or mutation.
func (j *Job) Authorize(ownerID string) error {
	if j.OwnerID != ownerID {
		return ErrForbidden
	}
	return nil
}
