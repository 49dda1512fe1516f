package dto

import (
	"fmt"
	"time"

	"mriscale/jobs"
)

const timeLayout = "2006-01-02T15:04:05Z"

type JobResponse struct {
	ID           string             `json:"id"`
	JobType      string             `json:"job_type"`
	Status       string             `json:"status"`
	Progress     int                `json:"progress"`
	InputFiles   []string           `json:"input_files,omitempty"`
	OutputFiles  []jobs.OutputFile  `json:"output_files,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	CreatedAt    string             `json:"created_at"`
	StartedAt    *string            `json:"started_at,omitempty"`
	CompletedAt  *string            `json:"completed_at,omitempty"`
}

type JobListResponse struct {
	Jobs     []*JobResponse `json:"jobs"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type UploadResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	FilesUploaded int    `json:"files_uploaded"`
	Message       string `json:"message"`
}

type InferenceRequest struct {
	SourceJobID string `json:"source_job_id"`
}

type InferenceResponse struct {
	InferenceJobID string `json:"inference_job_id"`
	Status         string `json:"status"`
	Message        string `json:"message"`
}

type StatusResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

type TriggerResponse struct {
	JobID     string `json:"job_id"`
	Triggered bool   `json:"triggered"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func FromJob(job *jobs.Job) *JobResponse {
	return &JobResponse{
		ID:           job.ID,
		JobType:      string(job.Type),
		Status:       string(job.Status),
		Progress:     job.Progress,
		InputFiles:   job.InputFiles,
		OutputFiles:  job.OutputFiles,
		Metrics:      job.Metrics,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.Format(timeLayout),
		StartedAt:    formatTime(job.StartedAt),
		CompletedAt:  formatTime(job.CompletedAt),
	}
}

// TriggerMessage words the informational no-op result for a job that is no
// longer pending.
func TriggerMessage(triggered bool, status jobs.JobStatus) string {
	if triggered {
		return "Job dispatched"
	}
	return fmt.Sprintf("Job is %s; nothing to trigger", status)
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(timeLayout)
	return &formatted
}
