package jobs

// DispatchMessage is the wire format published to a queue and consumed by a
// worker. The Kafka message key is always the job id, which is the
// deduplication key guaranteeing at most one concurrent execution per job.
type DispatchMessage struct {
	JobID      string   `json:"job_id"`
	JobType    JobType  `json:"job_type"`
	InputFiles []string `json:"input_files"`
}
