package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mriscale/jobs"
)

// Repository is the worker-side view of the record store: claim a job, load
// it, apply a state-machine transition, store it back. Nothing else is
// needed on this tier.
type Repository interface {
	// ClaimJob atomically moves a pending job into processing and returns
	// the claimed row. Exactly one concurrent caller per job id wins; the
	// rest get InvalidStateError (or ErrNotFound if the row is gone).
	ClaimJob(ctx context.Context, id string) (*jobs.Job, error)
	GetJob(ctx context.Context, id string) (*jobs.Job, error)
	UpdateJob(ctx context.Context, job *jobs.Job) error
}

const jobColumns = `id, owner_id, job_type, status, progress, input_files, output_files,
	partial_outputs, metrics, error_message, created_at, updated_at, started_at, completed_at`

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

// ClaimJob runs the status-guarded claim update. The WHERE clause is the
// compare-and-set: two concurrent claims for the same id resolve to one
// winner, the loser matches zero rows.
func (r *PostgresRepo) ClaimJob(ctx context.Context, id string) (*jobs.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2, started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING ` + jobColumns

	job, err := scanJob(r.pool.QueryRow(ctx, query, id, jobs.StatusProcessing, jobs.StatusPending))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	// Zero rows: the job is gone, or someone else holds the claim.
	current, getErr := r.GetJob(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, &jobs.InvalidStateError{Reason: fmt.Sprintf("job %s is already %s", id, current.Status)}
}

func (r *PostgresRepo) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobs.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (r *PostgresRepo) UpdateJob(ctx context.Context, job *jobs.Job) error {
	inputs, err := json.Marshal(job.InputFiles)
	if err != nil {
		return fmt.Errorf("marshal input files: %w", err)
	}
	outputs, err := json.Marshal(job.OutputFiles)
	if err != nil {
		return fmt.Errorf("marshal output files: %w", err)
	}
	partials, err := json.Marshal(job.PartialOutputs)
	if err != nil {
		return fmt.Errorf("marshal partial outputs: %w", err)
	}
	metrics, err := json.Marshal(job.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	query := `
		UPDATE jobs
		SET status = $2, progress = $3, input_files = $4, output_files = $5,
			partial_outputs = $6, metrics = $7, error_message = $8,
			started_at = $9, completed_at = $10, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.Progress,
		inputs,
		outputs,
		partials,
		metrics,
		job.ErrorMessage,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		job      jobs.Job
		inputs   []byte
		outputs  []byte
		partials []byte
		metrics  []byte
	)
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Type,
		&job.Status,
		&job.Progress,
		&inputs,
		&outputs,
		&partials,
		&metrics,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		data []byte
		dst  any
	}{
		{inputs, &job.InputFiles},
		{outputs, &job.OutputFiles},
		{partials, &job.PartialOutputs},
		{metrics, &job.Metrics},
	} {
		if len(field.data) == 0 {
			continue
		}
		if err := json.Unmarshal(field.data, field.dst); err != nil {
			return nil, fmt.Errorf("unmarshal job field: %w", err)
		}
	}
	return &job, nil
}
