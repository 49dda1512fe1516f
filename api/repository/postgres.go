package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mriscale/jobs"
)

const jobColumns = `id, owner_id, job_type, status, progress, input_files, output_files,
	partial_outputs, metrics, error_message, created_at, updated_at, started_at, completed_at`

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepo) CreateJob(ctx context.Context, job *jobs.Job) error {
	inputs, outputs, partials, metrics, err := marshalJSONFields(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (id, owner_id, job_type, status, progress, input_files,
			output_files, partial_outputs, metrics, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err = r.pool.QueryRow(ctx, query,
		job.ID,
		job.OwnerID,
		job.Type,
		job.Status,
		job.Progress,
		inputs,
		outputs,
		partials,
		metrics,
		job.ErrorMessage,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		if isDuplicateKey(err) {
			return jobs.ErrConflict
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
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

func (r *PostgresRepo) GetJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*jobs.Job, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, job)
	}
	return result, total, rows.Err()
}

func (r *PostgresRepo) UpdateJob(ctx context.Context, job *jobs.Job) error {
	inputs, outputs, partials, metrics, err := marshalJSONFields(job)
	if err != nil {
		return err
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
		// Row vanished between load and store, e.g. a concurrent delete.
		return jobs.ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) DeleteJob(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
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

	if err := unmarshalJSONField(inputs, &job.InputFiles); err != nil {
		return nil, err
	}
	if err := unmarshalJSONField(outputs, &job.OutputFiles); err != nil {
		return nil, err
	}
	if err := unmarshalJSONField(partials, &job.PartialOutputs); err != nil {
		return nil, err
	}
	if err := unmarshalJSONField(metrics, &job.Metrics); err != nil {
		return nil, err
	}
	return &job, nil
}

func marshalJSONFields(job *jobs.Job) (inputs, outputs, partials, metrics []byte, err error) {
	if inputs, err = marshalJSONField(job.InputFiles); err != nil {
		return
	}
	if outputs, err = marshalJSONField(job.OutputFiles); err != nil {
		return
	}
	if partials, err = marshalJSONField(job.PartialOutputs); err != nil {
		return
	}
	metrics, err = marshalJSONField(job.Metrics)
	return
}

func marshalJSONField(v any) ([]byte, error) {
	switch val := v.(type) {
	case []string:
		if val == nil {
			return nil, nil
		}
	case []jobs.OutputFile:
		if val == nil {
			return nil, nil
		}
	case map[string]float64:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal job field: %w", err)
	}
	return data, nil
}

func unmarshalJSONField(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal job field: %w", err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
