package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"marketdash/internal/apperr"
	"marketdash/internal/models"
)

func scanJob(row pgx.Row, j *models.Job) error {
	return row.Scan(&j.JobID, &j.DatasetID, &j.OwnerID, &j.Type, &j.StorageKey,
		&j.Status, &j.TotalChunks, &j.ChunksDone, &j.Meta, &j.CreatedAt, &j.UpdatedAt)
}

const jobColumns = `job_id, dataset_id, owner_id, type, storage_key, status,
	total_chunks, chunks_done, meta, created_at, updated_at`

func (r *Repository) CreateJob(ctx context.Context, j *models.Job) error {
	return r.withTenant(ctx, j.OwnerID, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO jobs (job_id, dataset_id, owner_id, type, storage_key, status, meta)
			VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, '{}'::jsonb))
			RETURNING created_at, updated_at`,
			j.JobID, j.DatasetID, j.OwnerID, j.Type, j.StorageKey, j.Status, j.Meta,
		).Scan(&j.CreatedAt, &j.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetJob(ctx context.Context, ownerID int64, jobID uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		return scanJob(tx.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE job_id = $1", jobID), j)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return j, nil
}

func (r *Repository) ListJobs(ctx context.Context, ownerID int64, limit, offset int) ([]models.Job, error) {
	var out []models.Job
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, "SELECT "+jobColumns+` FROM jobs
			ORDER BY created_at DESC, job_id DESC LIMIT $1 OFFSET $2`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var j models.Job
			if err := scanJob(rows, &j); err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if out == nil {
		out = []models.Job{}
	}
	return out, nil
}

// SetJobStatus advances a job's status. Terminal statuses are frozen: updates
// against a completed or failed job are silently dropped so late workers
// cannot resurrect a job.
func (r *Repository) SetJobStatus(ctx context.Context, ownerID int64, jobID uuid.UUID, status string) error {
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE jobs SET status = $1, updated_at = now()
			WHERE job_id = $2 AND status NOT IN ($3, $4)`,
			status, jobID, models.JobCompleted, models.JobFailed)
		if err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		return nil
	})
}

func (r *Repository) SetJobTotalChunks(ctx context.Context, ownerID int64, jobID uuid.UUID, total int) error {
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE jobs SET total_chunks = $1, updated_at = now() WHERE job_id = $2`,
			total, jobID)
		if err != nil {
			return fmt.Errorf("update job total chunks: %w", err)
		}
		return nil
	})
}

// IncrementChunksDone bumps the progress counter atomically and returns the
// new (done, total) pair so the caller can detect completion exactly once.
func (r *Repository) IncrementChunksDone(ctx context.Context, ownerID int64, jobID uuid.UUID) (done, total int, err error) {
	err = r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			UPDATE jobs SET chunks_done = chunks_done + 1, updated_at = now()
			WHERE job_id = $1
			RETURNING chunks_done, total_chunks`,
			jobID,
		).Scan(&done, &total)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, apperr.New(apperr.NotFound, "job not found")
	}
	if err != nil {
		return 0, 0, fmt.Errorf("increment chunks done: %w", err)
	}
	return done, total, nil
}

// RecordJobBatch counts one committed in-memory batch: total_chunks and
// chunks_done advance together, so the status endpoint shows live progress
// for jobs that never touch the chunk table.
func (r *Repository) RecordJobBatch(ctx context.Context, ownerID int64, jobID uuid.UUID) (done, total int, err error) {
	err = r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			UPDATE jobs SET total_chunks = total_chunks + 1, chunks_done = chunks_done + 1, updated_at = now()
			WHERE job_id = $1
			RETURNING chunks_done, total_chunks`,
			jobID,
		).Scan(&done, &total)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, apperr.New(apperr.NotFound, "job not found")
	}
	if err != nil {
		return 0, 0, fmt.Errorf("record job batch: %w", err)
	}
	return done, total, nil
}

// FailStalledJobs flips every running job untouched since cutoff to failed
// and appends reason to its error list. It runs as the maintenance actor
// (see schema.sql) because the reaper has no tenant of its own; the returned
// jobs let the caller settle datasets and notify subscribers per owner.
func (r *Repository) FailStalledJobs(ctx context.Context, cutoff time.Time, reason string) ([]models.Job, error) {
	stallErr, err := json.Marshal([]models.JobError{{ChunkIndex: -1, Reason: reason}})
	if err != nil {
		return nil, fmt.Errorf("encode stall reason: %w", err)
	}
	var out []models.Job
	err = r.withMaintenance(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE jobs SET
				status = $1,
				meta = jsonb_set(meta, '{errors}',
					COALESCE(meta->'errors', '[]'::jsonb) || $2::jsonb),
				updated_at = now()
			WHERE status = $3 AND updated_at < $4
			RETURNING `+jobColumns,
			models.JobFailed, stallErr, models.JobRunning, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var j models.Job
			if err := scanJob(rows, &j); err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("fail stalled jobs: %w", err)
	}
	return out, nil
}

// AppendJobErrors merges row and chunk failures into the job's meta under the
// "errors" key. The list is capped in the pipeline, not here.
func (r *Repository) AppendJobErrors(ctx context.Context, ownerID int64, jobID uuid.UUID, errs []models.JobError) error {
	if len(errs) == 0 {
		return nil
	}
	payload, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode job errors: %w", err)
	}
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE jobs SET
				meta = jsonb_set(meta, '{errors}',
					COALESCE(meta->'errors', '[]'::jsonb) || $1::jsonb),
				updated_at = now()
			WHERE job_id = $2`,
			payload, jobID)
		if err != nil {
			return fmt.Errorf("append job errors: %w", err)
		}
		return nil
	})
}

// SetJobMetaField writes one scalar field into the job meta document.
func (r *Repository) SetJobMetaField(ctx context.Context, ownerID int64, jobID uuid.UUID, field string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode meta field: %w", err)
	}
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE jobs SET meta = jsonb_set(meta, ARRAY[$1], $2::jsonb), updated_at = now()
			WHERE job_id = $3`,
			field, payload, jobID)
		if err != nil {
			return fmt.Errorf("set meta field %s: %w", field, err)
		}
		return nil
	})
}

func (r *Repository) DeleteJob(ctx context.Context, ownerID int64, jobID uuid.UUID) error {
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM jobs WHERE job_id = $1", jobID)
		if err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.NotFound, "job not found")
		}
		return nil
	})
}

// CreateChunks registers every chunk of a persisted-chunks job in one batch.
func (r *Repository) CreateChunks(ctx context.Context, ownerID int64, chunks []models.JobChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range chunks {
			batch.Queue(`
				INSERT INTO job_chunks (job_id, chunk_index, storage_key, status)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (job_id, chunk_index) DO NOTHING`,
				c.JobID, c.ChunkIndex, c.StorageKey, c.Status)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range chunks {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("insert chunk: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) SetChunkStatus(ctx context.Context, ownerID int64, jobID uuid.UUID, index int, status, errMsg string) error {
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE job_chunks SET status = $1, error = $2
			WHERE job_id = $3 AND chunk_index = $4`,
			status, errMsg, jobID, index)
		if err != nil {
			return fmt.Errorf("update chunk status: %w", err)
		}
		return nil
	})
}

func (r *Repository) ListChunks(ctx context.Context, ownerID int64, jobID uuid.UUID) ([]models.JobChunk, error) {
	var out []models.JobChunk
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT job_id, chunk_index, storage_key, status, COALESCE(error, '')
			FROM job_chunks WHERE job_id = $1 ORDER BY chunk_index`,
			jobID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c models.JobChunk
			if err := rows.Scan(&c.JobID, &c.ChunkIndex, &c.StorageKey, &c.Status, &c.Error); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return out, nil
}
