package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billflowhq/billflow/pkg/job"
	"github.com/billflowhq/billflow/pkg/pg"
)

// JobRepository implements the job store interfaces on PostgreSQL. Claiming
// uses FOR UPDATE SKIP LOCKED so concurrent workers never grab the same job.
type JobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a JobRepository.
func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `id, queue, job_type, name, key, payload, status,
	retry_count, max_retries, scheduled_at, locked_until, locked_by,
	processed_at, error, created_at`

// CreateJob implements job.EnqueuerStore and job.SchedulerStore. A partial
// unique index over key for pending rows backs the idempotency contract.
func (r *JobRepository) CreateJob(ctx context.Context, j *job.Job) error {
	var key *string
	if j.Key != "" {
		key = &j.Key
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		j.ID, j.Queue, j.Type, j.Name, key, j.Payload, j.Status,
		j.RetryCount, j.MaxRetries, j.ScheduledAt, j.LockedUntil, j.LockedBy,
		j.ProcessedAt, j.Error, j.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return job.ErrDuplicateJob
		}
		return err
	}
	return nil
}

// PendingJobByName implements job.SchedulerStore.
func (r *JobRepository) PendingJobByName(ctx context.Context, name string) (*job.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE name = $1 AND status = 'pending' LIMIT 1`, name)
	j, err := scanJob(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, job.ErrNoJobToClaim
		}
		return nil, err
	}
	return j, nil
}

// ClaimJob implements job.WorkerStore. SKIP LOCKED lets concurrent claimers
// pass over rows another transaction is taking.
func (r *JobRepository) ClaimJob(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*job.Job, error) {
	lockedUntil := time.Now().Add(lockDuration)
	row := r.pool.QueryRow(ctx, `
		UPDATE jobs SET status = 'processing', locked_until = $2, locked_by = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND queue = ANY($1)
			  AND scheduled_at <= now()
			ORDER BY scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, queues, lockedUntil, workerID)

	j, err := scanJob(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, job.ErrNoJobToClaim
		}
		return nil, err
	}
	return j, nil
}

// CompleteJob implements job.WorkerStore.
func (r *JobRepository) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'completed', processed_at = now(),
			locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'processing'`, jobID)
	return err
}

// FailJob implements job.WorkerStore. Jobs with retries left go back to
// pending with linear backoff (30s per attempt so far); the key is cleared on
// terminal failure so a fresh enqueue with the same key is possible.
func (r *JobRepository) FailJob(ctx context.Context, jobID uuid.UUID, errorMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET
			retry_count = retry_count + 1,
			error = $2,
			locked_until = NULL,
			locked_by = NULL,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			key = CASE WHEN retry_count + 1 >= max_retries THEN NULL ELSE key END,
			scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at
				ELSE now() + make_interval(secs => (retry_count + 1) * 30) END
		WHERE id = $1 AND status = 'processing'`, jobID, errorMsg)
	return err
}

// MoveToDeadLetter implements job.WorkerStore.
func (r *JobRepository) MoveToDeadLetter(ctx context.Context, jobID uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO jobs_dead_letter (id, job_id, queue, job_type, name,
				payload, error, retry_count, failed_at, created_at)
			SELECT gen_random_uuid(), id, queue, job_type, name,
				payload, COALESCE(error, ''), retry_count, now(), now()
			FROM jobs WHERE id = $1`, jobID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
		return err
	})
}

// ReleaseExpiredLocks resets processing jobs whose lock lapsed back to
// pending. Run it periodically so jobs claimed by crashed workers recover.
func (r *JobRepository) ReleaseExpiredLocks(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'pending', locked_until = NULL, locked_by = NULL
		WHERE status = 'processing' AND locked_until IS NOT NULL AND locked_until < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanJob(row rowScanner) (*job.Job, error) {
	var j job.Job
	var key *string
	err := row.Scan(&j.ID, &j.Queue, &j.Type, &j.Name, &key, &j.Payload, &j.Status,
		&j.RetryCount, &j.MaxRetries, &j.ScheduledAt, &j.LockedUntil, &j.LockedBy,
		&j.ProcessedAt, &j.Error, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	if key != nil {
		j.Key = *key
	}
	return &j, nil
}
