package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrInvalidTransition is returned when a guarded status update matches no
// row, meaning the job is not in the expected prior state. Status moves
// forward only; failed and succeeded are terminal.
var ErrInvalidTransition = stderrors.New("job is not in the expected status for this transition")

// JobRepository handles generation job persistence
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, user_id, status, params, idempotency_key, cost, model,
	started_at, ended_at, error, created_at, updated_at`

// CreateIdempotent inserts the job conditionally on its idempotency key.
// Two concurrent submissions with identical content result in exactly one
// row: the loser of the race gets created=false and the surviving job.
func (r *JobRepository) CreateIdempotent(ctx context.Context, job *models.Job) (bool, *models.Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Status = models.JobQueued

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal job params: %w", err)
	}

	tag, err := r.db.Pool().Exec(ctx, `
		INSERT INTO jobs (id, user_id, status, params, idempotency_key, cost, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, job.ID, job.UserID, job.Status, paramsJSON, job.IdempotencyKey, job.Cost, job.Model, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return false, nil, errors.NewDatabaseError("job insert", err)
	}

	if tag.RowsAffected() == 1 {
		return true, job, nil
	}

	existing, err := r.GetByIdempotencyKey(ctx, job.IdempotencyKey)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// GetByIdempotencyKey retrieves a job by its dedupe key.
func (r *JobRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	row := r.db.Pool().QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key)
	job, err := scanJob(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("job", key)
		}
		return nil, errors.NewDatabaseError("job lookup by key", err)
	}
	return job, nil
}

// GetByID retrieves a job regardless of ownership. Internal use only; the
// HTTP surface always goes through GetByIDForUser.
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := r.db.Pool().QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("job", id.String())
		}
		return nil, errors.NewDatabaseError("job lookup", err)
	}
	return job, nil
}

// GetByIDForUser retrieves a job scoped to its owner. A job owned by a
// different user is reported as not found, never forbidden.
func (r *JobRepository) GetByIDForUser(ctx context.Context, id uuid.UUID, userID string) (*models.Job, error) {
	row := r.db.Pool().QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, id, userID)
	job, err := scanJob(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("job", id.String())
		}
		return nil, errors.NewDatabaseError("job lookup", err)
	}
	return job, nil
}

// MarkRunning transitions queued -> running and stamps started_at.
func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE jobs
		SET status = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.JobRunning, models.JobQueued)
	if err != nil {
		return errors.NewDatabaseError("job mark running", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkSucceeded transitions running -> succeeded and stamps ended_at.
func (r *JobRepository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE jobs
		SET status = $2, ended_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.JobSucceeded, models.JobRunning)
	if err != nil {
		return errors.NewDatabaseError("job mark succeeded", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkFailed transitions queued|running -> failed with an error string.
func (r *JobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE jobs
		SET status = $2, error = $3, ended_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, models.JobFailed, errMsg, models.JobQueued, models.JobRunning)
	if err != nil {
		return errors.NewDatabaseError("job mark failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// FindExpired lists jobs still queued or running past the cutoff, for the
// reconciliation sweeper. The worker that would have finished them may
// never run.
func (r *JobRepository) FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status IN ($1, $2) AND created_at < $3
		ORDER BY created_at ASC
		LIMIT $4
	`, models.JobQueued, models.JobRunning, cutoff, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("expired job scan", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("expired job scan", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("expired job iteration", err)
	}

	return jobs, nil
}

// ListByUser retrieves a user's jobs, newest first.
func (r *JobRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, errors.NewDatabaseError("job list", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("job list scan", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("job list iteration", err)
	}

	return jobs, nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var paramsJSON []byte
	var startedAt, endedAt *time.Time
	var errMsg *string

	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&paramsJSON,
		&job.IdempotencyKey,
		&job.Cost,
		&job.Model,
		&startedAt,
		&endedAt,
		&errMsg,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(paramsJSON, &job.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job params: %w", err)
	}

	job.StartedAt = startedAt
	job.EndedAt = endedAt
	job.Error = errMsg

	return &job, nil
}
