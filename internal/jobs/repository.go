package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pelicanone/backend/internal/models"
)

const jobColumns = `id, user_id, type, status, provider, payload, result, result_files, error, cost,
	created_at, started_at, finished_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.UserID, &j.Type, &j.Status, &j.Provider, &j.Payload, &j.Result,
		&j.ResultFiles, &j.Error, &j.Cost, &j.CreatedAt, &j.StartedAt, &j.FinishedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateTx inserts a queued job inside the caller's transaction, alongside
// the charge entry.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, jobType string, payload json.RawMessage, cost int64) (*models.Job, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO jobs (user_id, type, status, provider, payload, cost)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+jobColumns,
		userID, jobType, models.JobStatusQueued, "genapi", payload, cost)
	return scanJob(row)
}

// GetByID returns the job or nil when no such row exists.
func (r *Repository) GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// ListByUser returns the user's jobs newest-first with the total count.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Job, int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		var j models.Job
		err := rows.Scan(&j.ID, &j.UserID, &j.Type, &j.Status, &j.Provider, &j.Payload, &j.Result,
			&j.ResultFiles, &j.Error, &j.Cost, &j.CreatedAt, &j.StartedAt, &j.FinishedAt, &j.UpdatedAt)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// Status transitions are conditional on the expected prior status so a
// cancellation racing a worker settlement cannot be overwritten: zero rows
// affected means the other side won and the caller must not settle.

// MarkRunning moves queued -> running.
func (r *Repository) MarkRunning(ctx context.Context, jobID uuid.UUID) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, started_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3
	`, jobID, models.JobStatusRunning, models.JobStatusQueued)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// MarkDone moves running -> done with the normalized result.
func (r *Repository) MarkDone(ctx context.Context, jobID uuid.UUID, result, resultFiles json.RawMessage) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, result = $3, result_files = $4, error = NULL,
			finished_at = now(), updated_at = now()
		WHERE id = $1 AND status = $5
	`, jobID, models.JobStatusDone, result, resultFiles, models.JobStatusRunning)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// MarkFailed moves running -> error with a human-readable message.
func (r *Repository) MarkFailed(ctx context.Context, jobID uuid.UUID, message string) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error = $3, result = NULL, result_files = NULL,
			finished_at = now(), updated_at = now()
		WHERE id = $1 AND status = $4
	`, jobID, models.JobStatusError, message, models.JobStatusRunning)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// MarkCanceled moves queued/running -> canceled.
func (r *Repository) MarkCanceled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error = $3, result = NULL, result_files = NULL,
			finished_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ($4, $5)
	`, jobID, models.JobStatusCanceled, "canceled", models.JobStatusQueued, models.JobStatusRunning)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ClearResultFiles nulls result_files for terminal jobs finished before the
// cutoff and returns their ids, so the file sweeper can remove the backing
// directories.
func (r *Repository) ClearResultFiles(ctx context.Context, finishedBefore time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE jobs SET result_files = NULL, updated_at = now()
		WHERE result_files IS NOT NULL AND finished_at IS NOT NULL AND finished_at < $1
		RETURNING id
	`, finishedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
