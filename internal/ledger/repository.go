package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pelicanone/backend/internal/models"
)

// ErrInsufficientFunds is returned when a debit would take the balance below
// zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockUser acquires the row lock on the user for the duration of tx. Every
// balance mutation happens under this lock.
func (r *Repository) LockUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.User, error) {
	var u models.User
	err := tx.QueryRow(ctx, `
		SELECT id, platform, platform_user_id, username, first_name, last_name, balance, created_at, updated_at
		FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&u.ID, &u.Platform, &u.PlatformUserID, &u.Username, &u.FirstName, &u.LastName, &u.Balance, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ApplyDelta mutates balance by delta and appends the matching ledger entry
// in the same transaction. The caller must already hold the row lock via
// LockUser.
func (r *Repository) ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int64, reason string, jobID *uuid.UUID) (*models.LedgerEntry, error) {
	var newBalance int64
	err := tx.QueryRow(ctx, `
		UPDATE users SET balance = balance + $1, updated_at = now()
		WHERE id = $2 AND balance + $1 >= 0
		RETURNING balance
	`, delta, userID).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsufficientFunds
		}
		return nil, err
	}

	e := models.LedgerEntry{UserID: userID, Delta: delta, Reason: reason, JobID: jobID}
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (user_id, delta, reason, job_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, userID, delta, reason, jobID).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Balance reads the denormalized balance field.
func (r *Repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	return balance, err
}

// SumDeltas computes the balance from the append-only log. Must agree with
// Balance at all times; CheckConsistency verifies that.
func (r *Repository) SumDeltas(ctx context.Context, userID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE user_id = $1
	`, userID).Scan(&sum)
	return sum, err
}

// HasEntry reports whether a ledger entry with the given job id and reason
// exists. Run inside the settlement transaction it makes refunds idempotent.
func (r *Repository) HasEntry(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, reason string) (bool, error) {
	var q interface {
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	} = r.pool
	if tx != nil {
		q = tx
	}
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM credit_ledger WHERE job_id = $1 AND reason = $2)
	`, jobID, reason).Scan(&exists)
	return exists, err
}

// ListEntries returns the user's ledger newest-first with the total count.
func (r *Repository) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, delta, reason, job_id, created_at
		FROM credit_ledger WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.JobID, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credit_ledger WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// CheckConsistency verifies balance == sum(ledger deltas) for the user.
func (r *Repository) CheckConsistency(ctx context.Context, userID uuid.UUID) error {
	balance, err := r.Balance(ctx, userID)
	if err != nil {
		return err
	}
	sum, err := r.SumDeltas(ctx, userID)
	if err != nil {
		return err
	}
	if balance != sum {
		return fmt.Errorf("ledger inconsistency for user %s: balance %d, ledger sum %d", userID, balance, sum)
	}
	return nil
}
