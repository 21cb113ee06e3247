package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pelicanone/backend/internal/models"
)

// Service is the funds contract consumed by jobs, billing and auth. All
// mutations go through ApplyDelta under the LockUser row lock.
type Service interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.User, error)
	ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int64, reason string, jobID *uuid.UUID) (*models.LedgerEntry, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	HasEntry(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, reason string) (bool, error)
	ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, int, error)
	CheckConsistency(ctx context.Context, userID uuid.UUID) error
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) Service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

func (s *service) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.repo.Begin(ctx)
}

func (s *service) LockUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.User, error) {
	return s.repo.LockUser(ctx, tx, userID)
}

func (s *service) ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int64, reason string, jobID *uuid.UUID) (*models.LedgerEntry, error) {
	return s.repo.ApplyDelta(ctx, tx, userID, delta, reason, jobID)
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.Balance(ctx, userID)
}

func (s *service) HasEntry(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, reason string) (bool, error) {
	return s.repo.HasEntry(ctx, tx, jobID, reason)
}

func (s *service) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, int, error) {
	return s.repo.ListEntries(ctx, userID, limit, offset)
}

func (s *service) CheckConsistency(ctx context.Context, userID uuid.UUID) error {
	return s.repo.CheckConsistency(ctx, userID)
}
