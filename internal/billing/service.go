package billing

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/pelicanone/backend/internal/auth"
	"github.com/pelicanone/backend/internal/ledger"
	"github.com/pelicanone/backend/internal/models"
)

// ErrInvalidPackage is returned for top-up amounts outside the configured
// packages.
var ErrInvalidPackage = errors.New("invalid topup package")

type Service interface {
	TopUp(ctx context.Context, userID uuid.UUID, amount int64) (int64, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	Ledger(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, int, error)
	AdminAdd(ctx context.Context, platformUserID string, amount int64) (int64, error)
}

type service struct {
	ledger   ledger.Service
	users    *auth.Repository
	packages []int64
	logger   *slog.Logger
}

func NewService(ledgerSvc ledger.Service, users *auth.Repository, packages []int64, logger *slog.Logger) *service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{ledger: ledgerSvc, users: users, packages: packages, logger: logger}
}

var _ Service = (*service)(nil)

// TopUp credits one of the fixed packages to the user. There is no payment
// provider behind this; the entry is recorded as topup_mock.
func (s *service) TopUp(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	if !slices.Contains(s.packages, amount) {
		return 0, ErrInvalidPackage
	}
	return s.credit(ctx, userID, amount, models.LedgerReasonTopupMock)
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.ledger.Balance(ctx, userID)
}

func (s *service) Ledger(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, int, error) {
	return s.ledger.ListEntries(ctx, userID, limit, offset)
}

// AdminAdd credits a Telegram user by platform id, creating the user row if
// they have never logged in.
func (s *service) AdminAdd(ctx context.Context, platformUserID string, amount int64) (int64, error) {
	user, err := s.users.GetOrCreate(ctx, models.PlatformTelegram, platformUserID, auth.Profile{})
	if err != nil {
		return 0, err
	}
	balance, err := s.credit(ctx, user.ID, amount, models.LedgerReasonAdminTopup)
	if err != nil {
		return 0, err
	}
	if err := s.ledger.CheckConsistency(ctx, user.ID); err != nil {
		s.logger.Warn("ledger consistency check failed", "user_id", user.ID, "error", err)
	}
	return balance, nil
}

func (s *service) credit(ctx context.Context, userID uuid.UUID, amount int64, reason string) (int64, error) {
	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := s.ledger.LockUser(ctx, tx, userID); err != nil {
		return 0, err
	}
	if _, err := s.ledger.ApplyDelta(ctx, tx, userID, amount, reason, nil); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return s.ledger.Balance(ctx, userID)
}
