package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pelicanone/backend/internal/config"
	"github.com/pelicanone/backend/internal/ledger"
	"github.com/pelicanone/backend/internal/models"
)

// ErrUnauthorized covers every signature and token failure. The handler maps
// it to 401 with the wrapped detail code.
var ErrUnauthorized = errors.New("unauthorized")

// ErrDevAuthDisabled is returned from LoginDev when dev auth is off.
var ErrDevAuthDisabled = errors.New("dev auth disabled")

// devStartCredits is the balance a dev login is topped up to.
const devStartCredits = 1000

type Service interface {
	LoginTelegram(ctx context.Context, initData string) (string, *models.User, error)
	LoginVK(ctx context.Context, launchParams string) (string, *models.User, error)
	LoginDev(ctx context.Context) (string, *models.User, error)
	ValidateToken(ctx context.Context, token string) (*models.User, error)
}

type service struct {
	repo   *Repository
	ledger ledger.Service

	secret           []byte
	expiry           time.Duration
	telegramBotToken string
	vkAppSecret      string
	devAuth          bool
}

func NewService(repo *Repository, ledgerSvc ledger.Service, cfg *config.Config) *service {
	return &service{
		repo:             repo,
		ledger:           ledgerSvc,
		secret:           []byte(cfg.JWTSecret),
		expiry:           cfg.JWTExpiry,
		telegramBotToken: cfg.TelegramBotToken,
		vkAppSecret:      cfg.VKAppSecret,
		devAuth:          cfg.DevAuth,
	}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Platform string `json:"platform"`
}

func (s *service) LoginTelegram(ctx context.Context, initData string) (string, *models.User, error) {
	info, err := VerifyInitData(initData, s.telegramBotToken)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	user, err := s.repo.GetOrCreate(ctx, models.PlatformTelegram, info.ID, Profile{
		Username:  info.Username,
		FirstName: info.FirstName,
		LastName:  info.LastName,
	})
	if err != nil {
		return "", nil, err
	}
	token, err := s.issueToken(user)
	return token, user, err
}

func (s *service) LoginVK(ctx context.Context, launchParams string) (string, *models.User, error) {
	params, err := VerifyLaunchParams(launchParams, s.vkAppSecret)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	userID := params["vk_user_id"]
	if userID == "" {
		return "", nil, fmt.Errorf("%w: missing_vk_user_id", ErrUnauthorized)
	}
	user, err := s.repo.GetOrCreate(ctx, models.PlatformVK, userID, Profile{})
	if err != nil {
		return "", nil, err
	}
	token, err := s.issueToken(user)
	return token, user, err
}

// LoginDev signs in the shared web/dev identity and tops its balance back up
// to devStartCredits. Only usable when DEV_AUTH is enabled.
func (s *service) LoginDev(ctx context.Context) (string, *models.User, error) {
	if !s.devAuth {
		return "", nil, ErrDevAuthDisabled
	}
	user, err := s.repo.GetOrCreate(ctx, models.PlatformWeb, "dev", Profile{})
	if err != nil {
		return "", nil, err
	}
	if user.Balance < devStartCredits {
		if err := s.topUpDev(ctx, user.ID); err != nil {
			return "", nil, err
		}
		if user, err = s.repo.GetByID(ctx, user.ID); err != nil {
			return "", nil, err
		}
	}
	token, err := s.issueToken(user)
	return token, user, err
}

func (s *service) topUpDev(ctx context.Context, userID uuid.UUID) error {
	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Re-read the balance under the row lock so concurrent dev logins do
	// not both top up.
	locked, err := s.ledger.LockUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	if locked.Balance < devStartCredits {
		if _, err := s.ledger.ApplyDelta(ctx, tx, userID, devStartCredits-locked.Balance, models.LedgerReasonDevAuth, nil); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *service) issueToken(user *models.User) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Platform: user.Platform,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (*models.User, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrUnauthorized)
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: unknown user", ErrUnauthorized)
	}
	return user, nil
}
