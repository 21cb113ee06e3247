package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pelicanone/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, platform, platform_user_id, username, first_name, last_name, balance, created_at, updated_at`

// Profile carries the optional identity fields supplied by the platform.
type Profile struct {
	Username  *string
	FirstName *string
	LastName  *string
}

// GetOrCreate resolves the stable (platform, platform_user_id) identity to a
// user row, creating it on first sight. Profile fields refresh on every
// login.
func (r *Repository) GetOrCreate(ctx context.Context, platform, platformUserID string, profile Profile) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (platform, platform_user_id, username, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (platform, platform_user_id) DO UPDATE SET
			username   = COALESCE(EXCLUDED.username, users.username),
			first_name = COALESCE(EXCLUDED.first_name, users.first_name),
			last_name  = COALESCE(EXCLUDED.last_name, users.last_name),
			updated_at = now()
		RETURNING `+userColumns,
		platform, platformUserID, profile.Username, profile.FirstName, profile.LastName,
	).Scan(&u.ID, &u.Platform, &u.PlatformUserID, &u.Username, &u.FirstName, &u.LastName, &u.Balance, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns the user or nil when no such row exists.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Platform, &u.PlatformUserID, &u.Username, &u.FirstName, &u.LastName, &u.Balance, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
