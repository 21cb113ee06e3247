package models

import (
	"time"

	"github.com/google/uuid"
)

// Supported identity platforms.
const (
	PlatformTelegram = "telegram"
	PlatformVK       = "vk"
	PlatformWeb      = "web"
)

// User is a platform identity with a prepaid credit balance. Balance is
// denormalized from credit_ledger and mutated only through the ledger
// repository while holding the row lock.
type User struct {
	ID             uuid.UUID `json:"id"`
	Platform       string    `json:"platform"`
	PlatformUserID string    `json:"platform_user_id"`
	Username       *string   `json:"username,omitempty"`
	FirstName      *string   `json:"first_name,omitempty"`
	LastName       *string   `json:"last_name,omitempty"`
	Balance        int64     `json:"balance"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
