package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry reasons.
const (
	LedgerReasonJobCharge  = "job_charge"
	LedgerReasonJobRefund  = "job_refund"
	LedgerReasonTopupMock  = "topup_mock"
	LedgerReasonAdminTopup = "admin_topup"
	LedgerReasonDevAuth    = "dev_auth"
)

// LedgerEntry is an immutable balance change. Positive delta credits the
// user, negative debits. Entries linked to a job carry its id; at most one
// job_charge and one job_refund entry may exist per job.
type LedgerEntry struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Delta     int64      `json:"delta"`
	Reason    string     `json:"reason"`
	JobID     *uuid.UUID `json:"job_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
