package domain

import (
	"time"

	"github.com/google/uuid"
)

// TopupStatus is the review state of a topup request.
type TopupStatus string

const (
	TopupStatusPending  TopupStatus = "pending"
	TopupStatusApproved TopupStatus = "approved"
	TopupStatusRejected TopupStatus = "rejected"
)

// TopupRequest is a customer's request to fund their wallet, reviewed by staff.
type TopupRequest struct {
	ID         uuid.UUID   `json:"id"`
	UserID     uuid.UUID   `json:"user_id"`
	WalletID   uuid.UUID   `json:"wallet_id"`
	Amount     int64       `json:"amount"`
	Method     string      `json:"method"` // bank transfer, e-wallet, ...
	Status     TopupStatus `json:"status"`
	ReviewedBy *string     `json:"reviewed_by,omitempty"`
	ReviewNote *string     `json:"review_note,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	ReviewedAt *time.Time  `json:"reviewed_at,omitempty"`
}
