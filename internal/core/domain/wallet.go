package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a per-user (or platform) balance store.
// Balance is a cache of the posted ledger; reconciliation restores it when they drift.
type Wallet struct {
	ID         uuid.UUID  `json:"id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"` // nil for the platform wallet
	IsPlatform bool       `json:"is_platform"`
	Balance    int64      `json:"balance"` // minor units
	Currency   string     `json:"currency"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CanDebit reports whether the cached balance covers amount.
func (w *Wallet) CanDebit(amount int64) bool {
	return w.Balance >= amount
}
