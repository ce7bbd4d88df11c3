package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeTopup      TransactionType = "topup"
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeAdjustment TransactionType = "adjustment"
	TransactionTypeSettlement TransactionType = "settlement"
)

// Direction says whether an entry adds to or removes from the wallet.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// TransactionStatus represents the lifecycle state of a ledger entry.
// Only pending entries may change: pending->posted or pending->rejected.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusPosted   TransactionStatus = "posted"
	TransactionStatusRejected TransactionStatus = "rejected"
)

// ReferenceType names the record a ledger entry was created for.
type ReferenceType string

const (
	ReferenceOrder        ReferenceType = "order"
	ReferenceOrderItem    ReferenceType = "order_item"
	ReferenceFulfillment  ReferenceType = "fulfillment"
	ReferenceTopupRequest ReferenceType = "topup_request"
	ReferenceSettlement   ReferenceType = "settlement"
)

// Metadata keys carried on ledger entries.
const (
	MetaOrderID     = "order_id"
	MetaOrderItemID = "order_item_id"
	MetaReason      = "reason"
	MetaReviewer    = "reviewed_by"
)

// WalletTransaction is an immutable ledger entry. Once created only its status
// (and posted_at) may change, and it is never deleted.
type WalletTransaction struct {
	ID             uuid.UUID         `json:"id"`
	WalletID       uuid.UUID         `json:"wallet_id"`
	Type           TransactionType   `json:"type"`
	Direction      Direction         `json:"direction"`
	Amount         int64             `json:"amount"` // always positive, minor units
	Status         TransactionStatus `json:"status"`
	IdempotencyKey *string           `json:"idempotency_key,omitempty"`
	ReferenceType  *ReferenceType    `json:"reference_type,omitempty"`
	ReferenceID    *uuid.UUID        `json:"reference_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Description    string            `json:"description"`
	CreatedAt      time.Time         `json:"created_at"`
	PostedAt       *time.Time        `json:"posted_at,omitempty"`
}

// SignedAmount returns +amount for credits and -amount for debits.
func (t *WalletTransaction) SignedAmount() int64 {
	if t.Direction == DirectionDebit {
		return -t.Amount
	}
	return t.Amount
}

func (t *WalletTransaction) IsPending() bool  { return t.Status == TransactionStatusPending }
func (t *WalletTransaction) IsPosted() bool   { return t.Status == TransactionStatusPosted }
func (t *WalletTransaction) IsRejected() bool { return t.Status == TransactionStatusRejected }

// References reports whether the entry points at the given record.
func (t *WalletTransaction) References(refType ReferenceType, id uuid.UUID) bool {
	return t.ReferenceType != nil && *t.ReferenceType == refType &&
		t.ReferenceID != nil && *t.ReferenceID == id
}

// RefundCovers reports whether a refund entry applies to the given order item.
// Three shapes count: a refund referencing the fulfillment directly, an
// order-level refund (no order_item_id metadata), and an order refund whose
// metadata names this item.
func (t *WalletTransaction) RefundCovers(orderID, orderItemID, fulfillmentID uuid.UUID) bool {
	if t.Type != TransactionTypeRefund {
		return false
	}
	if t.References(ReferenceFulfillment, fulfillmentID) {
		return true
	}
	if !t.References(ReferenceOrder, orderID) {
		return false
	}
	itemID, ok := t.Metadata[MetaOrderItemID]
	if !ok || itemID == "" {
		return true
	}
	return itemID == orderItemID.String()
}

// PostedBalance sums posted entries. Pending and rejected entries do not count.
func PostedBalance(entries []WalletTransaction) int64 {
	var sum int64
	for i := range entries {
		if entries[i].IsPosted() {
			sum += entries[i].SignedAmount()
		}
	}
	return sum
}

// RefType returns a pointer to r, for optional reference fields.
func RefType(r ReferenceType) *ReferenceType {
	return &r
}
