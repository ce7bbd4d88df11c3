package domain

import (
	"time"

	"github.com/google/uuid"
)

// Settlement batches realized profit of completed fulfillments into one
// platform wallet credit. A fulfillment belongs to at most one settlement.
type Settlement struct {
	ID                  uuid.UUID  `json:"id"`
	PeriodUntil         time.Time  `json:"period_until"`
	TotalProfit         int64      `json:"total_profit"`
	FulfillmentCount    int        `json:"fulfillment_count"`
	Currency            string     `json:"currency"`
	WalletTransactionID *uuid.UUID `json:"wallet_transaction_id,omitempty"` // nil when profit is zero
	CreatedAt           time.Time  `json:"created_at"`
}

// SettlementCandidate is a completed, unsettled fulfillment joined with the
// prices of its order item.
type SettlementCandidate struct {
	FulfillmentID uuid.UUID `json:"fulfillment_id"`
	OrderID       uuid.UUID `json:"order_id"`
	OrderItemID   uuid.UUID `json:"order_item_id"`
	UnitPrice     int64     `json:"unit_price"`
	EntryPrice    int64     `json:"entry_price"`
	Quantity      int       `json:"quantity"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Profit is max(0, unit_price - entry_price) per unit, times quantity.
func (c *SettlementCandidate) Profit() int64 {
	margin := c.UnitPrice - c.EntryPrice
	if margin <= 0 {
		return 0
	}
	return margin * int64(c.Quantity)
}

// TotalProfit sums the profit of every candidate.
func TotalProfit(candidates []SettlementCandidate) int64 {
	var total int64
	for i := range candidates {
		total += candidates[i].Profit()
	}
	return total
}
