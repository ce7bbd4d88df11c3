package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusFulfilled      OrderStatus = "fulfilled"
	OrderStatusFailed         OrderStatus = "failed"
	OrderStatusRefunded       OrderStatus = "refunded"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// Product is a purchasable digital good.
type Product struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Price          int64     `json:"price"`
	EntryPrice     *int64    `json:"entry_price,omitempty"` // supplier cost; nil when unknown
	Currency       string    `json:"currency"`
	Provider       string    `json:"provider"`        // delivery provider key
	RequiredFields []string  `json:"required_fields"` // e.g. player id, server
	Active         bool      `json:"active"`
}

// MissingRequirements returns the required fields absent or blank in reqs.
func (p *Product) MissingRequirements(reqs map[string]string) []string {
	var missing []string
	for _, field := range p.RequiredFields {
		if strings.TrimSpace(reqs[field]) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// Order is the snapshot of a cart at checkout time.
type Order struct {
	ID        uuid.UUID   `json:"id"`
	UserID    uuid.UUID   `json:"user_id"`
	WalletID  uuid.UUID   `json:"wallet_id"`
	Status    OrderStatus `json:"status"`
	Total     int64       `json:"total"`
	Currency  string      `json:"currency"`
	Items     []OrderItem `json:"items,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// OrderItem is one purchased line; prices are copied from the product.
type OrderItem struct {
	ID           uuid.UUID         `json:"id"`
	OrderID      uuid.UUID         `json:"order_id"`
	ProductID    uuid.UUID         `json:"product_id"`
	ProductName  string            `json:"product_name"`
	UnitPrice    int64             `json:"unit_price"`
	EntryPrice   *int64            `json:"entry_price,omitempty"`
	Quantity     int               `json:"quantity"`
	Provider     string            `json:"provider"`
	Requirements map[string]string `json:"requirements,omitempty"`
}

// Subtotal is unit price times quantity.
func (i *OrderItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// DeriveOrderStatus computes an order's status from its fulfillments.
// refundedItems holds order item IDs with a posted refund.
// Cancelled and pending-payment orders keep their status.
func DeriveOrderStatus(current OrderStatus, fulfillments []Fulfillment, refundedItems map[uuid.UUID]bool) OrderStatus {
	if current == OrderStatusCancelled || current == OrderStatusPendingPayment || len(fulfillments) == 0 {
		return current
	}

	var live []Fulfillment
	for _, f := range fulfillments {
		if !refundedItems[f.OrderItemID] {
			live = append(live, f)
		}
	}
	if len(live) == 0 {
		return OrderStatusRefunded
	}

	var completed, failed, queued int
	for _, f := range live {
		switch f.Status {
		case FulfillmentStatusCompleted:
			completed++
		case FulfillmentStatusFailed:
			failed++
		case FulfillmentStatusQueued:
			queued++
		}
	}

	switch {
	case completed == len(live):
		return OrderStatusFulfilled
	case failed == len(live):
		return OrderStatusFailed
	case queued == len(live):
		return OrderStatusPaid
	default:
		return OrderStatusProcessing
	}
}
