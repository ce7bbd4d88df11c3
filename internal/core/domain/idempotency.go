package domain

import "github.com/google/uuid"

// Idempotency keys guard ledger postings against repeated command runs.
// A key is unique across the whole ledger.

// TopupKey is the key of the credit posted when a topup request is approved.
func TopupKey(topupRequestID uuid.UUID) string {
	return "topup:" + topupRequestID.String()
}

// RefundFulfillmentKey is the key of the refund entry raised for a fulfillment.
func RefundFulfillmentKey(fulfillmentID uuid.UUID) string {
	return "refund:fulfillment:" + fulfillmentID.String()
}

// SettlementKey is the key of the platform credit for a settlement.
func SettlementKey(settlementID uuid.UUID) string {
	return "settlement:" + settlementID.String()
}

// PurchaseKey is the key of the checkout debit for an order.
func PurchaseKey(orderID uuid.UUID) string {
	return "purchase:order:" + orderID.String()
}

// Key returns a pointer to k, for the optional IdempotencyKey field.
func Key(k string) *string {
	return &k
}
