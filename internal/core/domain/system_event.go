package domain

import (
	"time"

	"github.com/google/uuid"
)

// SystemEventType names an audited occurrence.
type SystemEventType string

const (
	EventOrderPlaced          SystemEventType = "order.placed"
	EventTopupRequested       SystemEventType = "topup.requested"
	EventTopupApproved        SystemEventType = "topup.approved"
	EventTopupRejected        SystemEventType = "topup.rejected"
	EventRefundRequested      SystemEventType = "refund.requested"
	EventRefundApproved       SystemEventType = "refund.approved"
	EventRefundRejected       SystemEventType = "refund.rejected"
	EventWalletAdjusted       SystemEventType = "wallet.adjusted"
	EventWalletReconciled     SystemEventType = "wallet.reconciled"
	EventFulfillmentCompleted SystemEventType = "fulfillment.completed"
	EventFulfillmentFailed    SystemEventType = "fulfillment.failed"
	EventFulfillmentRetried   SystemEventType = "fulfillment.retried"
	EventSettlementPosted     SystemEventType = "settlement.posted"
	EventLoyaltyTierChanged   SystemEventType = "loyalty.tier_changed"
)

// SystemEvent is an insert-only audit record. Nothing updates or deletes it;
// the schema enforces the same with a trigger.
type SystemEvent struct {
	ID          uuid.UUID       `json:"id"`
	Type        SystemEventType `json:"type"`
	SubjectType string          `json:"subject_type"`
	SubjectID   *uuid.UUID      `json:"subject_id,omitempty"`
	Payload     map[string]any  `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewSystemEvent stamps a new event.
func NewSystemEvent(eventType SystemEventType, subjectType string, subjectID uuid.UUID, payload map[string]any) *SystemEvent {
	return &SystemEvent{
		ID:          uuid.New(),
		Type:        eventType,
		SubjectType: subjectType,
		SubjectID:   &subjectID,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
}

// Notification is a message for a customer or for staff (UserID nil).
// Delivery is up to the notifier behind ports.Notifier.
type Notification struct {
	UserID *uuid.UUID     `json:"user_id,omitempty"`
	Kind   string         `json:"kind"`
	Title  string         `json:"title"`
	Data   map[string]any `json:"data,omitempty"`
}
