package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FulfillmentStatus is the delivery state of one order item.
type FulfillmentStatus string

const (
	FulfillmentStatusQueued     FulfillmentStatus = "queued"
	FulfillmentStatusProcessing FulfillmentStatus = "processing"
	FulfillmentStatusCompleted  FulfillmentStatus = "completed"
	FulfillmentStatusFailed     FulfillmentStatus = "failed"
)

// fulfillmentTransitions lists the allowed moves. Completed is terminal;
// queued->completed covers manual delivery by an operator.
var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentStatusQueued:     {FulfillmentStatusProcessing, FulfillmentStatusCompleted},
	FulfillmentStatusProcessing: {FulfillmentStatusCompleted, FulfillmentStatusFailed},
	FulfillmentStatusFailed:     {FulfillmentStatusQueued},
}

// TransitionError reports a move the state machine does not allow.
type TransitionError struct {
	From FulfillmentStatus
	To   FulfillmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid fulfillment transition %s -> %s", e.From, e.To)
}

// Fulfillment is the delivery task for one purchased order item.
type Fulfillment struct {
	ID               uuid.UUID         `json:"id"`
	OrderID          uuid.UUID         `json:"order_id"`
	OrderItemID      uuid.UUID         `json:"order_item_id"`
	Status           FulfillmentStatus `json:"status"`
	Attempts         int               `json:"attempts"`
	LastError        *string           `json:"last_error,omitempty"`
	PayloadEncrypted *string           `json:"-"` // AES-256-GCM, never exposed
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	FailedAt         *time.Time        `json:"failed_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewFulfillment returns a queued fulfillment for an order item.
func NewFulfillment(orderID, orderItemID uuid.UUID, now time.Time) Fulfillment {
	return Fulfillment{
		ID:          uuid.New(),
		OrderID:     orderID,
		OrderItemID: orderItemID,
		Status:      FulfillmentStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CanTransitionTo reports whether the state machine allows f.Status -> to.
func (f *Fulfillment) CanTransitionTo(to FulfillmentStatus) bool {
	for _, next := range fulfillmentTransitions[f.Status] {
		if next == to {
			return true
		}
	}
	return false
}

func (f *Fulfillment) transition(to FulfillmentStatus, now time.Time) error {
	if !f.CanTransitionTo(to) {
		return &TransitionError{From: f.Status, To: to}
	}
	f.Status = to
	f.UpdatedAt = now
	return nil
}

// Start moves a queued fulfillment to processing and counts the attempt.
func (f *Fulfillment) Start(now time.Time) error {
	if err := f.transition(FulfillmentStatusProcessing, now); err != nil {
		return err
	}
	f.Attempts++
	f.StartedAt = &now
	return nil
}

// Complete records delivery. Completing an already completed fulfillment is a
// no-op that keeps the stored payload; changed is false in that case.
func (f *Fulfillment) Complete(payloadEncrypted *string, now time.Time) (changed bool, err error) {
	if f.Status == FulfillmentStatusCompleted {
		return false, nil
	}
	if err := f.transition(FulfillmentStatusCompleted, now); err != nil {
		return false, err
	}
	f.PayloadEncrypted = payloadEncrypted
	f.CompletedAt = &now
	f.LastError = nil
	return true, nil
}

// Fail records a failed delivery attempt.
func (f *Fulfillment) Fail(reason string, now time.Time) error {
	if err := f.transition(FulfillmentStatusFailed, now); err != nil {
		return err
	}
	f.LastError = &reason
	f.FailedAt = &now
	return nil
}

// Requeue moves a failed fulfillment back to the queue. Attempts and the last
// error are kept for the operator.
func (f *Fulfillment) Requeue(now time.Time) error {
	if err := f.transition(FulfillmentStatusQueued, now); err != nil {
		return err
	}
	f.FailedAt = nil
	return nil
}

// IsTerminal is true once delivery has completed.
func (f *Fulfillment) IsTerminal() bool {
	return f.Status == FulfillmentStatusCompleted
}
