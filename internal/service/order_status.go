package service

import (
	"context"
	"fmt"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// orderStatus recomputes an order's status from its fulfillments and posted
// refunds. Both the fulfillment and the ledger services call it.
type orderStatus struct {
	orderRepo       ports.OrderRepository
	fulfillmentRepo ports.FulfillmentRepository
	entryRepo       ports.WalletTransactionRepository
}

// refresh locks the order, derives its status and stores it when it changed.
func (o *orderStatus) refresh(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*domain.Order, error) {
	order, err := o.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}

	fulfillments, err := o.fulfillmentRepo.ListByOrder(ctx, tx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list fulfillments: %w", err))
	}
	refunds, err := o.entryRepo.ListRefundsForOrder(ctx, tx, orderID,
		[]domain.TransactionStatus{domain.TransactionStatusPosted})
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list refunds: %w", err))
	}

	refunded := make(map[uuid.UUID]bool)
	for _, f := range fulfillments {
		for i := range refunds {
			if refunds[i].RefundCovers(orderID, f.OrderItemID, f.ID) {
				refunded[f.OrderItemID] = true
				break
			}
		}
	}

	next := domain.DeriveOrderStatus(order.Status, fulfillments, refunded)
	if next == order.Status {
		return order, nil
	}
	if err := o.orderRepo.UpdateStatus(ctx, tx, orderID, next); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update order status: %w", err))
	}
	order.Status = next
	return order, nil
}

// refundBlocks reports whether a pending or posted refund covers the fulfillment.
func refundBlocks(ctx context.Context, tx pgx.Tx, entryRepo ports.WalletTransactionRepository, f *domain.Fulfillment, statuses ...domain.TransactionStatus) (bool, error) {
	refunds, err := entryRepo.ListRefundsForOrder(ctx, tx, f.OrderID, statuses)
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("list refunds: %w", err))
	}
	for i := range refunds {
		if refunds[i].RefundCovers(f.OrderID, f.OrderItemID, f.ID) {
			return true, nil
		}
	}
	return false, nil
}
