package service

import (
	"context"
	"fmt"
	"time"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/apperror"
	"storefront-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// CheckoutServiceImpl implements ports.CheckoutService.
type CheckoutServiceImpl struct {
	repos      Repositories
	ledger     *ledger
	events     ports.EventRecorder
	notifier   ports.Notifier
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewCheckoutService creates a new CheckoutServiceImpl.
func NewCheckoutService(
	repos Repositories,
	cache ports.IdempotencyCache,
	events ports.EventRecorder,
	notifier ports.Notifier,
	transactor ports.DBTransactor,
	idempotencyTTL time.Duration,
	log zerolog.Logger,
) *CheckoutServiceImpl {
	return &CheckoutServiceImpl{
		repos:      repos,
		ledger:     newLedger(repos.Wallets, repos.Entries, cache, idempotencyTTL, log),
		events:     events,
		notifier:   notifier,
		transactor: transactor,
		log:        log,
	}
}

// Checkout snapshots the cart into a paid order, debits the wallet and
// queues one fulfillment per item, all in one transaction.
func (s *CheckoutServiceImpl) Checkout(ctx context.Context, req ports.CheckoutRequest) (*domain.Order, error) {
	if len(req.Items) == 0 {
		return nil, apperror.Validation("Cart is empty")
	}

	ids := make([]uuid.UUID, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.repos.Products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load products: %w", err))
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Status:    domain.OrderStatusPaid,
		Currency:  req.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	fields := make(map[string]string)
	for i, it := range req.Items {
		prefix := fmt.Sprintf("items.%d.", i)
		p, ok := products[it.ProductID]
		switch {
		case !ok || !p.Active:
			fields[prefix+"product_id"] = "is not available"
			continue
		case p.Currency != req.Currency:
			fields[prefix+"product_id"] = "is priced in " + p.Currency
			continue
		}
		if it.Quantity <= 0 {
			fields[prefix+"quantity"] = "must be at least 1"
		}
		for _, missing := range p.MissingRequirements(it.Requirements) {
			fields[prefix+missing] = "is required"
		}

		order.Items = append(order.Items, domain.OrderItem{
			ID:           uuid.New(),
			OrderID:      order.ID,
			ProductID:    p.ID,
			ProductName:  p.Name,
			UnitPrice:    p.Price,
			EntryPrice:   p.EntryPrice,
			Quantity:     it.Quantity,
			Provider:     p.Provider,
			Requirements: it.Requirements,
		})
	}
	if len(fields) > 0 {
		return nil, apperror.ValidationFields("Missing purchase requirements", fields)
	}
	for i := range order.Items {
		order.Total += order.Items[i].Subtotal()
	}

	wallet, err := s.repos.Wallets.GetByUserID(ctx, req.UserID, req.Currency)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	order.WalletID = wallet.ID

	err = withTx(ctx, s.transactor, func(tx pgx.Tx, hooks *afterCommit) error {
		// The debit locks the wallet and checks funds before any order row is written.
		if order.Total > 0 {
			if _, _, err := s.ledger.post(ctx, tx, hooks, posting{
				WalletID:    wallet.ID,
				Type:        domain.TransactionTypePurchase,
				Direction:   domain.DirectionDebit,
				Amount:      order.Total,
				Key:         domain.PurchaseKey(order.ID),
				RefType:     domain.ReferenceOrder,
				RefID:       &order.ID,
				Metadata:    map[string]string{domain.MetaOrderID: order.ID.String()},
				Description: fmt.Sprintf("Order %s", order.ID),
			}); err != nil {
				return err
			}
		}

		if err := s.repos.Orders.Create(ctx, tx, order); err != nil {
			return apperror.InternalError(fmt.Errorf("create order: %w", err))
		}
		for i := range order.Items {
			item := &order.Items[i]
			if err := s.repos.Orders.CreateItem(ctx, tx, item); err != nil {
				return apperror.InternalError(fmt.Errorf("create order item: %w", err))
			}
			f := domain.NewFulfillment(order.ID, item.ID, now)
			if err := s.repos.Fulfillments.Create(ctx, tx, &f); err != nil {
				return apperror.InternalError(fmt.Errorf("create fulfillment: %w", err))
			}
		}

		recordLater(hooks, s.events, domain.NewSystemEvent(domain.EventOrderPlaced, "order", order.ID,
			map[string]any{"total": order.Total, "items": len(order.Items)}))

		notifyLater(hooks, s.notifier, s.log, domain.Notification{
			UserID: &order.UserID,
			Kind:   string(domain.EventOrderPlaced),
			Title:  "Order received",
			Data:   map[string]any{"order_id": order.ID, "total": money.Format(order.Total, order.Currency)},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("user_id", order.UserID.String()).
		Int64("total", order.Total).
		Msg("order placed")

	return order, nil
}
