package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/apperror"
	"storefront-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	repos      Repositories
	ledger     *ledger
	orders     *orderStatus
	events     ports.EventRecorder
	notifier   ports.Notifier
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	repos Repositories,
	cache ports.IdempotencyCache,
	events ports.EventRecorder,
	notifier ports.Notifier,
	transactor ports.DBTransactor,
	idempotencyTTL time.Duration,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		repos:      repos,
		ledger:     newLedger(repos.Wallets, repos.Entries, cache, idempotencyTTL, log),
		orders:     repos.orderStatus(),
		events:     events,
		notifier:   notifier,
		transactor: transactor,
		log:        log,
	}
}

// CreateTopupRequest files a pending topup for staff review.
func (s *LedgerServiceImpl) CreateTopupRequest(ctx context.Context, in ports.TopupInput) (*domain.TopupRequest, error) {
	if in.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if strings.TrimSpace(in.Method) == "" {
		return nil, apperror.ValidationFields("Invalid topup request", map[string]string{"method": "is required"})
	}

	wallet, err := s.repos.Wallets.GetByUserID(ctx, in.UserID, in.Currency)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	req := &domain.TopupRequest{
		ID:        uuid.New(),
		UserID:    in.UserID,
		WalletID:  wallet.ID,
		Amount:    in.Amount,
		Method:    in.Method,
		Status:    domain.TopupStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repos.Topups.Create(ctx, req); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create topup request: %w", err))
	}

	s.events.RecordAfterCommit(ctx, domain.NewSystemEvent(domain.EventTopupRequested, "topup_request", req.ID,
		map[string]any{"amount": req.Amount, "method": req.Method}))

	var hooks afterCommit
	notifyLater(&hooks, s.notifier, s.log, domain.Notification{
		Kind:  string(domain.EventTopupRequested),
		Title: "New topup request awaiting review",
		Data:  map[string]any{"topup_request_id": req.ID, "amount": money.Format(req.Amount, wallet.Currency)},
	})
	hooks.run(ctx)

	return req, nil
}

// ApproveTopup credits the wallet once per topup request.
func (s *LedgerServiceImpl) ApproveTopup(ctx context.Context, topupID uuid.UUID, reviewer string) (*ports.PostingResult, error) {
	var result *ports.PostingResult

	err := withTx(ctx, s.transactor, func(tx pgx.Tx, hooks *afterCommit) error {
		req, err := s.repos.Topups.GetByIDForUpdate(ctx, tx, topupID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("lock topup request: %w", err))
		}
		if req == nil {
			return apperror.ErrNotFound("topup request")
		}
		if req.Status == domain.TopupStatusRejected {
			return apperror.ErrInvalidTransactionState(string(req.Status))
		}

		entry, already, err := s.ledger.post(ctx, tx, hooks, posting{
			WalletID:    req.WalletID,
			Type:        domain.TransactionTypeTopup,
			Direction:   domain.DirectionCredit,
			Amount:      req.Amount,
			Key:         domain.TopupKey(req.ID),
			RefType:     domain.ReferenceTopupRequest,
			RefID:       &req.ID,
			Metadata:    map[string]string{domain.MetaReviewer: reviewer},
			Description: "Topup via " + req.Method,
		})
		if err != nil {
			return err
		}
		result = &ports.PostingResult{Entry: entry, AlreadyPosted: already}
		if already {
			return nil
		}

		now := time.Now().UTC()
		req.Status = domain.TopupStatusApproved
		req.ReviewedBy = &reviewer
		req.ReviewedAt = &now
		if err := s.repos.Topups.MarkReviewed(ctx, tx, req); err != nil {
			return apperror.InternalError(fmt.Errorf("mark topup approved: %w", err))
		}

		if err := s.events.Record(ctx, tx, domain.NewSystemEvent(domain.EventTopupApproved, "topup_request", req.ID,
			map[string]any{"entry_id": entry.ID, "amount": req.Amount, "reviewed_by": reviewer})); err != nil {
			return apperror.InternalError(fmt.Errorf("record event: %w", err))
		}

		notifyLater(hooks, s.notifier, s.log, domain.Notification{
			UserID: &req.UserID,
			Kind:   string(domain.EventTopupApproved),
			Title:  "Your topup was approved",
			Data:   map[string]any{"topup_request_id": req.ID, "amount": req.Amount},
		})
		hooks.add(func(context.Context) {
			s.log.Info().
				Str("topup_id", req.ID.String()).
				Str("entry_id", entry.ID.String()).
				Int64("amount", req.Amount).
				Msg("topup approved")
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RejectTopup closes a pending request without touching the ledger.
// Rejecting an already rejected request is a no-op.
func (s *LedgerServiceImpl) RejectTopup(ctx context.Context, topupID uuid.UUID, reviewer, note string) (*domain.TopupRequest, error) {
	var req *domain.TopupRequest

	err := withTx(ctx, s.transactor, func(tx pgx.Tx, hooks *afterCommit) error {
		var err error
		req, err = s.repos.Topups.GetByIDForUpdate(ctx, tx, topupID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("lock topup request: %w", err))
		}
		if req == nil {
			return apperror.ErrNotFound("topup request")
		}
		switch req.Status {
		case domain.TopupStatusRejected:
			return nil
		case domain.TopupStatusApproved:
			return apperror.ErrInvalidTransactionState(string(req.Status))
		}

		now := time.Now().UTC()
		req.Status = domain.TopupStatusRejected
		req.ReviewedBy = &reviewer
		req.ReviewedAt = &now
		if note != "" {
			req.ReviewNote = &note
		}
		if err := s.repos.Topups.MarkReviewed(ctx, tx, req); err != nil {
			return apperror.InternalError(fmt.Errorf("mark topup rejected: %w", err))
		}

		if err := s.events.Record(ctx, tx, domain.NewSystemEvent(domain.EventTopupRejected, "topup_request", req.ID,
			map[string]any{"reviewed_by": reviewer, "note": note})); err != nil {
			return apperror.InternalError(fmt.Errorf("record event: %w", err))
		}

		notifyLater(hooks, s.notifier, s.log, domain.Notification{
			UserID: &req.UserID,
			Kind:   string(domain.EventTopupRejected),
			Title:  "Your topup was rejected",
			Data:   map[string]any{"topup_request_id": req.ID, "note": note},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// RequestRefund raises a pending refund for the full value of a fulfillment's
// order item. Only one refund may exist per fulfillment.
func (s *LedgerServiceImpl) RequestRefund(ctx context.Context, fulfillmentID uuid.UUID, reason string) (*domain.WalletTransaction, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperror.ValidationFields("Invalid refund request", map[string]string{"reason": "is required"})
	}

	f, err := s.repos.Fulfillments.GetByID(ctx, fulfillmentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get fulfillment: %w", err))
	}
	if f == nil {
		return nil, apperror.ErrNotFound("fulfillment")
	}
	item, err := s.repos.Orders.GetItem(ctx, f.OrderItemID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get order item: %w", err))
	}
	if item == nil {
		return nil, apperror.ErrNotFound("order item")
	}
	order, err := s.repos.Orders.GetByID(ctx, f.OrderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}

	var entry *domain.WalletTransaction
	err = withTx(ctx, s.transactor, func(tx pgx.Tx, hooks *afterCommit) error {
		// Serialise refund requests for the order on its row lock.
		if _, err := s.repos.Orders.GetByIDForUpdate(ctx, tx, order.ID); err != nil {
			return apperror.InternalError(fmt.Errorf("lock order: %w", err))
		}

		key := domain.RefundFulfillmentKey(f.ID)
		existing, err := s.repos.Entries.GetByIdempotencyKey(ctx, tx, key)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
		}
		if existing != nil && !existing.IsRejected() {
			return apperror.ErrRefundExists()
		}
		blocked, err := refundBlocks(ctx, tx, s.repos.Entries, f,
			domain.TransactionStatusPending, domain.TransactionStatusPosted)
		if err != nil {
			return err
		}
		if blocked {
			return apperror.ErrRefundExists()
		}

		entry = &domain.WalletTransaction{
			ID:            uuid.New(),
			WalletID:      order.WalletID,
			Type:          domain.TransactionTypeRefund,
			Direction:     domain.DirectionCredit,
			Amount:        item.Subtotal(),
			Status:        domain.TransactionStatusPending,
			ReferenceType: domain.RefType(domain.ReferenceFulfillment),
			ReferenceID:   &f.ID,
			Metadata: map[string]string{
				domain.MetaOrderID:     order.ID.String(),
				domain.MetaOrderItemID: item.ID.String(),
				domain.MetaReason:      reason,
			},
			Description: "Refund for " + item.ProductName,
			CreatedAt:   time.Now().UTC(),
		}
		// A rejected refund keeps its key; a new request goes without one.
		if existing == nil {
			entry.IdempotencyKey = domain.Key(key)
		}
		if err := s.repos.Entries.Create(ctx, tx, entry); err != nil {
			return apperror.InternalError(fmt.Errorf("create refund entry: %w", err))
		}

		if err := s.events.Record(ctx, tx, domain.NewSystemEvent(domain.EventRefundRequested, "fulfillment", f.ID,
			map[string]any{"entry_id": entry.ID, "amount": entry.Amount, "reason": reason})); err != nil {
			return apperror.InternalError(fmt.Errorf("record event: %w", err))
		}

		notifyLater(hooks, s.notifier, s.log, domain.Notification{
			Kind:  string(domain.EventRefundRequested),
			Title: "Refund awaiting review",
			Data:  map[string]any{"entry_id": entry.ID, "fulfillment_id": f.ID, "amount": money.Format(entry.Amount, order.Currency)},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ApproveRefund posts a pending refund and credits the wallet. Approving an
// already posted refund is a no-op.
func (s *LedgerServiceImpl) ApproveRefund(ctx context.Context, entryID uuid.UUID, reviewer string) (*ports.PostingResult, error) {
	var result *ports.PostingResult

	err := withTx(ctx, s.transactor, func(tx pgx.Tx, hooks *afterCommit) error {
		entry, err := s.lockRefund(ctx, tx, entryID)
		if err != nil {
			return err
		}
		switch entry.Status {
		case domain.TransactionStatusPosted:
			s.log.Info().Str("entry_id", entry.ID.String()).Msg("already posted")
			result = &ports.PostingResult{Entry: entry, AlreadyPosted: true}
			return nil
		case domain.TransactionStatusRejected:
			return apperror.ErrInvalidTransactionState(string(entry.Status))
		}

		wallet, err := s.repos.Wallets.GetByIDForUpdate(ctx, tx, entry.WalletID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
		}
		if wallet == nil {
			return apperror.ErrNotFound("wallet")
		}

		now := time.Now().UTC()
		if err := s.repos.Entries.UpdateStatus(ctx, tx, entry.ID, domain.TransactionStatusPosted, now); err != nil {
			return apperror.InternalError(fmt.Errorf("post refund: %w", err))
		}
		if err := s.repos.Wallets.IncrementBalance(ctx, tx, wallet.ID, entry.SignedAmount()); err != nil {
			return apperror.InternalError(fmt.Errorf("update balance: %w", err))
		}
		entry.Status = domain.TransactionStatusPosted
		entry.PostedAt = &now

		if err := s.events.Record(ctx, tx, domain.NewSystemEvent(domain.EventRefundApproved, "wallet_transaction", entry.ID,
			map[string]any{"amount": entry.Amount, "reviewed_by": reviewer})); err != nil {
			return apperror.InternalError(fmt.Errorf("record event: %w", err))
		}

		if orderID, ok := refundOrderID(entry); ok {
			if _, err := s.orders.refresh(ctx, tx, orderID); err != nil {
				return err
			}
		}

		if entry.IdempotencyKey != nil {
			s.ledger.remember(hooks, *entry.IdempotencyKey, entry.ID)
		}
		notifyLater(hooks, s.notifier, s.log, domain.Notification{
			UserID: wallet.UserID,
			Kind:   string(domain.EventRefundApproved),
			Title:  "Your refund was approved",
			Data:   map[string]any{"entry_id": entry.ID, "amount": money.Format(entry.Amount, wallet.Currency)},
		})
		result = &ports.PostingResult{Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RejectRefund closes a pending refund without touching the balance.
func (s *LedgerServiceImpl) RejectRefund(ctx context.Context, entryID uuid.UUID, reviewer string) (*domain.WalletTransaction, error) {
	var entry *domain.WalletTransaction

	err := withTx(ctx, s.transactor, func(tx pgx.Tx, hooks *afterCommit) error {
		var err error
		entry, err = s.lockRefund(ctx, tx, entryID)
		if err != nil {
			return err
		}
		switch entry.Status {
		case domain.TransactionStatusRejected:
			return nil
		case domain.TransactionStatusPosted:
			return apperror.ErrInvalidTransactionState(string(entry.Status))
		}

		if err := s.repos.Entries.UpdateStatus(ctx, tx, entry.ID, domain.TransactionStatusRejected, time.Now().UTC()); err != nil {
			return apperror.InternalError(fmt.Errorf("reject refund: %w", err))
		}
		entry.Status = domain.TransactionStatusRejected

		if err := s.events.Record(ctx, tx, domain.NewSystemEvent(domain.EventRefundRejected, "wallet_transaction", entry.ID,
			map[string]any{"reviewed_by": reviewer})); err != nil {
			return apperror.InternalError(fmt.Errorf("record event: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Adjust posts an operator correction. A positive amount credits, a negative
// one debits and is subject to the balance check.
func (s *LedgerServiceImpl) Adjust(ctx context.Context, in ports.AdjustmentInput) (*ports.PostingResult, error) {
	if in.Amount == 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, apperror.ValidationFields("Invalid adjustment", map[string]string{"reason": "is required"})
	}

	direction, amount := domain.DirectionCredit, in.Amount
	if amount < 0 {
		direction, amount = domain.DirectionDebit, -amount
	}

	var result *ports.PostingResult
	err := withTx(ctx, s.transactor, func(tx pgx.Tx, hooks *afterCommit) error {
		entry, already, err := s.ledger.post(ctx, tx, hooks, posting{
			WalletID:    in.WalletID,
			Type:        domain.TransactionTypeAdjustment,
			Direction:   direction,
			Amount:      amount,
			Key:         in.IdempotencyKey,
			Metadata:    map[string]string{domain.MetaReason: in.Reason},
			Description: in.Reason,
		})
		if err != nil {
			return err
		}
		result = &ports.PostingResult{Entry: entry, AlreadyPosted: already}
		if already {
			return nil
		}
		if err := s.events.Record(ctx, tx, domain.NewSystemEvent(domain.EventWalletAdjusted, "wallet", in.WalletID,
			map[string]any{"entry_id": entry.ID, "amount": in.Amount, "reason": in.Reason})); err != nil {
			return apperror.InternalError(fmt.Errorf("record event: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LedgerServiceImpl) lockRefund(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*domain.WalletTransaction, error) {
	entry, err := s.repos.Entries.GetByIDForUpdate(ctx, tx, entryID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock entry: %w", err))
	}
	if entry == nil {
		return nil, apperror.ErrNotFound("wallet transaction")
	}
	if entry.Type != domain.TransactionTypeRefund {
		return nil, apperror.ErrWrongTransactionType(string(domain.TransactionTypeRefund))
	}
	return entry, nil
}

// refundOrderID finds the order a refund belongs to.
func refundOrderID(entry *domain.WalletTransaction) (uuid.UUID, bool) {
	if entry.ReferenceType != nil && *entry.ReferenceType == domain.ReferenceOrder && entry.ReferenceID != nil {
		return *entry.ReferenceID, true
	}
	if id, err := uuid.Parse(entry.Metadata[domain.MetaOrderID]); err == nil {
		return id, true
	}
	return uuid.Nil, false
}
