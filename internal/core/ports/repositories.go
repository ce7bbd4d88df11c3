package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"time"

	"storefront-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByUserID(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error)
	GetPlatform(ctx context.Context, currency string) (*domain.Wallet, error)
	ListIDs(ctx context.Context, userID *uuid.UUID) ([]uuid.UUID, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	IncrementBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int64) error
	SetBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance int64) error
}

// WalletTransactionRepository defines persistence for ledger entries.
// There is deliberately no delete.
type WalletTransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.WalletTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WalletTransaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WalletTransaction, error)
	GetByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (*domain.WalletTransaction, error)
	// UpdateStatus moves a pending entry to posted or rejected.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus, at time.Time) error
	// PostedBalance returns Σ posted credits − Σ posted debits. tx may be nil.
	PostedBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (int64, error)
	// ListRefundsForOrder returns refund entries referencing the order or any of
	// its fulfillments, in the given statuses.
	ListRefundsForOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, statuses []domain.TransactionStatus) ([]domain.WalletTransaction, error)
	// SpendSummary returns posted purchase debits and posted refund credits for a user.
	SpendSummary(ctx context.Context, userID uuid.UUID) (purchases int64, refunds int64, err error)
}

// TopupRequestRepository defines persistence for topup requests.
type TopupRequestRepository interface {
	Create(ctx context.Context, req *domain.TopupRequest) error
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.TopupRequest, error)
	MarkReviewed(ctx context.Context, tx pgx.Tx, req *domain.TopupRequest) error
}

// ProductRepository reads the catalogue.
type ProductRepository interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error)
}

// OrderRepository defines persistence for orders and their items.
type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	CreateItem(ctx context.Context, tx pgx.Tx, item *domain.OrderItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error)
	GetItem(ctx context.Context, id uuid.UUID) (*domain.OrderItem, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.OrderStatus) error
}

// FulfillmentRepository defines persistence for fulfillments.
type FulfillmentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, f *domain.Fulfillment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Fulfillment, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Fulfillment, error)
	ListByOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]domain.Fulfillment, error)
	// Update persists status, attempts, error, payload and timestamps.
	Update(ctx context.Context, tx pgx.Tx, f *domain.Fulfillment) error
	// ListProcessable returns IDs of queued fulfillments and, when
	// includeFailed is set, failed ones below maxAttempts. Oldest first.
	ListProcessable(ctx context.Context, includeFailed bool, maxAttempts int, limit int) ([]uuid.UUID, error)
}

// SettlementRepository defines persistence for settlements.
type SettlementRepository interface {
	// ListCandidates returns completed fulfillments up to until that are not
	// attached to a settlement, have a known entry price and no posted refund.
	ListCandidates(ctx context.Context, until time.Time) ([]domain.SettlementCandidate, error)
	// LockEligible locks the orders owning fulfillmentIDs and returns the ids
	// that are still unsettled and not covered by a posted refund.
	LockEligible(ctx context.Context, tx pgx.Tx, fulfillmentIDs []uuid.UUID) ([]uuid.UUID, error)
	Create(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error
	// AttachFulfillments links fulfillments to a settlement, skipping any
	// already linked, and returns how many rows were inserted.
	AttachFulfillments(ctx context.Context, tx pgx.Tx, settlementID uuid.UUID, fulfillmentIDs []uuid.UUID) (int64, error)
	SetTransaction(ctx context.Context, tx pgx.Tx, settlementID uuid.UUID, walletTxID uuid.UUID) error
}

// UserRepository reads users and stores their loyalty tier.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
	UpdateLoyaltyTier(ctx context.Context, tx pgx.Tx, id uuid.UUID, tier string, evaluatedAt time.Time) error
}

// SystemEventRepository persists insert-only audit events. It has no update or delete.
type SystemEventRepository interface {
	Create(ctx context.Context, tx pgx.Tx, event *domain.SystemEvent) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
