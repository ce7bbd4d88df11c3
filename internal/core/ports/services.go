package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"storefront-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EncryptionService handles AES-256-GCM encryption of delivered payloads.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing of provider requests.
type SignatureService interface {
	Sign(secretKey string, payload string) string
}

// IdempotencyCache is the Redis-layer record of posted idempotency keys (fast path).
// The database unique key stays authoritative.
type IdempotencyCache interface {
	// Get returns the ledger entry ID stored for key, or uuid.Nil if absent.
	Get(ctx context.Context, key string) (uuid.UUID, error)
	Set(ctx context.Context, key string, entryID uuid.UUID, ttl time.Duration) error
}

// CommandLock prevents overlapping runs of a console command.
type CommandLock interface {
	// Acquire returns a release func when the lock was taken, or nil if another
	// run holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Notifier hands a notification to the delivery channel.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// DeliveryRequest is what a provider needs to deliver one order item.
type DeliveryRequest struct {
	FulfillmentID uuid.UUID         `json:"fulfillment_id"`
	OrderID       uuid.UUID         `json:"order_id"`
	ProductID     uuid.UUID         `json:"product_id"`
	ProductName   string            `json:"product_name"`
	Quantity      int               `json:"quantity"`
	Requirements  map[string]string `json:"requirements,omitempty"`
	Attempt       int               `json:"attempt"`
}

// FulfillmentProvider delivers a digital good and returns the delivered payload
// (codes, credentials, receipts).
type FulfillmentProvider interface {
	Name() string
	Deliver(ctx context.Context, req DeliveryRequest) (payload string, err error)
}

// --- Service Ports (Business Logic) ---

// EventRecorder writes system events. Record joins the caller's transaction;
// RecordAfterCommit is best effort.
type EventRecorder interface {
	Record(ctx context.Context, tx pgx.Tx, event *domain.SystemEvent) error
	RecordAfterCommit(ctx context.Context, event *domain.SystemEvent)
}

// LedgerService posts and reviews wallet ledger entries.
type LedgerService interface {
	CreateTopupRequest(ctx context.Context, req TopupInput) (*domain.TopupRequest, error)
	ApproveTopup(ctx context.Context, topupID uuid.UUID, reviewer string) (*PostingResult, error)
	RejectTopup(ctx context.Context, topupID uuid.UUID, reviewer, note string) (*domain.TopupRequest, error)
	RequestRefund(ctx context.Context, fulfillmentID uuid.UUID, reason string) (*domain.WalletTransaction, error)
	ApproveRefund(ctx context.Context, entryID uuid.UUID, reviewer string) (*PostingResult, error)
	RejectRefund(ctx context.Context, entryID uuid.UUID, reviewer string) (*domain.WalletTransaction, error)
	Adjust(ctx context.Context, req AdjustmentInput) (*PostingResult, error)
}

// TopupInput holds validated input for a topup request.
type TopupInput struct {
	UserID   uuid.UUID
	Amount   int64
	Currency string
	Method   string
}

// AdjustmentInput holds an operator's manual correction.
type AdjustmentInput struct {
	WalletID       uuid.UUID
	Amount         int64 // signed: positive credits, negative debits
	Reason         string
	IdempotencyKey string
}

// PostingResult is the outcome of a posting guarded by an idempotency key.
type PostingResult struct {
	Entry         *domain.WalletTransaction
	AlreadyPosted bool // true when the key existed and nothing was written
}

// CheckoutService turns a cart into a paid order.
type CheckoutService interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*domain.Order, error)
}

// CheckoutRequest is a customer's cart.
type CheckoutRequest struct {
	UserID   uuid.UUID
	Currency string
	Items    []CartItem
}

// CartItem is one cart line.
type CartItem struct {
	ProductID    uuid.UUID
	Quantity     int
	Requirements map[string]string
}

// FulfillmentService drives the fulfillment state machine.
type FulfillmentService interface {
	Start(ctx context.Context, id uuid.UUID) (*domain.Fulfillment, error)
	Complete(ctx context.Context, id uuid.UUID, payload string) (*domain.Fulfillment, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (*domain.Fulfillment, error)
	Retry(ctx context.Context, id uuid.UUID) (*domain.Fulfillment, error)
	// Show returns the fulfillment and its decrypted payload, "" if none.
	Show(ctx context.Context, id uuid.UUID) (*domain.Fulfillment, string, error)
	ProcessQueue(ctx context.Context, opts ProcessOptions) (*ProcessSummary, error)
}

// ProcessOptions controls a fulfillment:process run.
type ProcessOptions struct {
	Limit       int
	OnlyPending bool
}

// ProcessSummary counts what a fulfillment:process run did.
type ProcessSummary struct {
	Processed int
	Completed int
	Failed    int
	Skipped   int
}

// SettlementService recognises realized profit.
type SettlementService interface {
	Settle(ctx context.Context, params SettleParams) (*SettleResult, error)
}

// SettleParams controls a profit:settle run.
type SettleParams struct {
	Until  time.Time
	DryRun bool
}

// SettleResult describes a settlement run. Settlement is nil for dry runs and
// when nothing was eligible.
type SettleResult struct {
	Settlement  *domain.Settlement
	Candidates  []domain.SettlementCandidate
	TotalProfit int64
	DryRun      bool
}

// ReconcileService restores cached wallet balances from the posted ledger.
type ReconcileService interface {
	Reconcile(ctx context.Context, params ReconcileParams) (*ReconcileReport, error)
}

// ReconcileParams controls a wallet:reconcile run.
type ReconcileParams struct {
	UserID *uuid.UUID
	DryRun bool
}

// ReconcileLine is the outcome for one wallet.
type ReconcileLine struct {
	WalletID uuid.UUID
	Cached   int64
	Computed int64
	Drift    int64 // cached - computed
	Fixed    bool
}

// ReconcileReport lists every wallet checked.
type ReconcileReport struct {
	Lines   []ReconcileLine
	Drifted int
	Fixed   int
	DryRun  bool
}

// LoyaltyService evaluates customer loyalty tiers.
type LoyaltyService interface {
	Evaluate(ctx context.Context, userID *uuid.UUID) ([]LoyaltyResult, error)
}

// LoyaltyResult is the evaluation of one user.
type LoyaltyResult struct {
	UserID   uuid.UUID
	Spend    int64
	Previous string
	Current  string
	Changed  bool
}
