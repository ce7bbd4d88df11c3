package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletTxColumns = `id, wallet_id, type, direction, amount, status, idempotency_key,
	reference_type, reference_id, metadata, description, created_at, posted_at`

// WalletTransactionRepo implements ports.WalletTransactionRepository.
// Entries are never deleted; only status and posted_at change.
type WalletTransactionRepo struct {
	pool Pool
}

// NewWalletTransactionRepo creates a new WalletTransactionRepo.
func NewWalletTransactionRepo(pool Pool) *WalletTransactionRepo {
	return &WalletTransactionRepo{pool: pool}
}

// Create inserts a ledger entry within a database transaction.
func (r *WalletTransactionRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.WalletTransaction) error {
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO wallet_transactions (` + walletTxColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = tx.Exec(ctx, query,
		e.ID, e.WalletID, e.Type, e.Direction, e.Amount, e.Status, e.IdempotencyKey,
		e.ReferenceType, e.ReferenceID, meta, e.Description, e.CreatedAt, e.PostedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet transaction: %w", err)
	}
	return nil
}

// GetByID fetches a ledger entry by UUID.
func (r *WalletTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WalletTransaction, error) {
	query := `SELECT ` + walletTxColumns + ` FROM wallet_transactions WHERE id = $1`
	return scanWalletTx(r.pool.QueryRow(ctx, query, id), "get wallet transaction")
}

// GetByIDForUpdate fetches and locks a ledger entry for review.
func (r *WalletTransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WalletTransaction, error) {
	query := `SELECT ` + walletTxColumns + ` FROM wallet_transactions WHERE id = $1 FOR UPDATE`
	return scanWalletTx(tx.QueryRow(ctx, query, id), "get wallet transaction for update")
}

// GetByIdempotencyKey returns the entry holding key, or nil.
func (r *WalletTransactionRepo) GetByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (*domain.WalletTransaction, error) {
	query := `SELECT ` + walletTxColumns + ` FROM wallet_transactions WHERE idempotency_key = $1`
	return scanWalletTx(on(r.pool, tx).QueryRow(ctx, query, key), "get wallet transaction by key")
}

// UpdateStatus moves a pending entry to posted or rejected. posted_at is only
// stamped when posting.
func (r *WalletTransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus, at time.Time) error {
	var postedAt *time.Time
	if status == domain.TransactionStatusPosted {
		postedAt = &at
	}

	query := `UPDATE wallet_transactions SET status = $1, posted_at = $2 WHERE id = $3 AND status = 'pending'`

	tag, err := tx.Exec(ctx, query, status, postedAt, id)
	if err != nil {
		return fmt.Errorf("update wallet transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending wallet transaction not found: %s", id)
	}
	return nil
}

// PostedBalance computes the wallet balance from posted entries.
func (r *WalletTransactionRepo) PostedBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)
		FROM wallet_transactions WHERE wallet_id = $1 AND status = 'posted'`

	var balance int64
	if err := on(r.pool, tx).QueryRow(ctx, query, walletID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("sum posted entries: %w", err)
	}
	return balance, nil
}

// ListRefundsForOrder returns refunds referencing the order itself or any of
// its fulfillments.
func (r *WalletTransactionRepo) ListRefundsForOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, statuses []domain.TransactionStatus) ([]domain.WalletTransaction, error) {
	wanted := make([]string, len(statuses))
	for i, s := range statuses {
		wanted[i] = string(s)
	}

	query := `SELECT ` + walletTxColumns + ` FROM wallet_transactions
		WHERE type = 'refund' AND status = ANY($2)
		AND ((reference_type = 'order' AND reference_id = $1)
			OR (reference_type = 'fulfillment' AND reference_id IN (SELECT id FROM fulfillments WHERE order_id = $1)))
		ORDER BY created_at`

	rows, err := on(r.pool, tx).Query(ctx, query, orderID, wanted)
	if err != nil {
		return nil, fmt.Errorf("list order refunds: %w", err)
	}
	defer rows.Close()

	var entries []domain.WalletTransaction
	for rows.Next() {
		e, err := scanWalletTx(rows, "scan refund row")
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund rows: %w", err)
	}
	return entries, nil
}

// SpendSummary returns the user's posted purchase debits and posted refund credits.
func (r *WalletTransactionRepo) SpendSummary(ctx context.Context, userID uuid.UUID) (int64, int64, error) {
	query := `SELECT
		COALESCE(SUM(t.amount) FILTER (WHERE t.type = 'purchase' AND t.direction = 'debit'), 0) AS purchases,
		COALESCE(SUM(t.amount) FILTER (WHERE t.type = 'refund' AND t.direction = 'credit'), 0) AS refunds
		FROM wallet_transactions t JOIN wallets w ON w.id = t.wallet_id
		WHERE w.user_id = $1 AND t.status = 'posted'`

	var purchases, refunds int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&purchases, &refunds); err != nil {
		return 0, 0, fmt.Errorf("sum user spend: %w", err)
	}
	return purchases, refunds, nil
}

func scanWalletTx(row pgx.Row, op string) (*domain.WalletTransaction, error) {
	e := &domain.WalletTransaction{}
	var meta []byte
	err := row.Scan(
		&e.ID, &e.WalletID, &e.Type, &e.Direction, &e.Amount, &e.Status, &e.IdempotencyKey,
		&e.ReferenceType, &e.ReferenceID, &meta, &e.Description, &e.CreatedAt, &e.PostedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("%s: decode metadata: %w", op, err)
		}
	}
	return e, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}
