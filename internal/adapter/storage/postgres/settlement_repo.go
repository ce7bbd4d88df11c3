package postgres

import (
	"context"
	"fmt"
	"time"

	"storefront-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SettlementRepo implements ports.SettlementRepository.
type SettlementRepo struct {
	pool Pool
}

// NewSettlementRepo creates a new SettlementRepo.
func NewSettlementRepo(pool Pool) *SettlementRepo {
	return &SettlementRepo{pool: pool}
}

// eligibleFulfillment filters out fulfillments already settled or covered by a
// posted refund. A refund covers a fulfillment when it references the
// fulfillment, references the order without naming an item, or references the
// order and names this item in metadata.
const eligibleFulfillment = `NOT EXISTS (SELECT 1 FROM settlement_fulfillments sf WHERE sf.fulfillment_id = f.id)
	AND NOT EXISTS (
		SELECT 1 FROM wallet_transactions t
		WHERE t.type = 'refund' AND t.status = 'posted'
		AND (
			(t.reference_type = 'fulfillment' AND t.reference_id = f.id)
			OR (t.reference_type = 'order' AND t.reference_id = f.order_id
				AND COALESCE(t.metadata->>'order_item_id', '') IN ('', f.order_item_id::text))
		)
	)`

// ListCandidates returns completed fulfillments up to until that are
// eligible for settlement and have a known entry price.
func (r *SettlementRepo) ListCandidates(ctx context.Context, until time.Time) ([]domain.SettlementCandidate, error) {
	query := `SELECT f.id, f.order_id, f.order_item_id, oi.unit_price, oi.entry_price, oi.quantity, f.completed_at
		FROM fulfillments f
		JOIN order_items oi ON oi.id = f.order_item_id
		WHERE f.status = 'completed'
		AND f.completed_at <= $1
		AND oi.entry_price IS NOT NULL
		AND ` + eligibleFulfillment + `
		ORDER BY f.completed_at, f.id`

	rows, err := r.pool.Query(ctx, query, until)
	if err != nil {
		return nil, fmt.Errorf("list settlement candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementCandidate
	for rows.Next() {
		var c domain.SettlementCandidate
		if err := rows.Scan(&c.FulfillmentID, &c.OrderID, &c.OrderItemID,
			&c.UnitPrice, &c.EntryPrice, &c.Quantity, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan settlement candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement candidates: %w", err)
	}
	return out, nil
}

// LockEligible locks the owning orders so an in-flight refund approval, which
// locks its order, either commits first or waits for this transaction. The
// eligibility check runs as a separate statement so it sees refunds committed
// while the locks were awaited.
func (r *SettlementRepo) LockEligible(ctx context.Context, tx pgx.Tx, fulfillmentIDs []uuid.UUID) ([]uuid.UUID, error) {
	lockQuery := `SELECT o.id FROM orders o
		WHERE o.id IN (SELECT f.order_id FROM fulfillments f WHERE f.id = ANY($1))
		ORDER BY o.id
		FOR UPDATE`

	rows, err := tx.Query(ctx, lockQuery, fulfillmentIDs)
	if err != nil {
		return nil, fmt.Errorf("lock settlement orders: %w", err)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock settlement orders: %w", err)
	}

	query := `SELECT f.id FROM fulfillments f
		WHERE f.id = ANY($1)
		AND ` + eligibleFulfillment

	rows, err = tx.Query(ctx, query, fulfillmentIDs)
	if err != nil {
		return nil, fmt.Errorf("recheck settlement candidates: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan eligible fulfillment: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligible fulfillments: %w", err)
	}
	return out, nil
}

// Create inserts a settlement header.
func (r *SettlementRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error {
	query := `INSERT INTO settlements (id, period_until, total_profit, fulfillment_count, currency, wallet_transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		s.ID, s.PeriodUntil, s.TotalProfit, s.FulfillmentCount, s.Currency, s.WalletTransactionID, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// AttachFulfillments links fulfillments to the settlement. Rows already linked
// to any settlement are skipped; the caller compares the count.
func (r *SettlementRepo) AttachFulfillments(ctx context.Context, tx pgx.Tx, settlementID uuid.UUID, fulfillmentIDs []uuid.UUID) (int64, error) {
	query := `INSERT INTO settlement_fulfillments (settlement_id, fulfillment_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT (fulfillment_id) DO NOTHING`

	tag, err := tx.Exec(ctx, query, settlementID, fulfillmentIDs)
	if err != nil {
		return 0, fmt.Errorf("attach settlement fulfillments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetTransaction records the platform credit posted for the settlement.
func (r *SettlementRepo) SetTransaction(ctx context.Context, tx pgx.Tx, settlementID uuid.UUID, walletTxID uuid.UUID) error {
	query := `UPDATE settlements SET wallet_transaction_id = $1 WHERE id = $2`

	tag, err := tx.Exec(ctx, query, walletTxID, settlementID)
	if err != nil {
		return fmt.Errorf("set settlement transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settlement not found: %s", settlementID)
	}
	return nil
}
