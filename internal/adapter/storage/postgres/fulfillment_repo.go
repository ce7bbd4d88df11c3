package postgres

import (
	"context"
	"errors"
	"fmt"

	"storefront-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const fulfillmentColumns = `id, order_id, order_item_id, status, attempts, last_error, payload_encrypted,
	started_at, completed_at, failed_at, created_at, updated_at`

// FulfillmentRepo implements ports.FulfillmentRepository.
type FulfillmentRepo struct {
	pool Pool
}

// NewFulfillmentRepo creates a new FulfillmentRepo.
func NewFulfillmentRepo(pool Pool) *FulfillmentRepo {
	return &FulfillmentRepo{pool: pool}
}

// Create inserts a fulfillment for an order item.
func (r *FulfillmentRepo) Create(ctx context.Context, tx pgx.Tx, f *domain.Fulfillment) error {
	query := `INSERT INTO fulfillments (` + fulfillmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := tx.Exec(ctx, query,
		f.ID, f.OrderID, f.OrderItemID, f.Status, f.Attempts, f.LastError, f.PayloadEncrypted,
		f.StartedAt, f.CompletedAt, f.FailedAt, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fulfillment: %w", err)
	}
	return nil
}

// GetByID fetches a fulfillment without locking.
func (r *FulfillmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Fulfillment, error) {
	query := `SELECT ` + fulfillmentColumns + ` FROM fulfillments WHERE id = $1`
	return scanFulfillment(r.pool.QueryRow(ctx, query, id), "get fulfillment by id")
}

// GetByIDForUpdate fetches and locks a fulfillment.
func (r *FulfillmentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Fulfillment, error) {
	query := `SELECT ` + fulfillmentColumns + ` FROM fulfillments WHERE id = $1 FOR UPDATE`
	return scanFulfillment(tx.QueryRow(ctx, query, id), "get fulfillment for update")
}

// ListByOrder returns every fulfillment of an order.
func (r *FulfillmentRepo) ListByOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]domain.Fulfillment, error) {
	query := `SELECT ` + fulfillmentColumns + ` FROM fulfillments WHERE order_id = $1 ORDER BY created_at, id`

	rows, err := on(r.pool, tx).Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list fulfillments: %w", err)
	}
	defer rows.Close()

	var out []domain.Fulfillment
	for rows.Next() {
		f, err := scanFulfillment(rows, "scan fulfillment row")
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fulfillment rows: %w", err)
	}
	return out, nil
}

// Update persists the mutable fulfillment fields.
func (r *FulfillmentRepo) Update(ctx context.Context, tx pgx.Tx, f *domain.Fulfillment) error {
	query := `UPDATE fulfillments SET status = $1, attempts = $2, last_error = $3, payload_encrypted = $4,
		started_at = $5, completed_at = $6, failed_at = $7, updated_at = $8 WHERE id = $9`

	tag, err := tx.Exec(ctx, query,
		f.Status, f.Attempts, f.LastError, f.PayloadEncrypted,
		f.StartedAt, f.CompletedAt, f.FailedAt, f.UpdatedAt, f.ID,
	)
	if err != nil {
		return fmt.Errorf("update fulfillment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fulfillment not found: %s", f.ID)
	}
	return nil
}

// ListProcessable returns queued fulfillment IDs, plus failed ones under
// maxAttempts when includeFailed is set. Oldest first. The list is only a
// snapshot; a worker claims an item by moving it to processing under its row
// lock, so an item listed by two workers is delivered once.
func (r *FulfillmentRepo) ListProcessable(ctx context.Context, includeFailed bool, maxAttempts int, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM fulfillments WHERE status = 'queued'
		ORDER BY created_at, id LIMIT $1`
	args := []any{limit}
	if includeFailed {
		query = `SELECT id FROM fulfillments
			WHERE status = 'queued' OR (status = 'failed' AND attempts < $2)
			ORDER BY created_at, id LIMIT $1`
		args = append(args, maxAttempts)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list processable fulfillments: %w", err)
	}
	return collectIDs(rows, "fulfillment")
}

func scanFulfillment(row pgx.Row, op string) (*domain.Fulfillment, error) {
	f := &domain.Fulfillment{}
	err := row.Scan(
		&f.ID, &f.OrderID, &f.OrderItemID, &f.Status, &f.Attempts, &f.LastError, &f.PayloadEncrypted,
		&f.StartedAt, &f.CompletedAt, &f.FailedAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return f, nil
}
