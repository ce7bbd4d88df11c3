package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storefront-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	orderColumns     = `id, user_id, wallet_id, status, total, currency, created_at, updated_at`
	orderItemColumns = `id, order_id, product_id, product_name, unit_price, entry_price, quantity, provider, requirements`
)

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// Create inserts the order header. Items are inserted with CreateItem.
func (r *OrderRepo) Create(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	query := `INSERT INTO orders (` + orderColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.Exec(ctx, query, o.ID, o.UserID, o.WalletID, o.Status, o.Total, o.Currency, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// CreateItem inserts one order line with its price snapshot.
func (r *OrderRepo) CreateItem(ctx context.Context, tx pgx.Tx, item *domain.OrderItem) error {
	reqs, err := marshalMetadata(item.Requirements)
	if err != nil {
		return err
	}

	query := `INSERT INTO order_items (` + orderItemColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = tx.Exec(ctx, query,
		item.ID, item.OrderID, item.ProductID, item.ProductName, item.UnitPrice,
		item.EntryPrice, item.Quantity, item.Provider, reqs,
	)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

// GetByID fetches an order together with its items.
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id), "get order by id")
	if err != nil || o == nil {
		return o, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanOrderItem(rows, "scan order item row")
		if err != nil {
			return nil, err
		}
		o.Items = append(o.Items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order item rows: %w", err)
	}
	return o, nil
}

// GetByIDForUpdate locks the order header. Items are not loaded.
func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	return scanOrder(tx.QueryRow(ctx, query, id), "get order for update")
}

// GetItem fetches a single order item.
func (r *OrderRepo) GetItem(ctx context.Context, id uuid.UUID) (*domain.OrderItem, error) {
	query := `SELECT ` + orderItemColumns + ` FROM order_items WHERE id = $1`
	return scanOrderItem(r.pool.QueryRow(ctx, query, id), "get order item")
}

// UpdateStatus sets the derived order status.
func (r *OrderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.OrderStatus) error {
	query := `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %s", id)
	}
	return nil
}

func scanOrder(row pgx.Row, op string) (*domain.Order, error) {
	o := &domain.Order{}
	err := row.Scan(&o.ID, &o.UserID, &o.WalletID, &o.Status, &o.Total, &o.Currency, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

func scanOrderItem(row pgx.Row, op string) (*domain.OrderItem, error) {
	item := &domain.OrderItem{}
	var reqs []byte
	err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.UnitPrice,
		&item.EntryPrice, &item.Quantity, &item.Provider, &reqs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(reqs) > 0 {
		if err := json.Unmarshal(reqs, &item.Requirements); err != nil {
			return nil, fmt.Errorf("%s: decode requirements: %w", op, err)
		}
	}
	return item, nil
}
