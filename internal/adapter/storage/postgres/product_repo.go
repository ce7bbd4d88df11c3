package postgres

import (
	"context"
	"fmt"

	"storefront-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// ProductRepo implements ports.ProductRepository.
type ProductRepo struct {
	pool Pool
}

// NewProductRepo creates a new ProductRepo.
func NewProductRepo(pool Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

// GetByIDs loads the given products keyed by ID. Unknown IDs are absent from the map.
func (r *ProductRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	query := `SELECT id, name, price, entry_price, currency, provider, required_fields, active
		FROM products WHERE id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()

	products := make(map[uuid.UUID]*domain.Product, len(ids))
	for rows.Next() {
		p := &domain.Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.EntryPrice, &p.Currency,
			&p.Provider, &p.RequiredFields, &p.Active); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}
