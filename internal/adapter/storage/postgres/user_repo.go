package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements ports.UserRepository.
type UserRepo struct {
	pool Pool
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(pool Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// GetByID fetches a user.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT id, name, email, loyalty_tier, loyalty_evaluated_at FROM users WHERE id = $1`

	u := &domain.User{}
	err := r.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email, &u.LoyaltyTier, &u.LoyaltyEvaluatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// ListIDs returns every user ID.
func (r *UserRepo) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return collectIDs(rows, "user")
}

// UpdateLoyaltyTier stores the evaluated tier.
func (r *UserRepo) UpdateLoyaltyTier(ctx context.Context, tx pgx.Tx, id uuid.UUID, tier string, evaluatedAt time.Time) error {
	query := `UPDATE users SET loyalty_tier = $1, loyalty_evaluated_at = $2 WHERE id = $3`

	tag, err := on(r.pool, tx).Exec(ctx, query, tier, evaluatedAt, id)
	if err != nil {
		return fmt.Errorf("update loyalty tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}
