package postgres

import (
	"context"
	"errors"
	"fmt"

	"storefront-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, user_id, is_platform, balance, currency, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet into the database.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO wallets (` + walletColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.UserID, w.IsPlatform, w.Balance, w.Currency, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByID fetches a wallet by its UUID (without locking).
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return scanWallet(r.pool.QueryRow(ctx, query, id), "get wallet by id")
}

// GetByUserID fetches a customer's wallet in the given currency.
func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2`
	return scanWallet(r.pool.QueryRow(ctx, query, userID, currency), "get wallet by user")
}

// GetPlatform fetches the platform wallet that receives settlements.
func (r *WalletRepo) GetPlatform(ctx context.Context, currency string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE is_platform AND currency = $1`
	return scanWallet(r.pool.QueryRow(ctx, query, currency), "get platform wallet")
}

// ListIDs returns wallet IDs ordered by creation, optionally only those of one user.
func (r *WalletRepo) ListIDs(ctx context.Context, userID *uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT id FROM wallets ORDER BY created_at, id`
	var args []any
	if userID != nil {
		query = `SELECT id FROM wallets WHERE user_id = $1 ORDER BY created_at, id`
		args = append(args, *userID)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list wallet ids: %w", err)
	}
	return collectIDs(rows, "wallet")
}

// GetByIDForUpdate fetches a wallet by ID with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	return scanWallet(tx.QueryRow(ctx, query, id), "get wallet for update")
}

// IncrementBalance adds a signed delta to the cached balance.
func (r *WalletRepo) IncrementBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int64) error {
	query := `UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, delta, id)
	if err != nil {
		return fmt.Errorf("increment wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", id)
	}
	return nil
}

// SetBalance overwrites the cached balance. Only reconciliation calls it.
func (r *WalletRepo) SetBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance int64) error {
	query := `UPDATE wallets SET balance = $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, balance, id)
	if err != nil {
		return fmt.Errorf("set wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", id)
	}
	return nil
}

func scanWallet(row pgx.Row, op string) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(&w.ID, &w.UserID, &w.IsPlatform, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return w, nil
}

// collectIDs drains a single-column uuid result set.
func collectIDs(rows pgx.Rows, what string) ([]uuid.UUID, error) {
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", what, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s ids: %w", what, err)
	}
	return ids, nil
}
