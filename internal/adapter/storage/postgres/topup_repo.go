package postgres

import (
	"context"
	"errors"
	"fmt"

	"storefront-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const topupColumns = `id, user_id, wallet_id, amount, method, status, reviewed_by, review_note, created_at, reviewed_at`

// TopupRequestRepo implements ports.TopupRequestRepository.
type TopupRequestRepo struct {
	pool Pool
}

// NewTopupRequestRepo creates a new TopupRequestRepo.
func NewTopupRequestRepo(pool Pool) *TopupRequestRepo {
	return &TopupRequestRepo{pool: pool}
}

// Create inserts a pending topup request.
func (r *TopupRequestRepo) Create(ctx context.Context, req *domain.TopupRequest) error {
	query := `INSERT INTO topup_requests (` + topupColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		req.ID, req.UserID, req.WalletID, req.Amount, req.Method, req.Status,
		req.ReviewedBy, req.ReviewNote, req.CreatedAt, req.ReviewedAt,
	)
	if err != nil {
		return fmt.Errorf("insert topup request: %w", err)
	}
	return nil
}

// GetByIDForUpdate fetches and locks a topup request for review.
func (r *TopupRequestRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.TopupRequest, error) {
	query := `SELECT ` + topupColumns + ` FROM topup_requests WHERE id = $1 FOR UPDATE`

	req := &domain.TopupRequest{}
	err := tx.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.UserID, &req.WalletID, &req.Amount, &req.Method, &req.Status,
		&req.ReviewedBy, &req.ReviewNote, &req.CreatedAt, &req.ReviewedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get topup request for update: %w", err)
	}
	return req, nil
}

// MarkReviewed stores the review outcome of a pending request.
func (r *TopupRequestRepo) MarkReviewed(ctx context.Context, tx pgx.Tx, req *domain.TopupRequest) error {
	query := `UPDATE topup_requests SET status = $1, reviewed_by = $2, review_note = $3, reviewed_at = $4
		WHERE id = $5 AND status = 'pending'`

	tag, err := tx.Exec(ctx, query, req.Status, req.ReviewedBy, req.ReviewNote, req.ReviewedAt, req.ID)
	if err != nil {
		return fmt.Errorf("mark topup reviewed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending topup request not found: %s", req.ID)
	}
	return nil
}
