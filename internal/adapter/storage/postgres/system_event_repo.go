package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// SystemEventRepo implements ports.SystemEventRepository.
// Insert-only; a trigger rejects UPDATE and DELETE on the table.
type SystemEventRepo struct {
	pool Pool
}

// NewSystemEventRepo creates a new SystemEventRepo.
func NewSystemEventRepo(pool Pool) *SystemEventRepo {
	return &SystemEventRepo{pool: pool}
}

// Create inserts an event. tx may be nil for events written after commit.
func (r *SystemEventRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.SystemEvent) error {
	payload := []byte("{}")
	if e.Payload != nil {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
		payload = b
	}

	query := `INSERT INTO system_events (id, type, subject_type, subject_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := on(r.pool, tx).Exec(ctx, query, e.ID, e.Type, e.SubjectType, e.SubjectID, payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert system event: %w", err)
	}
	return nil
}
