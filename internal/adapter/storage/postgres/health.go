package postgres

import (
	"context"
	"errors"
	"fmt"
)

// HealthCheck implements ports.HealthChecker for PostgreSQL. Beyond
// connectivity it checks the ledger schema is in place, since every command
// needs it.
type HealthCheck struct {
	pool Pool
}

// NewHealthCheck creates a PostgreSQL health checker.
func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	var ready bool
	err := h.pool.QueryRow(ctx, "SELECT to_regclass('wallet_transactions') IS NOT NULL").Scan(&ready)
	if err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	if !ready {
		return errors.New("ledger schema not applied")
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
