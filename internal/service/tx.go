package service

import (
	"context"
	"fmt"

	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
)

// afterCommit collects work that may only run once the transaction has
// committed: cache writes, notifications, best-effort logging.
type afterCommit []func(context.Context)

func (a *afterCommit) add(fn func(context.Context)) {
	*a = append(*a, fn)
}

func (a afterCommit) run(ctx context.Context) {
	for _, fn := range a {
		fn(ctx)
	}
}

// withTx runs fn inside a transaction. The hooks fn registers run after a
// successful commit and are dropped on rollback.
func withTx(ctx context.Context, transactor ports.DBTransactor, fn func(tx pgx.Tx, hooks *afterCommit) error) error {
	tx, err := transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var hooks afterCommit
	if err := fn(tx, &hooks); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	hooks.run(ctx)
	return nil
}
