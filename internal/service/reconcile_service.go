package service

import (
	"context"
	"fmt"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// ReconcileServiceImpl implements ports.ReconcileService.
type ReconcileServiceImpl struct {
	repos      Repositories
	events     ports.EventRecorder
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewReconcileService creates a new ReconcileServiceImpl.
func NewReconcileService(repos Repositories, events ports.EventRecorder, transactor ports.DBTransactor, log zerolog.Logger) *ReconcileServiceImpl {
	return &ReconcileServiceImpl{repos: repos, events: events, transactor: transactor, log: log}
}

// Reconcile compares each wallet's cached balance with the sum of its posted
// entries and, unless DryRun, overwrites the cache with the ledger value.
func (s *ReconcileServiceImpl) Reconcile(ctx context.Context, params ports.ReconcileParams) (*ports.ReconcileReport, error) {
	ids, err := s.repos.Wallets.ListIDs(ctx, params.UserID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list wallets: %w", err))
	}

	report := &ports.ReconcileReport{DryRun: params.DryRun}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		line, err := s.check(ctx, id)
		if err != nil {
			return report, err
		}
		if line.Drift != 0 {
			report.Drifted++
			s.log.Warn().
				Str("wallet_id", id.String()).
				Int64("cached", line.Cached).
				Int64("computed", line.Computed).
				Msg("wallet balance drift")

			if !params.DryRun {
				fixed, err := s.fix(ctx, id)
				if err != nil {
					return report, err
				}
				line.Computed = fixed
				line.Fixed = true
				report.Fixed++
			}
		}
		report.Lines = append(report.Lines, line)
	}
	return report, nil
}

func (s *ReconcileServiceImpl) check(ctx context.Context, walletID uuid.UUID) (ports.ReconcileLine, error) {
	wallet, err := s.repos.Wallets.GetByID(ctx, walletID)
	if err != nil {
		return ports.ReconcileLine{}, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return ports.ReconcileLine{}, apperror.ErrNotFound("wallet")
	}
	computed, err := s.repos.Entries.PostedBalance(ctx, nil, walletID)
	if err != nil {
		return ports.ReconcileLine{}, apperror.InternalError(fmt.Errorf("sum ledger: %w", err))
	}
	return ports.ReconcileLine{
		WalletID: walletID,
		Cached:   wallet.Balance,
		Computed: computed,
		Drift:    wallet.Balance - computed,
	}, nil
}

// fix recomputes under the wallet lock so a posting that landed between the
// check and the fix is counted.
func (s *ReconcileServiceImpl) fix(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var computed int64
	err := withTx(ctx, s.transactor, func(tx pgx.Tx, hooks *afterCommit) error {
		wallet, err := s.repos.Wallets.GetByIDForUpdate(ctx, tx, walletID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
		}
		if wallet == nil {
			return apperror.ErrNotFound("wallet")
		}
		computed, err = s.repos.Entries.PostedBalance(ctx, tx, walletID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("sum ledger: %w", err))
		}
		if computed == wallet.Balance {
			return nil
		}
		if err := s.repos.Wallets.SetBalance(ctx, tx, walletID, computed); err != nil {
			return apperror.InternalError(fmt.Errorf("set balance: %w", err))
		}
		return s.events.Record(ctx, tx, domain.NewSystemEvent(domain.EventWalletReconciled, "wallet", walletID,
			map[string]any{"cached": wallet.Balance, "computed": computed}))
	})
	return computed, err
}
