package service

import (
	"context"
	"fmt"
	"time"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/apperror"
	"storefront-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// SettlementServiceImpl implements ports.SettlementService.
type SettlementServiceImpl struct {
	repos      Repositories
	ledger     *ledger
	events     ports.EventRecorder
	notifier   ports.Notifier
	transactor ports.DBTransactor
	currency   string
	log        zerolog.Logger
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	repos Repositories,
	cache ports.IdempotencyCache,
	events ports.EventRecorder,
	notifier ports.Notifier,
	transactor ports.DBTransactor,
	currency string,
	idempotencyTTL time.Duration,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		repos:      repos,
		ledger:     newLedger(repos.Wallets, repos.Entries, cache, idempotencyTTL, log),
		events:     events,
		notifier:   notifier,
		transactor: transactor,
		currency:   currency,
		log:        log,
	}
}

// Settle batches every eligible fulfillment completed up to params.Until into
// one settlement and credits its profit to the platform wallet. A fulfillment
// is settled at most once; if a concurrent run claimed any of the candidates
// the whole run rolls back. Candidates refunded after they were listed are
// dropped from the batch.
func (s *SettlementServiceImpl) Settle(ctx context.Context, params ports.SettleParams) (*ports.SettleResult, error) {
	candidates, err := s.repos.Settlements.ListCandidates(ctx, params.Until)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list candidates: %w", err))
	}

	result := &ports.SettleResult{
		Candidates:  candidates,
		TotalProfit: domain.TotalProfit(candidates),
		DryRun:      params.DryRun,
	}
	if params.DryRun || len(candidates) == 0 {
		return result, nil
	}

	platform, err := s.repos.Wallets.GetPlatform(ctx, s.currency)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get platform wallet: %w", err))
	}
	if platform == nil {
		return nil, apperror.ErrNotFound("platform wallet")
	}

	var settlement *domain.Settlement
	err = withTx(ctx, s.transactor, func(tx pgx.Tx, hooks *afterCommit) error {
		eligible, err := s.repos.Settlements.LockEligible(ctx, tx, candidateIDs(candidates))
		if err != nil {
			return apperror.InternalError(fmt.Errorf("lock candidates: %w", err))
		}
		batch := keepCandidates(candidates, eligible)
		if dropped := len(candidates) - len(batch); dropped > 0 {
			s.log.Warn().Int("dropped", dropped).Msg("candidates no longer eligible")
		}
		result.Candidates = batch
		result.TotalProfit = domain.TotalProfit(batch)
		if len(batch) == 0 {
			return nil
		}

		settlement = &domain.Settlement{
			ID:               uuid.New(),
			PeriodUntil:      params.Until,
			TotalProfit:      result.TotalProfit,
			FulfillmentCount: len(batch),
			Currency:         s.currency,
			CreatedAt:        time.Now().UTC(),
		}
		ids := candidateIDs(batch)

		if err := s.repos.Settlements.Create(ctx, tx, settlement); err != nil {
			return apperror.InternalError(fmt.Errorf("create settlement: %w", err))
		}
		attached, err := s.repos.Settlements.AttachFulfillments(ctx, tx, settlement.ID, ids)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("attach fulfillments: %w", err))
		}
		if attached != int64(len(ids)) {
			return apperror.ErrConcurrentSettlement()
		}

		if settlement.TotalProfit > 0 {
			entry, _, err := s.ledger.post(ctx, tx, hooks, posting{
				WalletID:    platform.ID,
				Type:        domain.TransactionTypeSettlement,
				Direction:   domain.DirectionCredit,
				Amount:      settlement.TotalProfit,
				Key:         domain.SettlementKey(settlement.ID),
				RefType:     domain.ReferenceSettlement,
				RefID:       &settlement.ID,
				Description: fmt.Sprintf("Profit settlement until %s", params.Until.Format(time.DateOnly)),
			})
			if err != nil {
				return err
			}
			if err := s.repos.Settlements.SetTransaction(ctx, tx, settlement.ID, entry.ID); err != nil {
				return apperror.InternalError(fmt.Errorf("link settlement entry: %w", err))
			}
			settlement.WalletTransactionID = &entry.ID
		}

		recordLater(hooks, s.events, domain.NewSystemEvent(domain.EventSettlementPosted, "settlement", settlement.ID,
			map[string]any{"total_profit": settlement.TotalProfit, "fulfillments": settlement.FulfillmentCount}))

		notifyLater(hooks, s.notifier, s.log, domain.Notification{
			Kind:  string(domain.EventSettlementPosted),
			Title: "Profit settled",
			Data: map[string]any{
				"settlement_id": settlement.ID,
				"fulfillments":  settlement.FulfillmentCount,
				"total_profit":  money.Format(settlement.TotalProfit, settlement.Currency),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return result, nil
	}

	s.log.Info().
		Str("settlement_id", settlement.ID.String()).
		Int("fulfillments", settlement.FulfillmentCount).
		Int64("total_profit", settlement.TotalProfit).
		Msg("settlement posted")

	result.Settlement = settlement
	return result, nil
}

func candidateIDs(candidates []domain.SettlementCandidate) []uuid.UUID {
	ids := make([]uuid.UUID, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].FulfillmentID
	}
	return ids
}

// keepCandidates returns the candidates whose fulfillment is in ids, in order.
func keepCandidates(candidates []domain.SettlementCandidate, ids []uuid.UUID) []domain.SettlementCandidate {
	keep := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	var out []domain.SettlementCandidate
	for _, c := range candidates {
		if keep[c.FulfillmentID] {
			out = append(out, c)
		}
	}
	return out
}
