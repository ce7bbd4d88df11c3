package service

import (
	"context"
	"fmt"
	"time"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// LoyaltyServiceImpl implements ports.LoyaltyService.
type LoyaltyServiceImpl struct {
	repos      Repositories
	tiers      []domain.LoyaltyTier
	events     ports.EventRecorder
	notifier   ports.Notifier
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewLoyaltyService creates a new LoyaltyServiceImpl. tiers must be sorted by
// ascending threshold.
func NewLoyaltyService(
	repos Repositories,
	tiers []domain.LoyaltyTier,
	events ports.EventRecorder,
	notifier ports.Notifier,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *LoyaltyServiceImpl {
	return &LoyaltyServiceImpl{repos: repos, tiers: tiers, events: events, notifier: notifier, transactor: transactor, log: log}
}

// Evaluate recomputes the loyalty tier of one user, or of every user when
// userID is nil. Spend is posted purchases minus posted refunds.
func (s *LoyaltyServiceImpl) Evaluate(ctx context.Context, userID *uuid.UUID) ([]ports.LoyaltyResult, error) {
	var ids []uuid.UUID
	if userID != nil {
		ids = []uuid.UUID{*userID}
	} else {
		var err error
		ids, err = s.repos.Users.ListIDs(ctx)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("list users: %w", err))
		}
	}

	results := make([]ports.LoyaltyResult, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.evaluateOne(ctx, id)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *LoyaltyServiceImpl) evaluateOne(ctx context.Context, id uuid.UUID) (ports.LoyaltyResult, error) {
	user, err := s.repos.Users.GetByID(ctx, id)
	if err != nil {
		return ports.LoyaltyResult{}, apperror.InternalError(fmt.Errorf("get user: %w", err))
	}
	if user == nil {
		return ports.LoyaltyResult{}, apperror.ErrNotFound("user")
	}

	purchases, refunds, err := s.repos.Entries.SpendSummary(ctx, id)
	if err != nil {
		return ports.LoyaltyResult{}, apperror.InternalError(fmt.Errorf("spend summary: %w", err))
	}
	spend := max(purchases-refunds, 0)

	res := ports.LoyaltyResult{
		UserID:   id,
		Spend:    spend,
		Previous: user.LoyaltyTier,
		Current:  domain.TierFor(spend, s.tiers),
	}
	res.Changed = res.Current != res.Previous

	err = withTx(ctx, s.transactor, func(tx pgx.Tx, hooks *afterCommit) error {
		if err := s.repos.Users.UpdateLoyaltyTier(ctx, tx, id, res.Current, time.Now().UTC()); err != nil {
			return apperror.InternalError(fmt.Errorf("update tier: %w", err))
		}
		if !res.Changed {
			return nil
		}
		if err := s.events.Record(ctx, tx, domain.NewSystemEvent(domain.EventLoyaltyTierChanged, "user", id,
			map[string]any{"from": res.Previous, "to": res.Current, "spend": spend})); err != nil {
			return apperror.InternalError(fmt.Errorf("record event: %w", err))
		}
		notifyLater(hooks, s.notifier, s.log, domain.Notification{
			UserID: &id,
			Kind:   string(domain.EventLoyaltyTierChanged),
			Title:  "Your loyalty tier changed",
			Data:   map[string]any{"from": res.Previous, "to": res.Current},
		})
		return nil
	})
	if err != nil {
		return ports.LoyaltyResult{}, err
	}

	if res.Changed {
		s.log.Info().
			Str("user_id", id.String()).
			Str("from", res.Previous).
			Str("to", res.Current).
			Msg("loyalty tier changed")
	}
	return res, nil
}
