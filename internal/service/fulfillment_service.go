package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// recordTimeout bounds writing a delivery outcome once the caller's context
// is gone.
const recordTimeout = 10 * time.Second

// FulfillmentServiceImpl implements ports.FulfillmentService.
type FulfillmentServiceImpl struct {
	repos       Repositories
	orders      *orderStatus
	providers   map[string]ports.FulfillmentProvider
	encSvc      ports.EncryptionService
	events      ports.EventRecorder
	notifier    ports.Notifier
	transactor  ports.DBTransactor
	batchSize   int
	maxAttempts int
	log         zerolog.Logger
}

// NewFulfillmentService creates a new FulfillmentServiceImpl. Items whose
// provider is not among providers are left for manual completion.
func NewFulfillmentService(
	repos Repositories,
	providers []ports.FulfillmentProvider,
	encSvc ports.EncryptionService,
	events ports.EventRecorder,
	notifier ports.Notifier,
	transactor ports.DBTransactor,
	batchSize, maxAttempts int,
	log zerolog.Logger,
) *FulfillmentServiceImpl {
	byName := make(map[string]ports.FulfillmentProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &FulfillmentServiceImpl{
		repos:       repos,
		orders:      repos.orderStatus(),
		providers:   byName,
		encSvc:      encSvc,
		events:      events,
		notifier:    notifier,
		transactor:  transactor,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Start moves a queued fulfillment to processing.
func (s *FulfillmentServiceImpl) Start(ctx context.Context, id uuid.UUID) (*domain.Fulfillment, error) {
	return s.mutate(ctx, id, func(tx pgx.Tx, hooks *afterCommit, f *domain.Fulfillment, now time.Time) (bool, error) {
		return true, f.Start(now)
	})
}

// Complete stores the delivered payload (encrypted) and marks the fulfillment
// completed. Completing a completed fulfillment changes nothing.
func (s *FulfillmentServiceImpl) Complete(ctx context.Context, id uuid.UUID, payload string) (*domain.Fulfillment, error) {
	return s.mutate(ctx, id, func(tx pgx.Tx, hooks *afterCommit, f *domain.Fulfillment, now time.Time) (bool, error) {
		if f.IsTerminal() {
			return false, nil
		}

		var enc *string
		if payload != "" {
			ct, err := s.encSvc.Encrypt(payload)
			if err != nil {
				return false, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt payload: %w", err))
			}
			enc = &ct
		}
		changed, err := f.Complete(enc, now)
		if err != nil || !changed {
			return changed, err
		}

		if err := s.events.Record(ctx, tx, domain.NewSystemEvent(domain.EventFulfillmentCompleted, "fulfillment", f.ID,
			map[string]any{"attempts": f.Attempts})); err != nil {
			return false, apperror.InternalError(fmt.Errorf("record event: %w", err))
		}
		hooks.add(func(context.Context) {
			s.log.Info().Str("fulfillment_id", f.ID.String()).Int("attempts", f.Attempts).Msg("fulfillment completed")
		})
		return true, nil
	})
}

// Fail records a failed delivery attempt with its reason.
func (s *FulfillmentServiceImpl) Fail(ctx context.Context, id uuid.UUID, reason string) (*domain.Fulfillment, error) {
	return s.mutate(ctx, id, func(tx pgx.Tx, hooks *afterCommit, f *domain.Fulfillment, now time.Time) (bool, error) {
		if err := f.Fail(reason, now); err != nil {
			return false, err
		}

		if err := s.events.Record(ctx, tx, domain.NewSystemEvent(domain.EventFulfillmentFailed, "fulfillment", f.ID,
			map[string]any{"attempts": f.Attempts, "error": reason})); err != nil {
			return false, apperror.InternalError(fmt.Errorf("record event: %w", err))
		}
		notifyLater(hooks, s.notifier, s.log, domain.Notification{
			Kind:  string(domain.EventFulfillmentFailed),
			Title: "Fulfillment failed",
			Data:  map[string]any{"fulfillment_id": f.ID, "order_id": f.OrderID, "error": reason},
		})
		hooks.add(func(context.Context) {
			s.log.Warn().Str("fulfillment_id", f.ID.String()).Int("attempts", f.Attempts).Str("error", reason).Msg("fulfillment failed")
		})
		return true, nil
	})
}

// Retry requeues a failed fulfillment unless a pending or posted refund
// covers it.
func (s *FulfillmentServiceImpl) Retry(ctx context.Context, id uuid.UUID) (*domain.Fulfillment, error) {
	return s.mutate(ctx, id, func(tx pgx.Tx, hooks *afterCommit, f *domain.Fulfillment, now time.Time) (bool, error) {
		if f.CanTransitionTo(domain.FulfillmentStatusQueued) {
			blocked, err := refundBlocks(ctx, tx, s.repos.Entries, f,
				domain.TransactionStatusPending, domain.TransactionStatusPosted)
			if err != nil {
				return false, err
			}
			if blocked {
				return false, apperror.ErrRefundBlocksRetry()
			}
		}
		if err := f.Requeue(now); err != nil {
			return false, err
		}

		if err := s.events.Record(ctx, tx, domain.NewSystemEvent(domain.EventFulfillmentRetried, "fulfillment", f.ID,
			map[string]any{"attempts": f.Attempts})); err != nil {
			return false, apperror.InternalError(fmt.Errorf("record event: %w", err))
		}
		return true, nil
	})
}

// mutate locks the fulfillment, applies fn and, when fn reports a change,
// persists it and refreshes the order status in the same transaction.
func (s *FulfillmentServiceImpl) mutate(
	ctx context.Context,
	id uuid.UUID,
	fn func(tx pgx.Tx, hooks *afterCommit, f *domain.Fulfillment, now time.Time) (bool, error),
) (*domain.Fulfillment, error) {
	var f *domain.Fulfillment

	err := withTx(ctx, s.transactor, func(tx pgx.Tx, hooks *afterCommit) error {
		var err error
		f, err = s.repos.Fulfillments.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("lock fulfillment: %w", err))
		}
		if f == nil {
			return apperror.ErrNotFound("fulfillment")
		}

		changed, err := fn(tx, hooks, f, time.Now().UTC())
		if err != nil {
			return transitionError(err)
		}
		if !changed {
			return nil
		}

		if err := s.repos.Fulfillments.Update(ctx, tx, f); err != nil {
			return apperror.InternalError(fmt.Errorf("update fulfillment: %w", err))
		}
		order, err := s.orders.refresh(ctx, tx, f.OrderID)
		if err != nil {
			return err
		}

		if f.Status == domain.FulfillmentStatusCompleted {
			notifyLater(hooks, s.notifier, s.log, domain.Notification{
				UserID: &order.UserID,
				Kind:   string(domain.EventFulfillmentCompleted),
				Title:  "Your item has been delivered",
				Data:   map[string]any{"order_id": order.ID, "fulfillment_id": f.ID},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Show loads a fulfillment and decrypts its delivered payload.
func (s *FulfillmentServiceImpl) Show(ctx context.Context, id uuid.UUID) (*domain.Fulfillment, string, error) {
	f, err := s.repos.Fulfillments.GetByID(ctx, id)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("get fulfillment: %w", err))
	}
	if f == nil {
		return nil, "", apperror.ErrNotFound("fulfillment")
	}
	if f.PayloadEncrypted == nil {
		return f, "", nil
	}
	payload, err := s.encSvc.Decrypt(*f.PayloadEncrypted)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("decrypt payload: %w", err))
	}
	return f, payload, nil
}

// ProcessQueue delivers queued fulfillments through their providers. Unless
// OnlyPending is set, failed ones below the attempt limit are retried first.
// A failing item never aborts the batch.
func (s *FulfillmentServiceImpl) ProcessQueue(ctx context.Context, opts ports.ProcessOptions) (*ports.ProcessSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.batchSize
	}

	ids, err := s.repos.Fulfillments.ListProcessable(ctx, !opts.OnlyPending, s.maxAttempts, limit)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list processable: %w", err))
	}

	summary := &ports.ProcessSummary{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		s.processOne(ctx, id, summary)
	}

	s.log.Info().
		Int("processed", summary.Processed).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("fulfillment queue processed")

	return summary, nil
}

func (s *FulfillmentServiceImpl) processOne(ctx context.Context, id uuid.UUID, summary *ports.ProcessSummary) {
	log := s.log.With().Str("fulfillment_id", id.String()).Logger()

	f, err := s.repos.Fulfillments.GetByID(ctx, id)
	if err != nil || f == nil {
		log.Warn().Err(err).Msg("fulfillment vanished, skipping")
		summary.Skipped++
		return
	}
	item, err := s.repos.Orders.GetItem(ctx, f.OrderItemID)
	if err != nil || item == nil {
		log.Warn().Err(err).Msg("order item not found, skipping")
		summary.Skipped++
		return
	}
	provider, ok := s.providers[item.Provider]
	if !ok {
		log.Debug().Str("provider", item.Provider).Msg("no automatic provider, leaving for manual delivery")
		summary.Skipped++
		return
	}

	if f.Status == domain.FulfillmentStatusFailed {
		if _, err := s.Retry(ctx, id); err != nil {
			log.Info().Err(err).Msg("fulfillment not retried")
			summary.Skipped++
			return
		}
	}

	f, err = s.Start(ctx, id)
	if err != nil {
		log.Info().Err(err).Msg("fulfillment not started")
		summary.Skipped++
		return
	}
	summary.Processed++

	payload, deliverErr := provider.Deliver(ctx, ports.DeliveryRequest{
		FulfillmentID: f.ID,
		OrderID:       f.OrderID,
		ProductID:     item.ProductID,
		ProductName:   item.ProductName,
		Quantity:      item.Quantity,
		Requirements:  item.Requirements,
		Attempt:       f.Attempts,
	})

	// The item is processing now; its outcome is recorded even if a shutdown
	// cancelled ctx during delivery.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if deliverErr != nil {
		if _, err := s.Fail(recordCtx, id, deliverErr.Error()); err != nil {
			log.Error().Err(err).Msg("failed to record delivery failure")
		}
		summary.Failed++
		return
	}

	if _, err := s.Complete(recordCtx, id, payload); err != nil {
		log.Error().Err(err).Msg("failed to record delivery")
		if _, failErr := s.Fail(recordCtx, id, "record delivery: "+err.Error()); failErr != nil {
			log.Error().Err(failErr).Msg("failed to record delivery failure")
		}
		summary.Failed++
		return
	}
	summary.Completed++
}

// transitionError maps a state machine refusal to its AppError.
func transitionError(err error) error {
	var tErr *domain.TransitionError
	if errors.As(err, &tErr) {
		return apperror.ErrInvalidTransition(string(tErr.From), string(tErr.To))
	}
	return err
}
