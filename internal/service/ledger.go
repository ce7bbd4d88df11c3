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

// posting describes a ledger entry to write as posted.
type posting struct {
	WalletID    uuid.UUID
	Type        domain.TransactionType
	Direction   domain.Direction
	Amount      int64
	Key         string // optional idempotency key
	RefType     domain.ReferenceType
	RefID       *uuid.UUID
	Metadata    map[string]string
	Description string
}

// ledger is the single write path for posted entries. Every caller goes
// through post so the lock, key check, balance check and cache update
// happen in the same order.
type ledger struct {
	walletRepo ports.WalletRepository
	entryRepo  ports.WalletTransactionRepository
	cache      ports.IdempotencyCache
	ttl        time.Duration
	log        zerolog.Logger
}

func newLedger(
	walletRepo ports.WalletRepository,
	entryRepo ports.WalletTransactionRepository,
	cache ports.IdempotencyCache,
	ttl time.Duration,
	log zerolog.Logger,
) *ledger {
	return &ledger{walletRepo: walletRepo, entryRepo: entryRepo, cache: cache, ttl: ttl, log: log}
}

// post locks the wallet, skips if the key was already used, checks funds for
// debits, writes the entry and moves the cached balance. It reports
// alreadyPosted=true, with the existing entry, when the key was taken.
func (l *ledger) post(ctx context.Context, tx pgx.Tx, hooks *afterCommit, p posting) (*domain.WalletTransaction, bool, error) {
	if p.Amount <= 0 {
		return nil, false, apperror.ErrInvalidAmount()
	}

	wallet, err := l.walletRepo.GetByIDForUpdate(ctx, tx, p.WalletID)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, false, apperror.ErrNotFound("wallet")
	}

	if p.Key != "" {
		existing, err := l.findByKey(ctx, tx, p.Key)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			l.log.Info().
				Str("key", p.Key).
				Str("entry_id", existing.ID.String()).
				Msg("already posted")
			return existing, true, nil
		}
	}

	if p.Direction == domain.DirectionDebit && !wallet.CanDebit(p.Amount) {
		return nil, false, apperror.ErrInsufficientBalance()
	}

	now := time.Now().UTC()
	entry := &domain.WalletTransaction{
		ID:          uuid.New(),
		WalletID:    wallet.ID,
		Type:        p.Type,
		Direction:   p.Direction,
		Amount:      p.Amount,
		Status:      domain.TransactionStatusPosted,
		Metadata:    p.Metadata,
		Description: p.Description,
		CreatedAt:   now,
		PostedAt:    &now,
	}
	if p.Key != "" {
		entry.IdempotencyKey = domain.Key(p.Key)
	}
	if p.RefType != "" {
		entry.ReferenceType = domain.RefType(p.RefType)
		entry.ReferenceID = p.RefID
	}

	if err := l.entryRepo.Create(ctx, tx, entry); err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("create entry: %w", err))
	}
	if err := l.walletRepo.IncrementBalance(ctx, tx, wallet.ID, entry.SignedAmount()); err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("update balance: %w", err))
	}

	if p.Key != "" {
		l.remember(hooks, p.Key, entry.ID)
	}
	return entry, false, nil
}

// findByKey checks Redis first, then the database. A Redis failure only
// costs the fast path.
func (l *ledger) findByKey(ctx context.Context, tx pgx.Tx, key string) (*domain.WalletTransaction, error) {
	if l.cache != nil {
		id, err := l.cache.Get(ctx, key)
		if err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
		} else if id != uuid.Nil {
			return &domain.WalletTransaction{ID: id, IdempotencyKey: domain.Key(key), Status: domain.TransactionStatusPosted}, nil
		}
	}

	existing, err := l.entryRepo.GetByIdempotencyKey(ctx, tx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	return existing, nil
}

// remember caches key -> entry once the transaction commits.
func (l *ledger) remember(hooks *afterCommit, key string, entryID uuid.UUID) {
	if l.cache == nil {
		return
	}
	hooks.add(func(ctx context.Context) {
		if err := l.cache.Set(ctx, key, entryID, l.ttl); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
		}
	})
}
