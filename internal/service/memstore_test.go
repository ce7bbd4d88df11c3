package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memStore is an in-memory stand-in for the Postgres repositories, enough to
// drive whole command flows in tests. It does not roll back.
type memStore struct {
	mu           sync.Mutex
	wallets      map[uuid.UUID]*domain.Wallet
	entries      []*domain.WalletTransaction
	topups       map[uuid.UUID]*domain.TopupRequest
	products     map[uuid.UUID]*domain.Product
	orders       map[uuid.UUID]*domain.Order
	items        map[uuid.UUID]*domain.OrderItem
	fulfillments []*domain.Fulfillment
	settlements  map[uuid.UUID]*domain.Settlement
	settledBy    map[uuid.UUID]uuid.UUID
	users        map[uuid.UUID]*domain.User
	events       []*domain.SystemEvent
}

var errDuplicateKey = errors.New("duplicate key value violates unique constraint")

func newMemStore() *memStore {
	return &memStore{
		wallets:     make(map[uuid.UUID]*domain.Wallet),
		topups:      make(map[uuid.UUID]*domain.TopupRequest),
		products:    make(map[uuid.UUID]*domain.Product),
		orders:      make(map[uuid.UUID]*domain.Order),
		items:       make(map[uuid.UUID]*domain.OrderItem),
		settlements: make(map[uuid.UUID]*domain.Settlement),
		settledBy:   make(map[uuid.UUID]uuid.UUID),
		users:       make(map[uuid.UUID]*domain.User),
	}
}

func (s *memStore) repos() Repositories {
	return Repositories{
		Wallets:      memWallets{s},
		Entries:      memEntries{s},
		Topups:       memTopups{s},
		Products:     memProducts{s},
		Orders:       memOrders{s},
		Fulfillments: memFulfillments{s},
		Settlements:  memSettlements{s},
		Users:        memUsers{s},
	}
}

func (s *memStore) Begin(context.Context) (pgx.Tx, error) { return &mockTx{}, nil }

func (s *memStore) Create(_ context.Context, _ pgx.Tx, e *domain.SystemEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memStore) eventCount(t domain.SystemEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// ---- wallets ----

type memWallets struct{ s *memStore }

func (r memWallets) Create(_ context.Context, w *domain.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *w
	r.s.wallets[w.ID] = &c
	return nil
}

func (r memWallets) GetByID(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if w, ok := r.s.wallets[id]; ok {
		c := *w
		return &c, nil
	}
	return nil, nil
}

func (r memWallets) GetByUserID(_ context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.wallets {
		if w.UserID != nil && *w.UserID == userID && w.Currency == currency {
			c := *w
			return &c, nil
		}
	}
	return nil, nil
}

func (r memWallets) GetPlatform(_ context.Context, currency string) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.wallets {
		if w.IsPlatform && w.Currency == currency {
			c := *w
			return &c, nil
		}
	}
	return nil, nil
}

func (r memWallets) ListIDs(_ context.Context, userID *uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for _, w := range r.s.wallets {
		if userID == nil || (w.UserID != nil && *w.UserID == *userID) {
			ids = append(ids, w.ID)
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return ids, nil
}

func (r memWallets) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	return r.GetByID(ctx, id)
}

func (r memWallets) IncrementBalance(_ context.Context, _ pgx.Tx, id uuid.UUID, delta int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.wallets[id].Balance += delta
	return nil
}

func (r memWallets) SetBalance(_ context.Context, _ pgx.Tx, id uuid.UUID, balance int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.wallets[id].Balance = balance
	return nil
}

// ---- ledger entries ----

type memEntries struct{ s *memStore }

func (r memEntries) Create(_ context.Context, _ pgx.Tx, e *domain.WalletTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.IdempotencyKey != nil {
		for _, x := range r.s.entries {
			if x.IdempotencyKey != nil && *x.IdempotencyKey == *e.IdempotencyKey {
				return errDuplicateKey
			}
		}
	}
	c := *e
	r.s.entries = append(r.s.entries, &c)
	return nil
}

func (r memEntries) find(match func(*domain.WalletTransaction) bool) *domain.WalletTransaction {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entries {
		if match(e) {
			c := *e
			return &c
		}
	}
	return nil
}

func (r memEntries) GetByID(_ context.Context, id uuid.UUID) (*domain.WalletTransaction, error) {
	return r.find(func(e *domain.WalletTransaction) bool { return e.ID == id }), nil
}

func (r memEntries) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.WalletTransaction, error) {
	return r.GetByID(ctx, id)
}

func (r memEntries) GetByIdempotencyKey(_ context.Context, _ pgx.Tx, key string) (*domain.WalletTransaction, error) {
	return r.find(func(e *domain.WalletTransaction) bool {
		return e.IdempotencyKey != nil && *e.IdempotencyKey == key
	}), nil
}

func (r memEntries) UpdateStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status domain.TransactionStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entries {
		if e.ID == id && e.IsPending() {
			e.Status = status
			if status == domain.TransactionStatusPosted {
				e.PostedAt = &at
			}
		}
	}
	return nil
}

func (r memEntries) PostedBalance(_ context.Context, _ pgx.Tx, walletID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var sum int64
	for _, e := range r.s.entries {
		if e.WalletID == walletID && e.IsPosted() {
			sum += e.SignedAmount()
		}
	}
	return sum, nil
}

func (r memEntries) ListRefundsForOrder(_ context.Context, _ pgx.Tx, orderID uuid.UUID, statuses []domain.TransactionStatus) ([]domain.WalletTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.WalletTransaction
	for _, e := range r.s.entries {
		if e.Type != domain.TransactionTypeRefund || !slices.Contains(statuses, e.Status) {
			continue
		}
		ofOrder := e.References(domain.ReferenceOrder, orderID)
		for _, f := range r.s.fulfillments {
			if f.OrderID == orderID && e.References(domain.ReferenceFulfillment, f.ID) {
				ofOrder = true
			}
		}
		if ofOrder {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r memEntries) SpendSummary(_ context.Context, userID uuid.UUID) (int64, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var purchases, refunds int64
	for _, e := range r.s.entries {
		w := r.s.wallets[e.WalletID]
		if w == nil || w.UserID == nil || *w.UserID != userID || !e.IsPosted() {
			continue
		}
		switch {
		case e.Type == domain.TransactionTypePurchase && e.Direction == domain.DirectionDebit:
			purchases += e.Amount
		case e.Type == domain.TransactionTypeRefund && e.Direction == domain.DirectionCredit:
			refunds += e.Amount
		}
	}
	return purchases, refunds, nil
}

// ---- topups ----

type memTopups struct{ s *memStore }

func (r memTopups) Create(_ context.Context, req *domain.TopupRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *req
	r.s.topups[req.ID] = &c
	return nil
}

func (r memTopups) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*domain.TopupRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if req, ok := r.s.topups[id]; ok {
		c := *req
		return &c, nil
	}
	return nil, nil
}

func (r memTopups) MarkReviewed(_ context.Context, _ pgx.Tx, req *domain.TopupRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cur := r.s.topups[req.ID]; cur != nil && cur.Status == domain.TopupStatusPending {
		c := *req
		r.s.topups[req.ID] = &c
	}
	return nil
}

// ---- products ----

type memProducts struct{ s *memStore }

func (r memProducts) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uuid.UUID]*domain.Product)
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			c := *p
			out[id] = &c
		}
	}
	return out, nil
}

// ---- orders ----

type memOrders struct{ s *memStore }

func (r memOrders) Create(_ context.Context, _ pgx.Tx, o *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *o
	c.Items = nil
	r.s.orders[o.ID] = &c
	return nil
}

func (r memOrders) CreateItem(_ context.Context, _ pgx.Tx, item *domain.OrderItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *item
	r.s.items[item.ID] = &c
	return nil
}

func (r memOrders) GetByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, nil
	}
	c := *o
	for _, it := range r.s.items {
		if it.OrderID == id {
			c.Items = append(c.Items, *it)
		}
	}
	return &c, nil
}

func (r memOrders) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r memOrders) GetItem(_ context.Context, id uuid.UUID) (*domain.OrderItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if it, ok := r.s.items[id]; ok {
		c := *it
		return &c, nil
	}
	return nil, nil
}

func (r memOrders) UpdateStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status domain.OrderStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orders[id].Status = status
	return nil
}

// ---- fulfillments ----

type memFulfillments struct{ s *memStore }

func (r memFulfillments) Create(_ context.Context, _ pgx.Tx, f *domain.Fulfillment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *f
	r.s.fulfillments = append(r.s.fulfillments, &c)
	return nil
}

func (r memFulfillments) GetByID(_ context.Context, id uuid.UUID) (*domain.Fulfillment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, f := range r.s.fulfillments {
		if f.ID == id {
			c := *f
			return &c, nil
		}
	}
	return nil, nil
}

func (r memFulfillments) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Fulfillment, error) {
	return r.GetByID(ctx, id)
}

func (r memFulfillments) ListByOrder(_ context.Context, _ pgx.Tx, orderID uuid.UUID) ([]domain.Fulfillment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Fulfillment
	for _, f := range r.s.fulfillments {
		if f.OrderID == orderID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r memFulfillments) Update(_ context.Context, _ pgx.Tx, f *domain.Fulfillment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, cur := range r.s.fulfillments {
		if cur.ID == f.ID {
			c := *f
			r.s.fulfillments[i] = &c
		}
	}
	return nil
}

func (r memFulfillments) ListProcessable(_ context.Context, includeFailed bool, maxAttempts int, limit int) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for _, f := range r.s.fulfillments {
		if len(ids) == limit {
			break
		}
		if f.Status == domain.FulfillmentStatusQueued ||
			(includeFailed && f.Status == domain.FulfillmentStatusFailed && f.Attempts < maxAttempts) {
			ids = append(ids, f.ID)
		}
	}
	return ids, nil
}

// ---- settlements ----

type memSettlements struct{ s *memStore }

func (r memSettlements) ListCandidates(_ context.Context, until time.Time) ([]domain.SettlementCandidate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.SettlementCandidate
	for _, f := range r.s.fulfillments {
		if f.Status != domain.FulfillmentStatusCompleted || f.CompletedAt == nil || f.CompletedAt.After(until) {
			continue
		}
		if _, settled := r.s.settledBy[f.ID]; settled {
			continue
		}
		item := r.s.items[f.OrderItemID]
		if item == nil || item.EntryPrice == nil {
			continue
		}
		if r.s.refunded(f) {
			continue
		}
		out = append(out, domain.SettlementCandidate{
			FulfillmentID: f.ID,
			OrderID:       f.OrderID,
			OrderItemID:   f.OrderItemID,
			UnitPrice:     item.UnitPrice,
			EntryPrice:    *item.EntryPrice,
			Quantity:      item.Quantity,
			CompletedAt:   *f.CompletedAt,
		})
	}
	return out, nil
}

func (r memSettlements) LockEligible(_ context.Context, _ pgx.Tx, ids []uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []uuid.UUID
	for _, f := range r.s.fulfillments {
		if !slices.Contains(ids, f.ID) {
			continue
		}
		if _, settled := r.s.settledBy[f.ID]; settled || r.s.refunded(f) {
			continue
		}
		out = append(out, f.ID)
	}
	return out, nil
}

// refunded reports whether a posted refund covers f. Callers hold mu.
func (s *memStore) refunded(f *domain.Fulfillment) bool {
	for _, e := range s.entries {
		if e.IsPosted() && e.RefundCovers(f.OrderID, f.OrderItemID, f.ID) {
			return true
		}
	}
	return false
}

func (r memSettlements) Create(_ context.Context, _ pgx.Tx, st *domain.Settlement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *st
	r.s.settlements[st.ID] = &c
	return nil
}

func (r memSettlements) AttachFulfillments(_ context.Context, _ pgx.Tx, settlementID uuid.UUID, ids []uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, taken := r.s.settledBy[id]; taken {
			continue
		}
		r.s.settledBy[id] = settlementID
		n++
	}
	return n, nil
}

func (r memSettlements) SetTransaction(_ context.Context, _ pgx.Tx, settlementID uuid.UUID, walletTxID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.settlements[settlementID].WalletTransactionID = &walletTxID
	return nil
}

// ---- users ----

type memUsers struct{ s *memStore }

func (r memUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (r memUsers) ListIDs(_ context.Context) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for id := range r.s.users {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r memUsers) UpdateLoyaltyTier(_ context.Context, _ pgx.Tx, id uuid.UUID, tier string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.users[id].LoyaltyTier = tier
	r.s.users[id].LoyaltyEvaluatedAt = &at
	return nil
}

// stubProvider delivers through a function.
type stubProvider struct {
	name    string
	deliver func(req ports.DeliveryRequest) (string, error)
}

func (p stubProvider) Name() string { return p.name }

func (p stubProvider) Deliver(_ context.Context, req ports.DeliveryRequest) (string, error) {
	return p.deliver(req)
}

var (
	_ ports.WalletRepository            = memWallets{}
	_ ports.WalletTransactionRepository = memEntries{}
	_ ports.TopupRequestRepository      = memTopups{}
	_ ports.ProductRepository           = memProducts{}
	_ ports.OrderRepository             = memOrders{}
	_ ports.FulfillmentRepository       = memFulfillments{}
	_ ports.SettlementRepository        = memSettlements{}
	_ ports.UserRepository              = memUsers{}
	_ ports.SystemEventRepository       = (*memStore)(nil)
	_ ports.DBTransactor                = (*memStore)(nil)
)
