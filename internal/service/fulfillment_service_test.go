package service

import (
	"context"
	"testing"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fulfillmentTestDeps struct {
	*serviceMocks
	svc      *FulfillmentServiceImpl
	encSvc   *mocks.MockEncryptionService
	provider *mocks.MockFulfillmentProvider
}

func setupFulfillmentService(t *testing.T) *fulfillmentTestDeps {
	m := newServiceMocks(t)
	d := &fulfillmentTestDeps{
		serviceMocks: m,
		encSvc:       mocks.NewMockEncryptionService(m.ctrl),
		provider:     mocks.NewMockFulfillmentProvider(m.ctrl),
	}
	d.provider.EXPECT().Name().Return("http").AnyTimes()
	d.svc = NewFulfillmentService(m.repos(), []ports.FulfillmentProvider{d.provider}, d.encSvc,
		m.events, m.notifier, m.transactor, 50, 3, zerolog.Nop())
	return d
}

// expectRefresh stubs the order recompute that follows every persisted change.
func (d *fulfillmentTestDeps) expectRefresh(ctx context.Context, tx pgx.Tx, order *domain.Order, fs []domain.Fulfillment, want domain.OrderStatus) {
	d.orders.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)
	d.fulfillments.EXPECT().ListByOrder(ctx, tx, order.ID).Return(fs, nil)
	d.entries.EXPECT().ListRefundsForOrder(ctx, tx, order.ID, []domain.TransactionStatus{domain.TransactionStatusPosted}).Return(nil, nil)
	if want != order.Status {
		d.orders.EXPECT().UpdateStatus(ctx, tx, order.ID, want).Return(nil)
	}
}

func TestFulfillmentService_Complete_Success(t *testing.T) {
	d := setupFulfillmentService(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := &domain.Order{ID: uuid.New(), UserID: uuid.New(), Status: domain.OrderStatusProcessing}
	f := &domain.Fulfillment{ID: uuid.New(), OrderID: order.ID, OrderItemID: uuid.New(), Status: domain.FulfillmentStatusProcessing, Attempts: 1}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.fulfillments.EXPECT().GetByIDForUpdate(ctx, tx, f.ID).Return(f, nil)
	d.encSvc.EXPECT().Encrypt("CODE-123").Return("v1:enc", nil)
	d.events.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.fulfillments.EXPECT().Update(ctx, tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, got *domain.Fulfillment) error {
		assert.Equal(t, domain.FulfillmentStatusCompleted, got.Status)
		assert.Equal(t, "v1:enc", *got.PayloadEncrypted)
		return nil
	})
	done := *f
	done.Status = domain.FulfillmentStatusCompleted
	d.expectRefresh(ctx, tx, order, []domain.Fulfillment{done}, domain.OrderStatusFulfilled)
	d.notifier.EXPECT().Notify(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, n domain.Notification) error {
		assert.Equal(t, order.UserID, *n.UserID)
		return nil
	})

	got, err := d.svc.Complete(ctx, f.ID, "CODE-123")
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestFulfillmentService_Complete_Idempotent(t *testing.T) {
	d := setupFulfillmentService(t)
	ctx := context.Background()
	tx := &mockTx{}
	enc := "v1:first"
	f := &domain.Fulfillment{ID: uuid.New(), Status: domain.FulfillmentStatusCompleted, PayloadEncrypted: &enc}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.fulfillments.EXPECT().GetByIDForUpdate(ctx, tx, f.ID).Return(f, nil)
	// No encryption, no update, no event.

	got, err := d.svc.Complete(ctx, f.ID, "CODE-999")
	require.NoError(t, err)
	assert.Equal(t, "v1:first", *got.PayloadEncrypted)
}

func TestFulfillmentService_Start_InvalidTransition(t *testing.T) {
	d := setupFulfillmentService(t)
	ctx := context.Background()
	tx := &mockTx{}
	f := &domain.Fulfillment{ID: uuid.New(), Status: domain.FulfillmentStatusFailed}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.fulfillments.EXPECT().GetByIDForUpdate(ctx, tx, f.ID).Return(f, nil)

	_, err := d.svc.Start(ctx, f.ID)
	assertAppError(t, err, "FUL_001")
}

func TestFulfillmentService_Fail(t *testing.T) {
	d := setupFulfillmentService(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := &domain.Order{ID: uuid.New(), Status: domain.OrderStatusProcessing}
	f := &domain.Fulfillment{ID: uuid.New(), OrderID: order.ID, Status: domain.FulfillmentStatusProcessing, Attempts: 1}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.fulfillments.EXPECT().GetByIDForUpdate(ctx, tx, f.ID).Return(f, nil)
	d.events.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.fulfillments.EXPECT().Update(ctx, tx, gomock.Any()).Return(nil)
	failed := *f
	failed.Status = domain.FulfillmentStatusFailed
	d.expectRefresh(ctx, tx, order, []domain.Fulfillment{failed}, domain.OrderStatusFailed)
	d.notifier.EXPECT().Notify(ctx, gomock.Any()).Return(nil)

	got, err := d.svc.Fail(ctx, f.ID, "provider timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentStatusFailed, got.Status)
	assert.Equal(t, "provider timeout", *got.LastError)
}

func TestFulfillmentService_Retry_BlockedByRefund(t *testing.T) {
	d := setupFulfillmentService(t)
	ctx := context.Background()
	tx := &mockTx{}
	f := &domain.Fulfillment{ID: uuid.New(), OrderID: uuid.New(), OrderItemID: uuid.New(), Status: domain.FulfillmentStatusFailed}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.fulfillments.EXPECT().GetByIDForUpdate(ctx, tx, f.ID).Return(f, nil)
	d.entries.EXPECT().ListRefundsForOrder(ctx, tx, f.OrderID,
		[]domain.TransactionStatus{domain.TransactionStatusPending, domain.TransactionStatusPosted}).
		Return([]domain.WalletTransaction{{
			Type:          domain.TransactionTypeRefund,
			Status:        domain.TransactionStatusPending,
			ReferenceType: domain.RefType(domain.ReferenceFulfillment),
			ReferenceID:   &f.ID,
		}}, nil)

	_, err := d.svc.Retry(ctx, f.ID)
	assertAppError(t, err, "FUL_002")
	assert.Equal(t, domain.FulfillmentStatusFailed, f.Status)
}

func TestFulfillmentService_Retry_Success(t *testing.T) {
	d := setupFulfillmentService(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := &domain.Order{ID: uuid.New(), Status: domain.OrderStatusFailed}
	f := &domain.Fulfillment{ID: uuid.New(), OrderID: order.ID, OrderItemID: uuid.New(), Status: domain.FulfillmentStatusFailed, Attempts: 1}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.fulfillments.EXPECT().GetByIDForUpdate(ctx, tx, f.ID).Return(f, nil)
	d.entries.EXPECT().ListRefundsForOrder(ctx, tx, f.OrderID, gomock.Any()).Return(nil, nil)
	d.events.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.fulfillments.EXPECT().Update(ctx, tx, gomock.Any()).Return(nil)
	queued := *f
	queued.Status = domain.FulfillmentStatusQueued
	d.expectRefresh(ctx, tx, order, []domain.Fulfillment{queued}, domain.OrderStatusPaid)

	got, err := d.svc.Retry(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentStatusQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestFulfillmentService_Retry_CompletedFails(t *testing.T) {
	d := setupFulfillmentService(t)
	ctx := context.Background()
	tx := &mockTx{}
	f := &domain.Fulfillment{ID: uuid.New(), Status: domain.FulfillmentStatusCompleted}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.fulfillments.EXPECT().GetByIDForUpdate(ctx, tx, f.ID).Return(f, nil)

	_, err := d.svc.Retry(ctx, f.ID)
	assertAppError(t, err, "FUL_001")
}

func TestFulfillmentService_ProcessQueue_SkipsManualProvider(t *testing.T) {
	d := setupFulfillmentService(t)
	ctx := context.Background()
	f := &domain.Fulfillment{ID: uuid.New(), OrderItemID: uuid.New(), Status: domain.FulfillmentStatusQueued}

	d.fulfillments.EXPECT().ListProcessable(ctx, true, 3, 50).Return([]uuid.UUID{f.ID}, nil)
	d.fulfillments.EXPECT().GetByID(ctx, f.ID).Return(f, nil)
	d.orders.EXPECT().GetItem(ctx, f.OrderItemID).Return(&domain.OrderItem{ID: f.OrderItemID, Provider: "manual"}, nil)

	summary, err := d.svc.ProcessQueue(ctx, ports.ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, ports.ProcessSummary{Skipped: 1}, *summary)
}

func TestFulfillmentService_ProcessQueue_OnlyPendingAndLimit(t *testing.T) {
	d := setupFulfillmentService(t)
	ctx := context.Background()

	d.fulfillments.EXPECT().ListProcessable(ctx, false, 3, 5).Return(nil, nil)

	summary, err := d.svc.ProcessQueue(ctx, ports.ProcessOptions{Limit: 5, OnlyPending: true})
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
}

func TestTransitionError(t *testing.T) {
	err := transitionError(&domain.TransitionError{From: domain.FulfillmentStatusCompleted, To: domain.FulfillmentStatusQueued})
	assertAppError(t, err, "FUL_001")

	plain := assert.AnError
	assert.Equal(t, plain, transitionError(plain))
}

func TestFulfillmentService_Show(t *testing.T) {
	enc := "v1:enc"
	delivered := &domain.Fulfillment{ID: uuid.New(), Status: domain.FulfillmentStatusCompleted, PayloadEncrypted: &enc}
	queued := &domain.Fulfillment{ID: uuid.New(), Status: domain.FulfillmentStatusQueued}

	t.Run("decrypts the payload", func(t *testing.T) {
		d := setupFulfillmentService(t)
		ctx := context.Background()
		d.fulfillments.EXPECT().GetByID(ctx, delivered.ID).Return(delivered, nil)
		d.encSvc.EXPECT().Decrypt(enc).Return("CODE-123", nil)

		f, payload, err := d.svc.Show(ctx, delivered.ID)
		require.NoError(t, err)
		assert.Equal(t, delivered.ID, f.ID)
		assert.Equal(t, "CODE-123", payload)
	})

	t.Run("no payload yet", func(t *testing.T) {
		d := setupFulfillmentService(t)
		ctx := context.Background()
		d.fulfillments.EXPECT().GetByID(ctx, queued.ID).Return(queued, nil)

		_, payload, err := d.svc.Show(ctx, queued.ID)
		require.NoError(t, err)
		assert.Empty(t, payload)
	})

	t.Run("undecryptable payload", func(t *testing.T) {
		d := setupFulfillmentService(t)
		ctx := context.Background()
		d.fulfillments.EXPECT().GetByID(ctx, delivered.ID).Return(delivered, nil)
		d.encSvc.EXPECT().Decrypt(enc).Return("", assert.AnError)

		_, _, err := d.svc.Show(ctx, delivered.ID)
		assertAppError(t, err, "SYS_001")
	})

	t.Run("not found", func(t *testing.T) {
		d := setupFulfillmentService(t)
		ctx := context.Background()
		id := uuid.New()
		d.fulfillments.EXPECT().GetByID(ctx, id).Return(nil, nil)

		_, _, err := d.svc.Show(ctx, id)
		assertAppError(t, err, "NF_001")
	})
}
