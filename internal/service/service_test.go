package service

import (
	"context"
	"testing"
	"time"

	"storefront-ledger/internal/core/ports/mocks"
	"storefront-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testKeyTTL = 24 * time.Hour

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

type serviceMocks struct {
	ctrl         *gomock.Controller
	wallets      *mocks.MockWalletRepository
	entries      *mocks.MockWalletTransactionRepository
	topups       *mocks.MockTopupRequestRepository
	products     *mocks.MockProductRepository
	orders       *mocks.MockOrderRepository
	fulfillments *mocks.MockFulfillmentRepository
	settlements  *mocks.MockSettlementRepository
	users        *mocks.MockUserRepository
	cache        *mocks.MockIdempotencyCache
	events       *mocks.MockEventRecorder
	notifier     *mocks.MockNotifier
	transactor   *mocks.MockDBTransactor
}

func newServiceMocks(t *testing.T) *serviceMocks {
	ctrl := gomock.NewController(t)
	return &serviceMocks{
		ctrl:         ctrl,
		wallets:      mocks.NewMockWalletRepository(ctrl),
		entries:      mocks.NewMockWalletTransactionRepository(ctrl),
		topups:       mocks.NewMockTopupRequestRepository(ctrl),
		products:     mocks.NewMockProductRepository(ctrl),
		orders:       mocks.NewMockOrderRepository(ctrl),
		fulfillments: mocks.NewMockFulfillmentRepository(ctrl),
		settlements:  mocks.NewMockSettlementRepository(ctrl),
		users:        mocks.NewMockUserRepository(ctrl),
		cache:        mocks.NewMockIdempotencyCache(ctrl),
		events:       mocks.NewMockEventRecorder(ctrl),
		notifier:     mocks.NewMockNotifier(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
	}
}

func (m *serviceMocks) repos() Repositories {
	return Repositories{
		Wallets:      m.wallets,
		Entries:      m.entries,
		Topups:       m.topups,
		Products:     m.products,
		Orders:       m.orders,
		Fulfillments: m.fulfillments,
		Settlements:  m.settlements,
		Users:        m.users,
	}
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}
