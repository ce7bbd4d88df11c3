package cli

import (
	"context"
	"testing"

	"storefront-ledger/internal/core/domain"
	"storefront-ledger/internal/core/ports"
	"storefront-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestTopupCreate(t *testing.T) {
	app, m, out := newTestApp(t)
	userID := uuid.New()
	topupID := uuid.New()

	m.ledger.EXPECT().CreateTopupRequest(gomock.Any(), ports.TopupInput{
		UserID: userID, Amount: 2550, Currency: "USD", Method: "bank_transfer",
	}).Return(&domain.TopupRequest{ID: topupID, Amount: 2550, Method: "bank_transfer"}, nil)

	code := app.Run(context.Background(), []string{
		"topup:create", "--user=" + userID.String(), "--amount=25.50", "--method=bank_transfer",
	})

	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out.String(), "topup "+topupID.String()+" pending review: 25.50 USD via bank_transfer")
}

func TestTopupCreate_BadAmount(t *testing.T) {
	app, _, _ := newTestApp(t)

	code := app.Run(context.Background(), []string{
		"topup:create", "--user=" + uuid.NewString(), "--amount=1.005", "--method=bank_transfer",
	})
	assert.Equal(t, ExitUsage, code)
}

func TestTopupApprove(t *testing.T) {
	t.Run("posts entry", func(t *testing.T) {
		app, m, out := newTestApp(t)
		topupID := uuid.New()
		entry := &domain.WalletTransaction{ID: uuid.New(), Direction: domain.DirectionCredit, Amount: 10000}

		m.ledger.EXPECT().ApproveTopup(gomock.Any(), topupID, "alice").
			Return(&ports.PostingResult{Entry: entry}, nil)

		code := app.Run(context.Background(), []string{"topup:approve", topupID.String(), "--reviewer=alice"})

		assert.Equal(t, ExitOK, code)
		assert.Contains(t, out.String(), "topup approved: credit 100.00 USD (entry "+entry.ID.String()+")")
	})

	t.Run("second approval is a no-op", func(t *testing.T) {
		app, m, out := newTestApp(t)
		topupID := uuid.New()
		entry := &domain.WalletTransaction{ID: uuid.New()}

		m.ledger.EXPECT().ApproveTopup(gomock.Any(), topupID, defaultReviewer).
			Return(&ports.PostingResult{Entry: entry, AlreadyPosted: true}, nil)

		code := app.Run(context.Background(), []string{"topup:approve", topupID.String()})

		assert.Equal(t, ExitOK, code)
		assert.Contains(t, out.String(), "already posted: entry "+entry.ID.String())
	})

	t.Run("missing id", func(t *testing.T) {
		app, _, _ := newTestApp(t)
		assert.Equal(t, ExitUsage, app.Run(context.Background(), []string{"topup:approve"}))
	})
}

func TestTopupReject(t *testing.T) {
	app, m, out := newTestApp(t)
	topupID := uuid.New()

	m.ledger.EXPECT().RejectTopup(gomock.Any(), topupID, defaultReviewer, "transfer not received").
		Return(&domain.TopupRequest{ID: topupID, Status: domain.TopupStatusRejected}, nil)

	code := app.Run(context.Background(), []string{"topup:reject", topupID.String(), "--note=transfer not received"})

	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out.String(), "topup "+topupID.String()+" rejected")
}

func TestRefundRequest(t *testing.T) {
	t.Run("files pending refund", func(t *testing.T) {
		app, m, out := newTestApp(t)
		fulfillmentID := uuid.New()
		entry := &domain.WalletTransaction{ID: uuid.New(), Amount: 1200, Status: domain.TransactionStatusPending}

		m.ledger.EXPECT().RequestRefund(gomock.Any(), fulfillmentID, "code already used").Return(entry, nil)

		code := app.Run(context.Background(), []string{"refund:request", fulfillmentID.String(), "--reason=code already used"})

		assert.Equal(t, ExitOK, code)
		assert.Contains(t, out.String(), "refund "+entry.ID.String()+" pending review: 12.00 USD")
	})

	t.Run("missing reason is an input error", func(t *testing.T) {
		app, m, _ := newTestApp(t)
		m.ledger.EXPECT().RequestRefund(gomock.Any(), gomock.Any(), "").
			Return(nil, apperror.ValidationFields("Invalid refund request", map[string]string{"reason": "is required"}))

		assert.Equal(t, ExitUsage, app.Run(context.Background(), []string{"refund:request", uuid.NewString()}))
	})

	t.Run("existing refund is a conflict", func(t *testing.T) {
		app, m, out := newTestApp(t)
		m.ledger.EXPECT().RequestRefund(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, apperror.ErrRefundExists())

		assert.Equal(t, ExitError, app.Run(context.Background(), []string{"refund:request", uuid.NewString(), "--reason=x"}))
		assert.Contains(t, out.String(), "LED_005")
	})
}

func TestRefundApproveAndReject(t *testing.T) {
	t.Run("approve", func(t *testing.T) {
		app, m, out := newTestApp(t)
		entryID := uuid.New()
		m.ledger.EXPECT().ApproveRefund(gomock.Any(), entryID, defaultReviewer).
			Return(&ports.PostingResult{Entry: &domain.WalletTransaction{ID: entryID, Direction: domain.DirectionCredit, Amount: 450}}, nil)

		assert.Equal(t, ExitOK, app.Run(context.Background(), []string{"refund:approve", entryID.String()}))
		assert.Contains(t, out.String(), "refund approved: credit 4.50 USD")
	})

	t.Run("reject", func(t *testing.T) {
		app, m, out := newTestApp(t)
		entryID := uuid.New()
		m.ledger.EXPECT().RejectRefund(gomock.Any(), entryID, "bob").
			Return(&domain.WalletTransaction{ID: entryID, Status: domain.TransactionStatusRejected}, nil)

		assert.Equal(t, ExitOK, app.Run(context.Background(), []string{"refund:reject", entryID.String(), "--reviewer=bob"}))
		assert.Contains(t, out.String(), "refund "+entryID.String()+" rejected")
	})

	t.Run("approve wrong type", func(t *testing.T) {
		app, m, _ := newTestApp(t)
		m.ledger.EXPECT().ApproveRefund(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, apperror.ErrWrongTransactionType("refund"))

		assert.Equal(t, ExitError, app.Run(context.Background(), []string{"refund:approve", uuid.NewString()}))
	})
}

func TestWalletAdjust_NegativeAmount(t *testing.T) {
	app, m, out := newTestApp(t)
	walletID := uuid.New()

	m.ledger.EXPECT().Adjust(gomock.Any(), ports.AdjustmentInput{
		WalletID: walletID, Amount: -1250, Reason: "duplicate topup", IdempotencyKey: "adj-2026-04-15-1",
	}).Return(&ports.PostingResult{Entry: &domain.WalletTransaction{ID: uuid.New(), Direction: domain.DirectionDebit, Amount: 1250}}, nil)

	code := app.Run(context.Background(), []string{
		"wallet:adjust", walletID.String(), "--amount=-12.50", "--reason=duplicate topup", "--key=adj-2026-04-15-1",
	})

	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out.String(), "adjusted: debit 12.50 USD")
}

func TestWalletAdjust_InsufficientBalance(t *testing.T) {
	app, m, _ := newTestApp(t)
	m.ledger.EXPECT().Adjust(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrInsufficientBalance())

	code := app.Run(context.Background(), []string{
		"wallet:adjust", uuid.NewString(), "--amount=-500", "--reason=chargeback", "--key=k1",
	})
	assert.Equal(t, ExitError, code)
}

func TestParseCartItem(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name    string
		raw     string
		wantQty int
		wantErr bool
	}{
		{"default quantity", id.String(), 1, false},
		{"explicit quantity", id.String() + ":3", 3, false},
		{"zero quantity", id.String() + ":0", 0, true},
		{"bad quantity", id.String() + ":many", 0, true},
		{"bad id", "gems:2", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := parseCartItem(tt.raw)
			if tt.wantErr {
				assert.Equal(t, ExitUsage, exitCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, id, item.ProductID)
			assert.Equal(t, tt.wantQty, item.Quantity)
		})
	}
}

func TestOrderCheckout(t *testing.T) {
	app, m, out := newTestApp(t)
	userID := uuid.New()
	gems, pass := uuid.New(), uuid.New()
	orderID := uuid.New()

	m.checkout.EXPECT().Checkout(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req ports.CheckoutRequest) (*domain.Order, error) {
			assert.Equal(t, userID, req.UserID)
			assert.Equal(t, "USD", req.Currency)
			require.Len(t, req.Items, 2)
			assert.Equal(t, gems, req.Items[0].ProductID)
			assert.Equal(t, 2, req.Items[0].Quantity)
			assert.Equal(t, map[string]string{"player_id": "42"}, req.Items[0].Requirements)
			assert.Equal(t, 1, req.Items[1].Quantity)
			return &domain.Order{
				ID: orderID, Status: domain.OrderStatusPaid, Total: 2900, Currency: "USD",
				Items: make([]domain.OrderItem, 2),
			}, nil
		})

	code := app.Run(context.Background(), []string{
		"order:checkout", "--user=" + userID.String(),
		"--item=" + gems.String() + ":2", "--item=" + pass.String(),
		"--require", "player_id=42",
	})

	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out.String(), "order "+orderID.String()+" paid: 2 items, 29.00 USD")
}

func TestOrderCheckout_MissingRequirement(t *testing.T) {
	app, m, out := newTestApp(t)
	m.checkout.EXPECT().Checkout(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ValidationFields("Missing purchase requirements", map[string]string{"items.0.player_id": "is required"}))

	code := app.Run(context.Background(), []string{"order:checkout", "--user=" + uuid.NewString(), "--item=" + uuid.NewString()})

	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, out.String(), "items.0.player_id: is required")
}

func TestOrderCheckout_NoItems(t *testing.T) {
	app, _, _ := newTestApp(t)

	assert.Equal(t, ExitUsage, app.Run(context.Background(), []string{"order:checkout", "--user=" + uuid.NewString()}))
}

func TestFulfillmentCommands(t *testing.T) {
	id := uuid.New()

	t.Run("start", func(t *testing.T) {
		app, m, out := newTestApp(t)
		m.fulfillment.EXPECT().Start(gomock.Any(), id).
			Return(&domain.Fulfillment{ID: id, Status: domain.FulfillmentStatusProcessing, Attempts: 1}, nil)

		assert.Equal(t, ExitOK, app.Run(context.Background(), []string{"fulfillment:start", id.String()}))
		assert.Contains(t, out.String(), "fulfillment "+id.String()+" processing (attempt 1)")
	})

	t.Run("complete", func(t *testing.T) {
		app, m, _ := newTestApp(t)
		m.fulfillment.EXPECT().Complete(gomock.Any(), id, "CODE-123").
			Return(&domain.Fulfillment{ID: id, Status: domain.FulfillmentStatusCompleted, Attempts: 1}, nil)

		assert.Equal(t, ExitOK, app.Run(context.Background(), []string{"fulfillment:complete", id.String(), "--payload=CODE-123"}))
	})

	t.Run("fail requires reason", func(t *testing.T) {
		app, _, _ := newTestApp(t)
		assert.Equal(t, ExitUsage, app.Run(context.Background(), []string{"fulfillment:fail", id.String()}))
	})

	t.Run("fail", func(t *testing.T) {
		app, m, _ := newTestApp(t)
		m.fulfillment.EXPECT().Fail(gomock.Any(), id, "supplier out of stock").
			Return(&domain.Fulfillment{ID: id, Status: domain.FulfillmentStatusFailed, Attempts: 1}, nil)

		assert.Equal(t, ExitOK, app.Run(context.Background(), []string{"fulfillment:fail", id.String(), "--reason=supplier out of stock"}))
	})

	t.Run("show", func(t *testing.T) {
		app, m, out := newTestApp(t)
		m.fulfillment.EXPECT().Show(gomock.Any(), id).
			Return(&domain.Fulfillment{ID: id, Status: domain.FulfillmentStatusCompleted, Attempts: 2}, "CODE-123", nil)

		assert.Equal(t, ExitOK, app.Run(context.Background(), []string{"fulfillment:show", id.String()}))
		assert.Contains(t, out.String(), "fulfillment "+id.String()+" completed (attempt 2)")
		assert.Contains(t, out.String(), "payload: CODE-123")
	})

	t.Run("show needs an id", func(t *testing.T) {
		app, _, _ := newTestApp(t)
		assert.Equal(t, ExitUsage, app.Run(context.Background(), []string{"fulfillment:show"}))
	})

	t.Run("retry blocked by refund", func(t *testing.T) {
		app, m, out := newTestApp(t)
		m.fulfillment.EXPECT().Retry(gomock.Any(), id).Return(nil, apperror.ErrRefundBlocksRetry())

		assert.Equal(t, ExitError, app.Run(context.Background(), []string{"fulfillment:retry", id.String()}))
		assert.Contains(t, out.String(), "FUL_002")
	})
}
