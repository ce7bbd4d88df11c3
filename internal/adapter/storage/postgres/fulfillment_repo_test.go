package postgres

import (
	"context"
	"testing"
	"time"

	"storefront-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fulfillmentRowColumns = []string{
	"id", "order_id", "order_item_id", "status", "attempts", "last_error", "payload_encrypted",
	"started_at", "completed_at", "failed_at", "created_at", "updated_at",
}

func fulfillmentRow(rows *pgxmock.Rows, f *domain.Fulfillment) *pgxmock.Rows {
	return rows.AddRow(
		f.ID, f.OrderID, f.OrderItemID, f.Status, f.Attempts, f.LastError, f.PayloadEncrypted,
		f.StartedAt, f.CompletedAt, f.FailedAt, f.CreatedAt, f.UpdatedAt,
	)
}

func TestFulfillmentRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewFulfillmentRepo(mock)
	f := domain.NewFulfillment(uuid.New(), uuid.New(), time.Now().UTC())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fulfillments").
		WithArgs(f.ID, f.OrderID, f.OrderItemID, f.Status, f.Attempts, f.LastError, f.PayloadEncrypted,
			f.StartedAt, f.CompletedAt, f.FailedAt, f.CreatedAt, f.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Create(context.Background(), tx, &f))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFulfillmentRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewFulfillmentRepo(mock)
	f := domain.NewFulfillment(uuid.New(), uuid.New(), time.Now().UTC().Truncate(time.Microsecond))
	reason := "provider timeout"
	f.Status = domain.FulfillmentStatusFailed
	f.Attempts = 2
	f.LastError = &reason

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM fulfillments WHERE id .+ FOR UPDATE").
		WithArgs(f.ID).
		WillReturnRows(fulfillmentRow(pgxmock.NewRows(fulfillmentRowColumns), &f))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByIDForUpdate(context.Background(), tx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.FulfillmentStatusFailed, result.Status)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, "provider timeout", *result.LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFulfillmentRepo_ListByOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewFulfillmentRepo(mock)
	orderID := uuid.New()
	a := domain.NewFulfillment(orderID, uuid.New(), time.Now().UTC())
	b := domain.NewFulfillment(orderID, uuid.New(), time.Now().UTC())

	rows := pgxmock.NewRows(fulfillmentRowColumns)
	fulfillmentRow(rows, &a)
	fulfillmentRow(rows, &b)

	mock.ExpectQuery("SELECT .+ FROM fulfillments WHERE order_id").
		WithArgs(orderID).
		WillReturnRows(rows)

	list, err := repo.ListByOrder(context.Background(), nil, orderID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFulfillmentRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewFulfillmentRepo(mock)
	now := time.Now().UTC()
	f := domain.NewFulfillment(uuid.New(), uuid.New(), now)
	require.NoError(t, f.Start(now))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE fulfillments SET status").
		WithArgs(f.Status, f.Attempts, f.LastError, f.PayloadEncrypted,
			f.StartedAt, f.CompletedAt, f.FailedAt, f.UpdatedAt, f.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Update(context.Background(), tx, &f))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFulfillmentRepo_ListProcessable(t *testing.T) {
	tests := []struct {
		name          string
		includeFailed bool
		pattern       string
		args          []any
	}{
		{"queued only", false, "WHERE status = 'queued'\\s+ORDER BY created_at, id LIMIT \\$1$", []any{10}},
		{"with retryable failures", true, "status = 'failed' AND attempts < \\$2\\)\\s+ORDER BY created_at, id LIMIT \\$1$", []any{10, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			repo := NewFulfillmentRepo(mock)
			id := uuid.New()

			mock.ExpectQuery(tt.pattern).
				WithArgs(tt.args...).
				WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))

			ids, err := repo.ListProcessable(context.Background(), tt.includeFailed, 3, 10)
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{id}, ids)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
