package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

func openTestDB(t *testing.T) *database.Database {
	t.Helper()

	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "repo.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(context.Background()))
	return db
}

func seedOrder(t *testing.T, db *database.Database) *models.Order {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()

	u := models.NewUser("Leila", models.GenerateID("u")+"@example.tn")
	require.NoError(t, NewUserRepository(db, log).Create(ctx, u))

	p := models.NewProduct("Couscous", decimal.NewFromInt(3), 10)
	require.NoError(t, NewProductRepository(db, log).Create(ctx, p))

	o := models.NewOrder(u.ID, "Leila")
	o.Status = models.OrderStatusPending
	o.AttachLines([]*models.OrderLine{{
		ProductID: p.ID,
		Quantity:  2,
		UnitPrice: p.Price,
		Total:     decimal.NewFromInt(6),
		TTC:       decimal.RequireFromString("7.2"),
	}})
	require.NoError(t, NewOrderRepository(db, log).Create(ctx, o))
	return o
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Limit: 20}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: 20}, Page{Limit: 500, Offset: -3}.Normalize())
	assert.Equal(t, Page{Limit: 5, Offset: 10}, Page{Limit: 5, Offset: 10}.Normalize())
}

func TestOrderGuardedStatusUpdate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewOrderRepository(db, logger.NewNop())

	o := seedOrder(t, db)

	require.NoError(t, repo.UpdateStatus(ctx, o.ID, models.OrderStatusPending, models.OrderStatusConfirmed))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, o.ID, models.OrderStatusPending, models.OrderStatusCancelled), ErrStale)

	stored, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	require.Len(t, stored.Lines, 1)
	assert.True(t, stored.Lines[0].TTC.Equal(decimal.RequireFromString("7.2")))

	found, err := repo.GetByIDs(ctx, []string{o.ID, "ord-missing"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, o.ID)

	_, err = repo.GetByID(ctx, "ord-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdjustStockRefusesNegative(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewProductRepository(db, logger.NewNop())

	p := models.NewProduct("Thé", decimal.NewFromInt(2), 3)
	require.NoError(t, repo.Create(ctx, p))

	require.NoError(t, repo.AdjustStock(ctx, p.ID, -3, 3))
	assert.ErrorIs(t, repo.AdjustStock(ctx, p.ID, -1, 1), ErrStale)
	assert.ErrorIs(t, repo.AdjustStock(ctx, "prd-missing", 1, 0), ErrNotFound)

	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Stock)
	assert.Equal(t, 3, stored.SalesCount)
}

func TestOutboxClaimIsExclusive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewOutboxRepository(db, logger.NewNop())

	msg, err := models.NewOrderDeletedEvent("ord-1")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, msg))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.MarkAsProcessing(ctx, msg.ID))
	assert.ErrorIs(t, repo.MarkAsProcessing(ctx, msg.ID), ErrStale)

	require.NoError(t, repo.MarkAsPending(ctx, msg.ID, "broker down"))
	require.NoError(t, repo.MarkAsProcessing(ctx, msg.ID))
	require.NoError(t, repo.MarkAsCompleted(ctx, msg.ID))

	stored, err := repo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.ProcessingAttempts)
	assert.Nil(t, stored.LastError)
	assert.NotNil(t, stored.ProcessedAt)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.OutboxStatusCompleted])
}

func TestDeadLetterDiscardKeepsReason(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewDeadLetterRepository(db, logger.NewNop())

	msg, err := models.NewOrderDeletedEvent("ord-1")
	require.NoError(t, err)
	dlq := models.NewDeadLetterMessage(msg, "timeout", "max attempts reached")
	require.NoError(t, repo.Create(ctx, dlq))

	require.NoError(t, repo.MarkAsRetrying(ctx, dlq.ID))
	require.NoError(t, repo.ResetToRetry(ctx, dlq.ID))
	require.NoError(t, repo.MarkAsDiscarded(ctx, dlq.ID, "obsolete"))

	stored, err := repo.GetMessage(ctx, dlq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterStatusDiscarded, stored.Status)
	assert.Equal(t, "max attempts reached | Discarded: obsolete", stored.FailureReason)
	assert.Equal(t, 1, stored.RetryCount)

	discarded, err := repo.List(ctx, models.DeadLetterStatusDiscarded, Page{})
	require.NoError(t, err)
	assert.Len(t, discarded, 1)

	assert.ErrorIs(t, repo.MarkAsDiscarded(ctx, "dlq-missing", "x"), ErrNotFound)
	assert.ErrorIs(t, repo.MarkAsDiscarded(ctx, dlq.ID, "again"), ErrStale)
	assert.ErrorIs(t, repo.MarkAsRetrying(ctx, dlq.ID), ErrStale)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.DeadLetterStatus]int{models.DeadLetterStatusDiscarded: 1}, counts)
}

func TestProcessedEventsDeduplicate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewProcessedEventRepository(db, logger.NewNop())

	first, err := repo.MarkProcessed(ctx, "evt-1", "payment_status")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := repo.MarkProcessed(ctx, "evt-1", "payment_status")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, repo.Forget(ctx, "evt-1"))
	seen, err := repo.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestCourierEmailIsUnique(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewCourierRepository(db, logger.NewNop())

	require.NoError(t, repo.Create(ctx, models.NewCourier("A", "same@example.tn", "1")))
	err := repo.Create(ctx, models.NewCourier("B", "same@example.tn", "2"))
	assert.ErrorIs(t, err, ErrDuplicate)
}
