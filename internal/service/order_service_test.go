package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/order-settlement-api/internal/models"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
)

func TestCreateOrderPricesLines(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, nil)
	p := env.product(t, "12.50", 10)

	o := env.order(t, u.ID, LineInput{ProductID: p.ID, Quantity: 2})

	assert.Equal(t, models.OrderStatusPending, o.Status)
	require.Len(t, o.Lines, 1)
	assert.True(t, o.Lines[0].Total.Equal(decimal.RequireFromString("25.00")))
	assert.True(t, o.Lines[0].TTC.Equal(decimal.RequireFromString("30.00")))
	assert.True(t, o.Total.Equal(decimal.RequireFromString("25.00")))

	stored, err := env.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.ID)
	assert.Len(t, stored.Lines, 1)
	assert.Contains(t, env.eventTypes(t, models.AggregateOrder, o.ID), models.EventOrderCreated)
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, decimalPtr("30"))
	p := env.product(t, "10", 5)

	tests := []struct {
		name   string
		in     CreateOrderInput
		target error
		reason string
	}{
		{
			name:   "no lines",
			in:     CreateOrderInput{UserID: u.ID},
			target: apperrors.ErrValidation,
			reason: "NoLines",
		},
		{
			name:   "unknown product",
			in:     CreateOrderInput{UserID: u.ID, Lines: []LineInput{{ProductID: "prd-missing", Quantity: 1}}},
			target: apperrors.ErrValidation,
			reason: "ProductNotFound",
		},
		{
			name:   "zero quantity",
			in:     CreateOrderInput{UserID: u.ID, Lines: []LineInput{{ProductID: p.ID, Quantity: 0}}},
			target: apperrors.ErrValidation,
			reason: "InvalidQuantity",
		},
		{
			name:   "insufficient stock",
			in:     CreateOrderInput{UserID: u.ID, Lines: []LineInput{{ProductID: p.ID, Quantity: 2}, {ProductID: p.ID, Quantity: 4}}},
			target: apperrors.ErrValidation,
			reason: "InsufficientStock",
		},
		{
			name:   "credit limit",
			in:     CreateOrderInput{UserID: u.ID, Lines: []LineInput{{ProductID: p.ID, Quantity: 4}}},
			target: apperrors.ErrValidation,
			reason: "CreditLimitExceeded",
		},
		{
			name:   "bad phone",
			in:     CreateOrderInput{UserID: u.ID, Phone: "1234", Lines: []LineInput{{ProductID: p.ID, Quantity: 1}}},
			target: apperrors.ErrValidation,
			reason: "InvalidPhone",
		},
		{
			name:   "unknown governorate",
			in:     CreateOrderInput{UserID: u.ID, Address: "Rue 1", Governorate: "Paris", Lines: []LineInput{{ProductID: p.ID, Quantity: 1}}},
			target: apperrors.ErrValidation,
			reason: "InvalidGovernorate",
		},
		{
			name:   "governorate without address",
			in:     CreateOrderInput{UserID: u.ID, Governorate: "Sfax", Lines: []LineInput{{ProductID: p.ID, Quantity: 1}}},
			target: apperrors.ErrValidation,
			reason: "MissingAddress",
		},
		{
			name:   "unknown user",
			in:     CreateOrderInput{UserID: "usr-missing", Lines: []LineInput{{ProductID: p.ID, Quantity: 1}}},
			target: apperrors.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orders.CreateOrder(ctx, tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)

			if tt.reason != "" {
				var appErr *apperrors.AppError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, tt.reason, appErr.Context["reason"])
			}
		})
	}

	count, err := env.orders.CountOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOrderTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, nil)
	p := env.product(t, "5", 100)

	tests := []struct {
		name   string
		path   []models.OrderStatus
		to     models.OrderStatus
		target error
	}{
		{name: "pending to confirmed", to: models.OrderStatusConfirmed},
		{name: "pending to pending payment", to: models.OrderStatusPendingPayment},
		{name: "pending to shipped", to: models.OrderStatusShipped, target: apperrors.ErrIllegalStatusTransition},
		{name: "pending to pending", to: models.OrderStatusPending, target: apperrors.ErrIllegalStatusTransition},
		{name: "confirmed to shipped", path: []models.OrderStatus{models.OrderStatusConfirmed}, to: models.OrderStatusShipped},
		{name: "shipped to cancelled", path: []models.OrderStatus{models.OrderStatusConfirmed, models.OrderStatusShipped}, to: models.OrderStatusCancelled, target: apperrors.ErrIllegalStatusTransition},
		{name: "shipped to delivered", path: []models.OrderStatus{models.OrderStatusConfirmed, models.OrderStatusShipped}, to: models.OrderStatusDelivered},
		{name: "cancelled to confirmed", path: []models.OrderStatus{models.OrderStatusCancelled}, to: models.OrderStatusConfirmed, target: apperrors.ErrIllegalStatusTransition},
		{name: "paid to confirmed", path: []models.OrderStatus{models.OrderStatusPaid}, to: models.OrderStatusConfirmed, target: apperrors.ErrIllegalStatusTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := env.order(t, u.ID, LineInput{ProductID: p.ID, Quantity: 1})
			for _, step := range tt.path {
				_, err := env.orders.UpdateOrderStatus(ctx, o.ID, string(step))
				require.NoError(t, err)
			}

			updated, err := env.orders.UpdateOrderStatus(ctx, o.ID, string(tt.to))
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)

				want := models.OrderStatusPending
				if len(tt.path) > 0 {
					want = tt.path[len(tt.path)-1]
				}
				stored, err := env.orders.GetOrder(ctx, o.ID)
				require.NoError(t, err)
				assert.Equal(t, want, stored.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, updated.Status)
		})
	}
}

func TestUpdateOrderStatusUnknownStatus(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orders.UpdateOrderStatus(context.Background(), "ord-1", "LOST")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = env.orders.UpdateOrderStatus(context.Background(), "ord-missing", "CONFIRMED")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateOrderReplacesLines(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, nil)
	p := env.product(t, "4", 20)
	o := env.order(t, u.ID, LineInput{ProductID: p.ID, Quantity: 1})

	phone := "22123456"
	updated, err := env.orders.UpdateOrder(ctx, o.ID, UpdateOrderInput{
		Phone: &phone,
		Lines: []LineInput{{ProductID: p.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, phone, updated.Phone)
	assert.True(t, updated.Total.Equal(decimal.NewFromInt(12)))

	stored, err := env.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, 3, stored.Lines[0].Quantity)
	assert.Contains(t, env.eventTypes(t, models.AggregateOrder, o.ID), models.EventOrderUpdated)
}

func TestUpdateOrderFreezesShippedLines(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, nil)
	p := env.product(t, "4", 20)
	o := env.order(t, u.ID, LineInput{ProductID: p.ID, Quantity: 1})

	confirmed := string(models.OrderStatusConfirmed)
	_, err := env.orders.UpdateOrder(ctx, o.ID, UpdateOrderInput{Status: &confirmed})
	require.NoError(t, err)
	_, err = env.orders.UpdateOrderStatus(ctx, o.ID, string(models.OrderStatusShipped))
	require.NoError(t, err)

	_, err = env.orders.UpdateOrder(ctx, o.ID, UpdateOrderInput{Lines: []LineInput{{ProductID: p.ID, Quantity: 2}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	// Contact changes stay allowed once stock has left
	address := "Rue de Marseille"
	updated, err := env.orders.UpdateOrder(ctx, o.ID, UpdateOrderInput{Address: &address})
	require.NoError(t, err)
	assert.Equal(t, address, updated.Address)
}

func TestDeleteOrderRequiresCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, nil)
	p := env.product(t, "4", 20)
	o := env.order(t, u.ID, LineInput{ProductID: p.ID, Quantity: 1})

	err := env.orders.DeleteOrder(ctx, o.ID)
	assert.ErrorIs(t, err, apperrors.ErrIllegalArgument)

	_, err = env.orders.UpdateOrderStatus(ctx, o.ID, string(models.OrderStatusCancelled))
	require.NoError(t, err)
	require.NoError(t, env.orders.DeleteOrder(ctx, o.ID))

	_, err = env.orders.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Contains(t, env.eventTypes(t, models.AggregateOrder, o.ID), models.EventOrderDeleted)
}

func TestListPendingByUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, nil)
	p := env.product(t, "4", 20)
	first := env.order(t, u.ID, LineInput{ProductID: p.ID, Quantity: 1})
	second := env.order(t, u.ID, LineInput{ProductID: p.ID, Quantity: 1})

	_, err := env.orders.UpdateOrderStatus(ctx, second.ID, string(models.OrderStatusConfirmed))
	require.NoError(t, err)

	pending, err := env.orders.ListPendingByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", " b", "a", "", "b"}))
	assert.Empty(t, dedupe(nil))
}

func TestUpdateOrderRejectsSameStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(t, nil)
	p := env.product(t, "4", 20)
	o := env.order(t, u.ID, LineInput{ProductID: p.ID, Quantity: 1})

	phone := "22123456"
	pending := string(models.OrderStatusPending)
	_, err := env.orders.UpdateOrder(ctx, o.ID, UpdateOrderInput{Phone: &phone, Status: &pending})
	assert.ErrorIs(t, err, apperrors.ErrIllegalStatusTransition)

	_, err = env.orders.UpdateOrderStatus(ctx, o.ID, string(models.OrderStatusConfirmed))
	require.NoError(t, err)
	confirmed := string(models.OrderStatusConfirmed)
	_, err = env.orders.UpdateOrder(ctx, o.ID, UpdateOrderInput{Status: &confirmed})
	assert.ErrorIs(t, err, apperrors.ErrIllegalStatusTransition)

	stored, err := env.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.NotEqual(t, phone, stored.Phone)
}
