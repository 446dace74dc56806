package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/order-settlement-api/internal/repository"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
)

func TestCourierLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.couriers.CreateCourier(ctx, CourierInput{Name: "Sami", Email: "Sami@Example.tn", Phone: "20111222", UserID: "usr-42"})
	require.NoError(t, err)
	assert.Equal(t, "sami@example.tn", c.Email)

	_, err = env.couriers.CreateCourier(ctx, CourierInput{Name: "Other", Email: "sami@example.tn", Phone: "20111333"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	found, err := env.couriers.FindByUserID(ctx, "usr-42")
	require.NoError(t, err)
	assert.Equal(t, c.ID, found.ID)

	updated, err := env.couriers.UpdateCourier(ctx, c.ID, CourierInput{Name: "Sami B.", Email: "sami@example.tn", Phone: "20111444"})
	require.NoError(t, err)
	assert.Equal(t, "Sami B.", updated.Name)
	assert.Nil(t, updated.UserID)

	list, err := env.couriers.ListCouriers(ctx, repository.Page{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, env.couriers.DeleteCourier(ctx, c.ID))
	_, err = env.couriers.GetCourier(ctx, c.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCourierValidationAndDeleteGuard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.couriers.CreateCourier(ctx, CourierInput{Name: "", Email: "a@b.tn", Phone: "1"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = env.couriers.CreateCourier(ctx, CourierInput{Name: "A", Email: "not-an-email", Phone: "1"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	c := env.courier(t)
	o := env.addressedOrder(t)
	_, err = env.deliveries.CreateDelivery(ctx, CreateDeliveryInput{OrderID: o.ID, CourierID: c.ID, Type: "VELO"})
	require.NoError(t, err)

	err = env.couriers.DeleteCourier(ctx, c.ID)
	assert.ErrorIs(t, err, apperrors.ErrIllegalArgument)
}
