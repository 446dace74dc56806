package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
)

func TestOrderTransitionTable(t *testing.T) {
	legal := map[OrderStatus][]OrderStatus{
		OrderStatusPendingPayment: {OrderStatusPending},
		OrderStatusConfirmed:      {OrderStatusPending, OrderStatusPendingPayment},
		OrderStatusShipped:        {OrderStatusConfirmed},
		OrderStatusDelivered:      {OrderStatusShipped},
		OrderStatusCancelled:      {OrderStatusPending, OrderStatusPendingPayment, OrderStatusConfirmed},
		OrderStatusPaid:           {OrderStatusPending, OrderStatusPendingPayment, OrderStatusConfirmed},
	}

	isLegal := func(from, to OrderStatus) bool {
		for _, f := range legal[to] {
			if f == from {
				return true
			}
		}
		return false
	}

	for _, from := range AllOrderStatuses {
		for _, to := range AllOrderStatuses {
			err := ValidateTransition(from, to)
			if isLegal(from, to) {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}

			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, apperrors.Is(err, apperrors.ErrIllegalStatusTransition))
			assert.Contains(t, err.Error(), string(from))
			assert.Contains(t, err.Error(), string(to))
		}
	}

	assert.NoError(t, ValidateTransition("", OrderStatusPending))
	assert.Error(t, ValidateTransition("", OrderStatusPaid))
}

func TestParseOrderStatus(t *testing.T) {
	s, err := ParseOrderStatus(" shipped ")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, s)

	_, err = ParseOrderStatus("LOST")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestOrderLineFreezing(t *testing.T) {
	assert.False(t, OrderStatusConfirmed.LinesFrozen())
	assert.True(t, OrderStatusShipped.LinesFrozen())
	assert.True(t, OrderStatusLivre.LinesFrozen())
}

func TestAttachLinesComputesTotal(t *testing.T) {
	o := NewOrder("usr-1", "Amira")
	o.AttachLines([]*OrderLine{
		{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.50"), Total: decimal.RequireFromString("21.00")},
		{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("4.25"), Total: decimal.RequireFromString("4.25")},
	})

	assert.Equal(t, "25.25", o.Total.StringFixed(2))
	assert.Equal(t, 1, o.Lines[1].Position)
	assert.Equal(t, o.ID, o.Lines[0].OrderID)
	assert.NotEmpty(t, o.Lines[0].ID)
}

func TestContactValidation(t *testing.T) {
	assert.True(t, IsValidPhone("22123456"))
	assert.False(t, IsValidPhone("2212345"))
	assert.False(t, IsValidPhone("2212345a"))
	assert.True(t, IsValidGovernorate("sidi bouzid"))
	assert.False(t, IsValidGovernorate("Paris"))
	assert.Len(t, Governorates, 24)
}

func TestParseTransactionStatus(t *testing.T) {
	s, err := ParseTransactionStatus("SUCCEEDED")
	require.NoError(t, err)
	assert.Equal(t, TransactionStatusSucceeded, s)

	s, err = ParseTransactionStatus("Cancelled")
	require.NoError(t, err)
	assert.Equal(t, TransactionStatusCanceled, s)

	_, err = ParseTransactionStatus("teleported")
	assert.Error(t, err)
}

func TestAmounts(t *testing.T) {
	assert.True(t, AmountsMatch(decimal.RequireFromString("80.00"), decimal.RequireFromString("79.995")))
	assert.False(t, AmountsMatch(decimal.RequireFromString("80.00"), decimal.RequireFromString("79.99")))
	assert.True(t, AmountsMatch(decimal.RequireFromString("80.00"), decimal.RequireFromString("80.00")))
	assert.Equal(t, int64(8000), AmountInCents(decimal.RequireFromString("80.00")))
	assert.Equal(t, int64(1235), AmountInCents(decimal.RequireFromString("12.345")))
}

func TestDeliveryTerminalStatusesAreSticky(t *testing.T) {
	for _, from := range []DeliveryStatus{DeliveryStatusLivre, DeliveryStatusNonLivre} {
		for _, to := range []DeliveryStatus{DeliveryStatusTakeIt, DeliveryStatusEnCours, DeliveryStatusLivre, DeliveryStatusNonLivre} {
			err := ValidateDeliveryTransition(from, to)
			assert.True(t, apperrors.Is(err, apperrors.ErrTerminalStateViolation), "%s -> %s", from, to)
		}
	}
	assert.NoError(t, ValidateDeliveryTransition(DeliveryStatusTakeIt, DeliveryStatusLivre))
	assert.NoError(t, ValidateDeliveryTransition(DeliveryStatusEnCours, DeliveryStatusTakeIt))
}

func TestParseDeliveryType(t *testing.T) {
	dt, err := ParseDeliveryType("velo")
	require.NoError(t, err)
	assert.Equal(t, DeliveryTypeVelo, dt)

	_, err = ParseDeliveryType("drone")
	assert.Error(t, err)
}

func TestOutboxEnvelope(t *testing.T) {
	o := NewOrder("usr-1", "Amira")
	o.Status = OrderStatusPaid

	msg, err := NewOrderStatusChangedEvent(o, OrderStatusPending)
	require.NoError(t, err)
	assert.Equal(t, AggregateOrder, msg.AggregateType)
	assert.Equal(t, OutboxStatusPending, msg.Status)

	var env OutboxMessageEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &env))
	assert.Equal(t, msg.ID, env.EventID)
	assert.Equal(t, EventOrderStatusChanged, env.EventType)

	var change OrderStatusChange
	require.NoError(t, json.Unmarshal(env.Data, &change))
	assert.Equal(t, OrderStatusPending, change.OldStatus)
	assert.Equal(t, OrderStatusPaid, change.NewStatus)
}

func TestBroadcastNotification(t *testing.T) {
	msg, err := NewNotificationEvent(Notification{Message: "stock low", Type: "STOCK"})
	require.NoError(t, err)
	assert.Equal(t, BroadcastRecipient, msg.AggregateID)
}

func TestDeadLetterRoundTrip(t *testing.T) {
	msg, err := NewOrderDeletedEvent("ord-1")
	require.NoError(t, err)

	dl := NewDeadLetterMessage(msg, "broker down", "max attempts")
	back := dl.ToOutboxMessage()
	assert.Equal(t, msg.ID, back.ID)
	assert.Equal(t, msg.EventType, back.EventType)
	assert.JSONEq(t, string(msg.Payload), string(back.Payload))
}
