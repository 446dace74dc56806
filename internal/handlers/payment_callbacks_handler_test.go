package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/order-settlement-api/internal/models"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

type updateCall struct {
	id     string
	status string
}

type fakeUpdater struct {
	calls []updateCall
	err   error
}

func (f *fakeUpdater) UpdateTransactionStatus(_ context.Context, id, status string) (*models.PaymentTransaction, error) {
	f.calls = append(f.calls, updateCall{id: id, status: status})
	if f.err != nil {
		return nil, f.err
	}
	return &models.PaymentTransaction{ID: id, Status: models.TransactionStatus(status)}, nil
}

type memoryDedup struct {
	seen      map[string]bool
	forgotten []string
}

func newMemoryDedup() *memoryDedup {
	return &memoryDedup{seen: make(map[string]bool)}
}

func (m *memoryDedup) MarkProcessed(_ context.Context, eventID, _ string) (bool, error) {
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

func (m *memoryDedup) Forget(_ context.Context, eventID string) error {
	delete(m.seen, eventID)
	m.forgotten = append(m.forgotten, eventID)
	return nil
}

func callback(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "payment-callbacks", Value: []byte(value)}
}

const succeededEvent = `{
	"id": "evt_1",
	"type": "payment_intent.succeeded",
	"data": {"object": {"id": "pi_1", "status": "succeeded", "metadata": {"transaction_id": "txn-1"}}}
}`

func TestPaymentEventStatus(t *testing.T) {
	tests := []struct {
		eventType string
		object    string
		want      string
	}{
		{"payment_intent.succeeded", "", "succeeded"},
		{"payment_intent.payment_failed", "", "failed"},
		{"payment_intent.canceled", "", "canceled"},
		{"payment_intent.processing", "", "processing"},
		{"charge.refunded", "", "refunded"},
		{"payment_intent.requires_action", "pending", "pending"},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			var e PaymentEvent
			e.Type = tt.eventType
			e.Data.Object.Status = tt.object
			assert.Equal(t, tt.want, e.Status())
		})
	}
}

func TestHandleMessage_AppliesOnce(t *testing.T) {
	updater := &fakeUpdater{}
	dedup := newMemoryDedup()
	h := NewPaymentCallbacksHandler(updater, dedup, logger.NewNop())

	require.NoError(t, h.HandleMessage(context.Background(), callback(succeededEvent)))
	require.NoError(t, h.HandleMessage(context.Background(), callback(succeededEvent)))

	require.Len(t, updater.calls, 1)
	assert.Equal(t, updateCall{id: "txn-1", status: "succeeded"}, updater.calls[0])
}

func TestHandleMessage_DropsUnusableMessages(t *testing.T) {
	updater := &fakeUpdater{}
	h := NewPaymentCallbacksHandler(updater, newMemoryDedup(), logger.NewNop())

	assert.NoError(t, h.HandleMessage(context.Background(), callback("{not json")))
	assert.NoError(t, h.HandleMessage(context.Background(), callback(`{"id":"evt_2","type":"payment_intent.succeeded"}`)))
	assert.Empty(t, updater.calls)
}

func TestHandleMessage_RejectedCallbackIsAcknowledged(t *testing.T) {
	updater := &fakeUpdater{err: apperrors.NewIllegalStateError("transaction txn-1 has already succeeded")}
	dedup := newMemoryDedup()
	h := NewPaymentCallbacksHandler(updater, dedup, logger.NewNop())

	require.NoError(t, h.HandleMessage(context.Background(), callback(succeededEvent)))
	assert.Empty(t, dedup.forgotten)
	assert.True(t, dedup.seen["evt_1"])
}

func TestHandleMessage_TransientFailureIsRedelivered(t *testing.T) {
	updater := &fakeUpdater{err: errors.New("database is locked")}
	dedup := newMemoryDedup()
	h := NewPaymentCallbacksHandler(updater, dedup, logger.NewNop())

	err := h.HandleMessage(context.Background(), callback(succeededEvent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evt_1")
	assert.Equal(t, []string{"evt_1"}, dedup.forgotten)

	updater.err = nil
	require.NoError(t, h.HandleMessage(context.Background(), callback(succeededEvent)))
	assert.Len(t, updater.calls, 2)
}
