package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/order-settlement-api/internal/models"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

const callbackEventType = "payment_callback"

// TransactionStatusUpdater applies a gateway status to a payment transaction
type TransactionStatusUpdater interface {
	UpdateTransactionStatus(ctx context.Context, id, status string) (*models.PaymentTransaction, error)
}

// EventDeduplicator remembers which callback events were already applied
type EventDeduplicator interface {
	MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// PaymentEvent is the gateway webhook envelope relayed onto Kafka
type PaymentEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Status   string            `json:"status"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// TransactionID returns the transaction the event refers to
func (e *PaymentEvent) TransactionID() string {
	return e.Data.Object.Metadata["transaction_id"]
}

// Status maps the event type onto a transaction status
func (e *PaymentEvent) Status() string {
	switch e.Type {
	case "payment_intent.succeeded":
		return string(models.TransactionStatusSucceeded)
	case "payment_intent.payment_failed":
		return string(models.TransactionStatusFailed)
	case "payment_intent.canceled":
		return string(models.TransactionStatusCanceled)
	case "payment_intent.processing":
		return string(models.TransactionStatusProcessing)
	case "charge.refunded":
		return string(models.TransactionStatusRefunded)
	default:
		return e.Data.Object.Status
	}
}

// PaymentCallbacksHandler applies payment gateway callbacks consumed from Kafka
type PaymentCallbacksHandler struct {
	payments  TransactionStatusUpdater
	processed EventDeduplicator
	logger    logger.Logger
}

// NewPaymentCallbacksHandler creates a new PaymentCallbacksHandler
func NewPaymentCallbacksHandler(payments TransactionStatusUpdater, processed EventDeduplicator, logger logger.Logger) *PaymentCallbacksHandler {
	return &PaymentCallbacksHandler{
		payments:  payments,
		processed: processed,
		logger:    logger,
	}
}

// HandleMessage applies one callback. A returned error leaves the message unacknowledged.
func (h *PaymentCallbacksHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event PaymentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("Dropping malformed payment callback", "error", err, "offset", msg.Offset)
		return nil
	}

	txnID := event.TransactionID()
	status := event.Status()
	if event.ID == "" || txnID == "" || status == "" {
		h.logger.Warn("Dropping incomplete payment callback",
			"eventID", event.ID,
			"eventType", event.Type,
			"transactionID", txnID)
		return nil
	}

	fresh, err := h.processed.MarkProcessed(ctx, event.ID, callbackEventType)
	if err != nil {
		return fmt.Errorf("failed to record payment callback %s: %w", event.ID, err)
	}
	if !fresh {
		h.logger.Debug("Skipping duplicate payment callback", "eventID", event.ID)
		return nil
	}

	txn, err := h.payments.UpdateTransactionStatus(ctx, txnID, status)
	if err != nil {
		var appErr *apperrors.AppError
		if apperrors.As(err, &appErr) && !appErr.Retryable {
			h.logger.Warn("Payment callback rejected",
				"error", err,
				"eventID", event.ID,
				"transactionID", txnID,
				"status", status)
			return nil
		}

		if ferr := h.processed.Forget(ctx, event.ID); ferr != nil {
			h.logger.Error("Failed to release payment callback", "error", ferr, "eventID", event.ID)
		}
		return fmt.Errorf("failed to apply payment callback %s: %w", event.ID, err)
	}

	h.logger.Info("Payment callback applied",
		"eventID", event.ID,
		"transactionID", txn.ID,
		"status", txn.Status)
	return nil
}
