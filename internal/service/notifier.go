package service

import (
	"context"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// Notification types
const (
	NotificationStockReorder  = "STOCK_REORDER"
	NotificationOrderPaid     = "ORDER_PAID"
	NotificationDeliveryState = "DELIVERY_STATUS"
)

// Notifier queues notifications as outbox events so they are published after commit
type Notifier struct {
	logger logger.Logger
}

// NewNotifier creates a new Notifier
func NewNotifier(logger logger.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Notify writes a notification event through the given outbox repository.
// Pass a transaction-bound repository to tie the notification to the state change.
func (n *Notifier) Notify(ctx context.Context, outbox *repository.OutboxRepository, notification models.Notification) error {
	msg, err := models.NewNotificationEvent(notification)
	if err := emit(ctx, outbox, msg, err); err != nil {
		n.logger.Error("Failed to queue notification", "error", err, "type", notification.Type)
		return err
	}

	n.logger.Debug("Notification queued", "recipient", msg.AggregateID, "type", notification.Type)
	return nil
}
