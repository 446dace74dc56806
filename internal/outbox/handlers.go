package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// LoggingHandler is the sink used when no broker is configured. Notifications
// are written to the log so they still reach an operator; domain events are
// only traced.
type LoggingHandler struct {
	logger logger.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger logger.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// HandleMessage decodes the envelope and logs it. A payload that cannot be
// decoded is an error so the message ends up in the dead letter queue.
func (h *LoggingHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	var event models.OutboxMessageEvent
	if err := json.Unmarshal(message.Payload, &event); err != nil {
		return fmt.Errorf("failed to unmarshal outbox message %s: %w", message.ID, err)
	}

	if message.EventType == models.EventNotification {
		var n models.Notification
		if err := json.Unmarshal(event.Data, &n); err != nil {
			return fmt.Errorf("failed to decode notification %s: %w", message.ID, err)
		}
		h.logger.Info("Notification",
			"recipient", n.RecipientID,
			"type", n.Type,
			"message", n.Message,
			"eventID", event.EventID)
		return nil
	}

	h.logger.Debug("Outbox event",
		"eventType", message.EventType,
		"aggregate", message.AggregateType+"/"+message.AggregateID,
		"eventID", event.EventID,
		"occurredAt", event.OccurredAt)
	return nil
}
