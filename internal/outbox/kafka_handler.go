package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/kafka"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// Record headers set on every published event
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
)

// TopicRouter maps aggregate types to Kafka topics
type TopicRouter struct {
	routes   map[string]string
	fallback string
}

// NewTopicRouter creates a router that sends unknown aggregate types to fallback
func NewTopicRouter(fallback string, routes map[string]string) *TopicRouter {
	r := &TopicRouter{routes: make(map[string]string, len(routes)), fallback: fallback}
	for aggregate, topic := range routes {
		r.routes[aggregate] = topic
	}
	return r
}

// Topic returns the topic for an aggregate type
func (r *TopicRouter) Topic(aggregateType string) string {
	if topic, ok := r.routes[aggregateType]; ok && topic != "" {
		return topic
	}
	return r.fallback
}

// KafkaHandler publishes outbox messages to Kafka
type KafkaHandler struct {
	logger    logger.Logger
	publisher kafka.Publisher
	topics    *TopicRouter
}

// NewKafkaHandler creates a new KafkaHandler
func NewKafkaHandler(publisher kafka.Publisher, topics *TopicRouter, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		publisher: publisher,
		topics:    topics,
		logger:    logger,
	}
}

// HandleMessage publishes the message envelope, keyed by aggregate ID so events
// of one aggregate stay ordered within a partition
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	topic := h.topics.Topic(message.AggregateType)
	key := message.AggregateID

	h.logger.Debug("Publishing message to Kafka",
		"topic", topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	headers := map[string]string{
		HeaderEventID:       message.ID,
		HeaderEventType:     message.EventType,
		HeaderAggregateType: message.AggregateType,
	}

	if err := h.publisher.SendMessage(ctx, topic, key, message.Payload, headers); err != nil {
		h.logger.Error("Failed to publish message to Kafka",
			"error", err,
			"topic", topic,
			"messageID", message.ID,
			"aggregateID", message.AggregateID)
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Info("Published message to Kafka",
		"topic", topic,
		"messageID", message.ID,
		"eventType", message.EventType)

	return nil
}
