package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

const defaultRejoinBackoff = 2 * time.Second

// MessageHandler is the interface for handling messages from Kafka
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// MessageHandlerFunc adapts a function to MessageHandler
type MessageHandlerFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

// HandleMessage calls f(ctx, msg)
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return f(ctx, msg)
}

// Consumer reads the topics that have a registered handler as part of a consumer group.
// A message is committed only once its handler returns nil.
type Consumer struct {
	group         sarama.ConsumerGroup
	rejoinBackoff time.Duration
	logger        logger.Logger

	mu       sync.RWMutex
	handlers map[string]MessageHandler

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// ConsumerConfig is the configuration for the Kafka consumer
type ConsumerConfig struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string
	// RejoinBackoff is the pause before rejoining the group after an error
	RejoinBackoff time.Duration
}

// NewConsumer creates a consumer group client. Nothing is read until Start.
func NewConsumer(cfg *ConsumerConfig, logger logger.Logger) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	if cfg.ClientID != "" {
		saramaCfg.ClientID = cfg.ClientID
	}
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return newConsumer(group, cfg.RejoinBackoff, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, rejoinBackoff time.Duration, logger logger.Logger) *Consumer {
	if rejoinBackoff <= 0 {
		rejoinBackoff = defaultRejoinBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		group:         group,
		rejoinBackoff: rejoinBackoff,
		logger:        logger,
		handlers:      make(map[string]MessageHandler),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// RegisterHandler subscribes the consumer to topic. Register before Start.
func (c *Consumer) RegisterHandler(topic string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
}

// Topics lists the subscribed topics in a stable order
func (c *Consumer) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Start joins the group in the background and keeps rejoining until Stop
func (c *Consumer) Start() error {
	topics := c.Topics()
	if len(topics) == 0 {
		return fmt.Errorf("no topics to consume")
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(c.ctx, topics, c); err != nil {
				c.logger.Error("Kafka consumer error", "error", err)
				if !c.pause() {
					return
				}
				continue
			}
			// Consume returns after every rebalance
			if c.ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		defer c.wg.Done()
		for {
			select {
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.logger.Error("Kafka consumer group error", "error", err)
			case <-c.ctx.Done():
				return
			}
		}
	}()

	c.logger.Info("Kafka consumer started", "topics", topics)
	return nil
}

// pause waits out the rejoin backoff and reports whether to keep going
func (c *Consumer) pause() bool {
	timer := time.NewTimer(c.rejoinBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		c.logger.Info("Rejoining consumer group")
		return true
	case <-c.ctx.Done():
		return false
	}
}

// Stop leaves the group and waits for in-flight messages
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.group.Close()
}

// Setup is run at the beginning of a new session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is run at the end of a session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages of a single partition claim
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if c.dispatch(session.Context(), msg) {
				session.MarkMessage(msg, "")
			}
		case <-session.Context().Done():
			return nil
		case <-c.ctx.Done():
			return nil
		}
	}
}

// dispatch hands msg to its topic handler and reports whether the offset may be committed.
// Messages on a topic nobody handles are skipped.
func (c *Consumer) dispatch(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	c.mu.RLock()
	handler, exists := c.handlers[msg.Topic]
	c.mu.RUnlock()

	if !exists {
		c.logger.Warn("No handler registered for topic", "topic", msg.Topic)
		return true
	}

	if err := handler.HandleMessage(ctx, msg); err != nil {
		c.logger.Error("Error handling message",
			"error", err,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key))
		return false
	}
	return true
}
