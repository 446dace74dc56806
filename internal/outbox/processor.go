package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// ProcessorConfig holds the configuration for the Processor
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxAttempts     int
}

// Processor publishes pending outbox messages in creation order. A message that
// keeps failing is parked in the dead-letter queue after MaxAttempts.
type Processor struct {
	outboxRepo *repository.OutboxRepository
	dlqRepo    *repository.DeadLetterRepository
	handlers   *registry
	config     ProcessorConfig
	poller     *poller
	logger     logger.Logger
}

// NewProcessor creates a new Processor. dlqRepo may be nil.
func NewProcessor(
	outboxRepo *repository.OutboxRepository,
	dlqRepo *repository.DeadLetterRepository,
	config ProcessorConfig,
	logger logger.Logger,
) *Processor {
	if config.PollingInterval <= 0 {
		config.PollingInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}

	p := &Processor{
		outboxRepo: outboxRepo,
		dlqRepo:    dlqRepo,
		handlers:   newRegistry(),
		config:     config,
		logger:     logger,
	}
	p.poller = newPoller("Outbox processor", config.PollingInterval, p.processBatch, logger)
	return p
}

// RegisterHandler registers a message handler for a specific event type
func (p *Processor) RegisterHandler(eventType string, handler MessageHandler) {
	p.handlers.register(eventType, handler)
}

// SetFallbackHandler handles every event type without a registered handler
func (p *Processor) SetFallbackHandler(handler MessageHandler) {
	p.handlers.setFallback(handler)
}

// Start polls the outbox in the background
func (p *Processor) Start() {
	p.poller.start("batchSize", p.config.BatchSize, "maxAttempts", p.config.MaxAttempts)
}

// Stop stops polling and waits for the current batch
func (p *Processor) Stop() {
	p.poller.stop()
}

// processBatch handles one page of pending messages. Once a message of an
// aggregate fails, the rest of that aggregate's messages wait for the next
// batch so consumers never see its events out of order.
func (p *Processor) processBatch(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, p.config.PollingInterval)
	defer cancel()

	messages, err := p.outboxRepo.GetPendingMessages(ctx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	p.logger.Debug("Processing outbox batch", "count", len(messages))

	held := make(map[string]bool)
	for _, msg := range messages {
		key := msg.AggregateType + "/" + msg.AggregateID
		if held[key] {
			continue
		}
		if err := p.processMessage(ctx, msg); err != nil {
			held[key] = true
			p.logger.Error("Failed to process message",
				"error", err,
				"messageID", msg.ID,
				"aggregate", key,
				"eventType", msg.EventType)
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, msg *models.OutboxMessage) error {
	if err := p.outboxRepo.MarkAsProcessing(ctx, msg.ID); err != nil {
		if errors.Is(err, repository.ErrStale) {
			// Another instance claimed it
			return nil
		}
		return fmt.Errorf("failed to mark message as processing: %w", err)
	}
	msg.ProcessingAttempts++

	handler, ok := p.handlers.lookup(msg.EventType)
	if !ok {
		reason := fmt.Sprintf("no handler registered for event type: %s", msg.EventType)
		p.park(ctx, msg, reason, "no handler")
		return errors.New(reason)
	}

	if err := handler.HandleMessage(ctx, msg); err != nil {
		if msg.ProcessingAttempts >= p.config.MaxAttempts {
			p.park(ctx, msg, err.Error(), fmt.Sprintf("max attempts (%d) reached", p.config.MaxAttempts))
			return fmt.Errorf("message failed after %d attempts: %w", msg.ProcessingAttempts, err)
		}

		p.logger.Warn("Outbox message will be retried",
			"error", err,
			"messageID", msg.ID,
			"attempt", msg.ProcessingAttempts)
		if markErr := p.outboxRepo.MarkAsPending(ctx, msg.ID, err.Error()); markErr != nil {
			p.logger.Error("Failed to release message", "error", markErr, "messageID", msg.ID)
		}
		return err
	}

	if err := p.outboxRepo.MarkAsCompleted(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as completed: %w", err)
	}
	return nil
}

// park marks the message failed and copies it into the dead-letter queue
func (p *Processor) park(ctx context.Context, msg *models.OutboxMessage, lastError, reason string) {
	if err := p.outboxRepo.MarkAsFailed(ctx, msg.ID, lastError); err != nil {
		p.logger.Error("Failed to mark message as failed", "error", err, "messageID", msg.ID)
	}
	if p.dlqRepo == nil {
		return
	}

	if err := p.dlqRepo.Create(ctx, models.NewDeadLetterMessage(msg, lastError, reason)); err != nil {
		p.logger.Error("Failed to move message to dead-letter queue", "error", err, "messageID", msg.ID)
		return
	}
	p.logger.Warn("Message moved to dead-letter queue",
		"messageID", msg.ID,
		"eventType", msg.EventType,
		"attempts", msg.ProcessingAttempts,
		"reason", reason)
}
