package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
	"github.com/vaidashi/order-settlement-api/pkg/retry"
)

// ErrNotRetryable is returned when a dead letter is not pending
var ErrNotRetryable = errors.New("dead letter message is not pending")

// DeadLetterProcessorConfig holds the configuration for the DeadLetterProcessor
type DeadLetterProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
	BackoffStrategy retry.BackoffStrategy
}

// DeadLetterProcessor gives parked messages another round of attempts with
// backoff. A message that still fails is discarded with the reason recorded.
type DeadLetterProcessor struct {
	dlqRepo  *repository.DeadLetterRepository
	handlers *registry
	config   DeadLetterProcessorConfig
	poller   *poller
	logger   logger.Logger
}

// NewDeadLetterProcessor creates a new dead letter processor
func NewDeadLetterProcessor(
	dlqRepo *repository.DeadLetterRepository,
	logger logger.Logger,
	config *DeadLetterProcessorConfig,
) *DeadLetterProcessor {
	cfg := *config
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffStrategy == nil {
		cfg.BackoffStrategy = retry.NewDefaultExponentialBackoff()
	}

	p := &DeadLetterProcessor{
		dlqRepo:  dlqRepo,
		handlers: newRegistry(),
		config:   cfg,
		logger:   logger,
	}
	p.poller = newPoller("Dead letter processor", cfg.PollingInterval, p.processBatch, logger)
	return p
}

// RegisterHandler registers a message handler for a specific event type
func (p *DeadLetterProcessor) RegisterHandler(eventType string, handler MessageHandler) {
	p.handlers.register(eventType, handler)
}

// SetFallbackHandler handles every event type without a registered handler
func (p *DeadLetterProcessor) SetFallbackHandler(handler MessageHandler) {
	p.handlers.setFallback(handler)
}

// Start polls the dead letter queue in the background
func (p *DeadLetterProcessor) Start() {
	p.poller.start("batchSize", p.config.BatchSize, "maxRetries", p.config.MaxRetries)
}

// Stop stops polling and waits for the current batch
func (p *DeadLetterProcessor) Stop() {
	p.poller.stop()
}

func (p *DeadLetterProcessor) processBatch(ctx context.Context) error {
	messages, err := p.dlqRepo.GetPendingMessages(ctx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	p.logger.Info("Replaying dead letter messages", "count", len(messages))

	for _, msg := range messages {
		if err := p.processMessage(ctx, msg); err != nil {
			p.logger.Error("Failed to replay dead letter message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType,
				"retryCount", msg.RetryCount)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// RetryMessage republishes one pending dead letter immediately, with a single attempt.
// On failure the message goes back to pending.
func (p *DeadLetterProcessor) RetryMessage(ctx context.Context, id string) error {
	msg, err := p.dlqRepo.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg.Status != models.DeadLetterStatusPending {
		return fmt.Errorf("%w: status is %s", ErrNotRetryable, msg.Status)
	}

	handler, ok := p.handlers.lookup(msg.EventType)
	if !ok {
		return fmt.Errorf("no handler registered for event type %s", msg.EventType)
	}
	if err := p.dlqRepo.MarkAsRetrying(ctx, msg.ID); err != nil {
		if errors.Is(err, repository.ErrStale) {
			// The poller got there first
			return fmt.Errorf("%w: already being replayed", ErrNotRetryable)
		}
		return fmt.Errorf("failed to mark message as retrying: %w", err)
	}

	if err := handler.HandleMessage(ctx, msg.ToOutboxMessage()); err != nil {
		p.release(msg.ID)
		return err
	}
	if err := p.dlqRepo.MarkAsResolved(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as resolved: %w", err)
	}

	p.logger.Info("Dead letter message republished on request", "messageID", msg.ID, "eventType", msg.EventType)
	return nil
}

func (p *DeadLetterProcessor) processMessage(ctx context.Context, msg *models.DeadLetterMessage) error {
	if err := p.dlqRepo.MarkAsRetrying(ctx, msg.ID); err != nil {
		if errors.Is(err, repository.ErrStale) {
			return nil
		}
		return fmt.Errorf("failed to mark message as retrying: %w", err)
	}

	handler, ok := p.handlers.lookup(msg.EventType)
	if !ok {
		if err := p.dlqRepo.MarkAsDiscarded(ctx, msg.ID, "No handler available"); err != nil {
			p.logger.Error("Failed to mark message as discarded", "error", err, "messageID", msg.ID)
		}
		return fmt.Errorf("no handler registered for event type %s", msg.EventType)
	}

	outboxMsg := msg.ToOutboxMessage()
	err := retry.RetryWithDiscard(ctx,
		func(ctx context.Context) error { return handler.HandleMessage(ctx, outboxMsg) },
		&retry.RetryConfig{
			MaxAttempts:     p.config.MaxRetries,
			BackoffStrategy: p.config.BackoffStrategy,
			Logger:          p.logger,
		},
		func(err error) error { return p.discard(ctx, msg, err) })
	if err != nil {
		return err
	}

	if err := p.dlqRepo.MarkAsResolved(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as resolved: %w", err)
	}
	p.logger.Info("Dead letter message replayed",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)
	return nil
}

// discard records the final failure. A shutdown in progress puts the message
// back to pending instead.
func (p *DeadLetterProcessor) discard(ctx context.Context, msg *models.DeadLetterMessage, err error) error {
	if ctx.Err() != nil {
		p.release(msg.ID)
		return err
	}

	attempts := retry.Attempts(err)
	reason := fmt.Sprintf("Failed to process message after %d attempts: %v", attempts, err)
	if markErr := p.dlqRepo.MarkAsDiscarded(ctx, msg.ID, reason); markErr != nil {
		p.logger.Error("Failed to mark message as discarded", "error", markErr, "messageID", msg.ID)
	}
	return fmt.Errorf("message discarded after %d attempts: %w", attempts, err)
}

// release puts a message back to pending, outliving a cancelled request or shutdown
func (p *DeadLetterProcessor) release(id string) {
	if err := p.dlqRepo.ResetToRetry(context.Background(), id); err != nil {
		p.logger.Error("Failed to reset dead letter message", "error", err, "messageID", id)
	}
}
