package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	"github.com/vaidashi/order-settlement-api/pkg/kafka"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
	"github.com/vaidashi/order-settlement-api/pkg/retry"
)

type flakyHandler struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (h *flakyHandler) HandleMessage(ctx context.Context, msg *models.OutboxMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls <= h.failures {
		return errors.New("broker unavailable")
	}
	return nil
}

func setup(t *testing.T) (*repository.OutboxRepository, *repository.DeadLetterRepository) {
	t.Helper()
	log := logger.NewNop()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "outbox.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(context.Background()))

	return repository.NewOutboxRepository(db, log), repository.NewDeadLetterRepository(db, log)
}

func enqueue(t *testing.T, repo *repository.OutboxRepository) *models.OutboxMessage {
	t.Helper()
	msg, err := models.NewNotificationEvent(models.Notification{RecipientID: "usr-1", Message: "hello", Type: "TEST"})
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), msg))
	return msg
}

func TestProcessorCompletesMessages(t *testing.T) {
	outboxRepo, dlqRepo := setup(t)
	ctx := context.Background()
	msg := enqueue(t, outboxRepo)

	handler := &flakyHandler{}
	p := NewProcessor(outboxRepo, dlqRepo, ProcessorConfig{PollingInterval: time.Second, BatchSize: 5, MaxAttempts: 3}, logger.NewNop())
	p.SetFallbackHandler(handler)

	require.NoError(t, p.processBatch(ctx))

	stored, err := outboxRepo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxStatusCompleted, stored.Status)
	assert.Equal(t, 1, handler.calls)
}

func TestProcessorRetriesThenDeadLetters(t *testing.T) {
	outboxRepo, dlqRepo := setup(t)
	ctx := context.Background()
	msg := enqueue(t, outboxRepo)

	handler := &flakyHandler{failures: 10}
	p := NewProcessor(outboxRepo, dlqRepo, ProcessorConfig{PollingInterval: time.Second, BatchSize: 5, MaxAttempts: 2}, logger.NewNop())
	p.RegisterHandler(models.EventNotification, handler)

	require.NoError(t, p.processBatch(ctx))
	stored, err := outboxRepo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxStatusPending, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "broker unavailable", *stored.LastError)

	require.NoError(t, p.processBatch(ctx))
	stored, err = outboxRepo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.ProcessingAttempts)

	dead, err := dlqRepo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, msg.ID, dead[0].OriginalMessageID)
	assert.Contains(t, dead[0].FailureReason, "max attempts")
}

func TestProcessorWithoutHandlerDeadLetters(t *testing.T) {
	outboxRepo, dlqRepo := setup(t)
	ctx := context.Background()
	enqueue(t, outboxRepo)

	p := NewProcessor(outboxRepo, dlqRepo, ProcessorConfig{PollingInterval: time.Second}, logger.NewNop())
	require.NoError(t, p.processBatch(ctx))

	dead, err := dlqRepo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "no handler", dead[0].FailureReason)
}

func TestDeadLetterProcessorResolvesAndDiscards(t *testing.T) {
	outboxRepo, dlqRepo := setup(t)
	ctx := context.Background()

	okMsg := enqueue(t, outboxRepo)
	badMsg, err := models.NewOrderDeletedEvent("ord-1")
	require.NoError(t, err)

	okDead := models.NewDeadLetterMessage(okMsg, "timeout", "max attempts (5) reached")
	badDead := models.NewDeadLetterMessage(badMsg, "timeout", "max attempts (5) reached")
	require.NoError(t, dlqRepo.Create(ctx, okDead))
	require.NoError(t, dlqRepo.Create(ctx, badDead))

	p := NewDeadLetterProcessor(dlqRepo, logger.NewNop(), &DeadLetterProcessorConfig{
		PollingInterval: time.Second,
		BatchSize:       10,
		MaxRetries:      2,
		BackoffStrategy: &retry.ConstantBackoff{Interval: time.Millisecond},
	})
	p.RegisterHandler(models.EventNotification, &flakyHandler{failures: 1})
	p.RegisterHandler(models.EventOrderDeleted, &flakyHandler{failures: 10})

	require.NoError(t, p.processBatch(ctx))

	resolved, err := dlqRepo.GetMessage(ctx, okDead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterStatusResolved, resolved.Status)

	discarded, err := dlqRepo.GetMessage(ctx, badDead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterStatusDiscarded, discarded.Status)
	assert.Contains(t, discarded.FailureReason, "Discarded: Failed to process message after 2 attempts")
}

func TestRetryMessageOnRequest(t *testing.T) {
	outboxRepo, dlqRepo := setup(t)
	ctx := context.Background()

	dead := models.NewDeadLetterMessage(enqueue(t, outboxRepo), "timeout", "max attempts (5) reached")
	require.NoError(t, dlqRepo.Create(ctx, dead))

	handler := &flakyHandler{failures: 1}
	p := NewDeadLetterProcessor(dlqRepo, logger.NewNop(), &DeadLetterProcessorConfig{PollingInterval: time.Second})
	p.SetFallbackHandler(handler)

	require.Error(t, p.RetryMessage(ctx, dead.ID))
	stored, err := dlqRepo.GetMessage(ctx, dead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeadLetterStatusPending, stored.Status)

	require.NoError(t, p.RetryMessage(ctx, dead.ID))
	assert.ErrorIs(t, p.RetryMessage(ctx, dead.ID), ErrNotRetryable)
	assert.ErrorIs(t, p.RetryMessage(ctx, "dlq-missing"), repository.ErrNotFound)
}

func TestKafkaHandlerRoutesByAggregate(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "notifications" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "usr-1" {
			return errors.New("unexpected key " + string(key))
		}
		if len(msg.Headers) != 3 {
			return errors.New("expected three headers")
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	topics := NewTopicRouter("orders", map[string]string{models.AggregateNotification: "notifications"})
	h := NewKafkaHandler(kafka.NewProducerFromSync(sp, logger.NewNop()), topics, logger.NewNop())

	msg, err := models.NewNotificationEvent(models.Notification{RecipientID: "usr-1", Message: "paid", Type: "ORDER_PAID"})
	require.NoError(t, err)

	require.NoError(t, h.HandleMessage(context.Background(), msg))
	assert.ErrorIs(t, h.HandleMessage(context.Background(), msg), sarama.ErrOutOfBrokers)
	require.NoError(t, sp.Close())
}

func TestTopicRouterFallback(t *testing.T) {
	r := NewTopicRouter("orders", map[string]string{models.AggregateDelivery: "deliveries", models.AggregateInvoice: ""})
	assert.Equal(t, "deliveries", r.Topic(models.AggregateDelivery))
	assert.Equal(t, "orders", r.Topic(models.AggregateInvoice))
	assert.Equal(t, "orders", r.Topic("unknown"))
}

func TestLoggingHandlerRejectsMalformedPayload(t *testing.T) {
	h := NewLoggingHandler(logger.NewNop())
	assert.Error(t, h.HandleMessage(context.Background(), &models.OutboxMessage{ID: "evt-1", Payload: []byte("{")}))

	msg, err := models.NewOrderDeletedEvent("ord-1")
	require.NoError(t, err)
	assert.NoError(t, h.HandleMessage(context.Background(), msg))

	note, err := models.NewNotificationEvent(models.Notification{Message: "stock low", Type: "restock"})
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastRecipient, note.AggregateID)
	assert.NoError(t, h.HandleMessage(context.Background(), note))

	bad := &models.OutboxMessage{
		ID:        "evt-2",
		EventType: models.EventNotification,
		Payload:   []byte(`{"event_type":"notification","data":"not an object"}`),
	}
	assert.Error(t, h.HandleMessage(context.Background(), bad))
}

func TestProcessorHoldsBackLaterEventsOfFailedAggregate(t *testing.T) {
	outboxRepo, dlqRepo := setup(t)
	ctx := context.Background()

	first := enqueue(t, outboxRepo)
	second := enqueue(t, outboxRepo)
	other, err := models.NewNotificationEvent(models.Notification{RecipientID: "usr-2", Message: "hi", Type: "TEST"})
	require.NoError(t, err)
	require.NoError(t, outboxRepo.Create(ctx, other))

	var seen []string
	p := NewProcessor(outboxRepo, dlqRepo, ProcessorConfig{PollingInterval: time.Second, BatchSize: 10, MaxAttempts: 3}, logger.NewNop())
	p.SetFallbackHandler(MessageHandlerFunc(func(_ context.Context, msg *models.OutboxMessage) error {
		seen = append(seen, msg.ID)
		if msg.ID == first.ID && len(seen) == 1 {
			return errors.New("broker unavailable")
		}
		return nil
	}))

	require.NoError(t, p.processBatch(ctx))
	assert.Equal(t, []string{first.ID, other.ID}, seen)

	stored, err := outboxRepo.GetMessage(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxStatusPending, stored.Status)
	assert.Zero(t, stored.ProcessingAttempts)

	require.NoError(t, p.processBatch(ctx))
	assert.Equal(t, []string{first.ID, other.ID, first.ID, second.ID}, seen)
}

func TestProcessorStartStopIsIdempotent(t *testing.T) {
	outboxRepo, dlqRepo := setup(t)
	p := NewProcessor(outboxRepo, dlqRepo, ProcessorConfig{PollingInterval: 10 * time.Millisecond}, logger.NewNop())
	p.Start()
	p.Start()
	p.Stop()
	p.Stop()
}
