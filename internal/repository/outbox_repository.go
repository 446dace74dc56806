package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload,
	created_at, processed_at, processing_attempts, last_error, status`

// OutboxRepository handles database operations for outbox messages
type OutboxRepository struct {
	db     database.Executor
	logger logger.Logger
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *database.Database, logger logger.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db.DB,
		logger: logger,
	}
}

// WithTx returns a copy of the repository bound to tx, so messages commit with the state change
func (r *OutboxRepository) WithTx(tx *sqlx.Tx) *OutboxRepository {
	return &OutboxRepository{db: tx, logger: r.logger}
}

// Create inserts a new outbox message into the database
func (r *OutboxRepository) Create(ctx context.Context, message *models.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			created_at, processing_attempts, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := exec(ctx, r.db, false, query,
		message.ID,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.CreatedAt,
		message.ProcessingAttempts,
		message.Status,
	)
	if err != nil {
		r.logger.Error("Failed to create outbox message", "error", err, "eventType", message.EventType)
	}
	return err
}

// GetPendingMessages retrieves pending outbox messages, oldest first
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	var messages []*models.OutboxMessage

	err := selectAll(ctx, r.db, &messages,
		`SELECT `+outboxColumns+` FROM outbox_messages WHERE status = ? ORDER BY created_at ASC, id LIMIT ?`,
		models.OutboxStatusPending, limit)
	if err != nil {
		r.logger.Error("Failed to get pending outbox messages", "error", err)
		return nil, err
	}

	return messages, nil
}

// MarkAsProcessing claims a pending message and bumps its attempt counter.
// It returns ErrStale when another worker claimed it first.
func (r *OutboxRepository) MarkAsProcessing(ctx context.Context, id string) error {
	err := exec(ctx, r.db, true,
		`UPDATE outbox_messages SET status = ?, processing_attempts = processing_attempts + 1 WHERE id = ? AND status = ?`,
		models.OutboxStatusProcessing, id, models.OutboxStatusPending)
	if errors.Is(err, ErrNotFound) {
		return ErrStale
	}
	if err != nil {
		r.logger.Error("Failed to mark outbox message as processing", "error", err, "message_id", id)
	}
	return err
}

// MarkAsCompleted updates the status of an outbox message to completed
func (r *OutboxRepository) MarkAsCompleted(ctx context.Context, id string) error {
	err := exec(ctx, r.db, true,
		`UPDATE outbox_messages SET status = ?, processed_at = ?, last_error = NULL WHERE id = ?`,
		models.OutboxStatusCompleted, models.GetCurrentTime(), id)
	if err != nil {
		r.logger.Error("Failed to mark outbox message as completed", "error", err, "message_id", id)
	}
	return err
}

// MarkAsPending releases a message after a failed attempt so it is polled again
func (r *OutboxRepository) MarkAsPending(ctx context.Context, id, errorMessage string) error {
	err := exec(ctx, r.db, true,
		`UPDATE outbox_messages SET status = ?, last_error = ? WHERE id = ?`,
		models.OutboxStatusPending, errorMessage, id)
	if err != nil {
		r.logger.Error("Failed to release outbox message", "error", err, "message_id", id)
	}
	return err
}

// MarkAsFailed updates the status of an outbox message to failed
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id, errorMessage string) error {
	err := exec(ctx, r.db, true,
		`UPDATE outbox_messages SET status = ?, last_error = ? WHERE id = ?`,
		models.OutboxStatusFailed, errorMessage, id)
	if err != nil {
		r.logger.Error("Failed to mark outbox message as failed", "error", err, "message_id", id)
	}
	return err
}

// GetMessage retrieves an outbox message by ID
func (r *OutboxRepository) GetMessage(ctx context.Context, id string) (*models.OutboxMessage, error) {
	var message models.OutboxMessage
	if err := get(ctx, r.db, &message, `SELECT `+outboxColumns+` FROM outbox_messages WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &message, nil
}

// ListByAggregate returns every message emitted for one aggregate, oldest first
func (r *OutboxRepository) ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*models.OutboxMessage, error) {
	var messages []*models.OutboxMessage
	err := selectAll(ctx, r.db, &messages,
		`SELECT `+outboxColumns+` FROM outbox_messages WHERE aggregate_type = ? AND aggregate_id = ? ORDER BY created_at ASC, id`,
		aggregateType, aggregateID)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// CountByStatus reports how many messages sit in each status
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[models.OutboxStatus]int, error) {
	var rows []struct {
		Status models.OutboxStatus `db:"status"`
		Count  int                 `db:"count"`
	}
	if err := selectAll(ctx, r.db, &rows, `SELECT status, COUNT(*) AS count FROM outbox_messages GROUP BY status`); err != nil {
		return nil, err
	}

	counts := make(map[models.OutboxStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
