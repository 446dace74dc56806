package repository

import (
	"context"
	"errors"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

const deadLetterColumns = `id, original_message_id, aggregate_type, aggregate_id, event_type, payload,
	error_message, failure_reason, retry_count, last_retry_at, status, created_at, resolved_at`

// DeadLetterRepository stores outbox messages that exhausted their attempts.
// Status changes are guarded so the poller and the admin endpoints cannot
// both act on one message.
type DeadLetterRepository struct {
	db     database.Executor
	logger logger.Logger
}

// NewDeadLetterRepository creates a new DeadLetterRepository
func NewDeadLetterRepository(db *database.Database, logger logger.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{db: db.DB, logger: logger}
}

// Create parks a message
func (r *DeadLetterRepository) Create(ctx context.Context, message *models.DeadLetterMessage) error {
	err := exec(ctx, r.db, false, `
		INSERT INTO dead_letter_messages (
			id, original_message_id, aggregate_type, aggregate_id, event_type, payload,
			error_message, failure_reason, retry_count, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.OriginalMessageID, message.AggregateType, message.AggregateID,
		message.EventType, message.Payload, message.ErrorMessage, message.FailureReason,
		message.RetryCount, message.Status, message.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create dead letter message", "error", err, "originalMessageID", message.OriginalMessageID)
	}
	return err
}

// GetPendingMessages returns the oldest pending messages first
func (r *DeadLetterRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.DeadLetterMessage, error) {
	var messages []*models.DeadLetterMessage
	err := selectAll(ctx, r.db, &messages,
		`SELECT `+deadLetterColumns+` FROM dead_letter_messages WHERE status = ? ORDER BY created_at ASC, id LIMIT ?`,
		models.DeadLetterStatusPending, limit)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// List returns the newest messages first, optionally filtered by status
func (r *DeadLetterRepository) List(ctx context.Context, status models.DeadLetterStatus, page Page) ([]*models.DeadLetterMessage, error) {
	page = page.Normalize()

	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_messages`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	var messages []*models.DeadLetterMessage
	if err := selectAll(ctx, r.db, &messages, query, args...); err != nil {
		r.logger.Error("Failed to list dead letter messages", "error", err)
		return nil, err
	}
	return messages, nil
}

// CountByStatus returns the number of messages per status
func (r *DeadLetterRepository) CountByStatus(ctx context.Context) (map[models.DeadLetterStatus]int, error) {
	var rows []struct {
		Status models.DeadLetterStatus `db:"status"`
		Count  int                     `db:"count"`
	}
	if err := selectAll(ctx, r.db, &rows,
		`SELECT status, COUNT(*) AS count FROM dead_letter_messages GROUP BY status`); err != nil {
		return nil, err
	}

	counts := make(map[models.DeadLetterStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// MarkAsRetrying claims a pending message for a replay. It returns ErrStale
// when the message exists but is no longer pending.
func (r *DeadLetterRepository) MarkAsRetrying(ctx context.Context, id string) error {
	err := exec(ctx, r.db, true,
		`UPDATE dead_letter_messages SET status = ?, retry_count = retry_count + 1, last_retry_at = ?
		WHERE id = ? AND status = ?`,
		models.DeadLetterStatusRetrying, models.GetCurrentTime(), id, models.DeadLetterStatusPending)
	return r.staleIfExists(ctx, id, err)
}

// MarkAsResolved records a successful replay
func (r *DeadLetterRepository) MarkAsResolved(ctx context.Context, id string) error {
	err := exec(ctx, r.db, true,
		`UPDATE dead_letter_messages SET status = ?, resolved_at = ? WHERE id = ?`,
		models.DeadLetterStatusResolved, models.GetCurrentTime(), id)
	if err != nil {
		r.logger.Error("Failed to mark dead letter message as resolved", "error", err, "messageID", id)
	}
	return err
}

// MarkAsDiscarded gives up on a pending or retrying message and appends reason
// to the failure history. Resolved or discarded messages yield ErrStale.
func (r *DeadLetterRepository) MarkAsDiscarded(ctx context.Context, id string, reason string) error {
	err := exec(ctx, r.db, true,
		`UPDATE dead_letter_messages
		SET status = ?, failure_reason = failure_reason || ' | Discarded: ' || ?, resolved_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.DeadLetterStatusDiscarded, reason, models.GetCurrentTime(),
		id, models.DeadLetterStatusPending, models.DeadLetterStatusRetrying)
	return r.staleIfExists(ctx, id, err)
}

// ResetToRetry puts a retrying message back to pending
func (r *DeadLetterRepository) ResetToRetry(ctx context.Context, id string) error {
	err := exec(ctx, r.db, false,
		`UPDATE dead_letter_messages SET status = ? WHERE id = ? AND status = ?`,
		models.DeadLetterStatusPending, id, models.DeadLetterStatusRetrying)
	if err != nil {
		r.logger.Error("Failed to reset dead letter message to pending", "error", err, "messageID", id)
	}
	return err
}

// GetMessage retrieves a message by ID
func (r *DeadLetterRepository) GetMessage(ctx context.Context, id string) (*models.DeadLetterMessage, error) {
	var message models.DeadLetterMessage
	if err := get(ctx, r.db, &message, `SELECT `+deadLetterColumns+` FROM dead_letter_messages WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &message, nil
}

// staleIfExists turns the ErrNotFound of a guarded update into ErrStale when the row is there
func (r *DeadLetterRepository) staleIfExists(ctx context.Context, id string, err error) error {
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, getErr := r.GetMessage(ctx, id); getErr != nil {
		return getErr
	}
	return ErrStale
}
