package repository

import (
	"context"
	"errors"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// ProcessedEventRepository remembers consumed event ids so redelivered messages are skipped
type ProcessedEventRepository struct {
	db     database.Executor
	logger logger.Logger
}

// NewProcessedEventRepository creates a new ProcessedEventRepository
func NewProcessedEventRepository(db *database.Database, logger logger.Logger) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db.DB, logger: logger}
}

// MarkProcessed records the event. It returns false if the event was already recorded.
func (r *ProcessedEventRepository) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	err := exec(ctx, r.db, false,
		`INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?)`,
		eventID, eventType, models.GetCurrentTime())
	if errors.Is(err, ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("Failed to record processed event", "error", err, "eventID", eventID)
		return false, err
	}
	return true, nil
}

// Forget removes the record so the event can be handled again after a failure
func (r *ProcessedEventRepository) Forget(ctx context.Context, eventID string) error {
	return exec(ctx, r.db, false, `DELETE FROM processed_events WHERE event_id = ?`, eventID)
}

// IsProcessed reports whether the event was already handled
func (r *ProcessedEventRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int
	if err := get(ctx, r.db, &count, `SELECT COUNT(*) FROM processed_events WHERE event_id = ?`, eventID); err != nil {
		return false, err
	}
	return count > 0, nil
}
