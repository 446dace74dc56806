package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// DeadLetterStatus represents the status of a dead letter message
type DeadLetterStatus string

const (
	DeadLetterStatusPending   DeadLetterStatus = "pending"
	DeadLetterStatusRetrying  DeadLetterStatus = "retrying"
	DeadLetterStatusResolved  DeadLetterStatus = "resolved"
	DeadLetterStatusDiscarded DeadLetterStatus = "discarded"
)

// DeadLetterMessage represents a message in the dead-letter queue
type DeadLetterMessage struct {
	ID                string           `db:"id" json:"id"`
	OriginalMessageID string           `db:"original_message_id" json:"original_message_id"`
	AggregateType     string           `db:"aggregate_type" json:"aggregate_type"`
	AggregateID       string           `db:"aggregate_id" json:"aggregate_id"`
	EventType         string           `db:"event_type" json:"event_type"`
	Payload           types.JSONText   `db:"payload" json:"payload"`
	ErrorMessage      string           `db:"error_message" json:"error_message"`
	FailureReason     string           `db:"failure_reason" json:"failure_reason"`
	RetryCount        int              `db:"retry_count" json:"retry_count"`
	LastRetryAt       *time.Time       `db:"last_retry_at" json:"last_retry_at,omitempty"`
	Status            DeadLetterStatus `db:"status" json:"status"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	ResolvedAt        *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
}

// NewDeadLetterMessage creates a new dead letter message from an outbox message
func NewDeadLetterMessage(outboxMsg *OutboxMessage, errorMsg string, reason string) *DeadLetterMessage {
	return &DeadLetterMessage{
		ID:                GenerateID("dlq"),
		OriginalMessageID: outboxMsg.ID,
		AggregateType:     outboxMsg.AggregateType,
		AggregateID:       outboxMsg.AggregateID,
		EventType:         outboxMsg.EventType,
		Payload:           outboxMsg.Payload,
		ErrorMessage:      errorMsg,
		FailureReason:     reason,
		Status:            DeadLetterStatusPending,
		CreatedAt:         GetCurrentTime(),
	}
}

// ToOutboxMessage rebuilds a publishable message for a retry
func (m *DeadLetterMessage) ToOutboxMessage() *OutboxMessage {
	return &OutboxMessage{
		ID:            m.OriginalMessageID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Payload:       m.Payload,
		CreatedAt:     GetCurrentTime(),
		Status:        OutboxStatusPending,
	}
}
