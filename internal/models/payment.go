package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
)

// TransactionStatus is the lifecycle status reported by the payment gateway
type TransactionStatus string

const (
	TransactionStatusCreated    TransactionStatus = "created"
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusSucceeded  TransactionStatus = "succeeded"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCanceled   TransactionStatus = "canceled"
	TransactionStatusRefunded   TransactionStatus = "refunded"
)

var transactionStatuses = []TransactionStatus{
	TransactionStatusCreated, TransactionStatusPending, TransactionStatusProcessing,
	TransactionStatusSucceeded, TransactionStatusFailed, TransactionStatusCanceled,
	TransactionStatusRefunded,
}

// ParseTransactionStatus normalizes a gateway status string, ignoring case.
// "cancelled" is accepted as a spelling of "canceled".
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "cancelled" {
		normalized = string(TransactionStatusCanceled)
	}

	for _, known := range transactionStatuses {
		if TransactionStatus(normalized) == known {
			return known, nil
		}
	}
	return "", apperrors.NewValidationError("unknown transaction status %q", s)
}

// Final reports whether no further gateway callbacks are expected. Only a
// refund may follow a success.
func (s TransactionStatus) Final() bool {
	switch s {
	case TransactionStatusSucceeded, TransactionStatusCanceled, TransactionStatusRefunded:
		return true
	}
	return false
}

// PaymentTransaction links one or more orders to a single payment attempt
type PaymentTransaction struct {
	ID              string            `db:"id" json:"id"`
	Amount          decimal.Decimal   `db:"amount" json:"amount"`
	Method          string            `db:"method" json:"method"`
	Status          TransactionStatus `db:"status" json:"status"`
	Currency        string            `db:"currency" json:"currency"`
	PaymentIntentID string            `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	OccurredAt      time.Time         `db:"occurred_at" json:"occurred_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`

	OrderIDs []string `db:"-" json:"order_ids"`
}

// NewPaymentTransaction creates a transaction in the created status
func NewPaymentTransaction(orderIDs []string, amount decimal.Decimal, method, currency string, occurredAt time.Time) *PaymentTransaction {
	if occurredAt.IsZero() {
		occurredAt = GetCurrentTime()
	}

	return &PaymentTransaction{
		ID:         GenerateID("txn"),
		Amount:     amount,
		Method:     strings.TrimSpace(method),
		Status:     TransactionStatusCreated,
		Currency:   currency,
		OccurredAt: occurredAt,
		UpdatedAt:  GetCurrentTime(),
		OrderIDs:   orderIDs,
	}
}

// AmountInCents converts a money amount to the smallest currency unit
func AmountInCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
