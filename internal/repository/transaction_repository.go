package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

const transactionColumns = `id, amount, method, status, currency, payment_intent_id, occurred_at, updated_at`

// TransactionRepository stores payment transactions and their order links
type TransactionRepository struct {
	db     database.Executor
	logger logger.Logger
}

// NewTransactionRepository creates a new TransactionRepository
func NewTransactionRepository(db *database.Database, logger logger.Logger) *TransactionRepository {
	return &TransactionRepository{db: db.DB, logger: logger}
}

// WithTx returns a copy of the repository bound to tx
func (r *TransactionRepository) WithTx(tx *sqlx.Tx) *TransactionRepository {
	return &TransactionRepository{db: tx, logger: r.logger}
}

// Create inserts the transaction and one link row per order
func (r *TransactionRepository) Create(ctx context.Context, t *models.PaymentTransaction) error {
	err := exec(ctx, r.db, false,
		`INSERT INTO payment_transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Amount, t.Method, t.Status, t.Currency, t.PaymentIntentID, t.OccurredAt, t.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create transaction", "error", err, "transactionID", t.ID)
		return err
	}

	for _, orderID := range t.OrderIDs {
		if err := exec(ctx, r.db, false, `INSERT INTO transaction_orders (transaction_id, order_id) VALUES (?, ?)`, t.ID, orderID); err != nil {
			r.logger.Error("Failed to link transaction to order", "error", err, "transactionID", t.ID, "orderID", orderID)
			return err
		}
	}
	return nil
}

// GetByID retrieves a transaction with its order ids
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	if err := get(ctx, r.db, &t, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = ?`, id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Error("Failed to get transaction", "error", err, "transactionID", id)
		}
		return nil, err
	}

	if err := r.loadOrderIDs(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns transactions, newest first
func (r *TransactionRepository) List(ctx context.Context, page Page) ([]*models.PaymentTransaction, error) {
	page = page.Normalize()

	var txns []*models.PaymentTransaction
	if err := selectAll(ctx, r.db, &txns, `SELECT `+transactionColumns+` FROM payment_transactions ORDER BY occurred_at DESC, id LIMIT ? OFFSET ?`, page.Limit, page.Offset); err != nil {
		r.logger.Error("Failed to list transactions", "error", err)
		return nil, err
	}

	for _, t := range txns {
		if err := r.loadOrderIDs(ctx, t); err != nil {
			return nil, err
		}
	}
	return txns, nil
}

// UpdateStatus changes the status only if it is still from. It returns ErrStale otherwise.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id string, from, to models.TransactionStatus) error {
	err := exec(ctx, r.db, true,
		`UPDATE payment_transactions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, models.GetCurrentTime(), id, from)
	if errors.Is(err, ErrNotFound) {
		return ErrStale
	}
	return err
}

// Delete removes a transaction and its order links
func (r *TransactionRepository) Delete(ctx context.Context, id string) error {
	if err := exec(ctx, r.db, false, `DELETE FROM transaction_orders WHERE transaction_id = ?`, id); err != nil {
		return err
	}
	return exec(ctx, r.db, true, `DELETE FROM payment_transactions WHERE id = ?`, id)
}

func (r *TransactionRepository) loadOrderIDs(ctx context.Context, t *models.PaymentTransaction) error {
	t.OrderIDs = []string{}
	if err := selectAll(ctx, r.db, &t.OrderIDs, `SELECT order_id FROM transaction_orders WHERE transaction_id = ? ORDER BY order_id`, t.ID); err != nil {
		r.logger.Error("Failed to load transaction orders", "error", err, "transactionID", t.ID)
		return err
	}
	return nil
}

// SetIntent records the gateway payment intent id
func (r *TransactionRepository) SetIntent(ctx context.Context, id, intentID string) error {
	return exec(ctx, r.db, true, `UPDATE payment_transactions SET payment_intent_id = ?, updated_at = ? WHERE id = ?`,
		intentID, models.GetCurrentTime(), id)
}
