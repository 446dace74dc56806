package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

const invoiceColumns = `id, number, order_id, transaction_id, user_id, total, issued_on, document_path, created_at`

const invoiceLineColumns = `id, invoice_id, order_id, product_id, position, quantity, unit_price, total, ttc`

// InvoiceRepository stores invoices (factures) and their lines
type InvoiceRepository struct {
	db     database.Executor
	logger logger.Logger
}

// NewInvoiceRepository creates a new InvoiceRepository
func NewInvoiceRepository(db *database.Database, logger logger.Logger) *InvoiceRepository {
	return &InvoiceRepository{db: db.DB, logger: logger}
}

// WithTx returns a copy of the repository bound to tx
func (r *InvoiceRepository) WithTx(tx *sqlx.Tx) *InvoiceRepository {
	return &InvoiceRepository{db: tx, logger: r.logger}
}

// Create persists the header first, then each line linked back to it
func (r *InvoiceRepository) Create(ctx context.Context, inv *models.Invoice) error {
	err := exec(ctx, r.db, false,
		`INSERT INTO invoices (`+invoiceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Number, inv.OrderID, inv.TransactionID, inv.UserID, inv.Total, inv.IssuedOn, inv.DocumentPath, inv.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create invoice", "error", err, "invoiceID", inv.ID, "number", inv.Number)
		return err
	}

	for _, l := range inv.Lines {
		l.InvoiceID = inv.ID
		err := exec(ctx, r.db, false,
			`INSERT INTO invoice_lines (`+invoiceLineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.InvoiceID, l.OrderID, l.ProductID, l.Position, l.Quantity, l.UnitPrice, l.Total, l.TTC)
		if err != nil {
			r.logger.Error("Failed to create invoice line", "error", err, "invoiceID", inv.ID)
			return err
		}
	}
	return nil
}

// GetByID retrieves an invoice with its lines
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := get(ctx, r.db, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Error("Failed to get invoice", "error", err, "invoiceID", id)
		}
		return nil, err
	}

	if err := r.loadLines(ctx, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListByTransaction returns the invoices generated for a transaction
func (r *InvoiceRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*models.Invoice, error) {
	return r.list(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE transaction_id = ? ORDER BY created_at, id`, transactionID)
}

// ListByOrder returns the invoices whose lines include the order
func (r *InvoiceRepository) ListByOrder(ctx context.Context, orderID string) ([]*models.Invoice, error) {
	return r.list(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE order_id = ? OR id IN (SELECT invoice_id FROM invoice_lines WHERE order_id = ?)
		ORDER BY created_at, id`, orderID, orderID)
}

func (r *InvoiceRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Invoice, error) {
	var invoices []*models.Invoice
	if err := selectAll(ctx, r.db, &invoices, query, args...); err != nil {
		r.logger.Error("Failed to list invoices", "error", err)
		return nil, err
	}

	for _, inv := range invoices {
		if err := r.loadLines(ctx, inv); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

// SetDocumentPath records where the rendered document was stored
func (r *InvoiceRepository) SetDocumentPath(ctx context.Context, id, path string) error {
	return exec(ctx, r.db, true, `UPDATE invoices SET document_path = ? WHERE id = ?`, path, id)
}

// Delete removes an invoice and its lines
func (r *InvoiceRepository) Delete(ctx context.Context, id string) error {
	if err := exec(ctx, r.db, false, `DELETE FROM invoice_lines WHERE invoice_id = ?`, id); err != nil {
		return err
	}
	return exec(ctx, r.db, true, `DELETE FROM invoices WHERE id = ?`, id)
}

func (r *InvoiceRepository) loadLines(ctx context.Context, inv *models.Invoice) error {
	inv.Lines = []*models.InvoiceLine{}
	if err := selectAll(ctx, r.db, &inv.Lines, `SELECT `+invoiceLineColumns+` FROM invoice_lines WHERE invoice_id = ? ORDER BY position`, inv.ID); err != nil {
		r.logger.Error("Failed to load invoice lines", "error", err, "invoiceID", inv.ID)
		return err
	}
	return nil
}
