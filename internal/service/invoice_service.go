package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// DocumentStore renders and keeps invoice documents
type DocumentStore interface {
	Render(inv *models.Invoice) (string, error)
	Read(path string) ([]byte, error)
	Remove(path string) error
}

// InvoiceService derives invoices (factures) from orders and transactions
type InvoiceService struct {
	uow    unitOfWork
	repos  *Repositories
	docs   DocumentStore
	logger logger.Logger
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(db *database.Database, repos *Repositories, docs DocumentStore, logger logger.Logger) *InvoiceService {
	return &InvoiceService{
		uow:    unitOfWork{db: db, repos: repos},
		repos:  repos,
		docs:   docs,
		logger: logger,
	}
}

// CreateInvoiceInput requests an invoice for a single order. Optional fields are defaulted.
type CreateInvoiceInput struct {
	OrderID       string           `json:"order_id"`
	DeclaredTotal *decimal.Decimal `json:"total,omitempty"`
	Number        string           `json:"number,omitempty"`
	Date          *time.Time       `json:"date,omitempty"`
}

// CreateForOrder builds an invoice whose lines mirror the order lines.
// The invoice is committed before its document is rendered; a rendering failure
// returns the persisted invoice together with a DocumentGeneration error.
func (s *InvoiceService) CreateForOrder(ctx context.Context, in CreateInvoiceInput) (*models.Invoice, error) {
	if strings.TrimSpace(in.OrderID) == "" {
		return nil, apperrors.NewValidationError("invoice order id is required")
	}

	var inv *models.Invoice
	err := s.uow.run(ctx, func(r *Repositories) error {
		order, err := r.Orders.GetByID(ctx, in.OrderID)
		if err != nil {
			return notFound(err, "order", in.OrderID)
		}

		if order.UserID == "" {
			return apperrors.NewValidationError("order %s has no user", order.ID)
		}
		if len(order.Lines) == 0 {
			return apperrors.NewValidationError("order %s has no lines", order.ID)
		}
		for _, l := range order.Lines {
			if !l.TTC.IsPositive() {
				return apperrors.NewValidationError("line %d of order %s has no TTC amount", l.Position+1, order.ID)
			}
		}

		inv = &models.Invoice{
			ID:        models.GenerateID("inv"),
			Number:    strings.TrimSpace(in.Number),
			OrderID:   order.ID,
			UserID:    order.UserID,
			IssuedOn:  models.TruncateToDate(models.GetCurrentTime()),
			CreatedAt: models.GetCurrentTime(),
		}
		if inv.Number == "" {
			inv.Number = models.DefaultInvoiceNumber()
		}
		if in.Date != nil && !in.Date.IsZero() {
			inv.IssuedOn = models.TruncateToDate(*in.Date)
		}
		for i, l := range order.Lines {
			inv.Lines = append(inv.Lines, models.NewInvoiceLine(inv.ID, i, l))
		}

		computed := inv.LinesTTC()
		switch {
		case in.DeclaredTotal == nil:
			inv.Total = computed
		case models.AmountsMatch(*in.DeclaredTotal, computed):
			inv.Total = *in.DeclaredTotal
		default:
			s.logger.Warn("Declared invoice total does not match lines, using computed total",
				"orderID", order.ID,
				"declared", in.DeclaredTotal.StringFixed(2),
				"computed", computed.StringFixed(2))
			inv.Total = computed
		}

		if err := r.Invoices.Create(ctx, inv); err != nil {
			return duplicateNumber(err, inv.Number)
		}

		msg, err := models.NewInvoiceGeneratedEvent(inv)
		return emit(ctx, r.Outbox, msg, err)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Invoice created", "invoiceID", inv.ID, "number", inv.Number, "total", inv.Total.StringFixed(2))

	if err := s.renderDocument(ctx, inv); err != nil {
		return inv, err
	}
	return inv, nil
}

// createConsolidated writes the single invoice of a settled transaction.
// It must run inside the settlement unit of work.
func (s *InvoiceService) createConsolidated(ctx context.Context, r *Repositories, txn *models.PaymentTransaction, orders []*models.Order) (*models.Invoice, error) {
	if len(orders) == 0 {
		return nil, apperrors.NewValidationError("transaction %s has no orders to invoice", txn.ID)
	}

	now := models.GetCurrentTime()
	txnID := txn.ID
	inv := &models.Invoice{
		ID:            models.GenerateID("inv"),
		Number:        models.TransactionInvoiceNumber(txn.ID, now),
		OrderID:       orders[0].ID,
		TransactionID: &txnID,
		UserID:        orders[0].UserID,
		IssuedOn:      models.TruncateToDate(now),
		CreatedAt:     now,
		Total:         decimal.Zero,
	}

	for _, o := range orders {
		if len(o.Lines) == 0 {
			return nil, apperrors.NewValidationError("order %s has no lines to invoice", o.ID)
		}
		for _, l := range o.Lines {
			inv.Lines = append(inv.Lines, models.NewInvoiceLine(inv.ID, len(inv.Lines), l))
		}
		inv.Total = inv.Total.Add(o.Total)
	}
	inv.Total = models.RoundMoney(inv.Total)

	if err := r.Invoices.Create(ctx, inv); err != nil {
		return nil, duplicateNumber(err, inv.Number)
	}

	msg, err := models.NewInvoiceGeneratedEvent(inv)
	if err := emit(ctx, r.Outbox, msg, err); err != nil {
		return nil, err
	}
	return inv, nil
}

// renderDocument writes the PDF of a committed invoice and records its path
func (s *InvoiceService) renderDocument(ctx context.Context, inv *models.Invoice) error {
	path, err := s.docs.Render(inv)
	if err != nil {
		s.logger.Error("Failed to render invoice document", "error", err, "invoiceID", inv.ID)
		return apperrors.NewDocumentGenerationError(inv.ID, err)
	}

	if err := s.repos.Invoices.SetDocumentPath(ctx, inv.ID, path); err != nil {
		s.logger.Error("Failed to record invoice document path", "error", err, "invoiceID", inv.ID)
		return apperrors.NewDocumentGenerationError(inv.ID, err)
	}
	inv.DocumentPath = &path
	return nil
}

// GetInvoice retrieves an invoice with its lines
func (s *InvoiceService) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	inv, err := s.repos.Invoices.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "invoice", id)
	}
	return inv, nil
}

// ListByTransaction returns the invoices of a transaction
func (s *InvoiceService) ListByTransaction(ctx context.Context, transactionID string) ([]*models.Invoice, error) {
	return s.repos.Invoices.ListByTransaction(ctx, transactionID)
}

// ListByOrder returns the invoices covering an order
func (s *InvoiceService) ListByOrder(ctx context.Context, orderID string) ([]*models.Invoice, error) {
	return s.repos.Invoices.ListByOrder(ctx, orderID)
}

// GetDocument returns the PDF of an invoice, rendering it first if it was never stored
func (s *InvoiceService) GetDocument(ctx context.Context, id string) ([]byte, error) {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}

	if inv.DocumentPath != nil {
		data, err := s.docs.Read(*inv.DocumentPath)
		if err == nil {
			return data, nil
		}
		s.logger.Warn("Stored invoice document unreadable, rendering again", "error", err, "invoiceID", id)
	}

	if err := s.renderDocument(ctx, inv); err != nil {
		return nil, err
	}
	data, err := s.docs.Read(*inv.DocumentPath)
	if err != nil {
		return nil, apperrors.NewDocumentGenerationError(id, err)
	}
	return data, nil
}

// DeleteInvoice removes an invoice and its document
func (s *InvoiceService) DeleteInvoice(ctx context.Context, id string) error {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repos.Invoices.Delete(ctx, id); err != nil {
		return notFound(err, "invoice", id)
	}

	if inv.DocumentPath != nil {
		if err := s.docs.Remove(*inv.DocumentPath); err != nil {
			s.logger.Warn("Failed to remove invoice document", "error", err, "invoiceID", id)
		}
	}

	s.logger.Info("Invoice deleted", "invoiceID", id)
	return nil
}

func duplicateNumber(err error, number string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return apperrors.NewConflictError("invoice number " + number + " already exists")
	}
	return err
}
