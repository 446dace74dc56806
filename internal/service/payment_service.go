package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/order-settlement-api/internal/clients"
	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// PaymentService batches orders into payment transactions and settles them on gateway callbacks
type PaymentService struct {
	uow      unitOfWork
	repos    *Repositories
	gateway  clients.PaymentGateway
	invoices *InvoiceService
	notifier *Notifier
	currency string
	logger   logger.Logger
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	db *database.Database,
	repos *Repositories,
	gateway clients.PaymentGateway,
	invoices *InvoiceService,
	notifier *Notifier,
	currency string,
	logger logger.Logger,
) *PaymentService {
	if currency == "" {
		currency = "usd"
	}
	return &PaymentService{
		uow:      unitOfWork{db: db, repos: repos},
		repos:    repos,
		gateway:  gateway,
		invoices: invoices,
		notifier: notifier,
		currency: currency,
		logger:   logger,
	}
}

// CreateTransactionInput carries a payment request for one or more orders
type CreateTransactionInput struct {
	OrderIDs   []string        `json:"order_ids"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
}

// CreatedTransaction is a new transaction and the secret the client confirms the payment with
type CreatedTransaction struct {
	Transaction  *models.PaymentTransaction `json:"transaction"`
	ClientSecret string                     `json:"client_secret"`
}

// CreateTransaction validates the orders and the amount, obtains a payment intent and
// persists the transaction. The orders keep their status until the payment succeeds.
func (s *PaymentService) CreateTransaction(ctx context.Context, in CreateTransactionInput) (*CreatedTransaction, error) {
	ids := dedupe(in.OrderIDs)
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("at least one order id is required")
	}

	orders, err := loadOrders(ctx, s.repos, ids)
	if err != nil {
		return nil, err
	}

	expected := decimal.Zero
	for _, o := range orders {
		if !o.Status.Settleable() {
			return nil, apperrors.NewInvalidOrderStateError(o.ID, string(o.Status))
		}
		expected = expected.Add(o.Total)
	}

	if !models.AmountsMatch(in.Amount, expected) {
		return nil, apperrors.NewAmountMismatchError(in.Amount.StringFixed(2), expected.StringFixed(2))
	}

	if strings.TrimSpace(in.Method) == "" {
		return nil, apperrors.NewMissingPaymentMethodError()
	}

	occurredAt := time.Time{}
	if in.OccurredAt != nil {
		occurredAt = in.OccurredAt.UTC()
	}
	txn := models.NewPaymentTransaction(ids, models.RoundMoney(in.Amount), in.Method, s.currency, occurredAt)

	intent, err := s.gateway.CreatePaymentIntent(ctx, clients.PaymentIntentRequest{
		AmountCents:    models.AmountInCents(txn.Amount),
		Currency:       s.currency,
		IdempotencyKey: txn.ID,
		Metadata: map[string]string{
			"transaction_id": txn.ID,
			"order_ids":      strings.Join(ids, ","),
		},
	})
	if err != nil {
		return nil, err
	}
	txn.PaymentIntentID = intent.ID

	err = s.uow.run(ctx, func(r *Repositories) error {
		// Re-read inside the unit of work; another request may have settled an order meanwhile
		current, err := loadOrders(ctx, r, ids)
		if err != nil {
			return err
		}
		for _, o := range current {
			if !o.Status.Settleable() {
				return apperrors.NewIllegalStateError("order %s moved to %s while the transaction was being created", o.ID, o.Status)
			}
		}

		if err := r.Transactions.Create(ctx, txn); err != nil {
			return err
		}

		msg, err := models.NewTransactionCreatedEvent(txn)
		return emit(ctx, r.Outbox, msg, err)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transaction created",
		"transactionID", txn.ID,
		"orders", len(ids),
		"amount", txn.Amount.StringFixed(2),
		"intentID", intent.ID)

	return &CreatedTransaction{Transaction: txn, ClientSecret: intent.ClientSecret}, nil
}

// UpdateTransactionStatus records a gateway status. On "succeeded" every linked order
// becomes PAID and one consolidated invoice is generated, all in one unit of work.
func (s *PaymentService) UpdateTransactionStatus(ctx context.Context, id, status string) (*models.PaymentTransaction, error) {
	to, err := models.ParseTransactionStatus(status)
	if err != nil {
		return nil, err
	}

	var (
		txn     *models.PaymentTransaction
		invoice *models.Invoice
		from    models.TransactionStatus
	)
	err = s.uow.run(ctx, func(r *Repositories) error {
		var err error
		txn, err = r.Transactions.GetByID(ctx, id)
		if err != nil {
			return notFound(err, "transaction", id)
		}
		from = txn.Status

		if to == models.TransactionStatusSucceeded && from == models.TransactionStatusSucceeded {
			return apperrors.NewIllegalStateError("transaction %s has already succeeded", id)
		}
		if from == to {
			return nil
		}
		if from.Final() && !(from == models.TransactionStatusSucceeded && to == models.TransactionStatusRefunded) {
			return apperrors.NewIllegalStateError("transaction %s is %s and cannot become %s", id, from, to)
		}

		if err := r.Transactions.UpdateStatus(ctx, id, from, to); err != nil {
			return stale(err, "transaction %s is no longer %s", id, from)
		}
		txn.Status = to
		txn.UpdatedAt = models.GetCurrentTime()

		if to == models.TransactionStatusSucceeded {
			invoice, err = s.settle(ctx, r, txn)
			if err != nil {
				return err
			}
		}

		msg, err := models.NewTransactionStatusChangedEvent(txn, from)
		return emit(ctx, r.Outbox, msg, err)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transaction status updated", "transactionID", id, "from", from, "to", to)

	if invoice != nil {
		// The settlement is committed; a missing document is rendered on first download
		if err := s.invoices.renderDocument(ctx, invoice); err != nil {
			s.logger.Warn("Consolidated invoice stored without document", "error", err, "invoiceID", invoice.ID)
		}
	}
	return txn, nil
}

// settle marks every linked order PAID and writes the consolidated invoice
func (s *PaymentService) settle(ctx context.Context, r *Repositories, txn *models.PaymentTransaction) (*models.Invoice, error) {
	orders, err := loadOrders(ctx, r, txn.OrderIDs)
	if err != nil {
		return nil, err
	}

	for _, o := range orders {
		if o.UserID == "" {
			return nil, apperrors.NewInvalidOrderDataError(o.ID, "order has no user")
		}
		if !o.Total.IsPositive() {
			return nil, apperrors.NewInvalidOrderDataError(o.ID, "order total must be greater than 0")
		}
		if !models.CanTransition(o.Status, models.OrderStatusPaid) {
			return nil, apperrors.NewIllegalStateError("order %s is %s and cannot be paid", o.ID, o.Status)
		}

		backfilled := backfillContact(o)
		if backfilled {
			if err := r.Orders.UpdateDetails(ctx, o); err != nil {
				return nil, err
			}
		}

		from := o.Status
		if err := r.Orders.UpdateStatus(ctx, o.ID, from, models.OrderStatusPaid); err != nil {
			return nil, stale(err, "order %s is no longer %s", o.ID, from)
		}
		o.Status = models.OrderStatusPaid

		msg, err := models.NewOrderStatusChangedEvent(o, from)
		if err := emit(ctx, r.Outbox, msg, err); err != nil {
			return nil, err
		}

		err = s.notifier.Notify(ctx, r.Outbox, models.Notification{
			RecipientID: o.UserID,
			Message:     "Order " + o.ID + " has been paid",
			Type:        NotificationOrderPaid,
		})
		if err != nil {
			return nil, err
		}
	}

	return s.invoices.createConsolidated(ctx, r, txn, orders)
}

// backfillContact replaces blank contact fields with the placeholder
func backfillContact(o *models.Order) bool {
	changed := false
	for _, f := range []*string{&o.Phone, &o.Governorate, &o.Address} {
		if strings.TrimSpace(*f) == "" {
			*f = models.MissingFieldPlaceholder
			changed = true
		}
	}
	return changed
}

// GetTransaction retrieves a transaction with its order ids
func (s *PaymentService) GetTransaction(ctx context.Context, id string) (*models.PaymentTransaction, error) {
	txn, err := s.repos.Transactions.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return txn, nil
}

// ListTransactions returns a page of transactions
func (s *PaymentService) ListTransactions(ctx context.Context, page repository.Page) ([]*models.PaymentTransaction, error) {
	return s.repos.Transactions.List(ctx, page)
}

// DeleteTransaction removes a transaction that has not succeeded
func (s *PaymentService) DeleteTransaction(ctx context.Context, id string) error {
	err := s.uow.run(ctx, func(r *Repositories) error {
		txn, err := r.Transactions.GetByID(ctx, id)
		if err != nil {
			return notFound(err, "transaction", id)
		}
		if txn.Status == models.TransactionStatusSucceeded {
			return apperrors.NewIllegalArgumentError("transaction %s has succeeded and is invoiced; it cannot be deleted", id)
		}
		return notFound(r.Transactions.Delete(ctx, id), "transaction", id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Transaction deleted", "transactionID", id)
	return nil
}
