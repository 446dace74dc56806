package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// Repositories bundles every store a unit of work may touch
type Repositories struct {
	Orders          *repository.OrderRepository
	Products        *repository.ProductRepository
	Movements       *repository.StockMovementRepository
	Users           *repository.UserRepository
	Transactions    *repository.TransactionRepository
	Invoices        *repository.InvoiceRepository
	Deliveries      *repository.DeliveryRepository
	Couriers        *repository.CourierRepository
	Outbox          *repository.OutboxRepository
	DeadLetters     *repository.DeadLetterRepository
	ProcessedEvents *repository.ProcessedEventRepository
}

// NewRepositories creates repositories bound to the connection pool
func NewRepositories(db *database.Database, logger logger.Logger) *Repositories {
	return &Repositories{
		Orders:          repository.NewOrderRepository(db, logger),
		Products:        repository.NewProductRepository(db, logger),
		Movements:       repository.NewStockMovementRepository(db, logger),
		Users:           repository.NewUserRepository(db, logger),
		Transactions:    repository.NewTransactionRepository(db, logger),
		Invoices:        repository.NewInvoiceRepository(db, logger),
		Deliveries:      repository.NewDeliveryRepository(db, logger),
		Couriers:        repository.NewCourierRepository(db, logger),
		Outbox:          repository.NewOutboxRepository(db, logger),
		DeadLetters:     repository.NewDeadLetterRepository(db, logger),
		ProcessedEvents: repository.NewProcessedEventRepository(db, logger),
	}
}

// WithTx returns the transactional repositories. The dead-letter and processed-event
// stores are never part of a business unit of work and stay on the pool.
func (r *Repositories) WithTx(tx *sqlx.Tx) *Repositories {
	return &Repositories{
		Orders:          r.Orders.WithTx(tx),
		Products:        r.Products.WithTx(tx),
		Movements:       r.Movements.WithTx(tx),
		Users:           r.Users.WithTx(tx),
		Transactions:    r.Transactions.WithTx(tx),
		Invoices:        r.Invoices.WithTx(tx),
		Deliveries:      r.Deliveries.WithTx(tx),
		Couriers:        r.Couriers.WithTx(tx),
		Outbox:          r.Outbox.WithTx(tx),
		DeadLetters:     r.DeadLetters,
		ProcessedEvents: r.ProcessedEvents,
	}
}

// unitOfWork runs fn with repositories bound to one SQL transaction
type unitOfWork struct {
	db    *database.Database
	repos *Repositories
}

func (u unitOfWork) run(ctx context.Context, fn func(r *Repositories) error) error {
	return u.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(u.repos.WithTx(tx))
	})
}

// notFound turns a repository miss into an API-facing NotFound error
func notFound(err error, entity, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s %s not found", entity, id))
	}
	return err
}

// stale turns a failed guarded update into an IllegalState error
func stale(err error, format string, args ...interface{}) error {
	if errors.Is(err, repository.ErrStale) {
		return apperrors.NewIllegalStateError(format, args...)
	}
	return err
}

// emit stores an outbox event built by newEvent
func emit(ctx context.Context, outbox *repository.OutboxRepository, msg *models.OutboxMessage, buildErr error) error {
	if buildErr != nil {
		return fmt.Errorf("failed to create outbox message: %w", buildErr)
	}
	return outbox.Create(ctx, msg)
}
