package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// StockService owns every stock mutation. Each one is recorded in the movement ledger.
type StockService struct {
	uow      unitOfWork
	repos    *Repositories
	notifier *Notifier
	logger   logger.Logger
}

// NewStockService creates a new StockService
func NewStockService(db *database.Database, repos *Repositories, notifier *Notifier, logger logger.Logger) *StockService {
	return &StockService{
		uow:      unitOfWork{db: db, repos: repos},
		repos:    repos,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateProductInput carries the fields of a new catalog entry
type CreateProductInput struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Price            decimal.Decimal `json:"price"`
	Stock            int             `json:"stock"`
	ReorderThreshold int             `json:"reorder_threshold"`
	AutoReorder      bool            `json:"auto_reorder"`
	ReorderQuantity  int             `json:"reorder_quantity"`
	SupplierID       string          `json:"supplier_id"`
}

// CreateProduct adds a product. Initial stock is recorded as an ENTREE movement.
func (s *StockService) CreateProduct(ctx context.Context, in CreateProductInput) (*models.Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.NewValidationError("product name is required")
	}
	if !in.Price.IsPositive() {
		return nil, apperrors.NewValidationError("product price must be greater than 0")
	}
	if in.Stock < 0 || in.ReorderThreshold < 0 || in.ReorderQuantity < 0 {
		return nil, apperrors.NewValidationError("stock, reorder threshold and reorder quantity cannot be negative")
	}

	p := models.NewProduct(strings.TrimSpace(in.Name), in.Price, in.Stock)
	p.Description = in.Description
	p.ReorderThreshold = in.ReorderThreshold
	p.AutoReorder = in.AutoReorder
	p.ReorderQuantity = in.ReorderQuantity
	p.SupplierID = models.StringPtr(in.SupplierID)

	err := s.uow.run(ctx, func(r *Repositories) error {
		if err := r.Products.Create(ctx, p); err != nil {
			return err
		}
		if p.Stock > 0 {
			return r.Movements.Create(ctx, models.NewStockMovement(p.ID, models.MovementIn, p.Stock, "initial stock"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product created", "productID", p.ID, "stock", p.Stock)
	return p, nil
}

// GetProduct retrieves a product by ID
func (s *StockService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := s.repos.Products.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return p, nil
}

// ListProducts returns a page of products
func (s *StockService) ListProducts(ctx context.Context, page repository.Page) ([]*models.Product, error) {
	return s.repos.Products.List(ctx, page)
}

// ListMovements returns the stock ledger of a product
func (s *StockService) ListMovements(ctx context.Context, productID string) ([]*models.StockMovement, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repos.Movements.ListByProduct(ctx, productID)
}

// RecordMovement applies a manual ledger entry. ENTREE adds to stock, SORTIE and PERTE remove from it.
func (s *StockService) RecordMovement(ctx context.Context, productID string, t models.MovementType, qty int, reason string) (*models.StockMovement, error) {
	if !t.Valid() {
		return nil, apperrors.NewValidationError("unknown movement type %q", t)
	}
	if qty <= 0 {
		return nil, apperrors.NewValidationError("movement quantity must be greater than 0")
	}

	delta := qty
	if t != models.MovementIn {
		delta = -qty
	}

	movement := models.NewStockMovement(productID, t, qty, reason)
	err := s.uow.run(ctx, func(r *Repositories) error {
		if err := s.adjust(ctx, r, productID, delta, 0); err != nil {
			return err
		}
		if err := r.Movements.Create(ctx, movement); err != nil {
			return err
		}
		return s.reorderIfNeeded(ctx, r, productID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Stock movement recorded", "productID", productID, "type", t, "quantity", qty)
	return movement, nil
}

// applyShipment decrements stock for every line of a shipped order and runs the reorder rule.
// It must be called with transaction-bound repositories.
func (s *StockService) applyShipment(ctx context.Context, r *Repositories, order *models.Order) error {
	touched := make([]string, 0, len(order.Lines))
	seen := make(map[string]bool, len(order.Lines))

	for _, line := range order.Lines {
		if err := s.adjust(ctx, r, line.ProductID, -line.Quantity, line.Quantity); err != nil {
			return err
		}

		movement := models.NewStockMovement(line.ProductID, models.MovementOut, line.Quantity, "order "+order.ID+" shipped")
		if err := r.Movements.Create(ctx, movement); err != nil {
			return err
		}

		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			touched = append(touched, line.ProductID)
		}
	}

	for _, productID := range touched {
		if err := s.reorderIfNeeded(ctx, r, productID); err != nil {
			return err
		}
	}
	return nil
}

func (s *StockService) adjust(ctx context.Context, r *Repositories, productID string, delta, sold int) error {
	err := r.Products.AdjustStock(ctx, productID, delta, sold)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFoundError(fmt.Sprintf("product %s not found", productID))
	case errors.Is(err, repository.ErrStale):
		return apperrors.NewValidationError("insufficient stock for product %s: cannot remove %d", productID, -delta).
			WithContext("reason", "InsufficientStock")
	}
	return err
}

// reorderIfNeeded restocks a product whose level fell to its threshold and notifies the supplier
func (s *StockService) reorderIfNeeded(ctx context.Context, r *Repositories, productID string) error {
	p, err := r.Products.GetByID(ctx, productID)
	if err != nil {
		return notFound(err, "product", productID)
	}
	if !p.NeedsReorder() {
		return nil
	}

	if err := r.Products.AdjustStock(ctx, p.ID, p.ReorderQuantity, 0); err != nil {
		return err
	}
	if err := r.Movements.Create(ctx, models.NewStockMovement(p.ID, models.MovementIn, p.ReorderQuantity, "automatic reorder")); err != nil {
		return err
	}
	p.Stock += p.ReorderQuantity

	msg, err := models.NewStockReorderedEvent(p, p.ReorderQuantity)
	if err := emit(ctx, r.Outbox, msg, err); err != nil {
		return err
	}

	err = s.notifier.Notify(ctx, r.Outbox, models.Notification{
		RecipientID: models.Deref(p.SupplierID),
		Message:     fmt.Sprintf("Reorder of %d units for product %s (%s)", p.ReorderQuantity, p.Name, p.ID),
		Type:        NotificationStockReorder,
	})
	if err != nil {
		return err
	}

	s.logger.Info("Automatic reorder placed", "productID", p.ID, "quantity", p.ReorderQuantity, "newStock", p.Stock)
	return nil
}
