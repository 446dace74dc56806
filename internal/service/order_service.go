package service

import (
	"context"
	"errors"
	"strings"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/pricing"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// OrderService handles order-related operations
type OrderService struct {
	uow        unitOfWork
	repos      *Repositories
	calculator *pricing.Calculator
	stock      *StockService
	logger     logger.Logger
}

// NewOrderService creates a new OrderService
func NewOrderService(
	db *database.Database,
	repos *Repositories,
	calculator *pricing.Calculator,
	stock *StockService,
	logger logger.Logger,
) *OrderService {
	return &OrderService{
		uow:        unitOfWork{db: db, repos: repos},
		repos:      repos,
		calculator: calculator,
		stock:      stock,
		logger:     logger,
	}
}

// LineInput is one requested product entry
type LineInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderInput carries the fields of a new order
type CreateOrderInput struct {
	UserID      string      `json:"user_id"`
	ClientName  string      `json:"client_name"`
	Address     string      `json:"address"`
	Phone       string      `json:"phone"`
	Governorate string      `json:"governorate"`
	Lines       []LineInput `json:"lines"`
}

// UpdateOrderInput changes an order. Nil fields are left untouched; a nil Lines keeps the current lines.
type UpdateOrderInput struct {
	ClientName  *string     `json:"client_name"`
	Address     *string     `json:"address"`
	Phone       *string     `json:"phone"`
	Governorate *string     `json:"governorate"`
	Lines       []LineInput `json:"lines"`
	Status      *string     `json:"status"`
}

// CreateOrder validates and saves a new PENDING order
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, apperrors.NewValidationError("order user id is required")
	}

	order := models.NewOrder(in.UserID, strings.TrimSpace(in.ClientName))
	order.Address = strings.TrimSpace(in.Address)
	order.Phone = strings.TrimSpace(in.Phone)
	order.Governorate = strings.TrimSpace(in.Governorate)

	err := s.uow.run(ctx, func(r *Repositories) error {
		lines, err := s.priceLines(ctx, r, in.Lines)
		if err != nil {
			return err
		}
		order.AttachLines(lines)

		if err := s.validateOrder(ctx, r, order, true); err != nil {
			return err
		}

		if err := models.ValidateTransition(order.Status, models.OrderStatusPending); err != nil {
			return err
		}
		order.Status = models.OrderStatusPending

		if err := r.Orders.Create(ctx, order); err != nil {
			return err
		}

		msg, err := models.NewOrderCreatedEvent(order)
		return emit(ctx, r.Outbox, msg, err)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order created with outbox message", "order_id", order.ID, "lines", len(order.Lines), "total", order.Total.StringFixed(2))
	return order, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.repos.Orders.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return order, nil
}

// ListOrders retrieves orders matching the filter with pagination
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter, page repository.Page) ([]*models.Order, error) {
	return s.repos.Orders.List(ctx, filter, page)
}

// ListPendingByUser returns the orders of a user that can still be paid
func (s *OrderService) ListPendingByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return s.repos.Orders.ListPendingByUser(ctx, userID)
}

// CountOrders counts the total number of orders
func (s *OrderService) CountOrders(ctx context.Context) (int, error) {
	return s.repos.Orders.Count(ctx)
}

// UpdateOrder changes client fields and lines, then applies the optional status transition
func (s *OrderService) UpdateOrder(ctx context.Context, orderID string, in UpdateOrderInput) (*models.Order, error) {
	var order *models.Order

	err := s.uow.run(ctx, func(r *Repositories) error {
		var err error
		order, err = r.Orders.GetByID(ctx, orderID)
		if err != nil {
			return notFound(err, "order", orderID)
		}

		if in.ClientName != nil {
			order.ClientName = strings.TrimSpace(*in.ClientName)
		}
		if in.Address != nil {
			order.Address = strings.TrimSpace(*in.Address)
		}
		if in.Phone != nil {
			order.Phone = strings.TrimSpace(*in.Phone)
		}
		if in.Governorate != nil {
			order.Governorate = strings.TrimSpace(*in.Governorate)
		}

		if in.Lines != nil {
			if order.Status.LinesFrozen() {
				return apperrors.NewValidationError("lines of order %s cannot change once it is %s", order.ID, order.Status).
					WithContext("reason", "LinesFrozen")
			}
			lines, err := s.priceLines(ctx, r, in.Lines)
			if err != nil {
				return err
			}
			order.AttachLines(lines)
		}

		if err := s.validateOrder(ctx, r, order, in.Lines != nil); err != nil {
			return err
		}

		if err := r.Orders.UpdateDetails(ctx, order); err != nil {
			return notFound(err, "order", orderID)
		}
		if in.Lines != nil {
			if err := r.Orders.ReplaceLines(ctx, order.ID, order.Lines); err != nil {
				return err
			}
		}

		msg, err := models.NewOrderUpdatedEvent(order)
		if err := emit(ctx, r.Outbox, msg, err); err != nil {
			return err
		}

		if in.Status == nil {
			return nil
		}
		to, err := models.ParseOrderStatus(*in.Status)
		if err != nil {
			return err
		}
		return s.transition(ctx, r, order, to)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order updated with outbox message", "orderID", order.ID, "status", order.Status)
	return order, nil
}

// UpdateOrderStatus moves an order through the state machine
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID, newStatus string) (*models.Order, error) {
	to, err := models.ParseOrderStatus(newStatus)
	if err != nil {
		return nil, err
	}

	var (
		order     *models.Order
		oldStatus models.OrderStatus
	)
	err = s.uow.run(ctx, func(r *Repositories) error {
		var err error
		order, err = r.Orders.GetByID(ctx, orderID)
		if err != nil {
			return notFound(err, "order", orderID)
		}
		oldStatus = order.Status
		return s.transition(ctx, r, order, to)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order status updated with outbox message",
		"orderID", order.ID,
		"oldStatus", oldStatus,
		"newStatus", order.Status)
	return order, nil
}

// DeleteOrder removes a cancelled order
func (s *OrderService) DeleteOrder(ctx context.Context, id string) error {
	err := s.uow.run(ctx, func(r *Repositories) error {
		order, err := r.Orders.GetByID(ctx, id)
		if err != nil {
			return notFound(err, "order", id)
		}
		if order.Status != models.OrderStatusCancelled {
			return apperrors.NewIllegalArgumentError("order %s is %s; only CANCELLED orders can be deleted", id, order.Status)
		}

		if err := r.Orders.Delete(ctx, id); err != nil {
			return notFound(err, "order", id)
		}

		msg, err := models.NewOrderDeletedEvent(id)
		return emit(ctx, r.Outbox, msg, err)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Order deleted", "orderID", id)
	return nil
}

// transition validates and persists a status change with its side effects.
// The write is guarded on the status read earlier in the same unit of work.
func (s *OrderService) transition(ctx context.Context, r *Repositories, order *models.Order, to models.OrderStatus) error {
	from := order.Status
	if err := models.ValidateTransition(from, to); err != nil {
		return err
	}

	if err := r.Orders.UpdateStatus(ctx, order.ID, from, to); err != nil {
		return stale(err, "order %s is no longer %s", order.ID, from)
	}
	order.Status = to

	if to == models.OrderStatusShipped {
		if err := s.stock.applyShipment(ctx, r, order); err != nil {
			return err
		}
	}

	msg, err := models.NewOrderStatusChangedEvent(order, from)
	return emit(ctx, r.Outbox, msg, err)
}

// priceLines snapshots product prices into order lines
func (s *OrderService) priceLines(ctx context.Context, r *Repositories, in []LineInput) ([]*models.OrderLine, error) {
	lines := make([]*models.OrderLine, 0, len(in))
	for i, l := range in {
		if strings.TrimSpace(l.ProductID) == "" {
			return nil, apperrors.NewValidationError("line %d: product id is required", i+1)
		}

		product, err := r.Products.GetByID(ctx, l.ProductID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.NewValidationError("line %d: product %s does not exist", i+1, l.ProductID).
					WithContext("reason", "ProductNotFound")
			}
			return nil, err
		}

		priced, err := s.calculator.Calculate(l.Quantity, product.Price)
		if err != nil {
			return nil, err
		}

		lines = append(lines, &models.OrderLine{
			ProductID: product.ID,
			Quantity:  priced.Quantity,
			UnitPrice: priced.UnitPrice,
			Total:     priced.Total,
			TTC:       priced.TTC,
		})
	}
	return lines, nil
}

// validateOrder checks the business rules shared by create and update.
// Stock is only checked when the lines are new.
func (s *OrderService) validateOrder(ctx context.Context, r *Repositories, order *models.Order, checkStock bool) error {
	if len(order.Lines) == 0 {
		return apperrors.NewValidationError("order must contain at least one line").WithContext("reason", "NoLines")
	}

	user, err := r.Users.GetByID(ctx, order.UserID)
	if err != nil {
		return notFound(err, "user", order.UserID)
	}

	requested := make(map[string]int)
	for _, l := range order.Lines {
		requested[l.ProductID] += l.Quantity
	}
	if !checkStock {
		requested = nil
	}
	for productID, qty := range requested {
		product, err := r.Products.GetByID(ctx, productID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewValidationError("product %s does not exist", productID).WithContext("reason", "ProductNotFound")
			}
			return err
		}
		if qty > product.Stock {
			return apperrors.NewValidationError("quantity %d of product %s exceeds stock %d", qty, productID, product.Stock).
				WithContext("reason", "InsufficientStock")
		}
	}

	if user.CreditLimit.Valid && order.Total.GreaterThan(user.CreditLimit.Decimal) {
		return apperrors.NewValidationError("order total %s exceeds credit limit %s of user %s",
			order.Total.StringFixed(2), user.CreditLimit.Decimal.StringFixed(2), user.ID).
			WithContext("reason", "CreditLimitExceeded")
	}

	if order.Phone != "" && order.Phone != models.MissingFieldPlaceholder && !models.IsValidPhone(order.Phone) {
		return apperrors.NewValidationError("phone %q must have exactly 8 digits", order.Phone).WithContext("reason", "InvalidPhone")
	}

	if order.Governorate != "" && order.Governorate != models.MissingFieldPlaceholder {
		if !models.IsValidGovernorate(order.Governorate) {
			return apperrors.NewValidationError("governorate %q is not a Tunisian governorate", order.Governorate).
				WithContext("reason", "InvalidGovernorate")
		}
		if order.Address == "" {
			return apperrors.NewValidationError("address is required when a governorate is given").WithContext("reason", "MissingAddress")
		}
	}

	return nil
}

// loadOrders fetches orders in the given order, reporting every missing id at once
func loadOrders(ctx context.Context, r *Repositories, ids []string) ([]*models.Order, error) {
	found, err := r.Orders.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var missing []string
	orders := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		o, ok := found[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		orders = append(orders, o)
	}
	if len(missing) > 0 {
		return nil, apperrors.NewOrdersNotFoundError(missing)
	}
	return orders, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
