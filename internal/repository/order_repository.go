package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

const orderColumns = `id, user_id, client_name, address, phone, governorate, status, total, courier_id, created_at, updated_at`

const orderLineColumns = `id, order_id, product_id, position, quantity, unit_price, total, ttc`

// OrderRepository handles database operations for orders and their lines
type OrderRepository struct {
	db     database.Executor
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.Database, logger logger.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db.DB,
		logger: logger,
	}
}

// WithTx returns a copy of the repository bound to tx
func (r *OrderRepository) WithTx(tx *sqlx.Tx) *OrderRepository {
	return &OrderRepository{db: tx, logger: r.logger}
}

// OrderFilter narrows List results. Zero values are ignored.
type OrderFilter struct {
	Status models.OrderStatus
	UserID string
	From   time.Time
	To     time.Time
}

// Create inserts a new order with its lines
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, user_id, client_name, address, phone, governorate, status, total, courier_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := exec(ctx, r.db, false, query,
		order.ID,
		order.UserID,
		order.ClientName,
		order.Address,
		order.Phone,
		order.Governorate,
		order.Status,
		order.Total,
		order.CourierID,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create order", "error", err, "orderID", order.ID)
		return err
	}

	return r.insertLines(ctx, order.Lines)
}

func (r *OrderRepository) insertLines(ctx context.Context, lines []*models.OrderLine) error {
	query := `
		INSERT INTO order_lines (id, order_id, product_id, position, quantity, unit_price, total, ttc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, l := range lines {
		if err := exec(ctx, r.db, false, query, l.ID, l.OrderID, l.ProductID, l.Position, l.Quantity, l.UnitPrice, l.Total, l.TTC); err != nil {
			r.logger.Error("Failed to insert order line", "error", err, "orderID", l.OrderID, "productID", l.ProductID)
			return err
		}
	}
	return nil
}

// ReplaceLines deletes the order's lines and inserts the given ones
func (r *OrderRepository) ReplaceLines(ctx context.Context, orderID string, lines []*models.OrderLine) error {
	if err := exec(ctx, r.db, false, `DELETE FROM order_lines WHERE order_id = ?`, orderID); err != nil {
		r.logger.Error("Failed to delete order lines", "error", err, "orderID", orderID)
		return err
	}
	return r.insertLines(ctx, lines)
}

// GetByID retrieves an order with its lines and links
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := get(ctx, r.db, &order, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Error("Failed to get order by ID", "error", err, "orderID", id)
		}
		return nil, err
	}

	if err := r.loadDetails(ctx, []*models.Order{&order}); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByIDs retrieves every order found among ids, keyed by id
func (r *OrderRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Order, error) {
	found := make(map[string]*models.Order, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query, args, err := in(r.db, `SELECT `+orderColumns+` FROM orders WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var orders []*models.Order
	if err := wrap(sqlx.SelectContext(ctx, r.db, &orders, query, args...)); err != nil {
		r.logger.Error("Failed to get orders by IDs", "error", err, "count", len(ids))
		return nil, err
	}

	if err := r.loadDetails(ctx, orders); err != nil {
		return nil, err
	}

	for _, o := range orders {
		found[o.ID] = o
	}
	return found, nil
}

// List returns orders matching filter, newest first
func (r *OrderRepository) List(ctx context.Context, filter OrderFilter, page Page) ([]*models.Order, error) {
	page = page.Normalize()

	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, filter.To)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	var orders []*models.Order
	if err := selectAll(ctx, r.db, &orders, query, args...); err != nil {
		r.logger.Error("Failed to list orders", "error", err)
		return nil, err
	}

	if err := r.loadDetails(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListPendingByUser returns orders of a user that a transaction may settle
func (r *OrderRepository) ListPendingByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = ? AND status IN (?, ?) ORDER BY created_at`

	var orders []*models.Order
	if err := selectAll(ctx, r.db, &orders, query, userID, models.OrderStatusPending, models.OrderStatusPendingPayment); err != nil {
		r.logger.Error("Failed to list pending orders", "error", err, "userID", userID)
		return nil, err
	}

	if err := r.loadDetails(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateDetails writes contact fields, total and courier. Status is left untouched.
func (r *OrderRepository) UpdateDetails(ctx context.Context, order *models.Order) error {
	order.UpdatedAt = models.GetCurrentTime()

	query := `
		UPDATE orders
		SET client_name = ?, address = ?, phone = ?, governorate = ?, total = ?, courier_id = ?, updated_at = ?
		WHERE id = ?
	`

	err := exec(ctx, r.db, true, query,
		order.ClientName,
		order.Address,
		order.Phone,
		order.Governorate,
		order.Total,
		order.CourierID,
		order.UpdatedAt,
		order.ID,
	)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Error("Failed to update order", "error", err, "orderID", order.ID)
	}
	return err
}

// UpdateStatus moves the order from one status to another only if it is still in from.
// It returns ErrStale when the stored status no longer matches.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) error {
	err := exec(ctx, r.db, true,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, models.GetCurrentTime(), id, from)

	if errors.Is(err, ErrNotFound) {
		return ErrStale
	}
	if err != nil {
		r.logger.Error("Failed to update order status", "error", err, "orderID", id, "from", from, "to", to)
	}
	return err
}

// SetCourier assigns or clears the courier of an order
func (r *OrderRepository) SetCourier(ctx context.Context, id string, courierID *string) error {
	return exec(ctx, r.db, true, `UPDATE orders SET courier_id = ?, updated_at = ? WHERE id = ?`,
		courierID, models.GetCurrentTime(), id)
}

// Delete deletes an order by its ID
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	for _, q := range []string{
		`DELETE FROM order_lines WHERE order_id = ?`,
		`DELETE FROM transaction_orders WHERE order_id = ?`,
	} {
		if err := exec(ctx, r.db, false, q, id); err != nil {
			r.logger.Error("Failed to delete order links", "error", err, "orderID", id)
			return err
		}
	}

	err := exec(ctx, r.db, true, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Error("Failed to delete order", "error", err, "orderID", id)
	}
	return err
}

// Count counts the total number of orders
func (r *OrderRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := get(ctx, r.db, &count, `SELECT COUNT(*) FROM orders`); err != nil {
		r.logger.Error("Failed to count orders", "error", err)
		return 0, err
	}
	return count, nil
}

// loadDetails fills lines, transaction ids and invoice ids
func (r *OrderRepository) loadDetails(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	byID := make(map[string]*models.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Lines = []*models.OrderLine{}
	}

	query, args, err := in(r.db, `SELECT `+orderLineColumns+` FROM order_lines WHERE order_id IN (?) ORDER BY order_id, position`, ids)
	if err != nil {
		return err
	}
	var lines []*models.OrderLine
	if err := wrap(sqlx.SelectContext(ctx, r.db, &lines, query, args...)); err != nil {
		r.logger.Error("Failed to load order lines", "error", err)
		return err
	}
	for _, l := range lines {
		byID[l.OrderID].Lines = append(byID[l.OrderID].Lines, l)
	}

	type link struct {
		OrderID string `db:"order_id"`
		OtherID string `db:"other_id"`
	}

	query, args, err = in(r.db, `SELECT order_id, transaction_id AS other_id FROM transaction_orders WHERE order_id IN (?) ORDER BY transaction_id`, ids)
	if err != nil {
		return err
	}
	var txLinks []link
	if err := wrap(sqlx.SelectContext(ctx, r.db, &txLinks, query, args...)); err != nil {
		r.logger.Error("Failed to load order transactions", "error", err)
		return err
	}
	for _, l := range txLinks {
		byID[l.OrderID].TransactionIDs = append(byID[l.OrderID].TransactionIDs, l.OtherID)
	}

	// Consolidated invoices are linked through their lines, so every settled order sees its invoice
	query, args, err = in(r.db, `SELECT DISTINCT order_id, invoice_id AS other_id FROM invoice_lines WHERE order_id IN (?) ORDER BY invoice_id`, ids)
	if err != nil {
		return err
	}
	var invLinks []link
	if err := wrap(sqlx.SelectContext(ctx, r.db, &invLinks, query, args...)); err != nil {
		r.logger.Error("Failed to load order invoices", "error", err)
		return err
	}
	for _, l := range invLinks {
		byID[l.OrderID].InvoiceIDs = append(byID[l.OrderID].InvoiceIDs, l.OtherID)
	}

	return nil
}
