package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

const productColumns = `id, name, description, price, stock, reorder_threshold, auto_reorder, reorder_quantity, sales_count, supplier_id, created_at, updated_at`

// ProductRepository is the product catalog
type ProductRepository struct {
	db     database.Executor
	logger logger.Logger
}

// NewProductRepository creates a new ProductRepository
func NewProductRepository(db *database.Database, logger logger.Logger) *ProductRepository {
	return &ProductRepository{db: db.DB, logger: logger}
}

// WithTx returns a copy of the repository bound to tx
func (r *ProductRepository) WithTx(tx *sqlx.Tx) *ProductRepository {
	return &ProductRepository{db: tx, logger: r.logger}
}

// Create inserts a product
func (r *ProductRepository) Create(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := exec(ctx, r.db, false, query,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.ReorderThreshold, p.AutoReorder,
		p.ReorderQuantity, p.SalesCount, p.SupplierID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create product", "error", err, "productID", p.ID)
	}
	return err
}

// GetByID retrieves a product
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	if err := get(ctx, r.db, &p, `SELECT `+productColumns+` FROM products WHERE id = ?`, id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Error("Failed to get product", "error", err, "productID", id)
		}
		return nil, err
	}
	return &p, nil
}

// List returns products ordered by name
func (r *ProductRepository) List(ctx context.Context, page Page) ([]*models.Product, error) {
	page = page.Normalize()

	var products []*models.Product
	if err := selectAll(ctx, r.db, &products, `SELECT `+productColumns+` FROM products ORDER BY name, id LIMIT ? OFFSET ?`, page.Limit, page.Offset); err != nil {
		r.logger.Error("Failed to list products", "error", err)
		return nil, err
	}
	return products, nil
}

// Update writes every mutable product field except stock
func (r *ProductRepository) Update(ctx context.Context, p *models.Product) error {
	p.UpdatedAt = models.GetCurrentTime()

	query := `
		UPDATE products
		SET name = ?, description = ?, price = ?, reorder_threshold = ?, auto_reorder = ?,
			reorder_quantity = ?, supplier_id = ?, updated_at = ?
		WHERE id = ?
	`

	return exec(ctx, r.db, true, query,
		p.Name, p.Description, p.Price, p.ReorderThreshold, p.AutoReorder,
		p.ReorderQuantity, p.SupplierID, p.UpdatedAt, p.ID)
}

// AdjustStock adds delta to the stock (negative to decrement) and soldDelta to the
// sales counter. The update is refused when it would make stock negative.
func (r *ProductRepository) AdjustStock(ctx context.Context, id string, delta, soldDelta int) error {
	query := `
		UPDATE products
		SET stock = stock + ?, sales_count = sales_count + ?, updated_at = ?
		WHERE id = ? AND stock + ? >= 0
	`

	err := exec(ctx, r.db, true, query, delta, soldDelta, models.GetCurrentTime(), id, delta)
	if errors.Is(err, ErrNotFound) {
		// Either missing or insufficient stock
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStale
	}
	if err != nil {
		r.logger.Error("Failed to adjust stock", "error", err, "productID", id, "delta", delta)
	}
	return err
}
