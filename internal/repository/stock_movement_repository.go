package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// StockMovementRepository is the stock ledger
type StockMovementRepository struct {
	db     database.Executor
	logger logger.Logger
}

// NewStockMovementRepository creates a new StockMovementRepository
func NewStockMovementRepository(db *database.Database, logger logger.Logger) *StockMovementRepository {
	return &StockMovementRepository{db: db.DB, logger: logger}
}

// WithTx returns a copy of the repository bound to tx
func (r *StockMovementRepository) WithTx(tx *sqlx.Tx) *StockMovementRepository {
	return &StockMovementRepository{db: tx, logger: r.logger}
}

// Create records a movement
func (r *StockMovementRepository) Create(ctx context.Context, m *models.StockMovement) error {
	err := exec(ctx, r.db, false,
		`INSERT INTO stock_movements (id, product_id, movement_type, quantity, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProductID, m.Type, m.Quantity, m.Reason, m.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to record stock movement", "error", err, "productID", m.ProductID, "type", m.Type)
	}
	return err
}

// ListByProduct returns the ledger of a product, oldest first
func (r *StockMovementRepository) ListByProduct(ctx context.Context, productID string) ([]*models.StockMovement, error) {
	var movements []*models.StockMovement
	err := selectAll(ctx, r.db, &movements,
		`SELECT id, product_id, movement_type, quantity, reason, created_at FROM stock_movements WHERE product_id = ? ORDER BY created_at, id`,
		productID)
	if err != nil {
		r.logger.Error("Failed to list stock movements", "error", err, "productID", productID)
		return nil, err
	}
	return movements, nil
}
