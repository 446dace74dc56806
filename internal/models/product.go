package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry with its stock level
type Product struct {
	ID               string          `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	Description      string          `db:"description" json:"description,omitempty"`
	Price            decimal.Decimal `db:"price" json:"price"`
	Stock            int             `db:"stock" json:"stock"`
	ReorderThreshold int             `db:"reorder_threshold" json:"reorder_threshold"`
	AutoReorder      bool            `db:"auto_reorder" json:"auto_reorder"`
	ReorderQuantity  int             `db:"reorder_quantity" json:"reorder_quantity"`
	SalesCount       int             `db:"sales_count" json:"sales_count"`
	SupplierID       *string         `db:"supplier_id" json:"supplier_id,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// NeedsReorder reports whether the automatic reorder rule applies
func (p *Product) NeedsReorder() bool {
	return p.AutoReorder && p.ReorderQuantity > 0 && p.Stock <= p.ReorderThreshold
}

// NewProduct creates a product with an initial stock level
func NewProduct(name string, price decimal.Decimal, stock int) *Product {
	now := GetCurrentTime()
	return &Product{
		ID:        GenerateID("prd"),
		Name:      name,
		Price:     price,
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MovementType classifies a stock movement
type MovementType string

const (
	MovementIn   MovementType = "ENTREE" // goods received
	MovementOut  MovementType = "SORTIE" // goods shipped
	MovementLoss MovementType = "PERTE"  // shrinkage
)

// Valid reports whether t is a known movement type
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementLoss:
		return true
	}
	return false
}

// StockMovement is an entry in the stock ledger
type StockMovement struct {
	ID        string       `db:"id" json:"id"`
	ProductID string       `db:"product_id" json:"product_id"`
	Type      MovementType `db:"movement_type" json:"type"`
	Quantity  int          `db:"quantity" json:"quantity"`
	Reason    string       `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// NewStockMovement creates a ledger entry
func NewStockMovement(productID string, t MovementType, qty int, reason string) *StockMovement {
	return &StockMovement{
		ID:        GenerateID("stm"),
		ProductID: productID,
		Type:      t,
		Quantity:  qty,
		Reason:    reason,
		CreatedAt: GetCurrentTime(),
	}
}
