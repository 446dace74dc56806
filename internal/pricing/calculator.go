// Package pricing computes order line amounts.
package pricing

import (
	"github.com/shopspring/decimal"

	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
)

// DefaultTaxRate is the canonical VAT rate applied to line totals
var DefaultTaxRate = decimal.NewFromFloat(0.20)

// Line holds the computed amounts of one order line
type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
	TTC       decimal.Decimal
}

// Calculator prices order lines at a fixed tax rate
type Calculator struct {
	taxRate decimal.Decimal
}

// NewCalculator creates a calculator; a negative rate falls back to DefaultTaxRate.
func NewCalculator(taxRate float64) *Calculator {
	rate := decimal.NewFromFloat(taxRate)
	if rate.IsNegative() {
		rate = DefaultTaxRate
	}
	return &Calculator{taxRate: rate}
}

// TaxRate returns the configured rate
func (c *Calculator) TaxRate() decimal.Decimal {
	return c.taxRate
}

// Calculate returns total = qty × unitPrice and ttc = total × (1 + taxRate), both rounded to cents.
func (c *Calculator) Calculate(qty int, unitPrice decimal.Decimal) (Line, error) {
	if qty <= 0 {
		return Line{}, apperrors.NewValidationError("invalid quantity %d: must be greater than 0", qty).
			WithContext("reason", "InvalidQuantity")
	}
	if !unitPrice.IsPositive() {
		return Line{}, apperrors.NewValidationError("invalid price %s: must be greater than 0", unitPrice.String()).
			WithContext("reason", "InvalidPrice")
	}

	total := unitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2)
	ttc := total.Mul(decimal.NewFromInt(1).Add(c.taxRate)).Round(2)

	return Line{
		Quantity:  qty,
		UnitPrice: unitPrice,
		Total:     total,
		TTC:       ttc,
	}, nil
}
