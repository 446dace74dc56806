package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name      string
		taxRate   float64
		qty       int
		unitPrice string
		wantTotal string
		wantTTC   string
	}{
		{"single", 0.20, 1, "10.00", "10.00", "12.00"},
		{"several", 0.20, 3, "12.50", "37.50", "45.00"},
		{"rounding", 0.20, 3, "0.333", "1.00", "1.20"},
		{"nineteen percent", 0.19, 2, "50.00", "100.00", "119.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := NewCalculator(tt.taxRate).Calculate(tt.qty, decimal.RequireFromString(tt.unitPrice))
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, line.Total.StringFixed(2))
			assert.Equal(t, tt.wantTTC, line.TTC.StringFixed(2))
		})
	}
}

func TestCalculateRejectsInvalidInput(t *testing.T) {
	c := NewCalculator(0.20)

	_, err := c.Calculate(0, decimal.NewFromInt(5))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Contains(t, err.Error(), "invalid quantity")

	_, err = c.Calculate(2, decimal.Zero)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid price")
}

func TestNegativeRateFallsBack(t *testing.T) {
	assert.True(t, NewCalculator(-1).TaxRate().Equal(DefaultTaxRate))
}
