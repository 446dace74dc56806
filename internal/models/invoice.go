package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice (facture) is derived from a paid order or a settled transaction
type Invoice struct {
	ID            string          `db:"id" json:"id"`
	Number        string          `db:"number" json:"number"`
	OrderID       string          `db:"order_id" json:"order_id"`
	TransactionID *string         `db:"transaction_id" json:"transaction_id,omitempty"`
	UserID        string          `db:"user_id" json:"user_id"`
	Total         decimal.Decimal `db:"total" json:"total"`
	IssuedOn      time.Time       `db:"issued_on" json:"issued_on"`
	DocumentPath  *string         `db:"document_path" json:"document_path,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`

	Lines []*InvoiceLine `db:"-" json:"lines"`
}

// InvoiceLine mirrors an order line inside an invoice
type InvoiceLine struct {
	ID        string          `db:"id" json:"id"`
	InvoiceID string          `db:"invoice_id" json:"invoice_id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	Position  int             `db:"position" json:"position"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Total     decimal.Decimal `db:"total" json:"total"`
	TTC       decimal.Decimal `db:"ttc" json:"ttc"`
}

// NewInvoiceLine copies an order line into an invoice
func NewInvoiceLine(invoiceID string, position int, l *OrderLine) *InvoiceLine {
	return &InvoiceLine{
		ID:        GenerateID("iln"),
		InvoiceID: invoiceID,
		OrderID:   l.OrderID,
		ProductID: l.ProductID,
		Position:  position,
		Quantity:  l.Quantity,
		UnitPrice: l.UnitPrice,
		Total:     l.Total,
		TTC:       l.TTC,
	}
}

// LinesTTC sums the tax-inclusive line totals
func (inv *Invoice) LinesTTC() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range inv.Lines {
		sum = sum.Add(l.TTC)
	}
	return sum
}

// LinesTotal sums the pre-tax line totals
func (inv *Invoice) LinesTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range inv.Lines {
		sum = sum.Add(l.Total)
	}
	return sum
}

// DefaultInvoiceNumber returns a collision-resistant invoice number
func DefaultInvoiceNumber() string {
	return GenerateID("FACT")
}

// TransactionInvoiceNumber numbers the consolidated invoice of a transaction
func TransactionInvoiceNumber(transactionID string, at time.Time) string {
	return fmt.Sprintf("FACT-TRANS-%s-%d", transactionID, at.UnixMilli())
}

// TruncateToDate drops the time of day
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
