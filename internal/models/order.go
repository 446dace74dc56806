package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusEnCours        OrderStatus = "EN_COURS"
	OrderStatusNonLivre       OrderStatus = "NON_LIVRE"
	OrderStatusLivre          OrderStatus = "LIVRE"
)

// allowedFrom lists, for each target status, the statuses it may be reached from.
// A target missing from the map cannot be reached through an update.
var allowedFrom = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment: {OrderStatusPending},
	OrderStatusConfirmed:      {OrderStatusPending, OrderStatusPendingPayment},
	OrderStatusShipped:        {OrderStatusConfirmed},
	OrderStatusDelivered:      {OrderStatusShipped},
	OrderStatusCancelled:      {OrderStatusPending, OrderStatusPendingPayment, OrderStatusConfirmed},
	OrderStatusPaid:           {OrderStatusPending, OrderStatusPendingPayment, OrderStatusConfirmed},
}

// AllOrderStatuses lists every known order status
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending, OrderStatusPendingPayment, OrderStatusConfirmed, OrderStatusShipped,
	OrderStatusDelivered, OrderStatusCancelled, OrderStatusPaid, OrderStatusEnCours,
	OrderStatusNonLivre, OrderStatusLivre,
}

// ParseOrderStatus validates a status name, ignoring case
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllOrderStatuses {
		if status == known {
			return status, nil
		}
	}
	return "", apperrors.NewValidationError("unknown order status %q", s)
}

// CanTransition reports whether an order may move from one status to another.
// PENDING is only reachable from the unset status, at creation.
func CanTransition(from, to OrderStatus) bool {
	if to == OrderStatusPending {
		return from == ""
	}
	for _, allowed := range allowedFrom[to] {
		if from == allowed {
			return true
		}
	}
	return false
}

// ValidateTransition returns IllegalStatusTransition naming both states
func ValidateTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return apperrors.NewIllegalStatusTransitionError("order", string(from), string(to))
	}
	return nil
}

// LinesFrozen reports whether order lines can no longer change
func (s OrderStatus) LinesFrozen() bool {
	switch s {
	case OrderStatusShipped, OrderStatusDelivered, OrderStatusEnCours, OrderStatusLivre, OrderStatusNonLivre:
		return true
	}
	return false
}

// Settleable reports whether a payment transaction may include the order
func (s OrderStatus) Settleable() bool {
	return s == OrderStatusPending || s == OrderStatusPendingPayment
}

// Order represents a customer order (commande)
type Order struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	ClientName  string          `db:"client_name" json:"client_name"`
	Address     string          `db:"address" json:"address,omitempty"`
	Phone       string          `db:"phone" json:"phone,omitempty"`
	Governorate string          `db:"governorate" json:"governorate,omitempty"`
	Status      OrderStatus     `db:"status" json:"status"`
	Total       decimal.Decimal `db:"total" json:"total"`
	CourierID   *string         `db:"courier_id" json:"courier_id,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`

	Lines          []*OrderLine `db:"-" json:"lines"`
	TransactionIDs []string     `db:"-" json:"transaction_ids,omitempty"`
	InvoiceIDs     []string     `db:"-" json:"invoice_ids,omitempty"`
}

// OrderLine is one product entry of an order
type OrderLine struct {
	ID        string          `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	Position  int             `db:"position" json:"position"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Total     decimal.Decimal `db:"total" json:"total"`
	TTC       decimal.Decimal `db:"ttc" json:"ttc"`
}

// NewOrder creates a new order in the unset status; the service assigns PENDING.
func NewOrder(userID, clientName string) *Order {
	now := GetCurrentTime()

	return &Order{
		ID:         GenerateID("ord"),
		UserID:     userID,
		ClientName: clientName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// LinesTotal sums the pre-tax totals of the order lines
func (o *Order) LinesTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Total)
	}
	return sum
}

// LinesTTC sums the tax-inclusive totals of the order lines
func (o *Order) LinesTTC() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.TTC)
	}
	return sum
}

// AttachLines sets the order id and positions on lines and recomputes the total
func (o *Order) AttachLines(lines []*OrderLine) {
	for i, l := range lines {
		if l.ID == "" {
			l.ID = GenerateID("oln")
		}
		l.OrderID = o.ID
		l.Position = i
	}
	o.Lines = lines
	o.Total = RoundMoney(o.LinesTotal())
}

// Governorates are the 24 Tunisian administrative regions accepted on orders
var Governorates = []string{
	"Ariana", "Beja", "Ben Arous", "Bizerte", "Gabes", "Gafsa",
	"Jendouba", "Kairouan", "Kasserine", "Kebili", "Kef", "Mahdia",
	"Manouba", "Medenine", "Monastir", "Nabeul", "Sfax", "Sidi Bouzid",
	"Siliana", "Sousse", "Tataouine", "Tozeur", "Tunis", "Zaghouan",
}

// IsValidGovernorate reports whether g names one of Governorates, ignoring case
func IsValidGovernorate(g string) bool {
	for _, known := range Governorates {
		if strings.EqualFold(known, strings.TrimSpace(g)) {
			return true
		}
	}
	return false
}

var phonePattern = regexp.MustCompile(`^[0-9]{8}$`)

// IsValidPhone reports whether p is exactly 8 digits
func IsValidPhone(p string) bool {
	return phonePattern.MatchString(p)
}

// MissingFieldPlaceholder backfills contact fields on settlement
const MissingFieldPlaceholder = "N/A"
