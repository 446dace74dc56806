package models

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Aggregate types used to route events to topics
const (
	AggregateOrder        = "order"
	AggregateTransaction  = "transaction"
	AggregateInvoice      = "invoice"
	AggregateDelivery     = "delivery"
	AggregateProduct      = "product"
	AggregateNotification = "notification"
)

// Event types
const (
	EventOrderCreated             = "order_created"
	EventOrderUpdated             = "order_updated"
	EventOrderStatusChanged       = "order_status_changed"
	EventOrderDeleted             = "order_deleted"
	EventTransactionCreated       = "transaction_created"
	EventTransactionStatusChanged = "transaction_status_changed"
	EventInvoiceGenerated         = "invoice_generated"
	EventDeliveryCreated          = "delivery_created"
	EventDeliveryStatusChanged    = "delivery_status_changed"
	EventDeliveryDeleted          = "delivery_deleted"
	EventStockReordered           = "stock_reordered"
	EventNotification             = "notification"
)

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 string         `db:"id" json:"id"`
	AggregateType      string         `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string         `db:"aggregate_id" json:"aggregate_id"`
	EventType          string         `db:"event_type" json:"event_type"`
	Payload            types.JSONText `db:"payload" json:"payload"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time     `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int            `db:"processing_attempts" json:"processing_attempts"`
	LastError          *string        `db:"last_error" json:"last_error,omitempty"`
	Status             OutboxStatus   `db:"status" json:"status"`
}

// OutboxMessageEvent is the envelope published for every outbox message
type OutboxMessageEvent struct {
	EventType   string          `json:"event_type"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

func newOutboxMessage(aggregateType, aggregateID, eventType string, data interface{}) (*OutboxMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	now := GetCurrentTime()
	msg := &OutboxMessage{
		ID:            GenerateID("evt"),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		CreatedAt:     now,
		Status:        OutboxStatusPending,
	}

	payload, err := json.Marshal(OutboxMessageEvent{
		EventType:   eventType,
		EventID:     msg.ID,
		AggregateID: aggregateID,
		OccurredAt:  now,
		Data:        raw,
	})
	if err != nil {
		return nil, err
	}

	msg.Payload = payload
	return msg, nil
}

// NewOrderCreatedEvent creates a new order created event
func NewOrderCreatedEvent(order *Order) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateOrder, order.ID, EventOrderCreated, order)
}

// NewOrderUpdatedEvent creates a new order updated event
func NewOrderUpdatedEvent(order *Order) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateOrder, order.ID, EventOrderUpdated, order)
}

// NewOrderDeletedEvent records the removal of a cancelled order
func NewOrderDeletedEvent(orderID string) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateOrder, orderID, EventOrderDeleted, map[string]string{"order_id": orderID})
}

// OrderStatusChange is the data of an order_status_changed event
type OrderStatusChange struct {
	OrderID   string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	OldStatus OrderStatus `json:"old_status"`
	NewStatus OrderStatus `json:"new_status"`
}

// NewOrderStatusChangedEvent creates a new event for order status change
func NewOrderStatusChangedEvent(order *Order, oldStatus OrderStatus) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateOrder, order.ID, EventOrderStatusChanged, OrderStatusChange{
		OrderID:   order.ID,
		UserID:    order.UserID,
		OldStatus: oldStatus,
		NewStatus: order.Status,
	})
}

// NewTransactionCreatedEvent records a new payment attempt
func NewTransactionCreatedEvent(txn *PaymentTransaction) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateTransaction, txn.ID, EventTransactionCreated, txn)
}

// TransactionStatusChange is the data of a transaction_status_changed event
type TransactionStatusChange struct {
	TransactionID string            `json:"transaction_id"`
	OrderIDs      []string          `json:"order_ids"`
	OldStatus     TransactionStatus `json:"old_status"`
	NewStatus     TransactionStatus `json:"new_status"`
}

// NewTransactionStatusChangedEvent records a gateway status callback
func NewTransactionStatusChangedEvent(txn *PaymentTransaction, oldStatus TransactionStatus) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateTransaction, txn.ID, EventTransactionStatusChanged, TransactionStatusChange{
		TransactionID: txn.ID,
		OrderIDs:      txn.OrderIDs,
		OldStatus:     oldStatus,
		NewStatus:     txn.Status,
	})
}

// NewInvoiceGeneratedEvent records a persisted invoice
func NewInvoiceGeneratedEvent(inv *Invoice) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateInvoice, inv.ID, EventInvoiceGenerated, inv)
}

// NewDeliveryCreatedEvent records a new delivery assignment
func NewDeliveryCreatedEvent(d *Delivery) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateDelivery, d.ID, EventDeliveryCreated, d)
}

// DeliveryStatusChange is the data of a delivery_status_changed event
type DeliveryStatusChange struct {
	DeliveryID string         `json:"delivery_id"`
	OrderID    string         `json:"order_id"`
	CourierID  string         `json:"courier_id"`
	OldStatus  DeliveryStatus `json:"old_status"`
	NewStatus  DeliveryStatus `json:"new_status"`
}

// NewDeliveryStatusChangedEvent records a delivery status change
func NewDeliveryStatusChangedEvent(d *Delivery, oldStatus DeliveryStatus) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateDelivery, d.ID, EventDeliveryStatusChanged, DeliveryStatusChange{
		DeliveryID: d.ID,
		OrderID:    d.OrderID,
		CourierID:  d.CourierID,
		OldStatus:  oldStatus,
		NewStatus:  d.Status,
	})
}

// NewDeliveryDeletedEvent records the removal of a delivery
func NewDeliveryDeletedEvent(d *Delivery) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateDelivery, d.ID, EventDeliveryDeleted, d)
}

// StockReorder is the data of a stock_reordered event
type StockReorder struct {
	ProductID  string  `json:"product_id"`
	SupplierID *string `json:"supplier_id,omitempty"`
	Quantity   int     `json:"quantity"`
	NewStock   int     `json:"new_stock"`
}

// NewStockReorderedEvent records an automatic reorder
func NewStockReorderedEvent(p *Product, qty int) (*OutboxMessage, error) {
	return newOutboxMessage(AggregateProduct, p.ID, EventStockReordered, StockReorder{
		ProductID:  p.ID,
		SupplierID: p.SupplierID,
		Quantity:   qty,
		NewStock:   p.Stock,
	})
}

// BroadcastRecipient addresses a notification to every subscriber
const BroadcastRecipient = "*"

// Notification is a fire-and-forget message for a user or a broadcast
type Notification struct {
	RecipientID string `json:"recipient_id"`
	Message     string `json:"message"`
	Type        string `json:"type"`
}

// NewNotificationEvent wraps a notification for the outbox
func NewNotificationEvent(n Notification) (*OutboxMessage, error) {
	recipient := n.RecipientID
	if recipient == "" {
		recipient = BroadcastRecipient
		n.RecipientID = recipient
	}
	return newOutboxMessage(AggregateNotification, recipient, EventNotification, n)
}
