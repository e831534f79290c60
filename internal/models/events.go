package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when order is created
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    string          `json:"order_id"`
	UserID     *string         `json:"user_id,omitempty"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Items      []OrderItemData `json:"items"`
}

// OrderPaidEvent published when payment is captured
type OrderPaidEvent struct {
	BaseEvent
	OrderID           string          `json:"order_id"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	ExternalPaymentID string          `json:"external_payment_id"`
}

// OrderCancelledEvent published when an order is cancelled
type OrderCancelledEvent struct {
	BaseEvent
	OrderID  string `json:"order_id"`
	Refunded bool   `json:"refunded"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
