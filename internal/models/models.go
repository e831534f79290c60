package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentStatusUnpaid    PaymentStatus = "UNPAID"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// CanTransitionTo reports whether an order may move from s to target.
// DELIVERED and CANCELLED are terminal.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return target == OrderStatusProcessing || target == OrderStatusCancelled
	case OrderStatusProcessing:
		return target == OrderStatusDelivered || target == OrderStatusCancelled
	default:
		return false
	}
}

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Product represents a product in the catalog
type Product struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	ImageURL  string          `db:"image_url" json:"image_url,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// GiftCard represents a gift card add-on that can accompany an order
type GiftCard struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	ImageURL  string          `db:"image_url" json:"image_url,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Order represents a single purchase transaction. Cancellation is a status,
// orders are never deleted.
type Order struct {
	ID                string          `db:"id" json:"id"`
	TotalPrice        decimal.Decimal `db:"total_price" json:"total_price"`
	Status            OrderStatus     `db:"status" json:"status"`
	PaymentStatus     PaymentStatus   `db:"payment_status" json:"payment_status"`
	PaymentMethod     string          `db:"payment_method" json:"payment_method,omitempty"`
	ExternalPaymentID string          `db:"external_payment_id" json:"external_payment_id,omitempty"`
	UserID            *string         `db:"user_id" json:"user_id,omitempty"`
	GiftCardID        *string         `db:"gift_card_id" json:"gift_card_id,omitempty"`
	Message           string          `db:"message" json:"message,omitempty"`
	SenderName        string          `db:"sender_name" json:"sender_name,omitempty"`
	SenderEmail       string          `db:"sender_email" json:"sender_email,omitempty"`
	RecipientName     string          `db:"recipient_name" json:"recipient_name,omitempty"`
	RecipientEmail    string          `db:"recipient_email" json:"recipient_email,omitempty"`
	DeliveryAddress   string          `db:"delivery_address" json:"delivery_address,omitempty"`
	DeliveryDate      *time.Time      `db:"delivery_date" json:"delivery_date,omitempty"`
	Anonymous         bool            `db:"anonymous" json:"anonymous"`
	QRCodeURL         string          `db:"qr_code_url" json:"qr_code_url,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`

	Items    []OrderItem `db:"-" json:"items,omitempty"`
	GiftCard *GiftCard   `db:"-" json:"gift_card,omitempty"`
}

// OrderItem is a priced snapshot of a product within an order. UnitPrice is
// frozen at order time and never reflects later catalog changes.
type OrderItem struct {
	ID        string          `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// User carries the payment method binding used by order processing and
// subscription checkout. At most one active payment method per user.
type User struct {
	ID                      string    `db:"id" json:"id"`
	Name                    string    `db:"name" json:"name"`
	Email                   string    `db:"email" json:"email"`
	ExternalCustomerID      string    `db:"external_customer_id" json:"-"`
	ExternalPaymentMethodID string    `db:"external_payment_method_id" json:"-"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
}

// Subscription statuses mirror the provider's status, upper-cased.
const (
	SubscriptionStatusPending  = "PENDING"
	SubscriptionStatusActive   = "ACTIVE"
	SubscriptionStatusCanceled = "CANCELED"
)

// Subscription represents a recurring delivery agreement
type Subscription struct {
	ID                     string     `db:"id" json:"id"`
	UserID                 string     `db:"user_id" json:"user_id"`
	PackageID              string     `db:"package_id" json:"package_id"`
	ExternalSubscriptionID string     `db:"external_subscription_id" json:"external_subscription_id"`
	ExternalPriceID        string     `db:"external_price_id" json:"external_price_id"`
	Status                 string     `db:"status" json:"status"`
	PaymentFailed          bool       `db:"payment_failed" json:"payment_failed"`
	DeliveryLocation       string     `db:"delivery_location" json:"delivery_location,omitempty"`
	Anonymous              bool       `db:"anonymous" json:"anonymous"`
	NextDeliveryDate       *time.Time `db:"next_delivery_date" json:"next_delivery_date,omitempty"`
	Frequency              string     `db:"frequency" json:"frequency,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// OrderStats aggregates dashboard figures for administrators.
type OrderStats struct {
	TotalOrders  int                 `json:"total_orders"`
	StatusCounts map[OrderStatus]int `json:"status_counts"`
	TotalRevenue decimal.Decimal     `json:"total_revenue"`
	RecentOrders []Order             `json:"recent_orders"`
}
