package gateway

import "context"

// Event kinds surfaced to the webhook reconciler. Provider event names are
// translated here so the reconciler never sees provider-specific types.
const (
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Event is a verified, normalized provider event.
type Event struct {
	ID                 string
	Type               string
	SubscriptionID     string
	SubscriptionStatus string
}

// PaymentRequest describes a create-and-confirm payment call.
type PaymentRequest struct {
	AmountMinorUnits int64
	CustomerID       string
	PaymentMethodID  string
	Description      string
	OrderID          string
}

// PriceInfo describes a recurring price as known by the provider.
type PriceInfo struct {
	ID            string
	Interval      string
	IntervalCount int64
}

// CardDetails is the client-safe view of a stored payment method.
type CardDetails struct {
	ID          string `json:"id"`
	Brand       string `json:"brand"`
	Last4       string `json:"last4"`
	ExpiryMonth int64  `json:"expiry_month"`
	ExpiryYear  int64  `json:"expiry_year"`
}

// Gateway wraps the external payment processor. Every call either succeeds or
// fails with a normalized gateway error; provider exception types never leak
// past this boundary.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateAndConfirmPayment(ctx context.Context, req PaymentRequest) (string, error)
	Refund(ctx context.Context, paymentID string) error
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	GetPaymentMethod(ctx context.Context, paymentMethodID string) (*CardDetails, error)
	CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string) (string, error)
	GetPrice(ctx context.Context, priceID string) (*PriceInfo, error)
	VerifyWebhookSignature(payload []byte, signatureHeader string) (*Event, error)
}
