package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"giftshop-service/internal/apperr"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

type stripeCustomerAPI interface {
	New(params *stripe.CustomerParams) (*stripe.Customer, error)
	Update(id string, params *stripe.CustomerParams) (*stripe.Customer, error)
}

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripePaymentMethodAPI interface {
	Attach(id string, params *stripe.PaymentMethodAttachParams) (*stripe.PaymentMethod, error)
	Detach(id string, params *stripe.PaymentMethodDetachParams) (*stripe.PaymentMethod, error)
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeSubscriptionAPI interface {
	New(params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

type stripePriceAPI interface {
	Get(id string, params *stripe.PriceParams) (*stripe.Price, error)
}

type stripeClients struct {
	customers      stripeCustomerAPI
	intents        stripePaymentIntentAPI
	refunds        stripeRefundAPI
	paymentMethods stripePaymentMethodAPI
	subscriptions  stripeSubscriptionAPI
	prices         stripePriceAPI
}

// StripeConfig configures the Stripe gateway. The secret key and webhook
// secret are injected at process start, never embedded in source.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	CallTimeout   time.Duration

	// clients overrides the real API clients in tests.
	clients *stripeClients
}

// Stripe implements Gateway against the Stripe API.
type Stripe struct {
	api           stripeClients
	webhookSecret string
	currency      string
	timeout       time.Duration
}

// NewStripe constructs the gateway from configuration.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" && cfg.clients == nil {
		return nil, errors.New("stripe: secret key is required")
	}

	var clients stripeClients
	if cfg.clients != nil {
		clients = *cfg.clients
	} else {
		sc := client.New(cfg.SecretKey, nil)
		clients = stripeClients{
			customers:      sc.Customers,
			intents:        sc.PaymentIntents,
			refunds:        sc.Refunds,
			paymentMethods: sc.PaymentMethods,
			subscriptions:  sc.Subscriptions,
			prices:         sc.Prices,
		}
	}

	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Stripe{
		api:           clients,
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
		timeout:       timeout,
	}, nil
}

// callCtx bounds every provider call; a timeout surfaces as a gateway error.
func (g *Stripe) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// CreateCustomer creates a provider-side customer record.
func (g *Stripe) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx

	customer, err := g.api.customers.New(params)
	if err != nil {
		return "", normalizeErr("create customer", err)
	}
	return customer.ID, nil
}

// CreateAndConfirmPayment creates a payment intent with immediate
// confirmation, tagged with the order ID for traceability.
func (g *Stripe) CreateAndConfirmPayment(ctx context.Context, req PaymentRequest) (string, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountMinorUnits),
		Currency:      stripe.String(g.currency),
		Customer:      stripe.String(req.CustomerID),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(req.Description),
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID)

	intent, err := g.api.intents.New(params)
	if err != nil {
		return "", normalizeErr("create payment", err)
	}
	return intent.ID, nil
}

// Refund refunds the full amount of a previously captured payment.
func (g *Stripe) Refund(ctx context.Context, paymentID string) error {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentID),
	}
	params.Context = ctx

	if _, err := g.api.refunds.New(params); err != nil {
		return normalizeErr("refund payment", err)
	}
	return nil
}

// AttachPaymentMethod attaches a payment method to a customer.
func (g *Stripe) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	if _, err := g.api.paymentMethods.Attach(paymentMethodID, params); err != nil {
		return normalizeErr("attach payment method", err)
	}
	return nil
}

// DetachPaymentMethod detaches a payment method from its customer.
func (g *Stripe) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx

	if _, err := g.api.paymentMethods.Detach(paymentMethodID, params); err != nil {
		return normalizeErr("detach payment method", err)
	}
	return nil
}

// SetDefaultPaymentMethod marks the payment method as the customer's default
// for invoices.
func (g *Stripe) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	if _, err := g.api.customers.Update(customerID, params); err != nil {
		return normalizeErr("set default payment method", err)
	}
	return nil
}

// GetPaymentMethod retrieves the client-safe card view of a payment method.
func (g *Stripe) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*CardDetails, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.PaymentMethodParams{}
	params.Context = ctx

	pm, err := g.api.paymentMethods.Get(paymentMethodID, params)
	if err != nil {
		return nil, normalizeErr("get payment method", err)
	}

	details := &CardDetails{ID: pm.ID}
	if pm.Card != nil {
		details.Brand = string(pm.Card.Brand)
		details.Last4 = pm.Card.Last4
		details.ExpiryMonth = pm.Card.ExpMonth
		details.ExpiryYear = pm.Card.ExpYear
	}
	return details, nil
}

// CreateSubscription creates a recurring subscription on the given price.
func (g *Stripe) CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string) (string, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		DefaultPaymentMethod: stripe.String(paymentMethodID),
	}
	params.Context = ctx

	sub, err := g.api.subscriptions.New(params)
	if err != nil {
		return "", normalizeErr("create subscription", err)
	}
	return sub.ID, nil
}

// GetPrice looks up a recurring price.
func (g *Stripe) GetPrice(ctx context.Context, priceID string) (*PriceInfo, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.PriceParams{}
	params.Context = ctx

	price, err := g.api.prices.Get(priceID, params)
	if err != nil {
		return nil, normalizeErr("get price", err)
	}

	info := &PriceInfo{ID: price.ID}
	if price.Recurring != nil {
		info.Interval = string(price.Recurring.Interval)
		info.IntervalCount = price.Recurring.IntervalCount
	}
	return info, nil
}

// VerifyWebhookSignature checks the raw payload against the shared webhook
// secret and translates the event. Verification failure fails closed.
func (g *Stripe) VerifyWebhookSignature(payload []byte, signatureHeader string) (*Event, error) {
	ev, err := webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
	if err != nil {
		return nil, apperr.InvalidSignature(err)
	}

	event := &Event{ID: ev.ID, Type: string(ev.Type)}

	switch event.Type {
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription event: %w", err)
		}
		event.SubscriptionID = sub.ID
		event.SubscriptionStatus = string(sub.Status)

	case EventPaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to decode invoice event: %w", err)
		}
		if inv.Subscription != nil {
			event.SubscriptionID = inv.Subscription.ID
		}
	}

	return event, nil
}

// normalizeErr converts provider failures into the domain gateway error.
func normalizeErr(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		msg := stripeErr.Msg
		if msg == "" {
			msg = string(stripeErr.Code)
		}
		return apperr.Gateway(err, "%s: %s", op, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Gateway(err, "%s: provider timed out", op)
	}
	return apperr.Gateway(err, "%s failed", op)
}
