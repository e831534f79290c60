package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giftshop-service/internal/apperr"
	"giftshop-service/internal/gateway"
	"giftshop-service/internal/models"
	"giftshop-service/internal/store"
	"giftshop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionService creates recurring delivery subscriptions. Status
// changes after creation are applied exclusively by the webhook reconciler.
type SubscriptionService struct {
	store   store.Store
	gateway gateway.Gateway
	logger  *zap.Logger
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(st store.Store, gw gateway.Gateway) *SubscriptionService {
	return &SubscriptionService{
		store:   st,
		gateway: gw,
		logger:  util.GetLogger(),
	}
}

// CreateSubscriptionRequest represents a subscription checkout
type CreateSubscriptionRequest struct {
	PriceID          string `json:"price_id" binding:"required"`
	PaymentMethodID  string `json:"payment_method_id" binding:"required"`
	PackageID        string `json:"package_id" binding:"required"`
	DeliveryLocation string `json:"delivery_location,omitempty"`
	Anonymous        bool   `json:"anonymous,omitempty"`
}

// CreateSubscription binds the payment method, creates the provider
// subscription and persists it locally with status PENDING. The provider's
// webhook later moves it to its live status.
func (ss *SubscriptionService) CreateSubscription(ctx context.Context, userID string, req *CreateSubscriptionRequest) (*models.Subscription, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.CreateSubscription")
	defer span.End()

	user, err := ss.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}

	if user.ExternalCustomerID == "" {
		return nil, apperr.NotFound("payment customer not found for user")
	}

	if err := ss.gateway.AttachPaymentMethod(ctx, user.ExternalCustomerID, req.PaymentMethodID); err != nil {
		return nil, err
	}
	if err := ss.gateway.SetDefaultPaymentMethod(ctx, user.ExternalCustomerID, req.PaymentMethodID); err != nil {
		return nil, err
	}

	externalID, err := ss.gateway.CreateSubscription(ctx, user.ExternalCustomerID, req.PriceID, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	price, err := ss.gateway.GetPrice(ctx, req.PriceID)
	if err != nil {
		return nil, err
	}

	next := nextDeliveryDate(time.Now(), price)

	sub := &models.Subscription{
		ID:                     uuid.New().String(),
		UserID:                 userID,
		PackageID:              req.PackageID,
		ExternalSubscriptionID: externalID,
		ExternalPriceID:        req.PriceID,
		Status:                 models.SubscriptionStatusPending,
		DeliveryLocation:       req.DeliveryLocation,
		Anonymous:              req.Anonymous,
		NextDeliveryDate:       next,
		Frequency:              fmt.Sprintf("%d_%s", price.IntervalCount, price.Interval),
	}

	// The row and the payment-method binding land together or not at all.
	err = ss.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.CreateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		if err := tx.SetUserPaymentMethod(ctx, userID, req.PaymentMethodID); err != nil {
			return fmt.Errorf("failed to record payment method: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ss.logger.Info("Subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("external_subscription_id", externalID),
		zap.String("frequency", sub.Frequency))

	return sub, nil
}

// nextDeliveryDate projects the first delivery from the price recurrence.
func nextDeliveryDate(from time.Time, price *gateway.PriceInfo) *time.Time {
	count := int(price.IntervalCount)
	if count < 1 {
		count = 1
	}

	var next time.Time
	switch price.Interval {
	case "day":
		next = from.AddDate(0, 0, count)
	case "week":
		next = from.AddDate(0, 0, 7*count)
	case "month":
		next = from.AddDate(0, count, 0)
	case "year":
		next = from.AddDate(count, 0, 0)
	default:
		return nil
	}
	return &next
}
