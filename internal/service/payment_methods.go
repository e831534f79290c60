package service

import (
	"context"
	"errors"
	"fmt"

	"giftshop-service/internal/apperr"
	"giftshop-service/internal/gateway"
	"giftshop-service/internal/store"
	"giftshop-service/internal/util"

	"go.uber.org/zap"
)

// PaymentMethodService manages the per-user payment method binding. A user
// has at most one active payment method; replacing it detaches the old one
// best-effort.
type PaymentMethodService struct {
	store   store.Store
	gateway gateway.Gateway
	logger  *zap.Logger
}

// NewPaymentMethodService creates a new payment method service
func NewPaymentMethodService(st store.Store, gw gateway.Gateway) *PaymentMethodService {
	return &PaymentMethodService{
		store:   st,
		gateway: gw,
		logger:  util.GetLogger(),
	}
}

// AttachPaymentMethod attaches a payment method to the user's provider
// customer, marks it default and persists the binding.
func (ps *PaymentMethodService) AttachPaymentMethod(ctx context.Context, userID, paymentMethodID string) error {
	user, err := ps.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("user not found")
	}
	if err != nil {
		return err
	}

	if user.ExternalCustomerID == "" {
		return apperr.NotFound("payment customer not found for user")
	}

	if err := ps.gateway.AttachPaymentMethod(ctx, user.ExternalCustomerID, paymentMethodID); err != nil {
		return err
	}

	if err := ps.gateway.SetDefaultPaymentMethod(ctx, user.ExternalCustomerID, paymentMethodID); err != nil {
		return err
	}

	if err := ps.store.SetUserPaymentMethod(ctx, userID, paymentMethodID); err != nil {
		return fmt.Errorf("failed to record payment method: %w", err)
	}

	ps.logger.Info("Payment method attached",
		zap.String("user_id", userID),
		zap.String("payment_method_id", paymentMethodID))
	return nil
}

// UpdatePaymentMethod replaces the user's payment method. Detaching the old
// method is best-effort: a detach failure is logged and the replacement
// continues.
func (ps *PaymentMethodService) UpdatePaymentMethod(ctx context.Context, userID, newPaymentMethodID string) error {
	user, err := ps.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("user not found")
	}
	if err != nil {
		return err
	}

	if user.ExternalCustomerID == "" {
		return apperr.NotFound("payment customer not found for user")
	}

	if user.ExternalPaymentMethodID != "" {
		if err := ps.gateway.DetachPaymentMethod(ctx, user.ExternalPaymentMethodID); err != nil {
			ps.logger.Warn("Failed to detach old payment method, continuing",
				zap.String("user_id", userID),
				zap.String("payment_method_id", user.ExternalPaymentMethodID),
				zap.Error(err))
		}
	}

	if err := ps.gateway.AttachPaymentMethod(ctx, user.ExternalCustomerID, newPaymentMethodID); err != nil {
		return err
	}

	if err := ps.gateway.SetDefaultPaymentMethod(ctx, user.ExternalCustomerID, newPaymentMethodID); err != nil {
		return err
	}

	if err := ps.store.SetUserPaymentMethod(ctx, userID, newPaymentMethodID); err != nil {
		return fmt.Errorf("failed to record payment method: %w", err)
	}

	ps.logger.Info("Payment method replaced",
		zap.String("user_id", userID),
		zap.String("payment_method_id", newPaymentMethodID))
	return nil
}

// GetPaymentMethod returns the client-safe card view of the user's stored
// payment method, or nil when none is bound.
func (ps *PaymentMethodService) GetPaymentMethod(ctx context.Context, userID string) (*gateway.CardDetails, error) {
	user, err := ps.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}

	if user.ExternalPaymentMethodID == "" {
		return nil, nil
	}

	return ps.gateway.GetPaymentMethod(ctx, user.ExternalPaymentMethodID)
}
