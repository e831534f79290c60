package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giftshop-service/internal/apperr"
	"giftshop-service/internal/broker"
	"giftshop-service/internal/gateway"
	"giftshop-service/internal/models"
	"giftshop-service/internal/pricing"
	"giftshop-service/internal/redisclient"
	"giftshop-service/internal/store"
	"giftshop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const statsCacheTTL = time.Minute

// OrderService owns the order lifecycle: creation, payment capture, status
// transitions, cancellation with conditional refund, and dashboard stats.
type OrderService struct {
	store          store.Store
	gateway        gateway.Gateway
	eventPublisher *broker.EventPublisher
	cache          *redisclient.Client
	logger         *zap.Logger
}

// NewOrderService creates a new order service. eventPublisher and cache are
// optional; a nil value disables event publishing or stats caching.
func NewOrderService(
	st store.Store,
	gw gateway.Gateway,
	eventPublisher *broker.EventPublisher,
	cache *redisclient.Client,
) *OrderService {
	return &OrderService{
		store:          st,
		gateway:        gw,
		eventPublisher: eventPublisher,
		cache:          cache,
		logger:         util.GetLogger(),
	}
}

// OrderItemRequest represents an item in an order. Prices are never accepted
// from the caller.
type OrderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items           []OrderItemRequest `json:"items"`
	GiftCardID      *string            `json:"gift_card_id,omitempty"`
	Message         string             `json:"message,omitempty"`
	SenderName      string             `json:"sender_name,omitempty"`
	SenderEmail     string             `json:"sender_email,omitempty"`
	RecipientName   string             `json:"recipient_name,omitempty"`
	RecipientEmail  string             `json:"recipient_email,omitempty"`
	DeliveryAddress string             `json:"delivery_address,omitempty"`
	DeliveryDate    *time.Time         `json:"delivery_date,omitempty"`
	Anonymous       bool               `json:"anonymous,omitempty"`
	QRCodeURL       string             `json:"qr_code_url,omitempty"`

	// UserID is set by the handler from the auth context, never bound from
	// the body. Nil means guest checkout.
	UserID *string `json:"-"`
}

// ProcessPaymentRequest carries the provider payment method reference.
type ProcessPaymentRequest struct {
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
}

// CreateOrder prices the line items inside one transaction and persists the
// order with its immutable item snapshots.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if len(req.Items) == 0 {
		util.OrdersFailedTotal.WithLabelValues("empty_order").Inc()
		return nil, apperr.Validation("order must contain at least one product")
	}

	lineItems := make([]pricing.LineItem, len(req.Items))
	for i, item := range req.Items {
		lineItems[i] = pricing.LineItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	order := &models.Order{
		ID:              uuid.New().String(),
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusUnpaid,
		UserID:          req.UserID,
		GiftCardID:      req.GiftCardID,
		Message:         req.Message,
		SenderName:      req.SenderName,
		SenderEmail:     req.SenderEmail,
		RecipientName:   req.RecipientName,
		RecipientEmail:  req.RecipientEmail,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryDate:    req.DeliveryDate,
		Anonymous:       req.Anonymous,
		QRCodeURL:       req.QRCodeURL,
	}

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		quote, err := pricing.ComputeTotal(ctx, tx, lineItems, req.GiftCardID)
		if err != nil {
			return err
		}

		order.TotalPrice = quote.Total
		order.GiftCard = quote.GiftCard
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for _, priced := range quote.Items {
			item := models.OrderItem{
				ID:        uuid.New().String(),
				OrderID:   order.ID,
				ProductID: priced.ProductID,
				Quantity:  priced.Quantity,
				UnitPrice: priced.UnitPrice,
			}
			if err := tx.CreateOrderItem(ctx, &item); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			order.Items = append(order.Items, item)
		}
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("create_failed").Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("total_price", order.TotalPrice.String()))

	s.publishOrderCreated(ctx, order)
	s.invalidateStats(ctx)

	return order, nil
}

// ProcessPayment captures payment for an unpaid order through the gateway.
// Order state is only mutated after the provider confirms the payment.
func (s *OrderService) ProcessPayment(ctx context.Context, orderID string, req *ProcessPaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ProcessPayment")
	defer span.End()

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		return nil, apperr.Conflict("order has already been paid")
	}

	customerID, err := s.resolveCustomer(ctx, order)
	if err != nil {
		util.PaymentFailedTotal.Inc()
		return nil, err
	}

	paymentID, err := s.gateway.CreateAndConfirmPayment(ctx, gateway.PaymentRequest{
		AmountMinorUnits: pricing.MinorUnits(order.TotalPrice),
		CustomerID:       customerID,
		PaymentMethodID:  req.PaymentMethodID,
		Description:      fmt.Sprintf("Order #%s", order.ID),
		OrderID:          order.ID,
	})
	if err != nil {
		util.PaymentFailedTotal.Inc()
		s.logger.Warn("Payment capture failed",
			zap.String("order_id", order.ID),
			zap.Error(err))
		return nil, err
	}

	if err := s.store.SetOrderPaid(ctx, order.ID, "STRIPE", paymentID); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Payment captured",
		zap.String("order_id", order.ID),
		zap.String("payment_id", paymentID))

	order, err = s.hydrate(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	s.publishOrderPaid(ctx, order)
	s.invalidateStats(ctx)

	return order, nil
}

// GetOrderByID returns the hydrated order. A non-nil requesterID must match
// the order's owner; nil is the administrator context and bypasses the check.
func (s *OrderService) GetOrderByID(ctx context.Context, orderID string, requesterID *string) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}

	if requesterID != nil && (order.UserID == nil || *order.UserID != *requesterID) {
		return nil, apperr.Forbidden("you are not authorized to view this order")
	}

	return s.hydrate(ctx, order.ID)
}

// ListOrders returns a page of orders plus the unpaginated total.
func (s *OrderService) ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, int, error) {
	return s.store.ListOrders(ctx, filter)
}

// UpdateOrderStatus applies an administrator-driven status transition.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID string, target models.OrderStatus) (*models.Order, error) {
	if !target.Valid() {
		return nil, apperr.Validation("unknown order status %q", target)
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}

	if !order.Status.CanTransitionTo(target) {
		return nil, apperr.Conflict("cannot change order status from %s to %s", order.Status, target)
	}

	if err := s.store.UpdateOrderStatus(ctx, orderID, target); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	s.invalidateStats(ctx)
	return s.hydrate(ctx, orderID)
}

// CancelOrder cancels an order, refunding first when it was paid. A refund
// failure aborts the cancellation so a CANCELLED/REFUNDED state always
// reflects a confirmed provider-side refund.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string, requesterID *string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}

	if requesterID != nil && (order.UserID == nil || *order.UserID != *requesterID) {
		return nil, apperr.Forbidden("you are not authorized to cancel this order")
	}

	if order.Status == models.OrderStatusDelivered || order.Status == models.OrderStatusCancelled {
		return nil, apperr.Conflict("cannot cancel order with status %s", order.Status)
	}

	refunded := false
	if order.PaymentStatus == models.PaymentStatusPaid && order.ExternalPaymentID != "" {
		if err := s.gateway.Refund(ctx, order.ExternalPaymentID); err != nil {
			util.RefundsTotal.WithLabelValues("failed").Inc()
			s.logger.Error("Refund failed, aborting cancellation",
				zap.String("order_id", order.ID),
				zap.String("payment_id", order.ExternalPaymentID),
				zap.Error(err))
			return nil, err
		}
		util.RefundsTotal.WithLabelValues("succeeded").Inc()
		refunded = true
	}

	paymentStatus := models.PaymentStatusCancelled
	if refunded {
		paymentStatus = models.PaymentStatusRefunded
	}

	if err := s.store.SetOrderCancelled(ctx, order.ID, paymentStatus); err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled",
		zap.String("order_id", order.ID),
		zap.Bool("refunded", refunded))

	s.publishOrderCancelled(ctx, order.ID, refunded)
	s.invalidateStats(ctx)

	return s.hydrate(ctx, order.ID)
}

// GetOrderStats aggregates dashboard figures, serving from the cache when a
// fresh copy exists.
func (s *OrderService) GetOrderStats(ctx context.Context) (*models.OrderStats, error) {
	if s.cache != nil {
		var cached models.OrderStats
		if hit, err := s.cache.GetCachedStats(ctx, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	counts, err := s.store.CountOrdersByStatus(ctx)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}

	revenue, err := s.store.SumPaidRevenue(ctx)
	if err != nil {
		return nil, err
	}

	recent, err := s.store.RecentOrders(ctx, 5)
	if err != nil {
		return nil, err
	}

	stats := &models.OrderStats{
		TotalOrders:  total,
		StatusCounts: counts,
		TotalRevenue: revenue,
		RecentOrders: recent,
	}

	if s.cache != nil {
		if err := s.cache.CacheStats(ctx, stats, statsCacheTTL); err != nil {
			s.logger.Warn("Failed to cache order stats", zap.Error(err))
		}
	}
	return stats, nil
}

// RefreshStats recomputes the dashboard stats and replaces the cached copy.
func (s *OrderService) RefreshStats(ctx context.Context) error {
	s.invalidateStats(ctx)
	_, err := s.GetOrderStats(ctx)
	return err
}

// resolveCustomer finds or creates the provider customer for an order. Guest
// orders get a customer keyed by the sender contact details.
func (s *OrderService) resolveCustomer(ctx context.Context, order *models.Order) (string, error) {
	if order.UserID != nil {
		user, err := s.store.GetUserByID(ctx, *order.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return "", apperr.NotFound("user not found")
		}
		if err != nil {
			return "", err
		}
		if user.ExternalCustomerID != "" {
			return user.ExternalCustomerID, nil
		}

		customerID, err := s.gateway.CreateCustomer(ctx, user.Email, user.Name)
		if err != nil {
			return "", err
		}
		if err := s.store.SetUserCustomerID(ctx, user.ID, customerID); err != nil {
			return "", fmt.Errorf("failed to record customer id: %w", err)
		}
		return customerID, nil
	}

	return s.gateway.CreateCustomer(ctx, order.SenderEmail, order.SenderName)
}

// hydrate loads the order with its items and gift card relation.
func (s *OrderService) hydrate(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	order.Items, err = s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.GiftCardID != nil {
		card, err := s.store.GetGiftCardByID(ctx, *order.GiftCardID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		order.GiftCard = card
	}
	return order, nil
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order) {
	if s.eventPublisher == nil {
		return
	}

	items := make([]models.OrderItemData, len(order.Items))
	for i, item := range order.Items {
		items[i] = models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderCreated),
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice,
		Items:      items,
	}
	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (s *OrderService) publishOrderPaid(ctx context.Context, order *models.Order) {
	if s.eventPublisher == nil {
		return
	}

	event := &models.OrderPaidEvent{
		BaseEvent:         newBaseEvent(models.EventTypeOrderPaid),
		OrderID:           order.ID,
		TotalPrice:        order.TotalPrice,
		ExternalPaymentID: order.ExternalPaymentID,
	}
	if err := s.eventPublisher.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}
}

func (s *OrderService) publishOrderCancelled(ctx context.Context, orderID string, refunded bool) {
	if s.eventPublisher == nil {
		return
	}

	event := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   orderID,
		Refunded:  refunded,
	}
	if err := s.eventPublisher.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}
}

func (s *OrderService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateStats(ctx); err != nil {
		s.logger.Warn("Failed to invalidate stats cache", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
