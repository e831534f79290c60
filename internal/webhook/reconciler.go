package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"giftshop-service/internal/gateway"
	"giftshop-service/internal/models"
	"giftshop-service/internal/redisclient"
	"giftshop-service/internal/store"
	"giftshop-service/internal/util"

	"go.uber.org/zap"
)

const eventDedupTTL = 24 * time.Hour

// eventDeduper is the slice of the redis client used to skip redelivered
// events.
type eventDeduper interface {
	EventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// Reconciler applies asynchronously delivered payment provider events to
// local state. Events arrive at least once and in no guaranteed order; every
// update is an unconditional set to the status the event carries, so applying
// the same event twice yields the same final state.
type Reconciler struct {
	store   store.Store
	gateway gateway.Gateway
	dedup   eventDeduper
	logger  *zap.Logger
}

// NewReconciler creates a new webhook reconciler. dedup is optional; without
// it the idempotent-set semantics remain the sole defense against
// redelivery, which is still correct.
func NewReconciler(st store.Store, gw gateway.Gateway, dedup *redisclient.Client) *Reconciler {
	r := &Reconciler{
		store:   st,
		gateway: gw,
		logger:  util.GetLogger(),
	}
	if dedup != nil {
		r.dedup = dedup
	}
	return r
}

// HandleEvent verifies the raw payload signature and applies the event. An
// invalid signature fails closed before any state is touched. Unrecognized
// event kinds are acknowledged and ignored.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleEvent")
	defer span.End()

	event, err := r.gateway.VerifyWebhookSignature(payload, signatureHeader)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		r.logger.Warn("Webhook signature verification failed", zap.Error(err))
		return err
	}

	if r.dedup != nil {
		seen, err := r.dedup.EventProcessed(ctx, event.ID)
		if err != nil {
			// Degrade to idempotent-set semantics only.
			r.logger.Warn("Webhook dedup unavailable", zap.Error(err))
		} else if seen {
			util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
			r.logger.Info("Duplicate webhook event acknowledged",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type))
			return nil
		}
	}

	switch event.Type {
	case gateway.EventSubscriptionUpdated:
		err = r.applySubscriptionStatus(ctx, event.SubscriptionID, strings.ToUpper(event.SubscriptionStatus))
	case gateway.EventSubscriptionDeleted:
		err = r.applySubscriptionStatus(ctx, event.SubscriptionID, models.SubscriptionStatusCanceled)
	case gateway.EventPaymentFailed:
		err = r.applyPaymentFailed(ctx, event.SubscriptionID)
	default:
		util.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		r.logger.Info("Ignoring unrecognized webhook event",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type))
		return nil
	}

	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "failed").Inc()
		return err
	}

	if r.dedup != nil {
		// Recorded only after the update landed: a failed apply must leave
		// the event unmarked so the provider's retry is applied, not skipped.
		if _, err := r.dedup.MarkEventProcessed(ctx, event.ID, eventDedupTTL); err != nil {
			r.logger.Warn("Failed to record webhook event", zap.Error(err))
		}
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "applied").Inc()
	return nil
}

// applySubscriptionStatus sets the local subscription status to the
// provider's. An event for a subscription we never stored is acknowledged,
// not retried.
func (r *Reconciler) applySubscriptionStatus(ctx context.Context, externalID, status string) error {
	if externalID == "" {
		return nil
	}

	if _, err := r.store.GetSubscriptionByExternalID(ctx, externalID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("Webhook for unknown subscription",
				zap.String("external_subscription_id", externalID))
			return nil
		}
		return err
	}

	if err := r.store.UpdateSubscriptionStatus(ctx, externalID, status); err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}

	r.logger.Info("Subscription status reconciled",
		zap.String("external_subscription_id", externalID),
		zap.String("status", status))
	return nil
}

// applyPaymentFailed flags the failed recurring payment. The subscription is
// not auto-cancelled; the provider decides its fate and reports it through a
// later status event.
func (r *Reconciler) applyPaymentFailed(ctx context.Context, externalID string) error {
	if externalID == "" {
		return nil
	}

	if _, err := r.store.GetSubscriptionByExternalID(ctx, externalID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("Payment-failed webhook for unknown subscription",
				zap.String("external_subscription_id", externalID))
			return nil
		}
		return err
	}

	if err := r.store.MarkSubscriptionPaymentFailed(ctx, externalID); err != nil {
		return fmt.Errorf("failed to flag payment failure: %w", err)
	}

	r.logger.Warn("Recurring payment failed",
		zap.String("external_subscription_id", externalID))
	return nil
}
