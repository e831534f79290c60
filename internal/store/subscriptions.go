package store

import (
	"context"

	"giftshop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateSubscription inserts a new subscription row
func (s *Postgres) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, package_id, external_subscription_id, external_price_id,
			status, payment_failed, delivery_location, anonymous,
			next_delivery_date, frequency
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	row := s.q.QueryRowxContext(ctx, query,
		sub.ID, sub.UserID, sub.PackageID, sub.ExternalSubscriptionID, sub.ExternalPriceID,
		sub.Status, sub.PaymentFailed, sub.DeliveryLocation, sub.Anonymous,
		sub.NextDeliveryDate, sub.Frequency)
	return row.Scan(&sub.CreatedAt, &sub.UpdatedAt)
}

// GetSubscriptionByExternalID retrieves a subscription by its provider-side ID
func (s *Postgres) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := sqlx.GetContext(ctx, s.q, &sub,
		"SELECT * FROM subscriptions WHERE external_subscription_id = $1", externalID)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateSubscriptionStatus unconditionally sets the local status to the
// provider's. Re-applying the same status is a no-op by construction.
func (s *Postgres) UpdateSubscriptionStatus(ctx context.Context, externalID, status string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE subscriptions SET status = $1, updated_at = NOW() WHERE external_subscription_id = $2",
		status, externalID)
	return err
}

// MarkSubscriptionPaymentFailed flags a failed recurring payment without
// changing the subscription status.
func (s *Postgres) MarkSubscriptionPaymentFailed(ctx context.Context, externalID string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE subscriptions SET payment_failed = TRUE, updated_at = NOW() WHERE external_subscription_id = $1",
		externalID)
	return err
}
