package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"giftshop-service/internal/apperr"
	"giftshop-service/internal/gateway"
	"giftshop-service/internal/models"
	"giftshop-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubscriptionTestService(t *testing.T) (*SubscriptionService, *store.Memory, *stubGateway) {
	t.Helper()

	mem := store.NewMemory()
	mem.PutUser(models.User{
		ID:                 "user-1",
		Name:               "Ana",
		Email:              "ana@example.com",
		ExternalCustomerID: "cus_stub",
	})
	mem.PutUser(models.User{ID: "user-2", Name: "Ben", Email: "ben@example.com"})

	gw := &stubGateway{}
	return NewSubscriptionService(mem, gw), mem, gw
}

func TestCreateSubscription(t *testing.T) {
	svc, mem, _ := newSubscriptionTestService(t)

	sub, err := svc.CreateSubscription(context.Background(), "user-1", &CreateSubscriptionRequest{
		PriceID:          "price_monthly",
		PaymentMethodID:  "pm_card",
		PackageID:        "seasonal-bouquet",
		DeliveryLocation: "Main St 5",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusPending, sub.Status)
	assert.Equal(t, "sub_stub", sub.ExternalSubscriptionID)
	assert.Equal(t, "1_month", sub.Frequency)
	require.NotNil(t, sub.NextDeliveryDate)
	assert.WithinDuration(t, time.Now().AddDate(0, 1, 0), *sub.NextDeliveryDate, time.Minute)

	stored, err := mem.GetSubscriptionByExternalID(context.Background(), "sub_stub")
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
	assert.False(t, stored.PaymentFailed)

	user, err := mem.GetUserByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "pm_card", user.ExternalPaymentMethodID)
}

// bindingFailStore rejects payment-method binding writes, inside
// transactions too.
type bindingFailStore struct {
	store.Store
}

func (s *bindingFailStore) SetUserPaymentMethod(context.Context, string, string) error {
	return errors.New("connection reset")
}

func (s *bindingFailStore) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx store.Store) error {
		return fn(&bindingFailStore{Store: tx})
	})
}

func TestCreateSubscriptionRollsBackOnBindingFailure(t *testing.T) {
	_, mem, _ := newSubscriptionTestService(t)
	svc := NewSubscriptionService(&bindingFailStore{Store: mem}, &stubGateway{})

	_, err := svc.CreateSubscription(context.Background(), "user-1", &CreateSubscriptionRequest{
		PriceID:          "price_monthly",
		PaymentMethodID:  "pm_card",
		PackageID:        "seasonal-bouquet",
		DeliveryLocation: "Main St 5",
	})
	require.Error(t, err)

	// Without the binding, the subscription row is rolled back too.
	_, err = mem.GetSubscriptionByExternalID(context.Background(), "sub_stub")
	assert.ErrorIs(t, err, store.ErrNotFound)

	user, err := mem.GetUserByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, user.ExternalPaymentMethodID)
}

func TestCreateSubscriptionWithoutCustomer(t *testing.T) {
	svc, _, _ := newSubscriptionTestService(t)

	_, err := svc.CreateSubscription(context.Background(), "user-2", &CreateSubscriptionRequest{
		PriceID:         "price_monthly",
		PaymentMethodID: "pm_card",
		PackageID:       "seasonal-bouquet",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestCreateSubscriptionUnknownUser(t *testing.T) {
	svc, _, _ := newSubscriptionTestService(t)

	_, err := svc.CreateSubscription(context.Background(), "missing", &CreateSubscriptionRequest{
		PriceID:         "price_monthly",
		PaymentMethodID: "pm_card",
		PackageID:       "seasonal-bouquet",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestNextDeliveryDate(t *testing.T) {
	from := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		interval string
		count    int64
		want     time.Time
	}{
		{"day", 3, from.AddDate(0, 0, 3)},
		{"week", 2, from.AddDate(0, 0, 14)},
		{"month", 1, from.AddDate(0, 1, 0)},
		{"year", 1, from.AddDate(1, 0, 0)},
		{"month", 0, from.AddDate(0, 1, 0)}, // zero count defaults to one
	}

	for _, tc := range cases {
		got := nextDeliveryDate(from, &gateway.PriceInfo{Interval: tc.interval, IntervalCount: tc.count})
		require.NotNil(t, got, "interval %s", tc.interval)
		assert.Equal(t, tc.want, *got, "interval %s count %d", tc.interval, tc.count)
	}

	assert.Nil(t, nextDeliveryDate(from, &gateway.PriceInfo{Interval: "fortnight", IntervalCount: 1}))
}
