package webhook

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

// verifyOnlyGateway implements the gateway with a table of pre-verified
// events. A payload that is not in the table fails signature verification.
type verifyOnlyGateway struct {
	events map[string]*gateway.Event
}

func (g *verifyOnlyGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) (*gateway.Event, error) {
	if signatureHeader != "valid" {
		return nil, apperr.InvalidSignature(nil)
	}
	event, ok := g.events[string(payload)]
	if !ok {
		return nil, apperr.InvalidSignature(nil)
	}
	return event, nil
}

func (g *verifyOnlyGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	return "", nil
}

func (g *verifyOnlyGateway) CreateAndConfirmPayment(ctx context.Context, req gateway.PaymentRequest) (string, error) {
	return "", nil
}

func (g *verifyOnlyGateway) Refund(ctx context.Context, paymentID string) error { return nil }

func (g *verifyOnlyGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return nil
}

func (g *verifyOnlyGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	return nil
}

func (g *verifyOnlyGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return nil
}

func (g *verifyOnlyGateway) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*gateway.CardDetails, error) {
	return nil, nil
}

func (g *verifyOnlyGateway) CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string) (string, error) {
	return "", nil
}

func (g *verifyOnlyGateway) GetPrice(ctx context.Context, priceID string) (*gateway.PriceInfo, error) {
	return nil, nil
}

// mapDeduper is an in-memory eventDeduper.
type mapDeduper struct {
	seen    map[string]bool
	readErr error
}

func newMapDeduper() *mapDeduper {
	return &mapDeduper{seen: make(map[string]bool)}
}

func (d *mapDeduper) EventProcessed(_ context.Context, eventID string) (bool, error) {
	if d.readErr != nil {
		return false, d.readErr
	}
	return d.seen[eventID], nil
}

func (d *mapDeduper) MarkEventProcessed(_ context.Context, eventID string, _ time.Duration) (bool, error) {
	first := !d.seen[eventID]
	d.seen[eventID] = true
	return first, nil
}

// flakyStore fails the first n subscription status updates.
type flakyStore struct {
	store.Store
	failures int
}

func (s *flakyStore) UpdateSubscriptionStatus(ctx context.Context, externalID, status string) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	return s.Store.UpdateSubscriptionStatus(ctx, externalID, status)
}

func newTestReconciler(t *testing.T) (*Reconciler, *store.Memory, *verifyOnlyGateway) {
	t.Helper()

	mem := store.NewMemory()
	require.NoError(t, mem.CreateSubscription(context.Background(), &models.Subscription{
		ID:                     "local-1",
		UserID:                 "user-1",
		ExternalSubscriptionID: "sub_1",
		Status:                 models.SubscriptionStatusPending,
	}))

	gw := &verifyOnlyGateway{events: map[string]*gateway.Event{}}
	return NewReconciler(mem, gw, nil), mem, gw
}

func TestHandleEventInvalidSignature(t *testing.T) {
	rec, mem, _ := newTestReconciler(t)

	err := rec.HandleEvent(context.Background(), []byte("payload"), "bogus")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidSignature))

	// Nothing was touched.
	sub, err := mem.GetSubscriptionByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPending, sub.Status)
}

func TestHandleSubscriptionUpdated(t *testing.T) {
	rec, mem, gw := newTestReconciler(t)
	gw.events["evt-1"] = &gateway.Event{
		ID:                 "evt_1",
		Type:               gateway.EventSubscriptionUpdated,
		SubscriptionID:     "sub_1",
		SubscriptionStatus: "active",
	}

	require.NoError(t, rec.HandleEvent(context.Background(), []byte("evt-1"), "valid"))

	sub, err := mem.GetSubscriptionByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestHandleSubscriptionUpdatedIsIdempotent(t *testing.T) {
	rec, mem, gw := newTestReconciler(t)
	gw.events["evt-1"] = &gateway.Event{
		ID:                 "evt_1",
		Type:               gateway.EventSubscriptionUpdated,
		SubscriptionID:     "sub_1",
		SubscriptionStatus: "active",
	}

	// Redelivery of the same event lands on the same final state.
	require.NoError(t, rec.HandleEvent(context.Background(), []byte("evt-1"), "valid"))
	require.NoError(t, rec.HandleEvent(context.Background(), []byte("evt-1"), "valid"))

	sub, err := mem.GetSubscriptionByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestHandleSubscriptionDeleted(t *testing.T) {
	rec, mem, gw := newTestReconciler(t)
	gw.events["evt-2"] = &gateway.Event{
		ID:             "evt_2",
		Type:           gateway.EventSubscriptionDeleted,
		SubscriptionID: "sub_1",
	}

	require.NoError(t, rec.HandleEvent(context.Background(), []byte("evt-2"), "valid"))

	sub, err := mem.GetSubscriptionByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
}

func TestHandlePaymentFailed(t *testing.T) {
	rec, mem, gw := newTestReconciler(t)
	gw.events["evt-3"] = &gateway.Event{
		ID:             "evt_3",
		Type:           gateway.EventPaymentFailed,
		SubscriptionID: "sub_1",
	}

	require.NoError(t, rec.HandleEvent(context.Background(), []byte("evt-3"), "valid"))

	// Flagged, not cancelled; the provider decides the subscription's fate.
	sub, err := mem.GetSubscriptionByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.True(t, sub.PaymentFailed)
	assert.Equal(t, models.SubscriptionStatusPending, sub.Status)
}

func TestHandleUnknownEventTypeAcked(t *testing.T) {
	rec, _, gw := newTestReconciler(t)
	gw.events["evt-4"] = &gateway.Event{
		ID:   "evt_4",
		Type: "charge.succeeded",
	}

	assert.NoError(t, rec.HandleEvent(context.Background(), []byte("evt-4"), "valid"))
}

func TestHandleEventForUnknownSubscriptionAcked(t *testing.T) {
	rec, _, gw := newTestReconciler(t)
	gw.events["evt-5"] = &gateway.Event{
		ID:                 "evt_5",
		Type:               gateway.EventSubscriptionUpdated,
		SubscriptionID:     "sub_never_seen",
		SubscriptionStatus: "active",
	}

	// Acknowledged so the provider stops retrying a hopeless delivery.
	assert.NoError(t, rec.HandleEvent(context.Background(), []byte("evt-5"), "valid"))
}

func TestHandleEventRetriedAfterFailedApply(t *testing.T) {
	rec, mem, gw := newTestReconciler(t)
	dedup := newMapDeduper()
	rec.dedup = dedup
	rec.store = &flakyStore{Store: mem, failures: 1}

	gw.events["evt-6"] = &gateway.Event{
		ID:                 "evt_6",
		Type:               gateway.EventSubscriptionUpdated,
		SubscriptionID:     "sub_1",
		SubscriptionStatus: "active",
	}

	// The first delivery fails mid-apply and must not be recorded as seen.
	require.Error(t, rec.HandleEvent(context.Background(), []byte("evt-6"), "valid"))
	assert.False(t, dedup.seen["evt_6"])

	sub, err := mem.GetSubscriptionByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPending, sub.Status)

	// The provider's redelivery is applied, then recorded.
	require.NoError(t, rec.HandleEvent(context.Background(), []byte("evt-6"), "valid"))
	assert.True(t, dedup.seen["evt_6"])

	sub, err = mem.GetSubscriptionByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestHandleEventSkipsRecordedDelivery(t *testing.T) {
	rec, mem, gw := newTestReconciler(t)
	dedup := newMapDeduper()
	rec.dedup = dedup

	gw.events["evt-7"] = &gateway.Event{
		ID:             "evt_7",
		Type:           gateway.EventSubscriptionDeleted,
		SubscriptionID: "sub_1",
	}

	require.NoError(t, rec.HandleEvent(context.Background(), []byte("evt-7"), "valid"))

	// Flip the row back; a recorded redelivery must not touch it again.
	require.NoError(t, mem.UpdateSubscriptionStatus(context.Background(), "sub_1", models.SubscriptionStatusActive))
	require.NoError(t, rec.HandleEvent(context.Background(), []byte("evt-7"), "valid"))

	sub, err := mem.GetSubscriptionByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestHandleEventAppliesWhenDedupUnavailable(t *testing.T) {
	rec, mem, gw := newTestReconciler(t)
	dedup := newMapDeduper()
	dedup.readErr = errors.New("connection refused")
	rec.dedup = dedup

	gw.events["evt-8"] = &gateway.Event{
		ID:                 "evt_8",
		Type:               gateway.EventSubscriptionUpdated,
		SubscriptionID:     "sub_1",
		SubscriptionStatus: "active",
	}

	require.NoError(t, rec.HandleEvent(context.Background(), []byte("evt-8"), "valid"))

	sub, err := mem.GetSubscriptionByExternalID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}
