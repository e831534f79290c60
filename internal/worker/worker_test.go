package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"giftshop-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct {
	calls int
}

func (r *countingRefresher) RefreshStats(context.Context) error {
	r.calls++
	return nil
}

func orderEventMessage(t *testing.T, eventType string) kafka.Message {
	t.Helper()

	value, err := json.Marshal(models.OrderPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: eventType,
			Timestamp: time.Now(),
		},
		OrderID:    "order-1",
		TotalPrice: decimal.NewFromInt(91),
	})
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestHandleMessageRefreshesOnOrderEvents(t *testing.T) {
	refresher := &countingRefresher{}
	w := &StatsWorker{orders: refresher}

	for _, eventType := range []string{
		models.EventTypeOrderCreated,
		models.EventTypeOrderPaid,
		models.EventTypeOrderCancelled,
	} {
		require.NoError(t, w.handleMessage(context.Background(), orderEventMessage(t, eventType)))
	}

	assert.Equal(t, 3, refresher.calls)
}

func TestHandleMessageIgnoresUnrelatedEvents(t *testing.T) {
	refresher := &countingRefresher{}
	w := &StatsWorker{orders: refresher}

	require.NoError(t, w.handleMessage(context.Background(), orderEventMessage(t, "USER_REGISTERED")))
	assert.Zero(t, refresher.calls)
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	refresher := &countingRefresher{}
	w := &StatsWorker{orders: refresher}

	err := w.handleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	require.Error(t, err)
	assert.Zero(t, refresher.calls)
}
