package worker

import (
	"context"
	"encoding/json"
	"log"

	"giftshop-service/internal/broker"
	"giftshop-service/internal/models"
	"giftshop-service/internal/service"

	"github.com/segmentio/kafka-go"
)

// statsRefresher is the slice of the order service the worker needs.
type statsRefresher interface {
	RefreshStats(ctx context.Context) error
}

// StatsWorker keeps the dashboard stats cache in step with order mutations
// performed by any replica, by consuming the order event stream.
type StatsWorker struct {
	consumer *broker.Consumer
	orders   statsRefresher
}

// NewStatsWorker creates a new stats worker
func NewStatsWorker(consumer *broker.Consumer, orders *service.OrderService) *StatsWorker {
	return &StatsWorker{
		consumer: consumer,
		orders:   orders,
	}
}

// Start starts the worker
func (w *StatsWorker) Start(ctx context.Context) error {
	log.Println("Starting stats worker...")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

func (w *StatsWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		log.Printf("Failed to unmarshal event: %v", err)
		return err
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated, models.EventTypeOrderPaid, models.EventTypeOrderCancelled:
		if err := w.orders.RefreshStats(ctx); err != nil {
			log.Printf("Failed to refresh stats: %v", err)
		}
	}

	return nil
}

// Stop stops the worker
func (w *StatsWorker) Stop() error {
	log.Println("Stopping stats worker...")
	return w.consumer.Close()
}
