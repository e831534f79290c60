package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	statuses := []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}

	allowed := map[OrderStatus]map[OrderStatus]bool{
		OrderStatusPending: {
			OrderStatusProcessing: true,
			OrderStatusCancelled:  true,
		},
		OrderStatusProcessing: {
			OrderStatusDelivered: true,
			OrderStatusCancelled: true,
		},
		OrderStatusDelivered: {},
		OrderStatusCancelled: {},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			got := from.CanTransitionTo(to)
			want := allowed[from][to]
			assert.Equal(t, want, got, "transition %s -> %s", from, to)
		}
	}
}

func TestCanTransitionToSelf(t *testing.T) {
	for _, s := range []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusDelivered,
		OrderStatusCancelled,
	} {
		assert.False(t, s.CanTransitionTo(s), "self transition %s", s)
	}
}

func TestOrderStatusValid(t *testing.T) {
	assert.True(t, OrderStatusPending.Valid())
	assert.True(t, OrderStatusProcessing.Valid())
	assert.True(t, OrderStatusDelivered.Valid())
	assert.True(t, OrderStatusCancelled.Valid())

	assert.False(t, OrderStatus("SHIPPED").Valid())
	assert.False(t, OrderStatus("").Valid())
	assert.False(t, OrderStatus("pending").Valid())
}
