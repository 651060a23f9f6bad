// internal/services/order_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coinshop/coinshop-backend/internal/models"
)

func TestCanTransitionOrder(t *testing.T) {
	allowed := []struct {
		from models.OrderStatus
		to   models.OrderStatus
	}{
		{models.OrderStatusPending, models.OrderStatusConfirmed},
		{models.OrderStatusPending, models.OrderStatusCancelled},
		{models.OrderStatusPending, models.OrderStatusExpired},
		{models.OrderStatusConfirmed, models.OrderStatusShipped},
		{models.OrderStatusConfirmed, models.OrderStatusCancelled},
		{models.OrderStatusShipped, models.OrderStatusDelivered},
	}
	for _, tc := range allowed {
		assert.NoError(t, CanTransitionOrder(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct {
		from models.OrderStatus
		to   models.OrderStatus
	}{
		{models.OrderStatusPending, models.OrderStatusShipped},
		{models.OrderStatusPending, models.OrderStatusDelivered},
		{models.OrderStatusConfirmed, models.OrderStatusDelivered},
		{models.OrderStatusShipped, models.OrderStatusCancelled},
		{models.OrderStatusDelivered, models.OrderStatusShipped},
		{models.OrderStatusCancelled, models.OrderStatusConfirmed},
		{models.OrderStatusExpired, models.OrderStatusPending},
	}
	for _, tc := range denied {
		err := CanTransitionOrder(tc.from, tc.to)
		assert.Error(t, err, "%s -> %s", tc.from, tc.to)

		var transitionErr *InvalidTransitionError
		assert.ErrorAs(t, err, &transitionErr)
	}
}

func TestCanTransitionOrderSameStateIsNoop(t *testing.T) {
	statuses := []models.OrderStatus{
		models.OrderStatusPending,
		models.OrderStatusConfirmed,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
		models.OrderStatusCancelled,
		models.OrderStatusExpired,
	}
	for _, status := range statuses {
		assert.NoError(t, CanTransitionOrder(status, status), status)
	}
}
