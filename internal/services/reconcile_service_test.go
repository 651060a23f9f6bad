// internal/services/reconcile_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coinshop/coinshop-backend/internal/models"
)

func TestMergePaymentStatusConfirmedIsSticky(t *testing.T) {
	// Once confirmed, no later observation can demote the payment.
	assert.Equal(t, models.PaymentStatusConfirmed,
		mergePaymentStatus(models.PaymentStatusConfirmed, models.PaymentStatusPending))
	assert.Equal(t, models.PaymentStatusConfirmed,
		mergePaymentStatus(models.PaymentStatusConfirmed, models.PaymentStatusFailed))
	assert.Equal(t, models.PaymentStatusConfirmed,
		mergePaymentStatus(models.PaymentStatusConfirmed, models.PaymentStatusConfirmed))
}

func TestMergePaymentStatusProgresses(t *testing.T) {
	assert.Equal(t, models.PaymentStatusConfirmed,
		mergePaymentStatus(models.PaymentStatusPending, models.PaymentStatusConfirmed))
	assert.Equal(t, models.PaymentStatusFailed,
		mergePaymentStatus(models.PaymentStatusPending, models.PaymentStatusFailed))

	// A failed payment may recover if a later sighting contradicts the
	// earlier verdict.
	assert.Equal(t, models.PaymentStatusPending,
		mergePaymentStatus(models.PaymentStatusFailed, models.PaymentStatusPending))
	assert.Equal(t, models.PaymentStatusConfirmed,
		mergePaymentStatus(models.PaymentStatusFailed, models.PaymentStatusConfirmed))
}

func TestSightingEventKey(t *testing.T) {
	sighting := paymentSighting{
		Source:        "webhook",
		TxHash:        "abc123",
		Confirmations: 3,
	}
	assert.Equal(t, "webhook:abc123:3", sighting.eventKey())

	// The same transaction at a higher confirmation count is a new
	// signal, not a replay.
	sighting.Confirmations = 4
	assert.Equal(t, "webhook:abc123:4", sighting.eventKey())

	// The poll path never collides with the webhook path.
	sighting.Source = "poll"
	assert.Equal(t, "poll:abc123:4", sighting.eventKey())
}

func TestExpectedAmount(t *testing.T) {
	snapshot := 0.0025
	invoice := &models.Invoice{
		CryptoAmount: &snapshot,
		FiatAmount:   100,
		UsdRate:      40000,
	}
	assert.Equal(t, snapshot, expectedAmount(invoice))

	// Legacy rows carry no crypto snapshot; derive it from the recorded
	// rate instead.
	invoice.CryptoAmount = nil
	assert.InDelta(t, 0.0025, expectedAmount(invoice), 1e-12)

	invoice.UsdRate = 0
	assert.Zero(t, expectedAmount(invoice))
}
