// internal/services/notification_service.go
package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/models"
)

// NotificationService pushes payment events to the platform notification
// endpoint. Delivery is best-effort: failures are logged, never surfaced
// to the reconciliation pipeline.
type NotificationService struct {
	baseURL string
	client  *http.Client
}

func NewNotificationService(cfg *config.Config) *NotificationService {
	return &NotificationService{
		baseURL: strings.TrimRight(cfg.Crypto.NotifyBaseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type invoicePaidEvent struct {
	Event      string    `json:"event"`
	InvoiceID  string    `json:"invoice_id"`
	ParentKind string    `json:"parent_kind"`
	ParentID   string    `json:"parent_id"`
	Chain      string    `json:"chain"`
	Currency   string    `json:"currency"`
	FiatAmount float64   `json:"fiat_amount"`
	TxHash     string    `json:"tx_hash"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NotifyInvoicePaid announces a confirmed invoice. Safe to call from a
// goroutine after the reconciliation transaction commits.
func (s *NotificationService) NotifyInvoicePaid(invoice *models.Invoice, parent models.ParentRef) {
	if s.baseURL == "" {
		logrus.WithFields(logrus.Fields{
			"invoice": invoice.ID,
			"parent":  parent.String(),
		}).Info("Invoice paid (no notification endpoint configured)")
		return
	}

	event := invoicePaidEvent{
		Event:      "invoice.paid",
		InvoiceID:  invoice.ID.String(),
		ParentKind: string(parent.Kind),
		ParentID:   parent.ID.String(),
		Chain:      string(invoice.Chain),
		Currency:   invoice.Currency,
		FiatAmount: invoice.FiatAmount,
		TxHash:     invoice.TxHash,
		OccurredAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode notification payload")
		return
	}

	resp, err := s.client.Post(s.baseURL+"/events", "application/json", bytes.NewReader(payload))
	if err != nil {
		logrus.WithError(err).WithField("invoice", invoice.ID).
			Warn("Failed to deliver payment notification")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logrus.WithFields(logrus.Fields{
			"invoice": invoice.ID,
			"status":  resp.StatusCode,
		}).Warn("Notification endpoint rejected payment event")
		return
	}

	logrus.WithField("invoice", invoice.ID).Debug("Payment notification delivered")
}
