// internal/services/reconcile_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/database"
	"github.com/coinshop/coinshop-backend/internal/models"
)

// ReconcileService matches observed on-chain transactions to pending
// invoices. The webhook push path and the polling pull path both funnel
// into processSighting so matching logic cannot drift between them.
type ReconcileService struct {
	db            *gorm.DB
	config        *config.Config
	invoices      *InvoiceService
	orders        *OrderService
	subscriptions *SubscriptionService
	notifier      *NotificationService
	reader        ChainReader
}

type WebhookNotification struct {
	TxHash        string   `json:"tx_hash" validate:"required,tx_hash"`
	Chain         string   `json:"chain" validate:"required,chain"`
	Amount        float64  `json:"amount" validate:"required,gt=0"`
	Confirmations int      `json:"confirmations" validate:"min=0"`
	Addresses     []string `json:"addresses" validate:"required,min=1"`
}

// paymentSighting is one observation of a transaction, from either
// ingestion path.
type paymentSighting struct {
	Source        string
	Chain         models.Chain
	TxHash        string
	Amount        float64
	Confirmations int
	Addresses     []string
}

func (s paymentSighting) eventKey() string {
	return fmt.Sprintf("%s:%s:%d", s.Source, s.TxHash, s.Confirmations)
}

func NewReconcileService(db *gorm.DB, cfg *config.Config, invoices *InvoiceService,
	orders *OrderService, subscriptions *SubscriptionService,
	notifier *NotificationService, reader ChainReader) *ReconcileService {
	return &ReconcileService{
		db:            db,
		config:        cfg,
		invoices:      invoices,
		orders:        orders,
		subscriptions: subscriptions,
		notifier:      notifier,
		reader:        reader,
	}
}

// HandleWebhook processes a push notification from the chain notifier.
// Caller has already authenticated the sender. Returns nil for unknown
// addresses and replays so the sender does not retry forever; returns an
// error only for transient failures that are safe to redeliver.
func (s *ReconcileService) HandleWebhook(ctx context.Context, n *WebhookNotification) error {
	sighting := paymentSighting{
		Source:        "webhook",
		Chain:         models.Chain(n.Chain),
		TxHash:        n.TxHash,
		Amount:        n.Amount,
		Confirmations: n.Confirmations,
		Addresses:     n.Addresses,
	}

	// Push payloads are not trusted on their own: re-check the
	// transaction against the chain reader before mutating anything.
	// Notifiers list every output of the transaction, so the verdict
	// must be about the invoice's own address among the candidates.
	if s.reader != nil {
		var invoice models.Invoice
		err := s.db.WithContext(ctx).Select("address").
			Where("address IN ?", n.Addresses).
			First(&invoice).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("webhook address lookup: %w", err)
		}

		if err == nil {
			verifyCtx, cancel := context.WithTimeout(ctx, s.requestTimeout())
			result, verr := s.reader.VerifyTransaction(verifyCtx, sighting.Chain, n.TxHash, invoice.Address, n.Amount)
			cancel()
			if verr != nil {
				return fmt.Errorf("webhook verification: %w", verr)
			}
			if !result.Verified {
				logrus.WithFields(logrus.Fields{
					"tx_hash": n.TxHash,
					"chain":   n.Chain,
					"address": invoice.Address,
				}).Warn("Webhook transaction failed on-chain verification, ignoring")
				return nil
			}
			sighting.Amount = result.Amount
			sighting.Confirmations = result.Confirmations
		}
	}

	return s.processSighting(ctx, sighting)
}

// PollPending walks each chain's pending invoices (bounded to the grace
// window past expiry) and reconciles any new transactions found at their
// addresses. A single invoice failing does not abort the sweep.
func (s *ReconcileService) PollPending(ctx context.Context) (int, error) {
	if s.reader == nil {
		return 0, errors.New("no chain reader configured")
	}

	cutoff := time.Now().UTC().Add(-time.Duration(s.config.Crypto.GraceHours) * time.Hour)
	processed := 0

	for _, chain := range models.AllChains {
		var invoices []models.Invoice
		if err := s.db.WithContext(ctx).
			Where("chain = ? AND status = ? AND expires_at > ?", chain, models.InvoiceStatusPending, cutoff).
			Find(&invoices).Error; err != nil {
			return processed, fmt.Errorf("failed to list pending %s invoices: %w", chain, err)
		}

		for _, invoice := range invoices {
			readCtx, cancel := context.WithTimeout(ctx, s.requestTimeout())
			transactions, err := s.reader.GetTransactionsForAddress(readCtx, chain, invoice.Address)
			cancel()
			if err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"invoice": invoice.ID,
					"chain":   chain,
				}).Warn("Chain read failed, skipping invoice until next cycle")
				continue
			}

			for _, transaction := range transactions {
				sighting := paymentSighting{
					Source:        "poll",
					Chain:         chain,
					TxHash:        transaction.TxHash,
					Amount:        transaction.Amount,
					Confirmations: transaction.Confirmations,
					Addresses:     []string{invoice.Address},
				}
				if err := s.processSighting(ctx, sighting); err != nil {
					logrus.WithError(err).WithFields(logrus.Fields{
						"invoice": invoice.ID,
						"tx_hash": transaction.TxHash,
					}).Error("Failed to reconcile polled transaction")
					continue
				}
				processed++
			}
		}
	}

	return processed, nil
}

type activation struct {
	invoice models.Invoice
	parent  models.ParentRef
}

// processSighting runs the shared confirmation pipeline inside a single
// database transaction: record the signal, resolve the invoice, upsert
// the payment, and activate the parent when the payment newly confirms
// within tolerance. Any error rolls the whole transaction back; replays
// are harmless because of the event ledger and the payment merge rule.
func (s *ReconcileService) processSighting(ctx context.Context, sighting paymentSighting) error {
	var activated *activation

	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		event := &models.WebhookEvent{
			EventKey:      sighting.eventKey(),
			Source:        sighting.Source,
			TxHash:        sighting.TxHash,
			Confirmations: sighting.Confirmations,
			Payload: models.JSONB{
				"chain":     string(sighting.Chain),
				"amount":    sighting.Amount,
				"addresses": sighting.Addresses,
			},
		}
		if err := tx.Create(event).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return errAlreadyProcessed
			}
			return fmt.Errorf("failed to record signal: %w", err)
		}

		invoice, err := s.invoices.FindByAddress(tx, sighting.Addresses)
		if err != nil {
			if errors.Is(err, ErrInvoiceNotFound) {
				// Addresses can receive dust or unrelated transfers.
				return errNoInvoice
			}
			return err
		}

		if invoice.Chain != sighting.Chain {
			logrus.WithFields(logrus.Fields{
				"invoice":        invoice.ID,
				"invoice_chain":  invoice.Chain,
				"sighting_chain": sighting.Chain,
			}).Warn("Chain mismatch between sighting and invoice, ignoring")
			return errNoInvoice
		}

		parent, err := invoice.Parent()
		if err != nil {
			return fmt.Errorf("invoice %s: %w", invoice.ID, err)
		}

		threshold := s.confirmationThreshold(invoice.Chain)
		observedStatus := models.PaymentStatusPending
		if sighting.Confirmations >= threshold {
			observedStatus = models.PaymentStatusConfirmed
		}

		newlyConfirmed, err := s.upsertPayment(tx, invoice, parent, sighting, observedStatus)
		if err != nil {
			return err
		}
		if !newlyConfirmed {
			return nil
		}

		expected := expectedAmount(invoice)
		if expected <= 0 {
			logrus.WithField("invoice", invoice.ID).
				Warn("Invoice has no expected crypto amount, cannot match payment")
			return nil
		}

		if !AmountMatches(sighting.Amount, expected, s.config.Crypto.Tolerance) {
			// Not an error: acknowledging keeps the notifier from
			// retrying, and the invoice stays pending for manual review
			// or a follow-up payment.
			logrus.WithFields(logrus.Fields{
				"invoice":  invoice.ID,
				"tx_hash":  sighting.TxHash,
				"observed": sighting.Amount,
				"expected": expected,
			}).Warn("Confirmed payment outside tolerance, invoice stays pending")
			return nil
		}

		if err := s.invoices.markPaid(tx, invoice, sighting.TxHash); err != nil {
			return err
		}

		if parent.IsOrder() {
			if err := s.orders.ConfirmPaid(tx, parent.ID); err != nil {
				return err
			}
		} else {
			if err := s.subscriptions.Activate(tx, parent.ID); err != nil {
				return err
			}
		}

		activated = &activation{invoice: *invoice, parent: parent}
		return nil
	})

	if errors.Is(err, errAlreadyProcessed) || errors.Is(err, errNoInvoice) {
		logrus.WithFields(logrus.Fields{
			"tx_hash": sighting.TxHash,
			"source":  sighting.Source,
			"reason":  err.Error(),
		}).Debug("Sighting acknowledged without action")
		return nil
	}
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"tx_hash": sighting.TxHash,
			"source":  sighting.Source,
		}).Error("Reconciliation transaction rolled back")
		return err
	}

	// Outbound notification happens only after commit; its failure must
	// not touch the financial state.
	if activated != nil && s.notifier != nil {
		go s.notifier.NotifyInvoicePaid(&activated.invoice, activated.parent)
	}

	return nil
}

// upsertPayment creates or merges the payment row keyed by tx hash and
// reports whether its status newly became confirmed in this call.
func (s *ReconcileService) upsertPayment(tx *gorm.DB, invoice *models.Invoice,
	parent models.ParentRef, sighting paymentSighting, observed models.PaymentStatus) (bool, error) {

	var payment models.Payment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tx_hash = ?", sighting.TxHash).
		First(&payment).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		orderID, subscriptionID := parent.Columns()
		payment = models.Payment{
			OrderID:        orderID,
			SubscriptionID: subscriptionID,
			TxHash:         sighting.TxHash,
			Amount:         sighting.Amount,
			Currency:       invoice.Currency,
			Status:         observed,
			Confirmations:  sighting.Confirmations,
		}
		if err := tx.Create(&payment).Error; err != nil {
			if database.IsUniqueViolation(err) {
				// Lost a race with a concurrent sighting of the same
				// hash. Roll back; redelivery is safe.
				return false, fmt.Errorf("concurrent payment insert for tx %s: %w", sighting.TxHash, err)
			}
			return false, fmt.Errorf("failed to create payment: %w", err)
		}
		return observed == models.PaymentStatusConfirmed, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load payment: %w", err)
	}

	merged := mergePaymentStatus(payment.Status, observed)
	newlyConfirmed := merged == models.PaymentStatusConfirmed &&
		payment.Status != models.PaymentStatusConfirmed

	updates := map[string]interface{}{"status": merged}
	if sighting.Confirmations > payment.Confirmations {
		updates["confirmations"] = sighting.Confirmations
	}
	if err := tx.Model(&payment).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("failed to update payment: %w", err)
	}

	return newlyConfirmed, nil
}

// mergePaymentStatus applies the monotonic status rule: confirmed is
// sticky, while failed may recover to pending or confirmed when a later
// sighting contradicts a transient false failure.
func mergePaymentStatus(current, observed models.PaymentStatus) models.PaymentStatus {
	if current == models.PaymentStatusConfirmed {
		return current
	}
	return observed
}

// expectedAmount returns the invoice's expected crypto amount. Legacy
// rows without a snapshot fall back to the fiat amount at the recorded
// rate.
func expectedAmount(invoice *models.Invoice) float64 {
	if invoice.CryptoAmount != nil && *invoice.CryptoAmount > 0 {
		return *invoice.CryptoAmount
	}
	if invoice.UsdRate > 0 {
		return invoice.FiatAmount / invoice.UsdRate
	}
	return 0
}

func (s *ReconcileService) confirmationThreshold(chain models.Chain) int {
	if v, ok := s.config.Crypto.Confirmations[string(chain)]; ok && v > 0 {
		return v
	}
	return chain.DefaultConfirmations()
}

func (s *ReconcileService) requestTimeout() time.Duration {
	secs := s.config.Crypto.RequestTimeoutSecs
	if secs <= 0 {
		secs = 8
	}
	return time.Duration(secs) * time.Second
}
