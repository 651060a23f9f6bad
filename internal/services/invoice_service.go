// internal/services/invoice_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/database"
	"github.com/coinshop/coinshop-backend/internal/models"
)

type InvoiceService struct {
	db      *gorm.DB
	config  *config.Config
	wallet  *WalletService
	prices  *PriceService
	watcher AddressWatcher
}

type PaymentStatusResponse struct {
	Status       models.InvoiceStatus `json:"status"`
	Chain        models.Chain         `json:"chain"`
	Address      string               `json:"address"`
	FiatAmount   float64              `json:"fiat_amount"`
	CryptoAmount *float64             `json:"crypto_amount"`
	Currency     string               `json:"currency"`
	ExpiresAt    time.Time            `json:"expires_at"`
	PaidAt       *time.Time           `json:"paid_at,omitempty"`
	TxHash       string               `json:"tx_hash,omitempty"`
}

func NewInvoiceService(db *gorm.DB, cfg *config.Config, wallet *WalletService, prices *PriceService, watcher AddressWatcher) *InvoiceService {
	return &InvoiceService{
		db:      db,
		config:  cfg,
		wallet:  wallet,
		prices:  prices,
		watcher: watcher,
	}
}

// CreateInvoice issues a pending invoice for a parent on the given chain.
// Idempotent per active invoice: if the parent already has an unexpired
// pending invoice, that invoice is returned instead of a new one.
func (s *InvoiceService) CreateInvoice(ctx context.Context, parent models.ParentRef, chain models.Chain) (*models.Invoice, error) {
	if !chain.Valid() {
		return nil, fmt.Errorf("unsupported chain: %s", chain)
	}

	if existing, err := s.FindActive(parent); err == nil {
		logrus.WithFields(logrus.Fields{
			"parent":  parent.String(),
			"invoice": existing.ID,
		}).Info("Active invoice already exists, returning it")
		return existing, nil
	} else if !errors.Is(err, ErrInvoiceNotFound) {
		return nil, err
	}

	fiatAmount, err := s.parentAmount(parent)
	if err != nil {
		return nil, err
	}
	if fiatAmount <= 0 {
		return nil, fmt.Errorf("parent %s has non-positive amount", parent.String())
	}

	cryptoAmount, rate, err := s.prices.ConvertFiat(ctx, chain, fiatAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to price invoice: %w", err)
	}

	address, index, err := s.wallet.NewAddress(ctx, chain)
	if err != nil {
		return nil, err
	}

	orderID, subscriptionID := parent.Columns()
	invoice := &models.Invoice{
		OrderID:         orderID,
		SubscriptionID:  subscriptionID,
		Chain:           chain,
		Address:         address,
		DerivationIndex: index,
		FiatAmount:      fiatAmount,
		CryptoAmount:    &cryptoAmount,
		UsdRate:         rate,
		Currency:        chain.Currency(),
		Status:          models.InvoiceStatusPending,
		ExpiresAt:       time.Now().UTC().Add(time.Duration(s.config.Crypto.InvoiceTTLMinutes) * time.Minute),
	}

	if err := s.db.Create(invoice).Error; err != nil {
		if database.IsUniqueViolation(err) {
			switch database.UniqueConstraint(err) {
			case "idx_invoices_active_order", "idx_invoices_active_subscription":
				// Lost a creation race: the winner's invoice is the one
				// the caller should see.
				if existing, ferr := s.FindActive(parent); ferr == nil {
					return existing, nil
				}
				// The blocking row is pending but past expiry and not
				// yet swept; retryable once the sweep expires it.
				return nil, fmt.Errorf("parent %s has an unsettled invoice awaiting expiry", parent.String())
			default:
				// Address collisions cannot happen with sequence-backed
				// indices; a violation here means the counter was reset.
				return nil, &AllocationError{Chain: chain, Err: err}
			}
		}
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	s.registerWatch(ctx, invoice)

	logrus.WithFields(logrus.Fields{
		"invoice": invoice.ID,
		"parent":  parent.String(),
		"chain":   chain,
		"address": address,
	}).Info("Invoice created")

	return invoice, nil
}

// registerWatch subscribes the invoice address to push notifications.
// Failures are logged, not surfaced: the reconciliation poller covers
// addresses the notifier never learns about.
func (s *InvoiceService) registerWatch(ctx context.Context, invoice *models.Invoice) {
	if s.watcher == nil || s.config.Crypto.ChainAPIBaseURL == "" {
		return
	}

	watchID, err := s.watcher.WatchAddress(ctx, invoice.Chain, invoice.Address)
	if err != nil {
		logrus.WithError(err).WithField("invoice", invoice.ID).
			Warn("Address watch registration failed, relying on polling")
		return
	}

	if err := s.db.Model(invoice).Update("webhook_id", watchID).Error; err != nil {
		logrus.WithError(err).WithField("invoice", invoice.ID).
			Warn("Failed to store watch registration id")
		return
	}
	invoice.WebhookID = &watchID
}

// FindActive returns the parent's pending invoice if it has not expired.
// Expiry is compared against an absolute UTC instant; a naive local
// comparison here makes status checks right after creation report 404.
func (s *InvoiceService) FindActive(parent models.ParentRef) (*models.Invoice, error) {
	var invoice models.Invoice
	err := s.scopeParent(s.db, parent).
		Where("status = ? AND expires_at > ?", models.InvoiceStatusPending, time.Now().UTC()).
		Order("created_at DESC").
		First(&invoice).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to find active invoice: %w", err)
	}

	return &invoice, nil
}

// FindByAddress resolves a receiving address to its invoice.
func (s *InvoiceService) FindByAddress(tx *gorm.DB, addresses []string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address IN ?", addresses).
		First(&invoice).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to resolve address: %w", err)
	}

	return &invoice, nil
}

// MarkPaid transitions an invoice to paid. Re-invoking on an already
// paid invoice is a no-op.
func (s *InvoiceService) MarkPaid(ctx context.Context, id uuid.UUID, txHash string) error {
	return database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var invoice models.Invoice
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&invoice, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvoiceNotFound
			}
			return err
		}
		return s.markPaid(tx, &invoice, txHash)
	})
}

func (s *InvoiceService) markPaid(tx *gorm.DB, invoice *models.Invoice, txHash string) error {
	if invoice.Status == models.InvoiceStatusPaid {
		return nil
	}
	if invoice.Status != models.InvoiceStatusPending {
		return fmt.Errorf("invoice %s is %s, cannot mark paid", invoice.ID, invoice.Status)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":  models.InvoiceStatusPaid,
		"tx_hash": txHash,
		"paid_at": &now,
	}
	if err := tx.Model(invoice).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark invoice paid: %w", err)
	}

	invoice.Status = models.InvoiceStatusPaid
	invoice.TxHash = txHash
	invoice.PaidAt = &now
	return nil
}

// MarkExpired transitions a pending invoice to expired. No-op for
// invoices already in a terminal state.
func (s *InvoiceService) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var invoice models.Invoice
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&invoice, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvoiceNotFound
			}
			return err
		}

		if invoice.Status != models.InvoiceStatusPending {
			return nil
		}

		return tx.Model(&invoice).Update("status", models.InvoiceStatusExpired).Error
	})
}

// SweepExpired expires pending invoices past their expiry. Invoices with
// a matched, unconfirmed payment in flight are kept eligible for a grace
// window past nominal expiry so slow confirmations are not abandoned.
func (s *InvoiceService) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	grace := time.Duration(s.config.Crypto.GraceHours) * time.Hour

	var candidates []models.Invoice
	if err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.InvoiceStatusPending, now).
		Find(&candidates).Error; err != nil {
		return 0, fmt.Errorf("failed to list expired invoices: %w", err)
	}

	expired := 0
	for _, invoice := range candidates {
		if now.Sub(invoice.ExpiresAt) < grace && s.hasPendingPayment(&invoice) {
			continue
		}

		if err := s.MarkExpired(ctx, invoice.ID); err != nil {
			logrus.WithError(err).WithField("invoice", invoice.ID).Error("Failed to expire invoice")
			continue
		}
		expired++
	}

	if expired > 0 {
		logrus.WithField("count", expired).Info("Expired stale invoices")
	}
	return expired, nil
}

// GetPaymentStatus reports the payment state for a parent. Expired and
// never-created invoices both read as not found.
func (s *InvoiceService) GetPaymentStatus(parent models.ParentRef) (*PaymentStatusResponse, error) {
	var invoices []models.Invoice
	if err := s.scopeParent(s.db, parent).
		Order("created_at DESC").
		Limit(10).
		Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch invoices: %w", err)
	}

	now := time.Now().UTC()
	for i := range invoices {
		if invoices[i].Status == models.InvoiceStatusPaid {
			return statusResponse(&invoices[i]), nil
		}
	}
	for i := range invoices {
		if invoices[i].Active(now) {
			return statusResponse(&invoices[i]), nil
		}
	}

	return nil, ErrInvoiceNotFound
}

func statusResponse(invoice *models.Invoice) *PaymentStatusResponse {
	return &PaymentStatusResponse{
		Status:       invoice.Status,
		Chain:        invoice.Chain,
		Address:      invoice.Address,
		FiatAmount:   invoice.FiatAmount,
		CryptoAmount: invoice.CryptoAmount,
		Currency:     invoice.Currency,
		ExpiresAt:    invoice.ExpiresAt,
		PaidAt:       invoice.PaidAt,
		TxHash:       invoice.TxHash,
	}
}

func (s *InvoiceService) scopeParent(db *gorm.DB, parent models.ParentRef) *gorm.DB {
	if parent.IsOrder() {
		return db.Where("order_id = ?", parent.ID)
	}
	return db.Where("subscription_id = ?", parent.ID)
}

func (s *InvoiceService) parentAmount(parent models.ParentRef) (float64, error) {
	if parent.IsOrder() {
		var order models.Order
		if err := s.db.First(&order, "id = ?", parent.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, ErrOrderNotFound
			}
			return 0, fmt.Errorf("failed to load order: %w", err)
		}
		if order.Status != models.OrderStatusPending {
			return 0, fmt.Errorf("order %s is %s, not payable", order.ID, order.Status)
		}
		return order.TotalAmount, nil
	}

	var subscription models.ShopSubscription
	if err := s.db.First(&subscription, "id = ?", parent.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("subscription %s not found", parent.ID)
		}
		return 0, fmt.Errorf("failed to load subscription: %w", err)
	}
	if subscription.Status == models.SubscriptionStatusCancelled {
		return 0, fmt.Errorf("subscription %s is cancelled, not payable", subscription.ID)
	}
	return subscription.Price, nil
}

func (s *InvoiceService) hasPendingPayment(invoice *models.Invoice) bool {
	parent, err := invoice.Parent()
	if err != nil {
		return false
	}

	query := s.db.Model(&models.Payment{}).Where("status = ?", models.PaymentStatusPending)
	if parent.IsOrder() {
		query = query.Where("order_id = ?", parent.ID)
	} else {
		query = query.Where("subscription_id = ?", parent.ID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		// Expiring is irreversible; when the payment check itself fails,
		// keep the invoice eligible and let the next sweep decide.
		logrus.WithError(err).WithField("invoice", invoice.ID).
			Warn("Pending-payment check failed, skipping expiry this cycle")
		return true
	}
	return count > 0
}
