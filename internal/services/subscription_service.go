// internal/services/subscription_service.go
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

	"github.com/coinshop/coinshop-backend/internal/database"
	"github.com/coinshop/coinshop-backend/internal/models"
)

const subscriptionPeriod = 30 * 24 * time.Hour

var tierPrices = map[models.ShopTier]float64{
	models.ShopTierBasic: 25.00,
	models.ShopTierPro:   60.00,
}

type SubscriptionService struct {
	db *gorm.DB
}

func NewSubscriptionService(db *gorm.DB) *SubscriptionService {
	return &SubscriptionService{db: db}
}

// CreateSubscription opens a pending subscription for a shop tier,
// ready to be invoiced.
func (s *SubscriptionService) CreateSubscription(ctx context.Context, shopID uuid.UUID, tier models.ShopTier) (*models.ShopSubscription, error) {
	price, ok := tierPrices[tier]
	if !ok {
		return nil, fmt.Errorf("unknown shop tier: %s", tier)
	}

	var shop models.Shop
	if err := s.db.WithContext(ctx).First(&shop, "id = ?", shopID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("shop %s not found", shopID)
		}
		return nil, fmt.Errorf("failed to load shop: %w", err)
	}

	subscription := &models.ShopSubscription{
		ShopID: shopID,
		Tier:   tier,
		Status: models.SubscriptionStatusPending,
		Price:  price,
	}
	if err := s.db.WithContext(ctx).Create(subscription).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	return subscription, nil
}

// Activate runs inside the reconciliation transaction when a
// subscription-linked invoice is paid. The billing period is replaced,
// not extended, on every activation; a renewal racing another renewal
// therefore converges on the same period instead of compounding it.
// A missing subscription row is logged and swallowed so a dangling
// invoice cannot crash the reconciliation pipeline.
func (s *SubscriptionService) Activate(tx *gorm.DB, subscriptionID uuid.UUID) error {
	var subscription models.ShopSubscription
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&subscription, "id = ?", subscriptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logrus.WithField("subscription", subscriptionID).
				Warn("Paid invoice references missing subscription, skipping activation")
			return nil
		}
		return fmt.Errorf("failed to lock subscription: %w", err)
	}

	now := time.Now().UTC()
	periodEnd := now.Add(subscriptionPeriod)

	updates := map[string]interface{}{
		"status":       models.SubscriptionStatusActive,
		"verified_at":  &now,
		"period_start": &now,
		"period_end":   &periodEnd,
	}
	if err := tx.Model(&subscription).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}

	shopUpdates := map[string]interface{}{
		"tier":            subscription.Tier,
		"active":          true,
		"next_payment_at": &periodEnd,
	}
	if err := tx.Model(&models.Shop{}).
		Where("id = ?", subscription.ShopID).
		Updates(shopUpdates).Error; err != nil {
		return fmt.Errorf("failed to update shop for subscription: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"subscription": subscriptionID,
		"shop":         subscription.ShopID,
		"tier":         subscription.Tier,
		"period_end":   periodEnd,
	}).Info("Subscription activated")

	return nil
}

// GetSubscription loads a subscription with its shop.
func (s *SubscriptionService) GetSubscription(id uuid.UUID) (*models.ShopSubscription, error) {
	var subscription models.ShopSubscription
	if err := s.db.Preload("Shop").First(&subscription, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("subscription %s not found", id)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &subscription, nil
}

// SweepLapsed expires active subscriptions whose billing period has
// ended and deactivates their shops.
func (s *SubscriptionService) SweepLapsed(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	var lapsed []models.ShopSubscription
	if err := s.db.WithContext(ctx).
		Where("status = ? AND period_end < ?", models.SubscriptionStatusActive, now).
		Find(&lapsed).Error; err != nil {
		return 0, fmt.Errorf("failed to list lapsed subscriptions: %w", err)
	}

	swept := 0
	for _, subscription := range lapsed {
		err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
			if err := tx.Model(&models.ShopSubscription{}).
				Where("id = ? AND status = ?", subscription.ID, models.SubscriptionStatusActive).
				Update("status", models.SubscriptionStatusExpired).Error; err != nil {
				return err
			}
			return tx.Model(&models.Shop{}).
				Where("id = ?", subscription.ShopID).
				Update("active", false).Error
		})
		if err != nil {
			logrus.WithError(err).WithField("subscription", subscription.ID).
				Error("Failed to expire lapsed subscription")
			continue
		}
		swept++
	}

	return swept, nil
}
