// internal/models/shop.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type Shop struct {
	BaseModel
	OwnerID       uuid.UUID  `json:"owner_id" gorm:"type:uuid;not null;index"`
	Name          string     `json:"name" gorm:"size:255;not null"`
	Tier          ShopTier   `json:"tier" gorm:"type:varchar(20);default:'basic'"`
	Active        bool       `json:"active" gorm:"default:false"`
	NextPaymentAt *time.Time `json:"next_payment_at,omitempty"`
}

// ShopSubscription is a recurring shop-tier subscription. Its billing
// period is replaced, not extended, on every activation.
type ShopSubscription struct {
	BaseModel
	ShopID      uuid.UUID          `json:"shop_id" gorm:"type:uuid;not null;index"`
	Tier        ShopTier           `json:"tier" gorm:"type:varchar(20);not null"`
	Status      SubscriptionStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	Price       float64            `json:"price" gorm:"type:decimal(12,2);not null"`
	PeriodStart *time.Time         `json:"period_start,omitempty"`
	PeriodEnd   *time.Time         `json:"period_end,omitempty"`
	VerifiedAt  *time.Time         `json:"verified_at,omitempty"`

	Shop *Shop `json:"shop,omitempty" gorm:"foreignKey:ShopID"`
}
