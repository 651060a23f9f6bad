// internal/models/invoice.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Invoice is a single payment request for exactly one parent record.
// Exactly one of OrderID / SubscriptionID is set; the receiving address
// is unique across all invoices ever issued.
type Invoice struct {
	BaseModel
	OrderID         *uuid.UUID    `json:"order_id" gorm:"type:uuid;index"`
	SubscriptionID  *uuid.UUID    `json:"subscription_id" gorm:"type:uuid;index"`
	Chain           Chain         `json:"chain" gorm:"type:varchar(12);not null;index"`
	Address         string        `json:"address" gorm:"size:128;not null;uniqueIndex"`
	DerivationIndex uint64        `json:"derivation_index" gorm:"not null"`
	FiatAmount      float64       `json:"fiat_amount" gorm:"type:decimal(12,2);not null"`
	CryptoAmount    *float64      `json:"crypto_amount" gorm:"type:decimal(24,8)"` // nullable for legacy rows only
	UsdRate         float64       `json:"usd_rate" gorm:"type:decimal(18,8)"`
	Currency        string        `json:"currency" gorm:"size:12;not null"`
	WebhookID       *string       `json:"webhook_id,omitempty" gorm:"size:128"`
	Status          InvoiceStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	TxHash          string        `json:"tx_hash,omitempty" gorm:"size:128"`
	ExpiresAt       time.Time     `json:"expires_at" gorm:"not null;index"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`

	// Relationships
	Order        *Order            `json:"order,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Subscription *ShopSubscription `json:"subscription,omitempty" gorm:"foreignKey:SubscriptionID;constraint:OnDelete:CASCADE"`
}

// Parent returns the invoice's parent as a tagged ref.
func (i *Invoice) Parent() (ParentRef, error) {
	return RefFromColumns(i.OrderID, i.SubscriptionID)
}

// Active reports whether the invoice can still accept a payment at the
// given instant. Comparisons are done on absolute instants; callers pass
// time.Now().UTC().
func (i *Invoice) Active(now time.Time) bool {
	return i.Status == InvoiceStatusPending && i.ExpiresAt.After(now)
}
