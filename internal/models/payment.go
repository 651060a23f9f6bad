// internal/models/payment.go
package models

import (
	"github.com/google/uuid"
)

// Payment records an observed on-chain transaction matched to an invoice's
// parent. The tx hash is the idempotency key: later sightings of the same
// hash update this row, they never create another one.
type Payment struct {
	BaseModel
	OrderID        *uuid.UUID    `json:"order_id" gorm:"type:uuid;index"`
	SubscriptionID *uuid.UUID    `json:"subscription_id" gorm:"type:uuid;index"`
	TxHash         string        `json:"tx_hash" gorm:"size:128;not null;uniqueIndex"`
	Amount         float64       `json:"amount" gorm:"type:decimal(24,8);not null"`
	Currency       string        `json:"currency" gorm:"size:12;not null"`
	Status         PaymentStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	Confirmations  int           `json:"confirmations" gorm:"default:0"`
}

func (p *Payment) Parent() (ParentRef, error) {
	return RefFromColumns(p.OrderID, p.SubscriptionID)
}

// WebhookEvent is the processed-signals ledger. EventKey is the composite
// idempotency key (source + tx hash + confirmation count); its unique index
// is the final backstop against delivery replays racing each other.
type WebhookEvent struct {
	BaseModel
	EventKey      string `json:"event_key" gorm:"size:255;not null;uniqueIndex"`
	Source        string `json:"source" gorm:"size:32;not null;index"`
	TxHash        string `json:"tx_hash" gorm:"size:128;not null;index"`
	Confirmations int    `json:"confirmations"`
	Payload       JSONB  `json:"payload,omitempty" gorm:"type:jsonb"` // raw signal, kept for replay forensics
}
