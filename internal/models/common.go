// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type Chain string

const (
	ChainBTC       Chain = "BTC"
	ChainETH       Chain = "ETH"
	ChainLTC       Chain = "LTC"
	ChainUSDTTRC20 Chain = "USDT_TRC20"
)

// AllChains lists every chain invoices can be issued on.
var AllChains = []Chain{ChainBTC, ChainETH, ChainLTC, ChainUSDTTRC20}

// Currency returns the currency code stored on invoices and payments.
// Token chains settle in the token symbol: USDT_TRC20 stores USDT.
func (c Chain) Currency() string {
	switch c {
	case ChainUSDTTRC20:
		return "USDT"
	default:
		return string(c)
	}
}

// DefaultConfirmations is the chain-specific confirmation threshold used
// when no override is configured.
func (c Chain) DefaultConfirmations() int {
	switch c {
	case ChainBTC:
		return 1
	case ChainETH:
		return 12
	case ChainLTC:
		return 6
	case ChainUSDTTRC20:
		return 19
	default:
		return 6
	}
}

func (c Chain) Valid() bool {
	switch c {
	case ChainBTC, ChainETH, ChainLTC, ChainUSDTTRC20:
		return true
	}
	return false
}

type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusExpired   InvoiceStatus = "expired"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

type ShopTier string

const (
	ShopTierBasic ShopTier = "basic"
	ShopTierPro   ShopTier = "pro"
)

type UserType string

const (
	UserTypeCustomer UserType = "customer"
	UserTypeMerchant UserType = "merchant"
	UserTypeAdmin    UserType = "admin"
)
