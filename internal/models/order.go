// internal/models/order.go
package models

import (
	"github.com/google/uuid"
)

// Product carries the two stock counters this subsystem mutates.
// Available-to-sell is StockTotal - StockReserved; neither counter may
// go negative.
type Product struct {
	BaseModel
	ShopID        uuid.UUID `json:"shop_id" gorm:"type:uuid;not null;index"`
	Title         string    `json:"title" gorm:"size:255;not null"`
	Price         float64   `json:"price" gorm:"type:decimal(12,2);not null"`
	StockTotal    int       `json:"stock_total" gorm:"not null;default:0"`
	StockReserved int       `json:"stock_reserved" gorm:"not null;default:0"`
}

func (p *Product) Available() int {
	return p.StockTotal - p.StockReserved
}

type Order struct {
	BaseModel
	UserID      uuid.UUID   `json:"user_id" gorm:"type:uuid;not null;index"`
	Status      OrderStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	TotalAmount float64     `json:"total_amount" gorm:"type:decimal(12,2);not null"`

	// Relationships
	Items    []OrderItem `json:"items,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Invoices []Invoice   `json:"invoices,omitempty" gorm:"foreignKey:OrderID"`
}

type OrderItem struct {
	BaseModel
	OrderID   uuid.UUID `json:"order_id" gorm:"type:uuid;not null;index"`
	ProductID uuid.UUID `json:"product_id" gorm:"type:uuid;not null;index"`
	Quantity  int       `json:"quantity" gorm:"not null"`
	UnitPrice float64   `json:"unit_price" gorm:"type:decimal(12,2);not null"`

	Product *Product `json:"product,omitempty" gorm:"foreignKey:ProductID"`
}
