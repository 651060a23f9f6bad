// internal/services/order_service.go
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
	"github.com/coinshop/coinshop-backend/internal/utils"
)

// orderTransitions is the single source of truth for the order state
// machine. Terminal states have no outgoing edges.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:   {models.OrderStatusConfirmed, models.OrderStatusCancelled, models.OrderStatusExpired},
	models.OrderStatusConfirmed: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:   {models.OrderStatusDelivered},
}

// CanTransitionOrder validates an order status edge. Same-state
// transitions are idempotent no-ops and always allowed.
func CanTransitionOrder(current, next models.OrderStatus) error {
	if current == next {
		return nil
	}
	for _, allowed := range orderTransitions[current] {
		if allowed == next {
			return nil
		}
	}
	return &InvalidTransitionError{From: current, To: next}
}

type OrderService struct {
	db     *gorm.DB
	config *config.Config
}

type OrderItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

type CreateOrderRequest struct {
	Items []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

func NewOrderService(db *gorm.DB, cfg *config.Config) *OrderService {
	return &OrderService{
		db:     db,
		config: cfg,
	}
}

// CreateOrder places a pending order, reserving stock for each line item
// under row locks. Two concurrent orders competing for the last units of
// a product serialize on the product row: exactly one wins, the other
// receives ErrInsufficientStock.
func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.UUID, req *CreateOrderRequest) (*models.Order, error) {
	var order *models.Order

	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var total float64
		items := make([]models.OrderItem, 0, len(req.Items))

		for _, item := range req.Items {
			var product models.Product
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&product, "id = ?", item.ProductID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrProductNotFound
				}
				return fmt.Errorf("failed to lock product: %w", err)
			}

			if product.Available() < item.Quantity {
				return ErrInsufficientStock
			}

			if err := tx.Model(&product).UpdateColumn("stock_reserved",
				gorm.Expr("stock_reserved + ?", item.Quantity)).Error; err != nil {
				return fmt.Errorf("failed to reserve stock: %w", err)
			}

			total += product.Price * float64(item.Quantity)
			items = append(items, models.OrderItem{
				ProductID: product.ID,
				Quantity:  item.Quantity,
				UnitPrice: product.Price,
			})
		}

		order = &models.Order{
			UserID:      userID,
			Status:      models.OrderStatusPending,
			TotalAmount: total,
			Items:       items,
		}
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

// ListOrders pages through a user's orders, newest first by default.
func (s *OrderService) ListOrders(userID uuid.UUID, params utils.PaginationParams) (*utils.PaginationResult, error) {
	query := s.db.Model(&models.Order{}).Where("user_id = ?", userID)
	if params.Search != "" {
		query = query.Where("status = ?", params.Search)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	var orders []models.Order
	query = utils.ApplySort(query, params, []string{"created_at", "total_amount", "status"})
	if err := utils.ApplyPagination(query, params).
		Preload("Items").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	result := utils.CreatePaginationResult(orders, total, params)
	return &result, nil
}

func (s *OrderService) GetOrder(id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := s.db.Preload("Items").Preload("Items.Product").
		First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &order, nil
}

// ConfirmPaid transitions an order to confirmed within the caller's
// reconciliation transaction, converting its stock reservation into a
// permanent decrement. Idempotent for already-confirmed orders.
func (s *OrderService) ConfirmPaid(tx *gorm.DB, orderID uuid.UUID) error {
	var order models.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").
		First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if order.Status == models.OrderStatusConfirmed {
		return nil
	}
	if err := CanTransitionOrder(order.Status, models.OrderStatusConfirmed); err != nil {
		return err
	}

	for _, item := range order.Items {
		if err := s.commitReservation(tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	if err := tx.Model(&order).Update("status", models.OrderStatusConfirmed).Error; err != nil {
		return fmt.Errorf("failed to confirm order: %w", err)
	}

	logrus.WithField("order", orderID).Info("Order confirmed")
	return nil
}

// commitReservation converts reserved units into a permanent decrement.
func (s *OrderService) commitReservation(tx *gorm.DB, productID uuid.UUID, quantity int) error {
	var product models.Product
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&product, "id = ?", productID).Error; err != nil {
		return fmt.Errorf("failed to lock product %s: %w", productID, err)
	}

	if product.StockReserved < quantity || product.StockTotal < quantity {
		return fmt.Errorf("product %s stock inconsistent: total=%d reserved=%d commit=%d",
			productID, product.StockTotal, product.StockReserved, quantity)
	}

	return tx.Model(&product).UpdateColumns(map[string]interface{}{
		"stock_total":    gorm.Expr("stock_total - ?", quantity),
		"stock_reserved": gorm.Expr("stock_reserved - ?", quantity),
	}).Error
}

// releaseReservation returns reserved units to the sellable pool. Only
// meaningful while the order is still pending; confirmed orders have
// already converted their reservation.
func (s *OrderService) releaseReservation(tx *gorm.DB, order *models.Order) error {
	for _, item := range order.Items {
		if err := tx.Model(&models.Product{}).
			Where("id = ?", item.ProductID).
			UpdateColumn("stock_reserved",
				gorm.Expr("GREATEST(stock_reserved - ?, 0)", item.Quantity)).Error; err != nil {
			return fmt.Errorf("failed to release reservation for product %s: %w", item.ProductID, err)
		}
	}
	return nil
}

// CancelOrder cancels an order and releases any held reservation.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	return database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return s.transitionAndRelease(tx, orderID, models.OrderStatusCancelled)
	})
}

func (s *OrderService) transitionAndRelease(tx *gorm.DB, orderID uuid.UUID, next models.OrderStatus) error {
	var order models.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").
		First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if order.Status == next {
		return nil
	}
	if err := CanTransitionOrder(order.Status, next); err != nil {
		return err
	}

	if order.Status == models.OrderStatusPending {
		if err := s.releaseReservation(tx, &order); err != nil {
			return err
		}
	}

	return tx.Model(&order).Update("status", next).Error
}

// ShipOrder and DeliverOrder advance fulfillment through the same
// transition table.
func (s *OrderService) ShipOrder(ctx context.Context, orderID uuid.UUID) error {
	return database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return s.transitionTo(tx, orderID, models.OrderStatusShipped)
	})
}

func (s *OrderService) DeliverOrder(ctx context.Context, orderID uuid.UUID) error {
	return database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return s.transitionTo(tx, orderID, models.OrderStatusDelivered)
	})
}

func (s *OrderService) transitionTo(tx *gorm.DB, orderID uuid.UUID, next models.OrderStatus) error {
	var order models.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if order.Status == next {
		return nil
	}
	if err := CanTransitionOrder(order.Status, next); err != nil {
		return err
	}

	return tx.Model(&order).Update("status", next).Error
}

// SweepUnpaid applies the two business safety valves: orders pending
// beyond the unpaid window are auto-cancelled with their reservation
// released, and orders left unfulfilled beyond the stale window are
// force-expired regardless of payment status.
func (s *OrderService) SweepUnpaid(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	unpaidCutoff := now.Add(-time.Duration(s.config.Jobs.UnpaidOrderMinutes) * time.Minute)
	staleCutoff := now.Add(-time.Duration(s.config.Jobs.StaleOrderDays) * 24 * time.Hour)

	swept := 0

	var unpaid []models.Order
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.OrderStatusPending, unpaidCutoff).
		Find(&unpaid).Error; err != nil {
		return 0, fmt.Errorf("failed to list unpaid orders: %w", err)
	}

	for _, order := range unpaid {
		err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
			return s.transitionAndRelease(tx, order.ID, models.OrderStatusCancelled)
		})
		if err != nil {
			logrus.WithError(err).WithField("order", order.ID).Error("Failed to cancel unpaid order")
			continue
		}
		swept++
	}

	var stale []models.Order
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]models.OrderStatus{models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusShipped},
			staleCutoff).
		Find(&stale).Error; err != nil {
		return swept, fmt.Errorf("failed to list stale orders: %w", err)
	}

	for _, order := range stale {
		err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
			return s.forceExpire(tx, order.ID)
		})
		if err != nil {
			logrus.WithError(err).WithField("order", order.ID).Error("Failed to expire stale order")
			continue
		}
		swept++
	}

	return swept, nil
}

// forceExpire bypasses the transition table: the stale-order valve fires
// regardless of payment state. Pending reservations are still released.
func (s *OrderService) forceExpire(tx *gorm.DB, orderID uuid.UUID) error {
	var order models.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").
		First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if order.Status == models.OrderStatusExpired {
		return nil
	}

	if order.Status == models.OrderStatusPending {
		if err := s.releaseReservation(tx, &order); err != nil {
			return err
		}
	}

	return tx.Model(&order).Update("status", models.OrderStatusExpired).Error
}
