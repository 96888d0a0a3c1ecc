package repositories

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fitshop/internal/models"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{
		db: db,
	}
}

// Create persists a new order.
func (r *GORMOrderRepository) Create(order *models.Order) error {
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	if err := r.db.Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("order %s: %w", order.OrderNumber, ErrDuplicateOrder)
		}
		return fmt.Errorf("failed to create order %s: %w", order.OrderNumber, err)
	}
	return nil
}

// GetByOrderNumber retrieves a single order by its merchant order number.
func (r *GORMOrderRepository) GetByOrderNumber(orderNumber string) (*models.Order, error) {
	return r.getBy("order_number = ?", orderNumber)
}

// GetByGatewayOrderID retrieves a single order by the gateway's order id.
func (r *GORMOrderRepository) GetByGatewayOrderID(gatewayOrderID string) (*models.Order, error) {
	return r.getBy("gateway_order_id = ?", gatewayOrderID)
}

func (r *GORMOrderRepository) getBy(query string, arg string) (*models.Order, error) {
	var order models.Order
	if err := r.db.First(&order, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order (%s): %w", arg, err)
	}
	return &order, nil
}

// UpdateByGatewayOrderID applies mutate to the order inside a transaction
// holding a FOR UPDATE row lock, so concurrent updates for the same order
// serialize instead of interleaving.
func (r *GORMOrderRepository) UpdateByGatewayOrderID(gatewayOrderID string, mutate func(*models.Order) error) (*models.Order, error) {
	return r.updateBy("gateway_order_id = ?", gatewayOrderID, mutate)
}

// UpdateByOrderNumber is UpdateByGatewayOrderID keyed by merchant order number.
func (r *GORMOrderRepository) UpdateByOrderNumber(orderNumber string, mutate func(*models.Order) error) (*models.Order, error) {
	return r.updateBy("order_number = ?", orderNumber, mutate)
}

func (r *GORMOrderRepository) updateBy(query string, arg string, mutate func(*models.Order) error) (*models.Order, error) {
	var order models.Order
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, query, arg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to lock order (%s): %w", arg, err)
		}
		if err := mutate(&order); err != nil {
			return err
		}
		order.UpdatedAt = time.Now()
		if err := tx.Save(&order).Error; err != nil {
			return fmt.Errorf("failed to save order %s: %w", order.OrderNumber, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}
