package repositories

import (
	"fmt"
	"sync"
	"time"

	"fitshop/internal/models"
)

// MockOrderRepository is an in-memory implementation of OrderRepository.
// The mutex is held across the whole mutate callback in the Update methods,
// which gives the same atomic read-modify-write guarantee as the row lock in
// the GORM implementation.
type MockOrderRepository struct {
	orders    map[string]models.Order // keyed by order number
	byGateway map[string]string       // gateway order id -> order number
	mu        sync.RWMutex
}

// NewMockOrderRepository creates a new instance of MockOrderRepository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders:    make(map[string]models.Order),
		byGateway: make(map[string]string),
	}
}

// Create adds a new order.
func (r *MockOrderRepository) Create(order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.OrderNumber]; ok {
		return fmt.Errorf("order %s: %w", order.OrderNumber, ErrDuplicateOrder)
	}
	if _, ok := r.byGateway[order.GatewayOrderID]; ok {
		return fmt.Errorf("gateway order %s: %w", order.GatewayOrderID, ErrDuplicateOrder)
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	r.orders[order.OrderNumber] = *order
	r.byGateway[order.GatewayOrderID] = order.OrderNumber
	return nil
}

// GetByOrderNumber returns an order by its merchant order number.
func (r *MockOrderRepository) GetByOrderNumber(orderNumber string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[orderNumber]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &order, nil
}

// GetByGatewayOrderID returns an order by the gateway's order id.
func (r *MockOrderRepository) GetByGatewayOrderID(gatewayOrderID string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	number, ok := r.byGateway[gatewayOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	order := r.orders[number]
	return &order, nil
}

// UpdateByGatewayOrderID applies mutate to the order under the write lock.
func (r *MockOrderRepository) UpdateByGatewayOrderID(gatewayOrderID string, mutate func(*models.Order) error) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	number, ok := r.byGateway[gatewayOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return r.applyLocked(number, mutate)
}

// UpdateByOrderNumber applies mutate to the order under the write lock.
func (r *MockOrderRepository) UpdateByOrderNumber(orderNumber string, mutate func(*models.Order) error) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[orderNumber]; !ok {
		return nil, ErrOrderNotFound
	}
	return r.applyLocked(orderNumber, mutate)
}

func (r *MockOrderRepository) applyLocked(orderNumber string, mutate func(*models.Order) error) (*models.Order, error) {
	order := r.orders[orderNumber]
	if err := mutate(&order); err != nil {
		return nil, err
	}
	order.UpdatedAt = time.Now()
	r.orders[orderNumber] = order
	return &order, nil
}
