package repositories

import (
	"errors"

	"fitshop/internal/models"
)

// ErrOrderNotFound is returned by lookups and updates when no order matches
// the given key.
var ErrOrderNotFound = errors.New("order not found")

// ErrDuplicateOrder is returned by Create when an order with the same order
// number or gateway order id already exists.
var ErrDuplicateOrder = errors.New("order already exists")

// OrderRepository defines the interface for order data access.
//
// UpdateByGatewayOrderID and UpdateByOrderNumber run mutate against the
// current persisted state and write the result back as a single atomic
// read-modify-write: no other update for the same order may interleave
// between the read and the write. Implementations back this with a row lock
// (SQL) or a mutex held across the callback (in-memory). If mutate returns
// an error, nothing is written and the error is returned as-is.
type OrderRepository interface {
	Create(order *models.Order) error
	GetByOrderNumber(orderNumber string) (*models.Order, error)
	GetByGatewayOrderID(gatewayOrderID string) (*models.Order, error)
	UpdateByGatewayOrderID(gatewayOrderID string, mutate func(*models.Order) error) (*models.Order, error)
	UpdateByOrderNumber(orderNumber string, mutate func(*models.Order) error) (*models.Order, error)
}
