package models

import (
	"math"
	"time"
)

// OrderStatus is the buyer-facing lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// PaymentStatus is the gateway-facing payment state of an order.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// OrderItem is a line item snapshotted at order-creation time.
// Prices and discounts are never re-derived from the live catalog.
type OrderItem struct {
	ProductID     string  `json:"product_id"`
	Name          string  `json:"name"`
	UnitPrice     float64 `json:"unit_price"`
	OriginalPrice float64 `json:"original_price"`
	Quantity      int     `json:"quantity"`
	Size          string  `json:"size,omitempty"`
	Discount      float64 `json:"discount"`
}

// ShippingAddress is an optional delivery address attached to an order.
type ShippingAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Order is a customer order. GatewayOrderID is the join key for every
// gateway-originated event (webhook and client callback); the gateway never
// knows the merchant OrderNumber at event time, so reconciliation lookups
// must always go through GatewayOrderID.
type Order struct {
	OrderNumber    string `json:"order_number" gorm:"primaryKey;type:varchar(32)"`
	GatewayOrderID string `json:"gateway_order_id" gorm:"uniqueIndex;type:varchar(64)"`

	UserID string `json:"user_id" gorm:"index;type:varchar(64)"`
	Email  string `json:"email" gorm:"type:varchar(255)"`
	Name   string `json:"name,omitempty" gorm:"type:varchar(100)"`
	Phone  string `json:"phone,omitempty" gorm:"type:varchar(32)"`

	Items []OrderItem `json:"items" gorm:"serializer:json"`

	// Totals are computed once at creation and never recomputed.
	Subtotal     float64 `json:"subtotal"`
	Discount     float64 `json:"discount"`
	TotalSavings float64 `json:"total_savings"`
	TotalAmount  float64 `json:"total_amount"`
	Currency     string  `json:"currency" gorm:"type:varchar(8)"`

	Address *ShippingAddress `json:"address,omitempty" gorm:"serializer:json"`
	Notes   string           `json:"notes,omitempty" gorm:"type:text"`

	Status        OrderStatus   `json:"status" gorm:"type:varchar(16)"`
	PaymentStatus PaymentStatus `json:"payment_status" gorm:"type:varchar(16)"`

	// GatewayPaymentID and PaymentSignature are filled in at capture time.
	// PaymentSignature stays empty when the capture arrived via webhook,
	// since webhook events do not carry the checkout widget's signature.
	GatewayPaymentID string `json:"gateway_payment_id,omitempty" gorm:"type:varchar(64)"`
	PaymentSignature string `json:"payment_signature,omitempty" gorm:"type:varchar(128)"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// AmountMinor is the order total in the smallest currency unit the gateway
// expects, rounded rather than truncated so fractional units never
// under-charge. The gateway intent and the checkout response both go through
// this single conversion.
func (o *Order) AmountMinor() int64 {
	return int64(math.Round(o.TotalAmount * 100))
}
