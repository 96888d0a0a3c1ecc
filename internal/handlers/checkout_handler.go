package handlers

import (
	"errors"
	"fmt"
	"log"

	"fitshop/internal/models"
	"fitshop/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// CheckoutHandler handles HTTP requests for order creation, the checkout
// widget's client-side callbacks, and buyer order operations. Every route
// here sits behind the auth middleware; buyer identity comes from c.Locals.
type CheckoutHandler struct {
	lifecycle *services.OrderLifecycleService
	validate  *validator.Validate
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(lifecycle *services.OrderLifecycleService) *CheckoutHandler {
	return &CheckoutHandler{
		lifecycle: lifecycle,
		validate:  validator.New(),
	}
}

// RegisterRoutes registers the checkout routes with the Fiber app.
func (h *CheckoutHandler) RegisterRoutes(router fiber.Router) {
	checkout := router.Group("/checkout")
	checkout.Post("/orders", h.HandleCreateOrder)
	checkout.Get("/orders/:orderNumber", h.HandleGetOrder)
	checkout.Post("/orders/:orderNumber/cancel", h.HandleCancelOrder)
	checkout.Post("/payments/verify", h.HandleVerifyPayment)
	checkout.Post("/payments/failed", h.HandlePaymentFailed)
}

type orderItemRequest struct {
	ProductID     string  `json:"product_id" validate:"required"`
	Name          string  `json:"name" validate:"required"`
	UnitPrice     float64 `json:"unit_price" validate:"required,gt=0"`
	OriginalPrice float64 `json:"original_price" validate:"gte=0"`
	Quantity      int     `json:"quantity" validate:"required,gt=0"`
	Size          string  `json:"size"`
	Discount      float64 `json:"discount" validate:"gte=0"`
}

type createOrderRequest struct {
	Items        []orderItemRequest      `json:"items" validate:"required,min=1,dive"`
	Subtotal     float64                 `json:"subtotal" validate:"required,gt=0"`
	Discount     float64                 `json:"discount" validate:"gte=0"`
	TotalSavings float64                 `json:"total_savings" validate:"gte=0"`
	TotalAmount  float64                 `json:"total_amount" validate:"required,gt=0"`
	Currency     string                  `json:"currency" validate:"required,len=3"`
	Phone        string                  `json:"phone"`
	Address      *models.ShippingAddress `json:"address"`
	Notes        string                  `json:"notes"`
}

// HandleCreateOrder opens an order and a gateway payment intent for the
// buyer's cart. The response carries what the checkout widget needs.
func (h *CheckoutHandler) HandleCreateOrder(c *fiber.Ctx) error {
	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("Error parsing create order request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}

	if err := h.validate.Struct(req); err != nil {
		validationErrors := err.(validator.ValidationErrors)
		errorMessages := make(map[string]string)
		for _, e := range validationErrors {
			errorMessages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  errorMessages,
		})
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.OrderItem{
			ProductID:     item.ProductID,
			Name:          item.Name,
			UnitPrice:     item.UnitPrice,
			OriginalPrice: item.OriginalPrice,
			Quantity:      item.Quantity,
			Size:          item.Size,
			Discount:      item.Discount,
		})
	}

	order, err := h.lifecycle.Initiate(services.InitiateRequest{
		UserID:       localString(c, "user_id"),
		Email:        localString(c, "email"),
		Name:         localString(c, "name"),
		Phone:        req.Phone,
		Items:        items,
		Subtotal:     req.Subtotal,
		Discount:     req.Discount,
		TotalSavings: req.TotalSavings,
		TotalAmount:  req.TotalAmount,
		Currency:     req.Currency,
		Address:      req.Address,
		Notes:        req.Notes,
	})
	if err != nil {
		log.Printf("Error creating order: %v", err)
		return h.errorResponse(c, err, "Could not create order")
	}

	return c.JSON(fiber.Map{
		"gateway_order_id": order.GatewayOrderID,
		"amount":           order.AmountMinor(),
		"currency":         order.Currency,
		"order_number":     order.OrderNumber,
	})
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" validate:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
}

// HandleVerifyPayment processes the checkout widget's success callback.
func (h *CheckoutHandler) HandleVerifyPayment(c *fiber.Ctx) error {
	var req verifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "gateway_order_id, gateway_payment_id and signature are required",
		})
	}

	orderNumber, err := h.lifecycle.VerifyAndCapture(req.GatewayOrderID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		log.Printf("Payment verification failed for gateway order %s: %v", req.GatewayOrderID, err)
		return h.errorResponse(c, err, "Payment verification failed")
	}

	return c.JSON(fiber.Map{
		"message":      "Payment verified",
		"order_number": orderNumber,
	})
}

type paymentFailedRequest struct {
	GatewayOrderID string `json:"gateway_order_id" validate:"required"`
	Error          string `json:"error"`
}

// HandlePaymentFailed processes the widget's dismissed/failed client-side
// path. The client is self-reporting its own failure, so there is no
// signature here; this path can only ever move an order toward failed and
// never toward paid.
func (h *CheckoutHandler) HandlePaymentFailed(c *fiber.Ctx) error {
	var req paymentFailedRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "gateway_order_id is required",
		})
	}

	reason := "payment failed in checkout"
	if req.Error != "" {
		reason = fmt.Sprintf("payment failed in checkout: %s", req.Error)
	}
	if err := h.lifecycle.MarkFailed(req.GatewayOrderID, reason); err != nil {
		log.Printf("Error marking order failed for gateway order %s: %v", req.GatewayOrderID, err)
		return h.errorResponse(c, err, "Could not record payment failure")
	}

	return c.JSON(fiber.Map{
		"message": "Payment failure recorded",
	})
}

// HandleGetOrder returns the buyer's order for the confirmation and
// order-detail pages.
func (h *CheckoutHandler) HandleGetOrder(c *fiber.Ctx) error {
	orderNumber := c.Params("orderNumber")
	order, err := h.lifecycle.GetOrderForBuyer(orderNumber, localString(c, "user_id"))
	if err != nil {
		log.Printf("Error getting order %s: %v", orderNumber, err)
		return h.errorResponse(c, err, "Could not retrieve order")
	}
	return c.JSON(order)
}

// HandleCancelOrder cancels an open order on the buyer's behalf.
func (h *CheckoutHandler) HandleCancelOrder(c *fiber.Ctx) error {
	orderNumber := c.Params("orderNumber")
	if err := h.lifecycle.Cancel(orderNumber, localString(c, "user_id")); err != nil {
		log.Printf("Error cancelling order %s: %v", orderNumber, err)
		return h.errorResponse(c, err, "Could not cancel order")
	}
	return c.JSON(fiber.Map{
		"message":      "Order cancelled",
		"order_number": orderNumber,
	})
}

// errorResponse maps lifecycle error categories onto HTTP statuses.
func (h *CheckoutHandler) errorResponse(c *fiber.Ctx, err error, message string) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidationFailed), errors.Is(err, services.ErrInvalidSignature):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		status = fiber.StatusForbidden
	case errors.Is(err, services.ErrOrderNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidState):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrGatewayUnavailable):
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"error":   err.Error(),
	})
}

func localString(c *fiber.Ctx, key string) string {
	if v, ok := c.Locals(key).(string); ok {
		return v
	}
	return ""
}
