package services

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"fitshop/internal/models"
	"fitshop/internal/repositories"
	"fitshop/pkg/gateway"
)

// PaymentGateway is the slice of the gateway client the lifecycle service
// needs: creating a payment intent for an amount in the smallest currency
// unit and getting back the gateway-assigned order id.
type PaymentGateway interface {
	CreateOrder(amountMinor int64, currency, receipt string) (string, error)
}

// InitiateRequest carries everything needed to open an order at checkout.
// Totals arrive pre-computed from the cart and are snapshotted as-is.
type InitiateRequest struct {
	UserID string
	Email  string
	Name   string
	Phone  string

	Items        []models.OrderItem
	Subtotal     float64
	Discount     float64
	TotalSavings float64
	TotalAmount  float64
	Currency     string

	Address *models.ShippingAddress
	Notes   string
}

// OrderLifecycleService owns the order/payment reconciliation state machine:
// opening orders against the gateway, verifying payment results from both
// notification channels, and moving orders through their states exactly
// once.
type OrderLifecycleService struct {
	orderRepo      repositories.OrderRepository
	gw             PaymentGateway
	notifier       Notifier
	callbackSecret string
}

// NewOrderLifecycleService creates a new OrderLifecycleService. The callback
// secret keys the HMAC over checkout-widget callback results.
func NewOrderLifecycleService(orderRepo repositories.OrderRepository, gw PaymentGateway, notifier Notifier, callbackSecret string) *OrderLifecycleService {
	return &OrderLifecycleService{
		orderRepo:      orderRepo,
		gw:             gw,
		notifier:       notifier,
		callbackSecret: callbackSecret,
	}
}

// Initiate opens a new order: generates the merchant order number, creates a
// payment intent on the gateway for the exact total, and persists the order
// as created/pending. If the gateway call fails nothing is persisted. If the
// persist fails after the intent was created, the intent is orphaned on the
// gateway side; that is accepted and logged rather than compensated.
func (s *OrderLifecycleService) Initiate(req InitiateRequest) (*models.Order, error) {
	if err := validateInitiate(req); err != nil {
		return nil, err
	}

	order := &models.Order{
		OrderNumber:   newOrderNumber(),
		UserID:        req.UserID,
		Email:         req.Email,
		Name:          req.Name,
		Phone:         req.Phone,
		Items:         req.Items,
		Subtotal:      req.Subtotal,
		Discount:      req.Discount,
		TotalSavings:  req.TotalSavings,
		TotalAmount:   req.TotalAmount,
		Currency:      req.Currency,
		Address:       req.Address,
		Notes:         req.Notes,
		Status:        models.OrderStatusCreated,
		PaymentStatus: models.PaymentStatusPending,
	}

	gatewayOrderID, err := s.gw.CreateOrder(order.AmountMinor(), order.Currency, order.OrderNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	order.GatewayOrderID = gatewayOrderID

	if err := s.orderRepo.Create(order); err != nil {
		log.Printf("Order %s persist failed after gateway intent %s was created; intent is orphaned: %v", order.OrderNumber, gatewayOrderID, err)
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	return order, nil
}

func validateInitiate(req InitiateRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: buyer identity is required", ErrValidationFailed)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrValidationFailed)
	}
	for _, item := range req.Items {
		if item.UnitPrice <= 0 {
			return fmt.Errorf("%w: item %s has non-positive price", ErrValidationFailed, item.ProductID)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %s has non-positive quantity", ErrValidationFailed, item.ProductID)
		}
	}
	if req.TotalAmount <= 0 {
		return fmt.Errorf("%w: total amount must be positive", ErrValidationFailed)
	}
	if req.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrValidationFailed)
	}
	return nil
}

// newOrderNumber generates a merchant order number: sortable by creation
// date with a random suffix. Collisions within a day are possible but rare
// enough that the unique-key violation on insert, retried by the caller with
// a fresh number, is the intended handling.
func newOrderNumber() string {
	return fmt.Sprintf("ORD-%s-%06d", time.Now().Format("20060102"), rand.Intn(1000000))
}

// VerifyAndCapture handles the checkout widget's synchronous success
// callback: authenticates the result via its HMAC signature, then applies
// the idempotent paid transition and fires the confirmation notification
// once per actual transition. Returns the merchant order number.
func (s *OrderLifecycleService) VerifyAndCapture(gatewayOrderID, gatewayPaymentID, signature string) (string, error) {
	if !gateway.VerifyCallbackSignature(s.callbackSecret, gatewayOrderID, gatewayPaymentID, signature) {
		// Best-effort marking; the verification failure is reported to the
		// caller whether or not the order could be found and marked.
		if err := s.MarkFailed(gatewayOrderID, "signature verification failed"); err != nil && !errors.Is(err, ErrOrderNotFound) {
			log.Printf("Failed to mark order %s after signature mismatch: %v", gatewayOrderID, err)
		}
		return "", ErrInvalidSignature
	}

	order, transitioned, err := s.capture(gatewayOrderID, gatewayPaymentID, signature)
	if err != nil {
		return "", err
	}
	if transitioned {
		s.notify(order)
	}
	return order.OrderNumber, nil
}

// ProcessWebhookEvent applies an authenticated asynchronous gateway event.
// The webhook ingress acknowledges receipt regardless of the outcome here,
// so every returned error is informational.
func (s *OrderLifecycleService) ProcessWebhookEvent(event WebhookEvent) error {
	switch ev := event.(type) {
	case PaymentCapturedEvent:
		return s.handlePaymentCaptured(ev.Payment)
	case PaymentFailedEvent:
		return s.handlePaymentFailed(ev.Payment)
	case PaymentAuthorizedEvent:
		// Authorization is not capture. Log for observability, mutate
		// nothing: only payment.captured marks an order paid.
		log.Printf("Payment %s authorized for gateway order %s", ev.Payment.ID, ev.Payment.OrderID)
		return nil
	case OrderPaidEvent:
		// Redundant with payment.captured, which is the single source of
		// truth. Processing both would double-handle every payment.
		return nil
	case UnhandledEvent:
		log.Printf("Unhandled gateway webhook event type %q", ev.Type)
		return nil
	default:
		log.Printf("Unhandled gateway webhook event %T", event)
		return nil
	}
}

func (s *OrderLifecycleService) handlePaymentCaptured(payment PaymentEntity) error {
	// The webhook does not carry the checkout widget's callback signature;
	// an empty signature value records that this capture arrived via
	// webhook.
	order, transitioned, err := s.capture(payment.OrderID, payment.ID, "")
	if errors.Is(err, ErrOrderNotFound) {
		// Possibly an order from another environment sharing the gateway
		// account. Not ours to process.
		log.Printf("payment.captured for unknown gateway order %s, ignoring", payment.OrderID)
		return nil
	}
	if err != nil {
		return err
	}
	if transitioned {
		s.notify(order)
	}
	return nil
}

func (s *OrderLifecycleService) handlePaymentFailed(payment PaymentEntity) error {
	reason := fmt.Sprintf("payment failed: %s %s", payment.ErrorCode, payment.ErrorDescription)
	err := s.MarkFailed(payment.OrderID, reason)
	if errors.Is(err, ErrOrderNotFound) {
		log.Printf("payment.failed for unknown gateway order %s, ignoring", payment.OrderID)
		return nil
	}
	return err
}

// errAlreadyPaid aborts the repository write when the capture turns out to
// be a duplicate.
var errAlreadyPaid = errors.New("order already paid")

// capture is the single idempotent paid transition both ingress paths
// funnel through. It reports whether this call performed the transition:
// duplicate deliveries and the webhook-vs-callback race resolve to exactly
// one true result, and the loser leaves the record untouched (one PaidAt,
// one notification).
func (s *OrderLifecycleService) capture(gatewayOrderID, gatewayPaymentID, signature string) (*models.Order, bool, error) {
	order, err := s.orderRepo.UpdateByGatewayOrderID(gatewayOrderID, func(o *models.Order) error {
		if o.Status == models.OrderStatusPaid {
			return errAlreadyPaid
		}
		if o.Status == models.OrderStatusFailed || o.Status == models.OrderStatusCancelled {
			// A captured payment is ground truth even if the order was
			// marked failed or cancelled first; apply it and flag for
			// manual reconciliation instead of dropping money on the floor.
			log.Printf("WARNING: order %s captured while %s, overriding; needs manual reconciliation", o.OrderNumber, o.Status)
		}
		now := time.Now()
		o.Status = models.OrderStatusPaid
		o.PaymentStatus = models.PaymentStatusCaptured
		o.GatewayPaymentID = gatewayPaymentID
		o.PaymentSignature = signature
		o.PaidAt = &now
		return nil
	})
	if errors.Is(err, errAlreadyPaid) {
		existing, getErr := s.orderRepo.GetByGatewayOrderID(gatewayOrderID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return order, true, nil
}

// notify fires the confirmation side effect. The transition is already
// durable at this point; a notification failure is logged and swallowed.
func (s *OrderLifecycleService) notify(order *models.Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.OrderConfirmation(order); err != nil {
		log.Printf("Failed to dispatch confirmation for order %s: %v", order.OrderNumber, err)
	}
}

// MarkFailed records a failed payment for an order. Paid is monotonic with
// respect to failure: marking a paid order failed is a successful no-op.
func (s *OrderLifecycleService) MarkFailed(gatewayOrderID, reason string) error {
	_, err := s.orderRepo.UpdateByGatewayOrderID(gatewayOrderID, func(o *models.Order) error {
		if o.Status == models.OrderStatusPaid {
			return errAlreadyPaid
		}
		o.Status = models.OrderStatusFailed
		o.PaymentStatus = models.PaymentStatusFailed
		o.Notes = appendNote(o.Notes, reason)
		return nil
	})
	if errors.Is(err, errAlreadyPaid) {
		return nil
	}
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return nil
}

// Cancel is the buyer-initiated cancellation. Only open (created) orders can
// be cancelled; paid orders need the separate refund flow.
func (s *OrderLifecycleService) Cancel(orderNumber, buyerID string) error {
	_, err := s.orderRepo.UpdateByOrderNumber(orderNumber, func(o *models.Order) error {
		if o.UserID != buyerID {
			return ErrUnauthorized
		}
		switch o.Status {
		case models.OrderStatusCancelled:
			return nil
		case models.OrderStatusCreated:
			o.Status = models.OrderStatusCancelled
			return nil
		default:
			return fmt.Errorf("%w: cannot cancel %s order", ErrInvalidState, o.Status)
		}
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidState) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return nil
}

// GetOrderForBuyer returns an order by merchant number, enforcing ownership.
func (s *OrderLifecycleService) GetOrderForBuyer(orderNumber, buyerID string) (*models.Order, error) {
	order, err := s.orderRepo.GetByOrderNumber(orderNumber)
	if err != nil {
		return nil, err
	}
	if order.UserID != buyerID {
		return nil, ErrUnauthorized
	}
	return order, nil
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "; " + note
}
