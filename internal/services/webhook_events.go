package services

// PaymentEntity is the payment sub-entity carried by gateway webhook events.
type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WebhookEvent is the parsed gateway webhook, one variant per handled event
// type plus a catch-all. The gateway's envelope is a discriminated union
// keyed by its event string; modelling each case as its own type keeps
// unhandled fields from being silently misread.
type WebhookEvent interface {
	webhookEvent()
}

// PaymentCapturedEvent reports a captured (settled) payment. This is the
// single source of truth for marking an order paid via webhook.
type PaymentCapturedEvent struct {
	Payment PaymentEntity
}

// PaymentFailedEvent reports a failed payment attempt.
type PaymentFailedEvent struct {
	Payment PaymentEntity
}

// PaymentAuthorizedEvent reports an authorized-but-not-captured payment.
// Authorization is not capture; this event never mutates order state.
type PaymentAuthorizedEvent struct {
	Payment PaymentEntity
}

// OrderPaidEvent is the gateway's order-level paid event. It is redundant
// with PaymentCapturedEvent and deliberately ignored to avoid
// double-processing.
type OrderPaidEvent struct{}

// UnhandledEvent carries any event type this service does not process.
type UnhandledEvent struct {
	Type string
}

func (PaymentCapturedEvent) webhookEvent()   {}
func (PaymentFailedEvent) webhookEvent()     {}
func (PaymentAuthorizedEvent) webhookEvent() {}
func (OrderPaidEvent) webhookEvent()         {}
func (UnhandledEvent) webhookEvent()         {}
