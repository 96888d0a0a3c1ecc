package handlers

import (
	"encoding/json"
	"fmt"
	"log"

	"fitshop/internal/services"
	"fitshop/pkg/gateway"

	"github.com/gofiber/fiber/v2"
)

// SignatureHeader carries the gateway's HMAC-SHA256 over the raw webhook
// body.
const SignatureHeader = "X-Gateway-Signature"

// WebhookHandler is the ingress for asynchronous payment-status events from
// the gateway.
//
// This endpoint always acknowledges with 200, even when processing fails
// internally: the gateway retries non-200 responses indefinitely, and
// retrying into a buggy handler only produces a retry storm. Failures are
// logged server-side instead; the status field in the response body is
// informational only.
type WebhookHandler struct {
	lifecycle     *services.OrderLifecycleService
	webhookSecret string
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(lifecycle *services.OrderLifecycleService, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{
		lifecycle:     lifecycle,
		webhookSecret: webhookSecret,
	}
}

// RegisterRoutes registers the webhook route with the Fiber app. No auth
// middleware here; the HMAC signature is the authentication.
func (h *WebhookHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/webhooks/payment", h.HandlePaymentWebhook)
}

// webhookEnvelope is the gateway's wire envelope: an event discriminator and
// a payload holding a payment or order sub-entity.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity services.PaymentEntity `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// HandlePaymentWebhook authenticates and processes one gateway event.
func (h *WebhookHandler) HandlePaymentWebhook(c *fiber.Ctx) error {
	// The signature must be checked against the exact bytes received on the
	// wire, captured once and reused for the parse below. Re-serialized
	// JSON is not guaranteed to byte-match the original.
	rawBody := c.Body()

	signature := c.Get(SignatureHeader)
	if !gateway.VerifyWebhookSignature(h.webhookSecret, rawBody, signature) {
		log.Printf("Webhook signature verification failed, rejecting event")
		return c.JSON(fiber.Map{
			"status": "signature verification failed",
		})
	}

	event, err := parseWebhookEvent(rawBody)
	if err != nil {
		log.Printf("Failed to parse webhook body: %v", err)
		return c.JSON(fiber.Map{
			"status": "unparseable event",
		})
	}

	if err := h.lifecycle.ProcessWebhookEvent(event); err != nil {
		log.Printf("Webhook event processing failed: %v", err)
		return c.JSON(fiber.Map{
			"status": "processing failed",
		})
	}

	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

// parseWebhookEvent maps the wire envelope onto the tagged event variants.
func parseWebhookEvent(rawBody []byte) (services.WebhookEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook envelope: %w", err)
	}

	switch envelope.Event {
	case "payment.captured":
		return services.PaymentCapturedEvent{Payment: envelope.Payload.Payment.Entity}, nil
	case "payment.failed":
		return services.PaymentFailedEvent{Payment: envelope.Payload.Payment.Entity}, nil
	case "payment.authorized":
		return services.PaymentAuthorizedEvent{Payment: envelope.Payload.Payment.Entity}, nil
	case "order.paid":
		return services.OrderPaidEvent{}, nil
	default:
		return services.UnhandledEvent{Type: envelope.Event}, nil
	}
}
