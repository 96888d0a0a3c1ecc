package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fitshop/internal/models"
	"fitshop/pkg/rabbitmq"
)

// Notifier dispatches the order-confirmation side effect. The lifecycle
// service calls it at most once per successful paid transition, after the
// transition is durable; failures are logged by the caller, never
// propagated.
type Notifier interface {
	OrderConfirmation(order *models.Order) error
}

// QueueNotifier publishes confirmation-email jobs to RabbitMQ for the mailer
// worker. Rendering and SMTP delivery live in that worker, not here.
type QueueNotifier struct {
	mq *rabbitmq.Client
}

// NewQueueNotifier creates a new QueueNotifier.
func NewQueueNotifier(mq *rabbitmq.Client) *QueueNotifier {
	return &QueueNotifier{
		mq: mq,
	}
}

type confirmationJob struct {
	EventID     string             `json:"event_id"`
	Type        string             `json:"type"`
	OrderNumber string             `json:"order_number"`
	Email       string             `json:"email"`
	Name        string             `json:"name,omitempty"`
	Items       []models.OrderItem `json:"items"`
	TotalAmount float64            `json:"total_amount"`
	Currency    string             `json:"currency"`
	PaidAt      *time.Time         `json:"paid_at,omitempty"`
}

// OrderConfirmation enqueues a confirmation-email job for a paid order.
func (n *QueueNotifier) OrderConfirmation(order *models.Order) error {
	if n.mq == nil {
		return fmt.Errorf("RabbitMQ client is not initialized")
	}

	body, err := json.Marshal(confirmationJob{
		EventID:     uuid.New().String(),
		Type:        "order.confirmation",
		OrderNumber: order.OrderNumber,
		Email:       order.Email,
		Name:        order.Name,
		Items:       order.Items,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		PaidAt:      order.PaidAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation job: %w", err)
	}

	if err := n.mq.Publish(rabbitmq.NotificationQueue, body); err != nil {
		return fmt.Errorf("failed to publish confirmation job for order %s: %w", order.OrderNumber, err)
	}
	return nil
}
