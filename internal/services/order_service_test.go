package services_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"fitshop/internal/models"
	"fitshop/internal/repositories"
	"fitshop/internal/services"
	"fitshop/pkg/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const testCallbackSecret = "test_key_secret"

// MockPaymentGateway is a mock implementation of services.PaymentGateway
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) CreateOrder(amountMinor int64, currency, receipt string) (string, error) {
	args := m.Called(amountMinor, currency, receipt)
	return args.String(0), args.Error(1)
}

// MockNotifier is a mock implementation of services.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) OrderConfirmation(order *models.Order) error {
	args := m.Called(order)
	return args.Error(0)
}

// countingNotifier counts dispatches; safe for concurrent callers.
type countingNotifier struct {
	calls atomic.Int64
}

func (n *countingNotifier) OrderConfirmation(order *models.Order) error {
	n.calls.Add(1)
	return nil
}

func newTestService(notifier services.Notifier) (*services.OrderLifecycleService, *repositories.MockOrderRepository, *MockPaymentGateway) {
	repo := repositories.NewMockOrderRepository()
	gw := new(MockPaymentGateway)
	svc := services.NewOrderLifecycleService(repo, gw, notifier, testCallbackSecret)
	return svc, repo, gw
}

func initiateRequest() services.InitiateRequest {
	return services.InitiateRequest{
		UserID: "user-1",
		Email:  "buyer@example.com",
		Name:   "Test Buyer",
		Items: []models.OrderItem{
			{ProductID: "plan-12wk", Name: "12 Week Plan", UnitPrice: 500, OriginalPrice: 600, Quantity: 2, Discount: 100},
		},
		Subtotal:     1000,
		Discount:     0,
		TotalSavings: 200,
		TotalAmount:  1000,
		Currency:     "INR",
	}
}

// seedOrder initiates an order through the service with a fixed gateway id.
func seedOrder(t *testing.T, svc *services.OrderLifecycleService, gw *MockPaymentGateway, gatewayOrderID string) *models.Order {
	t.Helper()
	gw.On("CreateOrder", int64(100000), "INR", mock.AnythingOfType("string")).Return(gatewayOrderID, nil).Once()
	order, err := svc.Initiate(initiateRequest())
	assert.NoError(t, err)
	return order
}

func signCallback(gatewayOrderID, gatewayPaymentID string) string {
	return gateway.SignCallback(testCallbackSecret, gatewayOrderID, gatewayPaymentID)
}

func TestInitiate_HappyPath(t *testing.T) {
	svc, repo, gw := newTestService(nil)

	// 500 x 2 = 1000 INR, which is 100000 paise on the gateway side.
	gw.On("CreateOrder", int64(100000), "INR", mock.AnythingOfType("string")).Return("gw_order_1", nil).Once()

	order, err := svc.Initiate(initiateRequest())
	assert.NoError(t, err)
	assert.Regexp(t, `^ORD-\d{8}-\d{6}$`, order.OrderNumber)
	assert.Equal(t, "gw_order_1", order.GatewayOrderID)
	assert.Equal(t, models.OrderStatusCreated, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Nil(t, order.PaidAt)
	gw.AssertExpectations(t)

	stored, err := repo.GetByGatewayOrderID("gw_order_1")
	assert.NoError(t, err)
	assert.Equal(t, order.OrderNumber, stored.OrderNumber)
	assert.Equal(t, 1000.0, stored.TotalAmount)
	assert.Len(t, stored.Items, 1)
}

func TestInitiate_RoundsAmountToMinorUnits(t *testing.T) {
	svc, _, gw := newTestService(nil)

	req := initiateRequest()
	req.Items[0].UnitPrice = 99.995
	req.Items[0].Quantity = 1
	req.Subtotal = 99.995
	req.TotalAmount = 99.995

	// Rounded to 10000 paise, not truncated to 9999.
	gw.On("CreateOrder", int64(10000), "INR", mock.AnythingOfType("string")).Return("gw_order_round", nil).Once()

	_, err := svc.Initiate(req)
	assert.NoError(t, err)
	gw.AssertExpectations(t)
}

func TestInitiate_ValidationFailures(t *testing.T) {
	svc, _, gw := newTestService(nil)

	cases := []struct {
		name   string
		mutate func(*services.InitiateRequest)
	}{
		{"missing buyer", func(r *services.InitiateRequest) { r.UserID = "" }},
		{"empty items", func(r *services.InitiateRequest) { r.Items = nil }},
		{"non-positive price", func(r *services.InitiateRequest) { r.Items[0].UnitPrice = 0 }},
		{"non-positive quantity", func(r *services.InitiateRequest) { r.Items[0].Quantity = 0 }},
		{"non-positive total", func(r *services.InitiateRequest) { r.TotalAmount = 0 }},
		{"missing currency", func(r *services.InitiateRequest) { r.Currency = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := initiateRequest()
			tc.mutate(&req)
			_, err := svc.Initiate(req)
			assert.ErrorIs(t, err, services.ErrValidationFailed)
		})
	}

	// No intent may be created for an invalid request.
	gw.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiate_GatewayUnavailable(t *testing.T) {
	svc, repo, gw := newTestService(nil)

	gw.On("CreateOrder", int64(100000), "INR", mock.AnythingOfType("string")).
		Return("", fmt.Errorf("connection refused")).Once()

	order, err := svc.Initiate(initiateRequest())
	assert.ErrorIs(t, err, services.ErrGatewayUnavailable)
	assert.Nil(t, order)

	// All-or-nothing: nothing was persisted.
	_, err = repo.GetByGatewayOrderID("")
	assert.ErrorIs(t, err, services.ErrOrderNotFound)
}

func TestVerifyAndCapture_HappyPath(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("OrderConfirmation", mock.AnythingOfType("*models.Order")).Return(nil).Once()
	svc, repo, gw := newTestService(notifier)
	order := seedOrder(t, svc, gw, "gw_order_hp")

	orderNumber, err := svc.VerifyAndCapture("gw_order_hp", "pay_1", signCallback("gw_order_hp", "pay_1"))
	assert.NoError(t, err)
	assert.Equal(t, order.OrderNumber, orderNumber)

	stored, err := repo.GetByGatewayOrderID("gw_order_hp")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.Equal(t, models.PaymentStatusCaptured, stored.PaymentStatus)
	assert.Equal(t, "pay_1", stored.GatewayPaymentID)
	assert.Equal(t, signCallback("gw_order_hp", "pay_1"), stored.PaymentSignature)
	assert.NotNil(t, stored.PaidAt)
	notifier.AssertExpectations(t)
}

func TestVerifyAndCapture_SecondCallIsNoOp(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("OrderConfirmation", mock.AnythingOfType("*models.Order")).Return(nil).Once()
	svc, repo, gw := newTestService(notifier)
	seedOrder(t, svc, gw, "gw_order_dup")

	sig := signCallback("gw_order_dup", "pay_1")
	_, err := svc.VerifyAndCapture("gw_order_dup", "pay_1", sig)
	assert.NoError(t, err)

	first, err := repo.GetByGatewayOrderID("gw_order_dup")
	assert.NoError(t, err)
	assert.NotNil(t, first.PaidAt)

	// The duplicate returns success, leaves PaidAt untouched and dispatches
	// no second notification.
	orderNumber, err := svc.VerifyAndCapture("gw_order_dup", "pay_1", sig)
	assert.NoError(t, err)
	assert.Equal(t, first.OrderNumber, orderNumber)

	second, err := repo.GetByGatewayOrderID("gw_order_dup")
	assert.NoError(t, err)
	assert.Equal(t, first.PaidAt, second.PaidAt)
	notifier.AssertNumberOfCalls(t, "OrderConfirmation", 1)
}

func TestVerifyAndCapture_TamperedSignature(t *testing.T) {
	notifier := new(MockNotifier)
	svc, repo, gw := newTestService(notifier)
	seedOrder(t, svc, gw, "gw_order_tamper")

	// Signature computed with the wrong secret: the payment may well be
	// genuine, but it must not be trusted.
	badSig := gateway.SignCallback("wrong_secret", "gw_order_tamper", "pay_1")
	_, err := svc.VerifyAndCapture("gw_order_tamper", "pay_1", badSig)
	assert.ErrorIs(t, err, services.ErrInvalidSignature)

	stored, err := repo.GetByGatewayOrderID("gw_order_tamper")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)
	assert.NotEqual(t, models.OrderStatusPaid, stored.Status)
	assert.Contains(t, stored.Notes, "signature verification failed")
	notifier.AssertNotCalled(t, "OrderConfirmation", mock.Anything)
}

func TestVerifyAndCapture_BadSignatureForUnknownOrder(t *testing.T) {
	svc, _, _ := newTestService(nil)

	// Best-effort marking has nothing to mark, but the caller still gets
	// the signature error.
	_, err := svc.VerifyAndCapture("gw_order_ghost", "pay_1", "bogus")
	assert.ErrorIs(t, err, services.ErrInvalidSignature)
}

func TestVerifyAndCapture_OrderNotFound(t *testing.T) {
	svc, _, _ := newTestService(nil)

	sig := signCallback("gw_order_missing", "pay_1")
	_, err := svc.VerifyAndCapture("gw_order_missing", "pay_1", sig)
	assert.ErrorIs(t, err, services.ErrOrderNotFound)
}

func TestWebhook_PaymentCaptured(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("OrderConfirmation", mock.AnythingOfType("*models.Order")).Return(nil).Once()
	svc, repo, gw := newTestService(notifier)
	seedOrder(t, svc, gw, "gw_order_wh")

	err := svc.ProcessWebhookEvent(services.PaymentCapturedEvent{
		Payment: services.PaymentEntity{ID: "pay_wh", OrderID: "gw_order_wh", Status: "captured"},
	})
	assert.NoError(t, err)

	stored, err := repo.GetByGatewayOrderID("gw_order_wh")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.Equal(t, models.PaymentStatusCaptured, stored.PaymentStatus)
	assert.Equal(t, "pay_wh", stored.GatewayPaymentID)
	// The webhook carries no callback signature; the stored value is the
	// empty sentinel.
	assert.Equal(t, "", stored.PaymentSignature)
	assert.NotNil(t, stored.PaidAt)
	notifier.AssertExpectations(t)
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("OrderConfirmation", mock.AnythingOfType("*models.Order")).Return(nil).Once()
	svc, repo, gw := newTestService(notifier)
	seedOrder(t, svc, gw, "gw_order_wh2")

	event := services.PaymentCapturedEvent{
		Payment: services.PaymentEntity{ID: "pay_wh2", OrderID: "gw_order_wh2", Status: "captured"},
	}
	assert.NoError(t, svc.ProcessWebhookEvent(event))

	first, err := repo.GetByGatewayOrderID("gw_order_wh2")
	assert.NoError(t, err)

	// At-least-once delivery makes duplicates routine; the second event is
	// a pure no-op.
	assert.NoError(t, svc.ProcessWebhookEvent(event))

	second, err := repo.GetByGatewayOrderID("gw_order_wh2")
	assert.NoError(t, err)
	assert.Equal(t, first.PaidAt, second.PaidAt)
	notifier.AssertNumberOfCalls(t, "OrderConfirmation", 1)
}

func TestWebhook_CapturedForUnknownOrder(t *testing.T) {
	svc, _, _ := newTestService(nil)

	// May belong to another environment on the same gateway account.
	err := svc.ProcessWebhookEvent(services.PaymentCapturedEvent{
		Payment: services.PaymentEntity{ID: "pay_x", OrderID: "gw_order_elsewhere"},
	})
	assert.NoError(t, err)
}

func TestWebhook_PaymentFailed(t *testing.T) {
	svc, repo, gw := newTestService(nil)
	seedOrder(t, svc, gw, "gw_order_fail")

	err := svc.ProcessWebhookEvent(services.PaymentFailedEvent{
		Payment: services.PaymentEntity{
			ID:               "pay_f",
			OrderID:          "gw_order_fail",
			Status:           "failed",
			ErrorCode:        "BAD_REQUEST_ERROR",
			ErrorDescription: "card declined",
		},
	})
	assert.NoError(t, err)

	stored, err := repo.GetByGatewayOrderID("gw_order_fail")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	assert.Contains(t, stored.Notes, "BAD_REQUEST_ERROR")
	assert.Contains(t, stored.Notes, "card declined")
}

func TestWebhook_AuthorizedDoesNotMarkPaid(t *testing.T) {
	notifier := new(MockNotifier)
	svc, repo, gw := newTestService(notifier)
	seedOrder(t, svc, gw, "gw_order_auth")

	// Authorization is not capture; the order must stay created/pending.
	err := svc.ProcessWebhookEvent(services.PaymentAuthorizedEvent{
		Payment: services.PaymentEntity{ID: "pay_a", OrderID: "gw_order_auth", Status: "authorized"},
	})
	assert.NoError(t, err)

	stored, err := repo.GetByGatewayOrderID("gw_order_auth")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, stored.Status)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
	assert.Nil(t, stored.PaidAt)
	notifier.AssertNotCalled(t, "OrderConfirmation", mock.Anything)
}

func TestWebhook_OrderPaidIgnored(t *testing.T) {
	svc, repo, gw := newTestService(nil)
	seedOrder(t, svc, gw, "gw_order_op")

	assert.NoError(t, svc.ProcessWebhookEvent(services.OrderPaidEvent{}))

	stored, err := repo.GetByGatewayOrderID("gw_order_op")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, stored.Status)
}

func TestWebhook_UnhandledEvent(t *testing.T) {
	svc, _, _ := newTestService(nil)
	assert.NoError(t, svc.ProcessWebhookEvent(services.UnhandledEvent{Type: "refund.processed"}))
}

func TestWebhook_CapturedOverridesEarlierFailure(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("OrderConfirmation", mock.AnythingOfType("*models.Order")).Return(nil).Once()
	svc, repo, gw := newTestService(notifier)
	seedOrder(t, svc, gw, "gw_order_late")

	assert.NoError(t, svc.MarkFailed("gw_order_late", "client reported dismissal"))

	// The capture landed after the order was marked failed. A captured
	// payment is ground truth; the transition applies anyway.
	err := svc.ProcessWebhookEvent(services.PaymentCapturedEvent{
		Payment: services.PaymentEntity{ID: "pay_late", OrderID: "gw_order_late", Status: "captured"},
	})
	assert.NoError(t, err)

	stored, err := repo.GetByGatewayOrderID("gw_order_late")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	notifier.AssertExpectations(t)
}

func TestMarkFailed_PaidIsMonotonic(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("OrderConfirmation", mock.AnythingOfType("*models.Order")).Return(nil).Once()
	svc, repo, gw := newTestService(notifier)
	seedOrder(t, svc, gw, "gw_order_mono")

	_, err := svc.VerifyAndCapture("gw_order_mono", "pay_m", signCallback("gw_order_mono", "pay_m"))
	assert.NoError(t, err)

	// A late failure report never downgrades a paid order.
	assert.NoError(t, svc.MarkFailed("gw_order_mono", "late client failure report"))

	stored, err := repo.GetByGatewayOrderID("gw_order_mono")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.Equal(t, models.PaymentStatusCaptured, stored.PaymentStatus)
}

func TestMarkFailed_AppendsReason(t *testing.T) {
	svc, repo, gw := newTestService(nil)
	seedOrder(t, svc, gw, "gw_order_mf")

	assert.NoError(t, svc.MarkFailed("gw_order_mf", "widget dismissed"))

	stored, err := repo.GetByGatewayOrderID("gw_order_mf")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)
	assert.Contains(t, stored.Notes, "widget dismissed")
}

func TestMarkFailed_OrderNotFound(t *testing.T) {
	svc, _, _ := newTestService(nil)
	err := svc.MarkFailed("gw_order_nope", "whatever")
	assert.ErrorIs(t, err, services.ErrOrderNotFound)
}

func TestCancel(t *testing.T) {
	svc, repo, gw := newTestService(nil)
	order := seedOrder(t, svc, gw, "gw_order_cancel")

	// Ownership check comes first.
	err := svc.Cancel(order.OrderNumber, "someone-else")
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	assert.NoError(t, svc.Cancel(order.OrderNumber, "user-1"))

	stored, err := repo.GetByOrderNumber(order.OrderNumber)
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)

	// Cancelling again is a no-op.
	assert.NoError(t, svc.Cancel(order.OrderNumber, "user-1"))
}

func TestCancel_PaidOrderRejected(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("OrderConfirmation", mock.AnythingOfType("*models.Order")).Return(nil).Once()
	svc, repo, gw := newTestService(notifier)
	order := seedOrder(t, svc, gw, "gw_order_cp")

	_, err := svc.VerifyAndCapture("gw_order_cp", "pay_c", signCallback("gw_order_cp", "pay_c"))
	assert.NoError(t, err)

	err = svc.Cancel(order.OrderNumber, "user-1")
	assert.ErrorIs(t, err, services.ErrInvalidState)

	stored, err := repo.GetByOrderNumber(order.OrderNumber)
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
}

func TestCancel_OrderNotFound(t *testing.T) {
	svc, _, _ := newTestService(nil)
	err := svc.Cancel("ORD-20260101-000000", "user-1")
	assert.ErrorIs(t, err, services.ErrOrderNotFound)
}

// TestConcurrentCapture races the client callback against duplicate webhook
// deliveries for the same payment. Whatever the interleaving, the order ends
// paid/captured with a single PaidAt and exactly one confirmation dispatch.
func TestConcurrentCapture(t *testing.T) {
	notifier := &countingNotifier{}
	repo := repositories.NewMockOrderRepository()
	gw := new(MockPaymentGateway)
	svc := services.NewOrderLifecycleService(repo, gw, notifier, testCallbackSecret)
	seedOrder(t, svc, gw, "gw_order_race")

	sig := signCallback("gw_order_race", "pay_r")
	event := services.PaymentCapturedEvent{
		Payment: services.PaymentEntity{ID: "pay_r", OrderID: "gw_order_race", Status: "captured"},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.VerifyAndCapture("gw_order_race", "pay_r", sig)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.ProcessWebhookEvent(event))
		}()
	}
	wg.Wait()

	stored, err := repo.GetByGatewayOrderID("gw_order_race")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.Equal(t, models.PaymentStatusCaptured, stored.PaymentStatus)
	assert.Equal(t, "pay_r", stored.GatewayPaymentID)
	assert.NotNil(t, stored.PaidAt)
	assert.Equal(t, int64(1), notifier.calls.Load())
}
