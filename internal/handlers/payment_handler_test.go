package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/cemetery-system/payment-service/internal/events"
	"github.com/cemetery-system/payment-service/internal/gateway"
	apiHTTP "github.com/cemetery-system/payment-service/internal/http"
	"github.com/cemetery-system/payment-service/internal/repository"
	"github.com/cemetery-system/payment-service/internal/service"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var testLogger = log.NewStdLogger(io.Discard)

// silentGateway accepts settlements and never answers, leaving payments in Processing.
type silentGateway struct{}

func (silentGateway) Settle(context.Context, gateway.SettlementRequest, gateway.SettlementCallback) error {
	return nil
}

type testEnv struct {
	app      *fiber.App
	svc      *service.PaymentService
	handler  *PaymentHandler
	payments *repository.MemoryPaymentRepository
	orders   *repository.MemoryOrderRepository
	order    *domain.Order
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	payments := repository.NewMemoryPaymentRepository()
	orders := repository.NewMemoryOrderRepository()
	order := &domain.Order{
		ID:          uuid.New(),
		OrderNo:     "O-1",
		TotalAmount: decimal.RequireFromString("100.00"),
		Status:      domain.OrderStatusPendingPayment,
	}
	orders.Add(order)

	svc := service.NewPaymentService(
		payments,
		orders,
		service.NewRepositoryOrderSynchronizer(orders, testLogger),
		silentGateway{},
		nil,
		testLogger,
	)
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer stopCancel()
		svc.Stop(stopCtx)
		cancel()
	})

	handler := NewPaymentHandler(svc, testLogger)
	app := fiber.New()
	handler.RegisterRoutes(app.Group("/api/v1"))

	return &testEnv{app: app, svc: svc, handler: handler, payments: payments, orders: orders, order: order}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, apiHTTP.APIResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out apiHTTP.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (e *testEnv) createPayment(t *testing.T) string {
	t.Helper()
	status, resp := e.do(t, http.MethodPost, "/api/v1/payments", map[string]interface{}{
		"order_id":       e.order.ID.String(),
		"amount":         "100.00",
		"payment_method": "WALLET",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, resp.Message)
	}
	data, _ := resp.Data.(map[string]interface{})
	no, _ := data["payment_no"].(string)
	if no == "" {
		t.Fatalf("no payment_no in response: %+v", resp.Data)
	}
	return no
}

func TestCreatePaymentEndpoint(t *testing.T) {
	env := newTestEnv(t)
	no := env.createPayment(t)

	status, resp := env.do(t, http.MethodGet, "/api/v1/payments/"+no, nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	data := resp.Data.(map[string]interface{})
	if data["status"] != string(domain.PaymentStatusPending) {
		t.Errorf("expected pending, got %v", data["status"])
	}
	if data["amount"] != "100.00" {
		t.Errorf("expected amount 100.00, got %v", data["amount"])
	}
	if data["payment_method"] != string(domain.PaymentMethodWallet) {
		t.Errorf("expected wallet, got %v", data["payment_method"])
	}
}

func TestCreatePaymentEndpoint_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
	}{
		{"bad order id", map[string]interface{}{"order_id": "nope", "amount": "1", "payment_method": "card"}, fiber.StatusBadRequest},
		{"unknown order", map[string]interface{}{"order_id": uuid.NewString(), "amount": "1", "payment_method": "card"}, fiber.StatusNotFound},
		{"zero amount", map[string]interface{}{"order_id": env.order.ID.String(), "amount": "0", "payment_method": "card"}, fiber.StatusBadRequest},
		{"bad method", map[string]interface{}{"order_id": env.order.ID.String(), "amount": "1", "payment_method": "gold"}, fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := env.do(t, http.MethodPost, "/api/v1/payments", tt.body)
			if status != tt.status {
				t.Errorf("expected %d, got %d (%s)", tt.status, status, resp.Message)
			}
			if resp.Success || resp.Error == nil {
				t.Error("expected an error envelope")
			}
		})
	}
}

func TestGetPaymentEndpoint_NotFound(t *testing.T) {
	env := newTestEnv(t)
	status, resp := env.do(t, http.MethodGet, "/api/v1/payments/PAY000", nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if resp.Error.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %s", resp.Error.Code)
	}
}

func TestSettleAndCallbackEndpoints(t *testing.T) {
	env := newTestEnv(t)
	no := env.createPayment(t)

	status, _ := env.do(t, http.MethodPost, "/api/v1/payments/"+no+"/settle", nil)
	if status != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d", status)
	}

	status, _ = env.do(t, http.MethodPost, "/api/v1/payments/"+no+"/settle", nil)
	if status != fiber.StatusConflict {
		t.Errorf("expected 409 for a second settle, got %d", status)
	}

	status, resp := env.do(t, http.MethodPost, "/api/v1/payments/callback", map[string]interface{}{
		"payment_no":     no,
		"success":        true,
		"transaction_id": "TXN123",
	})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, resp.Message)
	}
	data := resp.Data.(map[string]interface{})
	if data["status"] != string(domain.PaymentStatusSuccess) || data["transaction_id"] != "TXN123" {
		t.Errorf("unexpected payment after callback: %+v", data)
	}

	order, _ := env.orders.GetOrder(context.Background(), env.order.ID)
	if order.Status != domain.OrderStatusPaid {
		t.Errorf("expected order paid, got %s", order.Status)
	}

	status, resp = env.do(t, http.MethodPost, "/api/v1/payments/"+no+"/refund", map[string]string{"reason": "user cancelled"})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, resp.Message)
	}
	data = resp.Data.(map[string]interface{})
	if data["status"] != string(domain.PaymentStatusRefunded) || data["refund_amount"] != "100.00" {
		t.Errorf("unexpected payment after refund: %+v", data)
	}
}

func TestCallbackEndpoint_Errors(t *testing.T) {
	env := newTestEnv(t)
	no := env.createPayment(t)

	status, _ := env.do(t, http.MethodPost, "/api/v1/payments/callback", map[string]interface{}{"success": true})
	if status != fiber.StatusBadRequest {
		t.Errorf("expected 400 without payment_no, got %d", status)
	}

	status, _ = env.do(t, http.MethodPost, "/api/v1/payments/callback", map[string]interface{}{"payment_no": "PAY404", "success": true})
	if status != fiber.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}

	status, resp := env.do(t, http.MethodPost, "/api/v1/payments/callback", map[string]interface{}{"payment_no": no, "success": true})
	if status != fiber.StatusConflict {
		t.Fatalf("expected 409 for a pending payment, got %d", status)
	}
	if resp.Error.Details["from"] != string(domain.PaymentStatusPending) {
		t.Errorf("expected from=pending, got %v", resp.Error.Details["from"])
	}
	allowed, _ := resp.Error.Details["allowed"].([]interface{})
	if len(allowed) != 2 || allowed[0] != string(domain.PaymentStatusProcessing) {
		t.Errorf("expected allowed=[processing failed], got %v", resp.Error.Details["allowed"])
	}

	status, _ = env.do(t, http.MethodPost, "/api/v1/payments/"+no+"/settle", nil)
	if status != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d", status)
	}
	status, resp = env.do(t, http.MethodPost, "/api/v1/payments/callback", map[string]interface{}{"payment_no": no, "success": true})
	if status != fiber.StatusBadRequest {
		t.Errorf("expected 400 for a success without transaction id, got %d", status)
	}
	got, _ := env.payments.GetByPaymentNo(context.Background(), no)
	if got.PaymentStatus != domain.PaymentStatusProcessing {
		t.Errorf("expected processing, got %s", got.PaymentStatus)
	}
}

func TestSettleEndpoint_AfterShutdown(t *testing.T) {
	env := newTestEnv(t)
	no := env.createPayment(t)
	env.svc.Stop(context.Background())

	status, resp := env.do(t, http.MethodPost, "/api/v1/payments/"+no+"/settle", nil)
	if status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	if resp.Error.Code != "SERVICE_UNAVAILABLE" {
		t.Errorf("expected SERVICE_UNAVAILABLE, got %s", resp.Error.Code)
	}
}

func TestListPaymentsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	first := env.createPayment(t)
	time.Sleep(2 * time.Millisecond)
	second := env.createPayment(t)

	status, resp := env.do(t, http.MethodGet, "/api/v1/payments?page=1&page_size=1", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	data := resp.Data.(map[string]interface{})
	if data["total"] != float64(2) || data["page"] != float64(1) || data["page_size"] != float64(1) {
		t.Errorf("unexpected page header: %+v", data)
	}
	items, _ := data["items"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["payment_no"] != second {
		t.Errorf("expected [%s] newest first, got %+v", second, items)
	}

	_, resp = env.do(t, http.MethodGet, "/api/v1/payments?page=2&page_size=1", nil)
	items, _ = resp.Data.(map[string]interface{})["items"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["payment_no"] != first {
		t.Errorf("expected [%s] on page 2, got %+v", first, items)
	}

	_, resp = env.do(t, http.MethodGet, "/api/v1/payments", nil)
	data = resp.Data.(map[string]interface{})
	if data["page_size"] != float64(domain.DefaultPageSize) {
		t.Errorf("expected default page size %d, got %v", domain.DefaultPageSize, data["page_size"])
	}
}

func TestRefundEndpoint_Pending(t *testing.T) {
	env := newTestEnv(t)
	no := env.createPayment(t)

	status, resp := env.do(t, http.MethodPost, "/api/v1/payments/"+no+"/refund", map[string]string{"reason": "x"})
	if status != fiber.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
	if resp.Error.Details["to"] != string(domain.PaymentStatusRefunded) {
		t.Errorf("expected to=refunded, got %v", resp.Error.Details["to"])
	}
}

func TestTimeoutCheckAndListEndpoints(t *testing.T) {
	env := newTestEnv(t)
	no := env.createPayment(t)

	status, resp := env.do(t, http.MethodPost, "/api/v1/payments/timeout-check", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	data := resp.Data.(map[string]interface{})
	if data["expired"] != float64(0) || data["threshold"] != (30*time.Minute).String() {
		t.Errorf("unexpected timeout check result: %+v", data)
	}

	paths := []string{
		"/api/v1/payments/pending",
		"/api/v1/orders/" + env.order.ID.String() + "/payments",
		"/api/v1/orders/no/O-1/payments",
	}
	for _, path := range paths {
		status, resp := env.do(t, http.MethodGet, path, nil)
		if status != fiber.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, status)
		}
		list, _ := resp.Data.([]interface{})
		if len(list) != 1 || list[0].(map[string]interface{})["payment_no"] != no {
			t.Errorf("GET %s: expected [%s], got %+v", path, no, resp.Data)
		}
	}

	status, _ = env.do(t, http.MethodGet, "/api/v1/users/not-a-uuid/payments", nil)
	if status != fiber.StatusBadRequest {
		t.Errorf("expected 400 for a bad user id, got %d", status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	status, resp := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if status != fiber.StatusOK || !resp.Success {
		t.Fatalf("expected healthy response, got %d", status)
	}
	if resp.RequestID == "" {
		t.Error("expected a request id")
	}
}

func TestHandlePaymentEvent(t *testing.T) {
	env := newTestEnv(t)
	no := env.createPayment(t)
	ctx := context.Background()

	if err := env.handler.paymentService.SettleAsync(ctx, no); err != nil {
		t.Fatalf("SettleAsync: %v", err)
	}

	// Payloads arrive as generic JSON after a round trip through the broker.
	raw, _ := json.Marshal(events.PaymentEvent{
		ID:        uuid.New(),
		PaymentNo: no,
		EventType: events.PaymentCallbackEvent,
		Service:   events.GatewayServiceName,
		Payload:   domain.CallbackRequest{PaymentNo: no, FailReason: "Bank maintenance"},
	})
	var event events.PaymentEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatal(err)
	}

	if err := env.handler.HandlePaymentEvent(ctx, event); err != nil {
		t.Fatalf("HandlePaymentEvent: %v", err)
	}
	got, _ := env.payments.GetByPaymentNo(ctx, no)
	if got.PaymentStatus != domain.PaymentStatusFailed || got.NotifyData != "Bank maintenance" {
		t.Errorf("expected failed with reason, got %s %q", got.PaymentStatus, got.NotifyData)
	}

	settled := env.createPayment(t)
	if err := env.handler.paymentService.SettleAsync(ctx, settled); err != nil {
		t.Fatalf("SettleAsync: %v", err)
	}
	incomplete := events.PaymentEvent{EventType: events.PaymentCallbackEvent, Payload: map[string]interface{}{"payment_no": settled, "success": true}}
	if err := env.handler.HandlePaymentEvent(ctx, incomplete); err != nil {
		t.Errorf("success without transaction id should be dropped, got %v", err)
	}

	unknown := events.PaymentEvent{EventType: events.PaymentCallbackEvent, Payload: map[string]interface{}{"payment_no": "PAY404"}}
	if err := env.handler.HandlePaymentEvent(ctx, unknown); err != nil {
		t.Errorf("unknown payment should be dropped, got %v", err)
	}
}
