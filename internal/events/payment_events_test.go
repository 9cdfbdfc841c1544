package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestNewPaymentEvent(t *testing.T) {
	refundTime := time.Now()
	payment := &domain.PaymentRecord{
		PaymentNo:     "PAY1",
		OrderID:       uuid.New(),
		OrderNo:       "O-1",
		PaymentAmount: decimal.NewFromInt(100),
		PaymentStatus: domain.PaymentStatusFailed,
		NotifyData:    "Card error",
		RefundTime:    &refundTime,
	}

	failed := NewPaymentEvent(PaymentFailedEvent, payment)
	if got := failed.RoutingKey("saga"); got != "saga.payment-service.payment.failed" {
		t.Errorf("unexpected routing key %s", got)
	}
	payload, ok := failed.Payload.(PaymentStatusPayload)
	if !ok {
		t.Fatalf("expected status payload, got %T", failed.Payload)
	}
	if payload.Reason != "Card error" {
		t.Errorf("expected failure reason in payload, got %q", payload.Reason)
	}

	refunded := NewPaymentEvent(PaymentRefundedEvent, payment)
	if _, ok := refunded.Payload.(PaymentRefundedPayload); !ok {
		t.Errorf("expected refund payload, got %T", refunded.Payload)
	}
	if refunded.ID == failed.ID {
		t.Error("expected distinct event ids")
	}
}

func TestDecodePayload(t *testing.T) {
	raw := []byte(`{"event_type":"payment.callback","payload":{"payment_no":"PAY1","success":true,"transaction_id":"TXN9"}}`)
	var event PaymentEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatal(err)
	}

	var callback domain.CallbackRequest
	if err := DecodePayload(event, &callback); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if callback.PaymentNo != "PAY1" || !callback.Success || callback.TransactionID != "TXN9" {
		t.Errorf("unexpected callback %+v", callback)
	}
}
