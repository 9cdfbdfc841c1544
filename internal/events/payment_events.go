package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentEventType string

const (
	// Outbound lifecycle events
	PaymentCreatedEvent    PaymentEventType = "payment.created"
	PaymentProcessingEvent PaymentEventType = "payment.processing"
	PaymentProcessedEvent  PaymentEventType = "payment.processed"
	PaymentFailedEvent     PaymentEventType = "payment.failed"
	PaymentRefundedEvent   PaymentEventType = "payment.refunded"

	// Inbound gateway notification
	PaymentCallbackEvent PaymentEventType = "payment.callback"
)

const (
	ServiceName        = "payment-service"
	GatewayServiceName = "payment-gateway"
)

type PaymentEvent struct {
	ID            uuid.UUID        `json:"id"`
	PaymentNo     string           `json:"payment_no"`
	OrderID       uuid.UUID        `json:"order_id"`
	EventType     PaymentEventType `json:"event_type"`
	Payload       interface{}      `json:"payload"`
	Timestamp     time.Time        `json:"timestamp"`
	Service       string           `json:"service"`        // publishing service
	CorrelationID uuid.UUID        `json:"correlation_id"` // event tracking
}

// RoutingKey follows <prefix>.<service>.<event type>.
func (e PaymentEvent) RoutingKey(prefix string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, e.Service, string(e.EventType))
}

type PaymentStatusPayload struct {
	PaymentNo     string               `json:"payment_no"`
	OrderNo       string               `json:"order_no"`
	Status        domain.PaymentStatus `json:"status"`
	Amount        decimal.Decimal      `json:"amount"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	TransactionID string               `json:"transaction_id,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

type PaymentRefundedPayload struct {
	PaymentNo    string          `json:"payment_no"`
	OrderNo      string          `json:"order_no"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	RefundReason string          `json:"refund_reason"`
	RefundTime   *time.Time      `json:"refund_time,omitempty"`
}

// NewPaymentEvent builds the lifecycle event matching the record's current state.
func NewPaymentEvent(eventType PaymentEventType, payment *domain.PaymentRecord) PaymentEvent {
	var payload interface{}
	switch eventType {
	case PaymentRefundedEvent:
		payload = PaymentRefundedPayload{
			PaymentNo:    payment.PaymentNo,
			OrderNo:      payment.OrderNo,
			RefundAmount: payment.RefundAmount,
			RefundReason: payment.RefundReason,
			RefundTime:   payment.RefundTime,
		}
	default:
		p := PaymentStatusPayload{
			PaymentNo:     payment.PaymentNo,
			OrderNo:       payment.OrderNo,
			Status:        payment.PaymentStatus,
			Amount:        payment.PaymentAmount,
			PaymentMethod: payment.PaymentMethod,
			TransactionID: payment.TransactionID,
		}
		if payment.PaymentStatus == domain.PaymentStatusFailed {
			p.Reason = payment.NotifyData
		}
		payload = p
	}

	return PaymentEvent{
		ID:            uuid.New(),
		PaymentNo:     payment.PaymentNo,
		OrderID:       payment.OrderID,
		EventType:     eventType,
		Payload:       payload,
		Timestamp:     time.Now(),
		Service:       ServiceName,
		CorrelationID: uuid.New(),
	}
}

// DecodePayload converts a generically decoded payload into dst.
func DecodePayload(event PaymentEvent, dst interface{}) error {
	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("payload re-encode error: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("payload decode error: %w", err)
	}
	return nil
}
