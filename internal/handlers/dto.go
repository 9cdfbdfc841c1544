package handlers

import (
	"time"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreatePaymentRequest struct {
	OrderID        string          `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentChannel string          `json:"payment_channel"`
}

type CallbackRequest struct {
	PaymentNo     string `json:"payment_no"`
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	FailReason    string `json:"fail_reason"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

type PaymentResponse struct {
	ID             uuid.UUID  `json:"id"`
	PaymentNo      string     `json:"payment_no"`
	OrderID        uuid.UUID  `json:"order_id"`
	OrderNo        string     `json:"order_no"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	Amount         string     `json:"amount"`
	PaymentMethod  string     `json:"payment_method"`
	PaymentChannel string     `json:"payment_channel,omitempty"`
	Status         string     `json:"status"`
	TransactionID  string     `json:"transaction_id,omitempty"`
	FailReason     string     `json:"fail_reason,omitempty"`
	PaymentTime    *time.Time `json:"payment_time,omitempty"`
	RefundAmount   string     `json:"refund_amount"`
	RefundReason   string     `json:"refund_reason,omitempty"`
	RefundTime     *time.Time `json:"refund_time,omitempty"`
	NotifyTime     *time.Time `json:"notify_time,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type PaymentPageResponse struct {
	Items    []PaymentResponse `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

type TimeoutCheckResponse struct {
	Expired   int    `json:"expired"`
	Threshold string `json:"threshold"`
}

func toPaymentResponse(p *domain.PaymentRecord) PaymentResponse {
	resp := PaymentResponse{
		ID:             p.ID,
		PaymentNo:      p.PaymentNo,
		OrderID:        p.OrderID,
		OrderNo:        p.OrderNo,
		UserID:         p.UserID,
		Amount:         p.PaymentAmount.StringFixed(2),
		PaymentMethod:  string(p.PaymentMethod),
		PaymentChannel: p.PaymentChannel,
		Status:         string(p.PaymentStatus),
		TransactionID:  p.TransactionID,
		PaymentTime:    p.PaymentTime,
		RefundAmount:   p.RefundAmount.StringFixed(2),
		RefundReason:   p.RefundReason,
		RefundTime:     p.RefundTime,
		NotifyTime:     p.NotifyTime,
		CreatedAt:      p.CreateTime,
		UpdatedAt:      p.UpdateTime,
	}
	if p.PaymentStatus == domain.PaymentStatusFailed {
		resp.FailReason = p.NotifyData
	}
	return resp
}

func toPaymentResponses(payments []*domain.PaymentRecord) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	return out
}

func toPaymentPageResponse(page *domain.PaymentPage) PaymentPageResponse {
	return PaymentPageResponse{
		Items:    toPaymentResponses(page.Items),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
}
