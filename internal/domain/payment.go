package domain

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodWechat   PaymentMethod = "wechat"
	PaymentMethodAlipay   PaymentMethod = "alipay"
	PaymentMethodWallet   PaymentMethod = "wallet"
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodWechat, PaymentMethodAlipay, PaymentMethodWallet,
		PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer:
		return true
	}
	return false
}

// PaymentRecord is one settlement attempt for an order.
type PaymentRecord struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	PaymentNo      string          `json:"payment_no" db:"payment_no"`
	OrderID        uuid.UUID       `json:"order_id" db:"order_id"`
	OrderNo        string          `json:"order_no" db:"order_no"`
	UserID         *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	PaymentAmount  decimal.Decimal `json:"payment_amount" db:"payment_amount"`
	PaymentMethod  PaymentMethod   `json:"payment_method" db:"payment_method"`
	PaymentChannel string          `json:"payment_channel,omitempty" db:"payment_channel"`
	TransactionID  string          `json:"transaction_id,omitempty" db:"transaction_id"` // gateway reference
	PaymentStatus  PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentTime    *time.Time      `json:"payment_time,omitempty" db:"payment_time"`
	RefundAmount   decimal.Decimal `json:"refund_amount" db:"refund_amount"`
	RefundReason   string          `json:"refund_reason,omitempty" db:"refund_reason"`
	RefundTime     *time.Time      `json:"refund_time,omitempty" db:"refund_time"`
	NotifyTime     *time.Time      `json:"notify_time,omitempty" db:"notify_time"`
	NotifyData     string          `json:"notify_data,omitempty" db:"notify_data"`
	Version        int64           `json:"version" db:"version"`
	CreateTime     time.Time       `json:"create_time" db:"create_time"`
	UpdateTime     time.Time       `json:"update_time" db:"update_time"`
}

func NewPaymentRecord(order *Order, amount decimal.Decimal, method PaymentMethod, channel string, now time.Time) *PaymentRecord {
	return &PaymentRecord{
		ID:             uuid.New(),
		PaymentNo:      GeneratePaymentNo(now),
		OrderID:        order.ID,
		OrderNo:        order.OrderNo,
		UserID:         order.UserID,
		PaymentAmount:  amount,
		PaymentMethod:  method,
		PaymentChannel: channel,
		PaymentStatus:  PaymentStatusPending,
		RefundAmount:   decimal.Zero,
		CreateTime:     now,
		UpdateTime:     now,
	}
}

// GeneratePaymentNo builds PAY + yyyyMMddHHmmss + 6 random digits.
// Uniqueness is finally enforced by the repository.
func GeneratePaymentNo(now time.Time) string {
	return fmt.Sprintf("PAY%s%06d", now.Format("20060102150405"), rand.Intn(1000000))
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (p *PaymentRecord) Clone() *PaymentRecord {
	cp := *p
	cp.UserID = cloneUUID(p.UserID)
	cp.PaymentTime = cloneTime(p.PaymentTime)
	cp.RefundTime = cloneTime(p.RefundTime)
	cp.NotifyTime = cloneTime(p.NotifyTime)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

type CreatePaymentRequest struct {
	OrderID        uuid.UUID       `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	PaymentChannel string          `json:"payment_channel,omitempty"`
}

// CallbackRequest is the logical payload a gateway delivers once settlement resolves.
type CallbackRequest struct {
	PaymentNo     string `json:"payment_no"`
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	FailReason    string `json:"fail_reason,omitempty"`
}

func (r CallbackRequest) Outcome() SettlementOutcome {
	return SettlementOutcome{
		Success:       r.Success,
		TransactionID: r.TransactionID,
		FailReason:    r.FailReason,
	}
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// PaymentPage is one page of payments ordered newest first.
type PaymentPage struct {
	Items    []*PaymentRecord
	Total    int
	Page     int
	PageSize int
}

// NormalizePage clamps a 1-based page request to valid bounds and returns the row offset.
func NormalizePage(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize, (page - 1) * pageSize
}
