package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentGateway external payment provider interface. Results are never
// returned directly; they arrive later through the callback.
type PaymentGateway interface {
	Settle(ctx context.Context, request SettlementRequest, callback SettlementCallback) error
}

type SettlementRequest struct {
	PaymentNo     string               `json:"payment_no"`
	Amount        decimal.Decimal      `json:"amount"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
}

type SettlementResult struct {
	PaymentNo     string    `json:"payment_no"`
	Success       bool      `json:"success"`
	TransactionID string    `json:"transaction_id,omitempty"`
	FailReason    string    `json:"fail_reason,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

func (r SettlementResult) Callback() domain.CallbackRequest {
	return domain.CallbackRequest{
		PaymentNo:     r.PaymentNo,
		Success:       r.Success,
		TransactionID: r.TransactionID,
		FailReason:    r.FailReason,
	}
}

type SettlementCallback func(result SettlementResult)

const (
	ReasonInsufficientBalance = "Insufficient balance"
	ReasonCardError           = "Bank card error"
	ReasonWrongPassword       = "Wrong payment password"
	ReasonLimitExceeded       = "Transaction limit exceeded"
	ReasonNetworkTimeout      = "Network timeout"
	ReasonBankMaintenance     = "Bank system under maintenance"
	ReasonCancelled           = "settlement cancelled"
)

var failReasons = []string{
	ReasonInsufficientBalance,
	ReasonCardError,
	ReasonWrongPassword,
	ReasonLimitExceeded,
	ReasonNetworkTimeout,
	ReasonBankMaintenance,
}

// FailReasons returns the fixed set of decline reasons the simulator picks from.
func FailReasons() []string {
	out := make([]string, len(failReasons))
	copy(out, failReasons)
	return out
}

// MockPaymentGateway simulates a third-party processor: a random delay in
// [MinDelay, MaxDelay] followed by success with probability SuccessRate.
type MockPaymentGateway struct {
	SuccessRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration

	mu   sync.Mutex
	rand *rand.Rand
	wg   sync.WaitGroup
	log  *log.Helper
}

type Option func(*MockPaymentGateway)

func WithDelay(min, max time.Duration) Option {
	return func(g *MockPaymentGateway) {
		g.MinDelay = min
		g.MaxDelay = max
	}
}

func WithSeed(seed int64) Option {
	return func(g *MockPaymentGateway) {
		g.rand = rand.New(rand.NewSource(seed))
	}
}

func NewMockPaymentGateway(successRate float64, logger log.Logger, opts ...Option) *MockPaymentGateway {
	g := &MockPaymentGateway{
		SuccessRate: successRate,
		MinDelay:    time.Second,
		MaxDelay:    3 * time.Second,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:         log.NewHelper(log.With(logger, "component", "mock-gateway")),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.MaxDelay < g.MinDelay {
		g.MaxDelay = g.MinDelay
	}
	return g
}

func (m *MockPaymentGateway) Settle(ctx context.Context, request SettlementRequest, callback SettlementCallback) error {
	if request.PaymentNo == "" {
		return fmt.Errorf("%w: empty payment number", domain.ErrGateway)
	}
	if !request.Amount.IsPositive() {
		return fmt.Errorf("%w: invalid amount %s", domain.ErrGateway, request.Amount)
	}
	if callback == nil {
		return fmt.Errorf("%w: nil callback", domain.ErrGateway)
	}

	m.log.Infof("Mock Payment Gateway: settling payment %s, amount %s", request.PaymentNo, request.Amount.StringFixed(2))

	delay, success, reason := m.draw()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			m.log.Warnf("Mock Payment Gateway: settlement of %s cancelled: %v", request.PaymentNo, ctx.Err())
			callback(SettlementResult{
				PaymentNo:   request.PaymentNo,
				FailReason:  ReasonCancelled,
				ProcessedAt: time.Now(),
			})
			return
		}

		if !success {
			m.log.Warnf("Mock Payment Gateway: payment %s declined: %s", request.PaymentNo, reason)
			callback(SettlementResult{
				PaymentNo:   request.PaymentNo,
				FailReason:  reason,
				ProcessedAt: time.Now(),
			})
			return
		}

		transactionID := generateTransactionID()
		m.log.Infof("Mock Payment Gateway: payment %s settled, transaction %s", request.PaymentNo, transactionID)
		callback(SettlementResult{
			PaymentNo:     request.PaymentNo,
			Success:       true,
			TransactionID: transactionID,
			ProcessedAt:   time.Now(),
		})
	}()

	return nil
}

// Wait blocks until every in-flight settlement has delivered its callback.
func (m *MockPaymentGateway) Wait() {
	m.wg.Wait()
}

func (m *MockPaymentGateway) draw() (time.Duration, bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delay := m.MinDelay
	if span := m.MaxDelay - m.MinDelay; span > 0 {
		delay += time.Duration(m.rand.Int63n(int64(span)))
	}
	success := m.rand.Float64() < m.SuccessRate
	reason := failReasons[m.rand.Intn(len(failReasons))]
	return delay, success, reason
}

func generateTransactionID() string {
	return fmt.Sprintf("TXN%d%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}
