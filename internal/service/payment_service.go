package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cemetery-system/payment-service/internal/domain"
	"github.com/cemetery-system/payment-service/internal/events"
	"github.com/cemetery-system/payment-service/internal/gateway"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const (
	DefaultTimeoutThreshold = 30 * time.Minute

	maxPaymentNoAttempts = 5
	callbackTimeout      = 30 * time.Second
	internalErrorPrefix  = "internal error: "
)

type PaymentStore interface {
	Create(ctx context.Context, payment *domain.PaymentRecord) error
	Update(ctx context.Context, payment *domain.PaymentRecord, expected domain.PaymentStatus) error
	GetByPaymentNo(ctx context.Context, paymentNo string) (*domain.PaymentRecord, error)
	ListNonTerminal(ctx context.Context) ([]*domain.PaymentRecord, error)
	ListByStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.PaymentRecord, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.PaymentRecord, error)
	ListByOrderNo(ctx context.Context, orderNo string) ([]*domain.PaymentRecord, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.PaymentRecord, error)
	ListPage(ctx context.Context, offset, limit int) ([]*domain.PaymentRecord, int, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.PaymentEvent) error
}

type PaymentService struct {
	payments  PaymentStore
	orders    OrderStore
	orderSync OrderStatusSynchronizer
	gateway   gateway.PaymentGateway
	publisher EventPublisher
	locker    Locker
	pool      *settlementPool

	// inflight counts settlements handed to the gateway and not yet answered.
	inflight  sync.WaitGroup
	callbacks sync.WaitGroup
	mu        sync.Mutex
	stopped   bool

	timeoutThreshold time.Duration
	now              func() time.Time
	log              *log.Helper
}

type Option func(*PaymentService)

func WithClock(now func() time.Time) Option {
	return func(s *PaymentService) {
		s.now = now
	}
}

func WithTimeoutThreshold(threshold time.Duration) Option {
	return func(s *PaymentService) {
		if threshold > 0 {
			s.timeoutThreshold = threshold
		}
	}
}

func WithLocker(locker Locker) Option {
	return func(s *PaymentService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

func WithSettlementPool(workers, queueSize int) Option {
	return func(s *PaymentService) {
		s.pool = newSettlementPool(workers, queueSize, s.log)
	}
}

func NewPaymentService(
	payments PaymentStore,
	orders OrderStore,
	orderSync OrderStatusSynchronizer,
	paymentGateway gateway.PaymentGateway,
	publisher EventPublisher,
	logger log.Logger,
	opts ...Option,
) *PaymentService {
	helper := log.NewHelper(log.With(logger, "service", "payment"))
	s := &PaymentService{
		payments:         payments,
		orders:           orders,
		orderSync:        orderSync,
		gateway:          paymentGateway,
		publisher:        publisher,
		locker:           NewLocalLocker(),
		timeoutThreshold: DefaultTimeoutThreshold,
		now:              time.Now,
		log:              helper,
	}
	s.pool = newSettlementPool(4, 64, helper)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the settlement workers. Settlement tasks live as long as ctx.
func (s *PaymentService) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// Stop stops accepting settlements and waits, until ctx is done, for the gateway to
// answer the ones already sent. Payments still unanswered stay in Processing and
// their late callbacks are dropped; the timeout sweep resolves them.
func (s *PaymentService) Stop(ctx context.Context) {
	s.pool.Stop()

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.log.Warn("Stopped before the gateway answered every settlement, unresolved payments are left for the timeout sweep")
	}

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.callbacks.Wait()
}

func (s *PaymentService) TimeoutThreshold() time.Duration {
	return s.timeoutThreshold
}

func (s *PaymentService) CreatePayment(ctx context.Context, request domain.CreatePaymentRequest) (*domain.PaymentRecord, error) {
	if !request.Amount.IsPositive() {
		return nil, fmt.Errorf("create payment: %w: %s", domain.ErrInvalidAmount, request.Amount)
	}
	if !request.PaymentMethod.IsValid() {
		return nil, fmt.Errorf("create payment: %w: %q", domain.ErrInvalidPaymentMethod, request.PaymentMethod)
	}

	order, err := s.orders.GetOrder(ctx, request.OrderID)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if !order.AwaitingPayment() {
		return nil, fmt.Errorf("create payment: order %s is %s: %w", order.OrderNo, order.Status, domain.ErrInvalidOrderState)
	}

	for attempt := 1; attempt <= maxPaymentNoAttempts; attempt++ {
		payment := domain.NewPaymentRecord(order, request.Amount, request.PaymentMethod, request.PaymentChannel, s.now())

		err = s.payments.Create(ctx, payment)
		if errors.Is(err, domain.ErrDuplicatePaymentNo) {
			s.log.Warnf("Payment number %s already taken (attempt %d/%d)", payment.PaymentNo, attempt, maxPaymentNoAttempts)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}

		s.log.Infof("Payment created: %s order=%s amount=%s method=%s",
			payment.PaymentNo, payment.OrderNo, payment.PaymentAmount.StringFixed(2), payment.PaymentMethod)
		s.publish(ctx, events.PaymentCreatedEvent, payment)
		return payment, nil
	}

	return nil, fmt.Errorf("create payment: %w", err)
}

// SettleAsync moves the payment to Processing and hands settlement to the worker pool.
// It returns once the transition is persisted and the task is queued.
func (s *PaymentService) SettleAsync(ctx context.Context, paymentNo string) error {
	if !s.pool.accepting() {
		return fmt.Errorf("settle payment %s: %w", paymentNo, ErrSettlementStopped)
	}

	var payment *domain.PaymentRecord

	err := s.withLock(ctx, paymentNo, func() error {
		current, err := s.payments.GetByPaymentNo(ctx, paymentNo)
		if err != nil {
			return err
		}

		pc, err := domain.NewPaymentContext(current, domain.WithClock(s.now))
		if err != nil {
			return err
		}
		if err := pc.BeginProcessing(); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, current, domain.PaymentStatusPending); err != nil {
			return err
		}
		payment = current
		return nil
	})
	if err != nil {
		return fmt.Errorf("settle payment %s: %w", paymentNo, err)
	}

	s.log.Infof("Payment %s is processing", paymentNo)
	s.publish(ctx, events.PaymentProcessingEvent, payment)

	request := gateway.SettlementRequest{
		PaymentNo:     payment.PaymentNo,
		Amount:        payment.PaymentAmount,
		PaymentMethod: payment.PaymentMethod,
	}
	if err := s.pool.Submit(ctx, func(taskCtx context.Context) { s.settle(taskCtx, request) }); err != nil {
		s.log.Errorf("Payment %s could not be queued for settlement: %v", paymentNo, err)
		s.deliver(domain.CallbackRequest{PaymentNo: paymentNo, FailReason: internalErrorPrefix + err.Error()})
	}
	return nil
}

// settle calls the gateway. Gateway errors and panics resolve the payment as failed.
// A task that starts after the pool stopped fails the payment without calling the gateway.
// Once sent, a settlement is never cancelled: ctx only releases the worker.
func (s *PaymentService) settle(ctx context.Context, request gateway.SettlementRequest) {
	if err := ctx.Err(); err != nil {
		s.log.Warnf("Settlement of %s dropped, pool stopped before it ran", request.PaymentNo)
		s.deliver(domain.CallbackRequest{
			PaymentNo:  request.PaymentNo,
			FailReason: internalErrorPrefix + ErrSettlementStopped.Error(),
		})
		return
	}

	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done); s.inflight.Done() }) }
	s.inflight.Add(1)

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Settlement of %s panicked: %v", request.PaymentNo, r)
			s.deliver(domain.CallbackRequest{
				PaymentNo:  request.PaymentNo,
				FailReason: fmt.Sprintf("%s%v", internalErrorPrefix, r),
			})
			finish()
		}
	}()

	err := s.gateway.Settle(context.WithoutCancel(ctx), request, func(result gateway.SettlementResult) {
		defer finish()
		s.deliver(result.Callback())
	})
	if err != nil {
		s.log.Errorf("Gateway rejected settlement of %s: %v", request.PaymentNo, err)
		s.deliver(domain.CallbackRequest{
			PaymentNo:  request.PaymentNo,
			FailReason: internalErrorPrefix + err.Error(),
		})
		finish()
		return
	}

	// Hold the worker until the gateway answers so the pool bounds in-flight settlements.
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// deliver feeds a gateway result into HandleCallback. If that fails the payment
// is resolved as failed once more so it does not stay in Processing. Callbacks
// arriving after Stop are dropped.
func (s *PaymentService) deliver(callback domain.CallbackRequest) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.log.Warnf("Callback for %s arrived after shutdown, left for the timeout sweep", callback.PaymentNo)
		return
	}
	s.callbacks.Add(1)
	s.mu.Unlock()
	defer s.callbacks.Done()

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Callback for %s panicked: %v", callback.PaymentNo, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	err := s.HandleCallback(ctx, callback)
	if err == nil {
		return
	}
	s.log.Errorf("Callback for %s failed: %v", callback.PaymentNo, err)

	retry := domain.CallbackRequest{
		PaymentNo:  callback.PaymentNo,
		FailReason: internalErrorPrefix + err.Error(),
	}
	if err := s.HandleCallback(ctx, retry); err != nil {
		s.log.Errorf("Failure callback for %s also failed, left for the timeout sweep: %v", callback.PaymentNo, err)
	}
}

// HandleCallback applies a settlement outcome. A callback for a payment that has
// already settled leaves the record alone and re-runs the order sync for it.
func (s *PaymentService) HandleCallback(ctx context.Context, callback domain.CallbackRequest) error {
	var settled, resync *domain.PaymentRecord

	err := s.withLock(ctx, callback.PaymentNo, func() error {
		payment, err := s.payments.GetByPaymentNo(ctx, callback.PaymentNo)
		if err != nil {
			return err
		}

		if !payment.PaymentStatus.InFlight() {
			s.log.Infof("Duplicate callback for %s ignored, payment already %s", payment.PaymentNo, payment.PaymentStatus)
			resync = payment
			return nil
		}

		expected := payment.PaymentStatus
		pc, err := domain.NewPaymentContext(payment, domain.WithClock(s.now))
		if err != nil {
			return err
		}
		if err := pc.OnSettlementOutcome(callback.Outcome()); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, payment, expected); err != nil {
			return err
		}
		settled = payment
		return nil
	})
	if err != nil {
		return fmt.Errorf("handle callback %s: %w", callback.PaymentNo, err)
	}
	if resync != nil {
		if err := s.syncOrder(ctx, resync); err != nil {
			return fmt.Errorf("handle callback %s: %w", callback.PaymentNo, err)
		}
		return nil
	}

	if settled.PaymentStatus == domain.PaymentStatusSuccess {
		s.log.Infof("Payment %s succeeded, transaction %s", settled.PaymentNo, settled.TransactionID)
		s.publish(ctx, events.PaymentProcessedEvent, settled)
		if err := s.syncOrder(ctx, settled); err != nil {
			return fmt.Errorf("handle callback %s: %w", callback.PaymentNo, err)
		}
		return nil
	}

	s.log.Warnf("Payment %s failed: %s", settled.PaymentNo, settled.NotifyData)
	s.publish(ctx, events.PaymentFailedEvent, settled)
	return nil
}

// RequestRefund refunds a settled payment in full and marks its order refunded.
// Repeating it for a refunded payment re-runs the order sync and returns the record.
func (s *PaymentService) RequestRefund(ctx context.Context, paymentNo, reason string) (*domain.PaymentRecord, error) {
	var refunded, already *domain.PaymentRecord

	err := s.withLock(ctx, paymentNo, func() error {
		payment, err := s.payments.GetByPaymentNo(ctx, paymentNo)
		if err != nil {
			return err
		}
		if payment.PaymentStatus == domain.PaymentStatusRefunded {
			already = payment
			return nil
		}

		expected := payment.PaymentStatus
		pc, err := domain.NewPaymentContext(payment, domain.WithClock(s.now))
		if err != nil {
			return err
		}
		if err := pc.RequestRefund(reason); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, payment, expected); err != nil {
			return err
		}
		refunded = payment
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("refund payment %s: %w", paymentNo, err)
	}

	if already != nil {
		s.log.Infof("Payment %s was already refunded, syncing order again", paymentNo)
		if err := s.syncOrder(ctx, already); err != nil {
			return already, fmt.Errorf("refund payment %s: %w", paymentNo, err)
		}
		return already, nil
	}

	s.log.Infof("Payment %s refunded: %s (%s)", paymentNo, refunded.RefundAmount.StringFixed(2), reason)
	s.publish(ctx, events.PaymentRefundedEvent, refunded)
	if err := s.syncOrder(ctx, refunded); err != nil {
		return refunded, fmt.Errorf("refund payment %s: %w", paymentNo, err)
	}
	return refunded, nil
}

// syncOrder brings the order in line with a settled payment. The synchronizer is
// idempotent, so this runs again for every repeated callback or refund request.
func (s *PaymentService) syncOrder(ctx context.Context, payment *domain.PaymentRecord) error {
	switch payment.PaymentStatus {
	case domain.PaymentStatusSuccess:
		return s.orderSync.MarkPaid(ctx, payment.OrderID)
	case domain.PaymentStatusRefunded:
		return s.orderSync.MarkRefunded(ctx, payment.OrderID)
	default:
		return nil
	}
}

// SweepTimeouts fails every in-flight payment older than the timeout threshold
// and returns how many were failed. Errors on single payments are logged and skipped.
func (s *PaymentService) SweepTimeouts(ctx context.Context) (int, error) {
	candidates, err := s.payments.ListNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep timeouts: %w", err)
	}

	now := s.now()
	expired := 0
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return expired, fmt.Errorf("sweep timeouts: %w", err)
		}
		if !candidate.PaymentStatus.InFlight() || !domain.IsTimedOut(now, candidate.CreateTime, s.timeoutThreshold) {
			continue
		}

		payment, err := s.expire(ctx, candidate.PaymentNo, now)
		if err != nil {
			s.log.Errorf("Timeout check of %s failed: %v", candidate.PaymentNo, err)
			continue
		}
		if payment == nil {
			continue
		}

		expired++
		s.log.Warnf("Payment %s timed out after %s", payment.PaymentNo, now.Sub(payment.CreateTime).Round(time.Second))
		s.publish(ctx, events.PaymentFailedEvent, payment)
	}

	if expired > 0 {
		s.log.Infof("Timeout sweep failed %d of %d in-flight payments", expired, len(candidates))
	}
	return expired, nil
}

// expire re-reads the payment under its lock so a callback that won the race is respected.
func (s *PaymentService) expire(ctx context.Context, paymentNo string, now time.Time) (*domain.PaymentRecord, error) {
	var expired *domain.PaymentRecord

	err := s.withLock(ctx, paymentNo, func() error {
		payment, err := s.payments.GetByPaymentNo(ctx, paymentNo)
		if err != nil {
			return err
		}

		expected := payment.PaymentStatus
		pc, err := domain.NewPaymentContext(payment, domain.WithClock(func() time.Time { return now }))
		if err != nil {
			return err
		}
		changed, err := pc.CheckTimeoutAt(now, s.timeoutThreshold)
		if err != nil || !changed {
			return err
		}
		if err := s.payments.Update(ctx, payment, expected); err != nil {
			return err
		}
		expired = payment
		return nil
	})
	return expired, err
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentNo string) (*domain.PaymentRecord, error) {
	return s.payments.GetByPaymentNo(ctx, paymentNo)
}

func (s *PaymentService) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.PaymentRecord, error) {
	return s.payments.ListByOrderID(ctx, orderID)
}

func (s *PaymentService) ListByOrderNo(ctx context.Context, orderNo string) ([]*domain.PaymentRecord, error) {
	return s.payments.ListByOrderNo(ctx, orderNo)
}

func (s *PaymentService) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.PaymentRecord, error) {
	return s.payments.ListByUserID(ctx, userID)
}

// ListPayments returns one page of all payments, newest first.
func (s *PaymentService) ListPayments(ctx context.Context, page, pageSize int) (*domain.PaymentPage, error) {
	page, pageSize, offset := domain.NormalizePage(page, pageSize)
	items, total, err := s.payments.ListPage(ctx, offset, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return &domain.PaymentPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *PaymentService) ListPending(ctx context.Context) ([]*domain.PaymentRecord, error) {
	return s.payments.ListByStatus(ctx, domain.PaymentStatusPending)
}

func (s *PaymentService) withLock(ctx context.Context, paymentNo string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, paymentNo)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (s *PaymentService) publish(ctx context.Context, eventType events.PaymentEventType, payment *domain.PaymentRecord) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.NewPaymentEvent(eventType, payment)); err != nil {
		s.log.Errorf("Publish %s for %s failed: %v", eventType, payment.PaymentNo, err)
	}
}
