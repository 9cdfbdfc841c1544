package domain

import (
	"fmt"
	"time"
)

// PaymentContext binds a PaymentRecord to its lifecycle state. All mutation of
// the record's status and its companion fields goes through a context.
type PaymentContext struct {
	record *PaymentRecord
	state  PaymentStatus
	now    func() time.Time
}

type ContextOption func(*PaymentContext)

// WithClock overrides the time source used to stamp transitions.
func WithClock(now func() time.Time) ContextOption {
	return func(c *PaymentContext) {
		c.now = now
	}
}

func NewPaymentContext(record *PaymentRecord, opts ...ContextOption) (*PaymentContext, error) {
	if record == nil {
		return nil, fmt.Errorf("payment context: nil record")
	}
	if !record.PaymentStatus.IsValid() {
		return nil, fmt.Errorf("payment context %s: %w: %q", record.PaymentNo, ErrUnknownStatus, record.PaymentStatus)
	}

	c := &PaymentContext{
		record: record,
		state:  record.PaymentStatus,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *PaymentContext) State() PaymentStatus {
	return c.state
}

func (c *PaymentContext) Record() *PaymentRecord {
	return c.record
}

// TransitionTo moves the context to target if the table allows it and mirrors
// the new state onto the record.
func (c *PaymentContext) TransitionTo(target PaymentStatus) error {
	return c.commit("", target, nil)
}

func (c *PaymentContext) BeginProcessing() error {
	switch c.state {
	case PaymentStatusPending:
		return c.commit(OpBeginProcessing, PaymentStatusProcessing, nil)
	default:
		return c.unsupported(OpBeginProcessing, PaymentStatusProcessing)
	}
}

func (c *PaymentContext) OnSettlementOutcome(outcome SettlementOutcome) error {
	switch c.state {
	case PaymentStatusProcessing:
		if outcome.Success {
			if outcome.TransactionID == "" {
				return fmt.Errorf("payment %s: %w", c.record.PaymentNo, ErrMissingTransactionID)
			}
			return c.commit(OpSettlementOutcome, PaymentStatusSuccess, func(r *PaymentRecord, now time.Time) {
				r.TransactionID = outcome.TransactionID
				r.PaymentTime = &now
				r.NotifyTime = &now
				r.NotifyData = outcome.TransactionID
			})
		}
		reason := outcome.Reason()
		return c.commit(OpSettlementOutcome, PaymentStatusFailed, func(r *PaymentRecord, now time.Time) {
			r.NotifyTime = &now
			r.NotifyData = reason
		})
	default:
		return c.unsupported(OpSettlementOutcome, outcome.Target())
	}
}

// RequestRefund refunds the full payment amount; partial refunds are not supported.
func (c *PaymentContext) RequestRefund(reason string) error {
	switch c.state {
	case PaymentStatusSuccess:
		return c.commit(OpRequestRefund, PaymentStatusRefunded, func(r *PaymentRecord, now time.Time) {
			r.RefundAmount = r.PaymentAmount
			r.RefundReason = reason
			r.RefundTime = &now
		})
	default:
		return c.unsupported(OpRequestRefund, PaymentStatusRefunded)
	}
}

// CheckTimeout fails an in-flight payment whose elapsed time exceeds threshold.
// It reports whether the state changed. States past settlement ignore the call.
func (c *PaymentContext) CheckTimeout(elapsed, threshold time.Duration) (bool, error) {
	switch c.state {
	case PaymentStatusPending, PaymentStatusProcessing:
		if elapsed <= threshold {
			return false, nil
		}
		err := c.commit(OpCheckTimeout, PaymentStatusFailed, func(r *PaymentRecord, now time.Time) {
			r.NotifyTime = &now
			r.NotifyData = TimeoutFailReason
		})
		if err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// CheckTimeoutAt is CheckTimeout with elapsed measured from the record's creation.
func (c *PaymentContext) CheckTimeoutAt(now time.Time, threshold time.Duration) (bool, error) {
	return c.CheckTimeout(now.Sub(c.record.CreateTime), threshold)
}

// IsTimedOut reports whether more than threshold has passed since createdAt.
func IsTimedOut(now, createdAt time.Time, threshold time.Duration) bool {
	return now.Sub(createdAt) > threshold
}

func (c *PaymentContext) commit(op string, target PaymentStatus, apply func(r *PaymentRecord, now time.Time)) error {
	if !c.state.CanTransitionTo(target) {
		return &IllegalTransitionError{Op: op, From: c.state, To: target}
	}

	now := c.now()
	if apply != nil {
		apply(c.record, now)
	}
	c.state = target
	c.record.PaymentStatus = target
	c.record.UpdateTime = now
	return nil
}

func (c *PaymentContext) unsupported(op string, target PaymentStatus) error {
	return &IllegalTransitionError{Op: op, From: c.state, To: target}
}
