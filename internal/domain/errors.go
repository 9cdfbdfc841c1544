package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidOrderState    = errors.New("order is not awaiting payment")
	ErrInvalidAmount        = errors.New("payment amount must be greater than zero")
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrDuplicatePaymentNo   = errors.New("duplicate payment number")
	ErrUnknownStatus        = errors.New("unknown payment status")
	ErrIllegalTransition    = errors.New("illegal payment state transition")
	ErrConcurrentUpdate     = errors.New("payment was modified concurrently")
	ErrGateway              = errors.New("payment gateway error")
	ErrMissingTransactionID = errors.New("successful settlement carries no transaction id")
)

// IllegalTransitionError reports an operation attempted from a state that does not allow it.
type IllegalTransitionError struct {
	Op   string
	From PaymentStatus
	To   PaymentStatus
}

func (e *IllegalTransitionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("illegal payment state transition: %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("illegal payment state transition: %s not allowed in %s (target %s)", e.Op, e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}
