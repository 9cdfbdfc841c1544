package domain

import "fmt"

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSuccess    PaymentStatus = "success"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Operation names used in transition errors and logs.
const (
	OpBeginProcessing     = "begin_processing"
	OpSettlementOutcome   = "settlement_outcome"
	OpRequestRefund       = "request_refund"
	OpCheckTimeout        = "check_timeout"
	TimeoutFailReason     = "timeout"
	settlementFailDefault = "settlement failed"
)

var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusSuccess, PaymentStatusFailed},
	PaymentStatusSuccess:    {PaymentStatusRefunded},
	PaymentStatusFailed:     {}, // terminal
	PaymentStatusRefunded:   {}, // terminal
}

// AllStatuses lists every lifecycle state in creation order.
func AllStatuses() []PaymentStatus {
	return []PaymentStatus{
		PaymentStatusPending,
		PaymentStatusProcessing,
		PaymentStatusSuccess,
		PaymentStatusFailed,
		PaymentStatusRefunded,
	}
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}

func (s PaymentStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s PaymentStatus) AllowedTransitions() []PaymentStatus {
	allowed := transitions[s]
	result := make([]PaymentStatus, len(allowed))
	copy(result, allowed)
	return result
}

func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s PaymentStatus) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

// InFlight reports whether s is still waiting on settlement and subject to timeout.
func (s PaymentStatus) InFlight() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

// SettlementOutcome is the gateway's verdict for one settlement attempt.
type SettlementOutcome struct {
	Success       bool
	TransactionID string
	FailReason    string
}

func (o SettlementOutcome) Target() PaymentStatus {
	if o.Success {
		return PaymentStatusSuccess
	}
	return PaymentStatusFailed
}

func (o SettlementOutcome) Reason() string {
	if o.FailReason == "" {
		return settlementFailDefault
	}
	return o.FailReason
}
