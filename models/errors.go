package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidCurrency      = errors.New("currency must be a 3-letter ISO 4217 code")
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
	ErrDuplicateOrder       = errors.New("a transaction already exists for this order")
	ErrDuplicateReference   = errors.New("payment reference already recorded")
	ErrInvalidTransition    = errors.New("invalid transaction status transition")
	ErrConcurrentUpdate     = errors.New("transaction was modified concurrently")

	ErrUnverifiedSignature = errors.New("webhook signature could not be verified")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrUnknownGateway      = errors.New("unknown payment gateway")
	ErrUnknownTransaction  = errors.New("event does not match a known transaction")

	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")

	ErrOverRefund         = errors.New("refund exceeds the refundable amount")
	ErrAlreadyRefunded    = errors.New("transaction already refunded")
	ErrRefundInProgress   = errors.New("a refund for this transaction is still unresolved")
	ErrRefundUnsupported  = errors.New("payment method does not support refunds")
	ErrCheckoutInProgress = errors.New("checkout already in progress for this order")
)

// TransitionError reports a state change the transaction state machine does not allow.
type TransitionError struct {
	TransactionID uint
	From          TransactionStatus
	To            TransactionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transaction %d: cannot move from %s to %s", e.TransactionID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
