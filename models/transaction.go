package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionProcessing TransactionStatus = "processing"
	TransactionCompleted  TransactionStatus = "completed"
	TransactionFailed     TransactionStatus = "failed"
	TransactionRefunded   TransactionStatus = "refunded"
)

// AllTransactionStatuses lists every status in lifecycle order.
var AllTransactionStatuses = []TransactionStatus{
	TransactionPending,
	TransactionProcessing,
	TransactionCompleted,
	TransactionFailed,
	TransactionRefunded,
}

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionPending:    {TransactionProcessing, TransactionCompleted, TransactionFailed},
	TransactionProcessing: {TransactionCompleted, TransactionFailed},
	TransactionCompleted:  {TransactionRefunded},
}

// CanTransitionTo reports whether the state machine allows moving from s to target.
//
// Allowed moves are:
//   - pending → processing, completed, failed
//   - processing → completed, failed
//   - completed → refunded
//
// failed and refunded accept nothing further.
func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	for _, next := range transactionTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Settled reports whether the status is one that reconciliation acts on.
func (s TransactionStatus) Settled() bool {
	return s == TransactionCompleted || s == TransactionFailed || s == TransactionRefunded
}

func (s TransactionStatus) Valid() bool {
	for _, known := range AllTransactionStatuses {
		if s == known {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCard       PaymentMethod = "card_gateway"
	PaymentMethodInstantEFT PaymentMethod = "instant_eft_gateway"
	PaymentMethodManual     PaymentMethod = "manual"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodInstantEFT, PaymentMethodManual:
		return true
	}
	return false
}

// Transaction is one payment attempt for an order. Rows are never deleted.
type Transaction struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	OrderID          uint              `gorm:"uniqueIndex;not null" json:"order_id"`
	PaymentReference string            `gorm:"uniqueIndex;size:100;not null" json:"payment_reference"`
	Amount           decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency         string            `gorm:"size:3;not null" json:"currency"`
	PaymentMethod    PaymentMethod     `gorm:"size:32;not null" json:"payment_method"`
	Status           TransactionStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	GatewayResponse  datatypes.JSON    `json:"gateway_response,omitempty"`
	RefundAmount     decimal.Decimal   `gorm:"type:decimal(20,2);not null;default:0" json:"refund_amount"`
	RefundReason     *string           `gorm:"type:text" json:"refund_reason,omitempty"`
}

// TableName overrides the table name
func (Transaction) TableName() string {
	return "transactions"
}

// BeforeCreate guards the amount invariant at the persistence boundary.
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if t.RefundAmount.IsNegative() || t.RefundAmount.GreaterThan(t.Amount) {
		return ErrOverRefund
	}
	return nil
}

// Refundable is the part of the amount not yet refunded.
func (t *Transaction) Refundable() decimal.Decimal {
	return t.Amount.Sub(t.RefundAmount)
}
