package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundRequested RefundStatus = "requested"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
	// RefundUnknown means the gateway call timed out; an operator has to
	// check the gateway before anything else happens to the transaction.
	RefundUnknown RefundStatus = "unknown"
)

// Refund records one refund attempt against a transaction.
type Refund struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	TransactionID   uint            `gorm:"index;not null" json:"transaction_id"`
	IdempotencyKey  string          `gorm:"uniqueIndex;size:64;not null" json:"idempotency_key"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Reason          string          `gorm:"type:text" json:"reason"`
	Status          RefundStatus    `gorm:"size:20;not null;index" json:"status"`
	GatewayRefundID string          `gorm:"size:100" json:"gateway_refund_id,omitempty"`
	Error           string          `gorm:"type:text" json:"error,omitempty"`
}

// TableName overrides the table name
func (Refund) TableName() string {
	return "refunds"
}
