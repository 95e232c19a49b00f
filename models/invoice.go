package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePartial   InvoiceStatus = "partial"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

type Invoice struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	OrderID     uint             `gorm:"uniqueIndex;not null" json:"order_id"`
	InvoiceNo   string           `gorm:"uniqueIndex;size:50;not null" json:"invoice_no"`
	TotalAmount decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"total_amount"`
	PaidAmount  decimal.Decimal  `gorm:"type:decimal(20,2);not null;default:0" json:"paid_amount"`
	Currency    string           `gorm:"size:3;not null" json:"currency"`
	DueDate     *time.Time       `json:"due_date"`
	Status      InvoiceStatus    `gorm:"size:20;default:'draft'" json:"status"`
	Payments    []InvoicePayment `gorm:"foreignKey:InvoiceID" json:"payments,omitempty"`
}

// TableName overrides the table name
func (Invoice) TableName() string {
	return "invoices"
}

// RemainingBalance is total minus paid, floored at zero.
func (i *Invoice) RemainingBalance() decimal.Decimal {
	remaining := i.TotalAmount.Sub(i.PaidAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// HasPosting reports whether a posting of the given kind already exists for the transaction.
func (i *Invoice) HasPosting(transactionID uint, kind PostingKind) bool {
	for _, p := range i.Payments {
		if p.TransactionID == transactionID && p.Kind == kind {
			return true
		}
	}
	return false
}

type PostingKind string

const (
	PostingPayment PostingKind = "payment"
	PostingRefund  PostingKind = "refund"
)

// InvoicePayment is one signed posting against an invoice; refunds post negative amounts.
type InvoicePayment struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	InvoiceID     uint            `gorm:"index;not null" json:"invoice_id"`
	TransactionID uint            `gorm:"index;not null" json:"transaction_id"`
	Kind          PostingKind     `gorm:"size:20;not null" json:"kind"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	PostedAt      time.Time       `gorm:"not null" json:"posted_at"`
}

// TableName overrides the table name
func (InvoicePayment) TableName() string {
	return "invoice_payments"
}
