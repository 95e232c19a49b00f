package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderPaymentStatus string

const (
	OrderPaymentPending   OrderPaymentStatus = "pending"
	OrderPaymentConfirmed OrderPaymentStatus = "confirmed"
	OrderPaymentFailed    OrderPaymentStatus = "failed"
	OrderPaymentRefunded  OrderPaymentStatus = "refunded"
)

// Order is owned by the storefront. The payment core only reads it and
// writes the payment columns below.
type Order struct {
	ID                 uint               `gorm:"primaryKey" json:"id"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	CustomerName       string             `gorm:"size:255" json:"customer_name"`
	CustomerEmail      string             `gorm:"size:255" json:"customer_email"`
	TotalAmount        decimal.Decimal    `gorm:"type:decimal(20,2);not null" json:"total_amount"`
	Currency           string             `gorm:"size:3;not null" json:"currency"`
	PaymentStatus      OrderPaymentStatus `gorm:"size:20;not null;default:'pending'" json:"payment_status"`
	PaymentMethod      PaymentMethod      `gorm:"size:32" json:"payment_method"`
	PaymentReference   string             `gorm:"size:100;index" json:"payment_reference"`
	PaymentConfirmedAt *time.Time         `json:"payment_confirmed_at"`
}

// TableName overrides the table name
func (Order) TableName() string {
	return "orders"
}
