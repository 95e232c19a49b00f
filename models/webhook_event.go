package models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookEventStatus string

const (
	WebhookHandled WebhookEventStatus = "handled"
	WebhookIgnored WebhookEventStatus = "ignored"
	WebhookFailed  WebhookEventStatus = "failed"
)

// WebhookEvent is the delivery log for verified gateway callbacks.
type WebhookEvent struct {
	ID            string             `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt     time.Time          `json:"created_at"`
	Gateway       string             `gorm:"size:32;not null;index" json:"gateway"`
	EventType     string             `gorm:"size:64" json:"event_type"`
	Reference     string             `gorm:"size:100;index" json:"reference"`
	TransactionID *uint              `gorm:"index" json:"transaction_id"`
	PayloadDigest string             `gorm:"size:64;index" json:"payload_digest"`
	Payload       datatypes.JSON     `json:"payload"`
	Status        WebhookEventStatus `gorm:"size:20;not null" json:"status"`
	Error         string             `gorm:"type:text" json:"error,omitempty"`
}

// TableName overrides the table name
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// AuditEvent persists one entry from the audit sink.
type AuditEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Type          string    `gorm:"size:64;not null;index" json:"type"`
	TransactionID uint      `gorm:"index" json:"transaction_id"`
	OrderID       uint      `json:"order_id"`
	Reference     string    `gorm:"size:100;index" json:"reference"`
	Gateway       string    `gorm:"size:32" json:"gateway"`
	FromStatus    string    `gorm:"size:20" json:"from_status"`
	ToStatus      string    `gorm:"size:20" json:"to_status"`
	Detail        string    `gorm:"type:text" json:"detail"`
	OccurredAt    time.Time `gorm:"not null" json:"occurred_at"`
}

// TableName overrides the table name
func (AuditEvent) TableName() string {
	return "audit_events"
}
