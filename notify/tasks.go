// Package notify queues customer notifications for settled transactions.
package notify

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/yourusername/gpay-checkout/models"
)

const TaskPaymentNotification = "payment:notification"

type Payload struct {
	TransactionID uint                     `json:"transaction_id"`
	OrderID       uint                     `json:"order_id"`
	Reference     string                   `json:"reference"`
	Status        models.TransactionStatus `json:"status"`
	Amount        string                   `json:"amount"`
	RefundAmount  string                   `json:"refund_amount,omitempty"`
	Currency      string                   `json:"currency"`
}

func PayloadFor(t *models.Transaction) Payload {
	p := Payload{
		TransactionID: t.ID,
		OrderID:       t.OrderID,
		Reference:     t.PaymentReference,
		Status:        t.Status,
		Amount:        t.Amount.StringFixed(2),
		Currency:      t.Currency,
	}
	if t.Status == models.TransactionRefunded {
		p.RefundAmount = t.RefundAmount.StringFixed(2)
	}
	return p
}

func NewPaymentNotificationTask(p Payload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskPaymentNotification,
		payload,
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
	), nil
}
