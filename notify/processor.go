package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/yourusername/gpay-checkout/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer is the email delivery collaborator.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger *zap.Logger
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	m.Logger.Info("payment email", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

type Processor struct {
	db     *gorm.DB
	mailer Mailer
	logger *zap.Logger
}

func NewProcessor(db *gorm.DB, mailer Mailer, logger *zap.Logger) *Processor {
	return &Processor{db: db, mailer: mailer, logger: logger}
}

func (p *Processor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload Payload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	var order models.Order
	if err := p.db.WithContext(ctx).First(&order, payload.OrderID).Error; err != nil {
		return fmt.Errorf("load order %d: %w", payload.OrderID, err)
	}
	if order.CustomerEmail == "" {
		p.logger.Info("order has no customer email, skipping notification", zap.Uint("order_id", order.ID))
		return nil
	}

	msg, ok := compose(order, payload)
	if !ok {
		return fmt.Errorf("no template for status %q: %w", payload.Status, asynq.SkipRetry)
	}
	return p.mailer.Send(ctx, msg)
}

func compose(order models.Order, p Payload) (Message, bool) {
	msg := Message{To: order.CustomerEmail}
	switch p.Status {
	case models.TransactionCompleted:
		msg.Subject = fmt.Sprintf("Payment received for order #%d", order.ID)
		msg.Body = fmt.Sprintf("We received your payment of %s %s (reference %s).", p.Amount, p.Currency, p.Reference)
	case models.TransactionFailed:
		msg.Subject = fmt.Sprintf("Payment for order #%d was not successful", order.ID)
		msg.Body = fmt.Sprintf("Your payment of %s %s could not be completed. You can try again from your order page.", p.Amount, p.Currency)
	case models.TransactionRefunded:
		msg.Subject = fmt.Sprintf("Refund issued for order #%d", order.ID)
		msg.Body = fmt.Sprintf("A refund of %s %s has been issued (reference %s).", p.RefundAmount, p.Currency, p.Reference)
	default:
		return Message{}, false
	}
	return msg, true
}
