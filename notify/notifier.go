package notify

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/yourusername/gpay-checkout/models"
	"go.uber.org/zap"
)

// Notifier is told about every transaction that reaches completed, failed or refunded.
type Notifier interface {
	TransactionSettled(ctx context.Context, t *models.Transaction)
}

// Enqueuer is the slice of *asynq.Client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands notifications to the worker queue. Failures are
// logged and never returned.
type QueueNotifier struct {
	client Enqueuer
	logger *zap.Logger
}

func NewQueueNotifier(client Enqueuer, logger *zap.Logger) *QueueNotifier {
	return &QueueNotifier{client: client, logger: logger}
}

func (n *QueueNotifier) TransactionSettled(ctx context.Context, t *models.Transaction) {
	if !t.Status.Settled() {
		return
	}

	task, err := NewPaymentNotificationTask(PayloadFor(t))
	if err != nil {
		n.logger.Error("failed to build notification task", zap.Uint("transaction_id", t.ID), zap.Error(err))
		return
	}

	info, err := n.client.EnqueueContext(ctx, task)
	if err != nil {
		n.logger.Warn("failed to enqueue payment notification",
			zap.Uint("transaction_id", t.ID),
			zap.String("status", string(t.Status)),
			zap.Error(err),
		)
		return
	}
	n.logger.Debug("payment notification queued", zap.Uint("transaction_id", t.ID), zap.String("task_id", info.ID))
}

type nop struct{}

// Nop is used when no queue is configured.
func Nop() Notifier { return nop{} }

func (nop) TransactionSettled(context.Context, *models.Transaction) {}
