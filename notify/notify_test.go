package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/gpay-checkout/models"
	"github.com/yourusername/gpay-checkout/testutil"
	"go.uber.org/zap"
)

type mockEnqueuer struct {
	EnqueueFunc func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	tasks       []*asynq.Task
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.tasks = append(m.tasks, task)
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, task, opts...)
	}
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

type mockMailer struct {
	sent []Message
	err  error
}

func (m *mockMailer) Send(_ context.Context, msg Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

func TestQueueNotifierEnqueuesSettledTransactions(t *testing.T) {
	enq := &mockEnqueuer{}
	n := NewQueueNotifier(enq, zap.NewNop())

	tx := &models.Transaction{ID: 1, OrderID: 42, PaymentReference: "R-001", Status: models.TransactionCompleted,
		Amount: testutil.Dec("250"), Currency: "ZAR"}
	n.TransactionSettled(context.Background(), tx)

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskPaymentNotification, enq.tasks[0].Type())

	var p Payload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &p))
	assert.Equal(t, "250.00", p.Amount)
	assert.Equal(t, uint(42), p.OrderID)
}

func TestQueueNotifierSkipsUnsettled(t *testing.T) {
	enq := &mockEnqueuer{}
	n := NewQueueNotifier(enq, zap.NewNop())

	n.TransactionSettled(context.Background(), &models.Transaction{Status: models.TransactionPending})
	assert.Empty(t, enq.tasks)
}

func TestQueueNotifierSwallowsEnqueueErrors(t *testing.T) {
	enq := &mockEnqueuer{EnqueueFunc: func(context.Context, *asynq.Task, ...asynq.Option) (*asynq.TaskInfo, error) {
		return nil, errors.New("redis down")
	}}
	n := NewQueueNotifier(enq, zap.NewNop())

	assert.NotPanics(t, func() {
		n.TransactionSettled(context.Background(), &models.Transaction{ID: 2, Status: models.TransactionFailed, Amount: testutil.Dec("10")})
	})
}

func TestProcessorProcessTask(t *testing.T) {
	db := testutil.NewDB(t)
	order := testutil.CreateOrder(t, db, "500.00", "ZAR")

	tests := []struct {
		name        string
		payload     []byte
		wantSubject string
		wantSkip    bool
	}{
		{
			name:        "Completed",
			payload:     mustJSON(t, Payload{OrderID: order.ID, Status: models.TransactionCompleted, Amount: "500.00", Currency: "ZAR", Reference: "R-9"}),
			wantSubject: "Payment received",
		},
		{
			name:        "Refunded",
			payload:     mustJSON(t, Payload{OrderID: order.ID, Status: models.TransactionRefunded, Amount: "500.00", RefundAmount: "200.00", Currency: "ZAR"}),
			wantSubject: "Refund issued",
		},
		{
			name:     "Bad Payload",
			payload:  []byte("{not json"),
			wantSkip: true,
		},
		{
			name:     "Unsettled Status",
			payload:  mustJSON(t, Payload{OrderID: order.ID, Status: models.TransactionPending}),
			wantSkip: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &mockMailer{}
			p := NewProcessor(db, mailer, zap.NewNop())

			err := p.ProcessTask(context.Background(), asynq.NewTask(TaskPaymentNotification, tt.payload))
			if tt.wantSkip {
				assert.ErrorIs(t, err, asynq.SkipRetry)
				assert.Empty(t, mailer.sent)
				return
			}
			require.NoError(t, err)
			require.Len(t, mailer.sent, 1)
			assert.Equal(t, "thandi@example.com", mailer.sent[0].To)
			assert.Contains(t, mailer.sent[0].Subject, tt.wantSubject)
		})
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
