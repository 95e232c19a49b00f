// Package ledger is the authoritative record of payment attempts and
// their lifecycle state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/gpay-checkout/audit"
	"github.com/yourusername/gpay-checkout/models"
	"github.com/yourusername/gpay-checkout/utils"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errReferenceRequired = errors.New("payment reference is required")

type Ledger struct {
	db     *gorm.DB
	sink   audit.Sink
	logger *zap.Logger

	// set on copies bound to a database transaction
	outbox *outbox
}

type pendingEvent struct {
	event audit.Event
	// published even when the unit of work rolls back
	always bool
}

type outbox struct {
	mu     sync.Mutex
	events []pendingEvent
}

func New(db *gorm.DB, sink audit.Sink, logger *zap.Logger) *Ledger {
	if sink == nil {
		sink = audit.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{db: db, sink: sink, logger: logger}
}

// RunInTx runs fn in one database transaction. fn receives a ledger bound to
// that transaction plus the transaction handle for collaborators that must
// share it. Audit events are published once the outcome is known.
func (l *Ledger) RunInTx(ctx context.Context, fn func(bound *Ledger, tx *gorm.DB) error) error {
	box := &outbox{}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bound := &Ledger{db: tx, sink: l.sink, logger: l.logger, outbox: box}
		return fn(bound, tx)
	})

	for _, p := range box.events {
		if err == nil || p.always {
			l.sink.Record(ctx, p.event)
		}
	}
	return err
}

func (l *Ledger) record(ctx context.Context, e audit.Event, always bool) {
	if l.outbox == nil {
		l.sink.Record(ctx, e)
		return
	}
	l.outbox.mu.Lock()
	l.outbox.events = append(l.outbox.events, pendingEvent{event: e, always: always})
	l.outbox.mu.Unlock()
}

type NewTransaction struct {
	OrderID         uint
	Reference       string
	Amount          decimal.Decimal
	Currency        string
	Method          models.PaymentMethod
	GatewayResponse datatypes.JSON
}

// Create records a pending transaction. One transaction may exist per order.
func (l *Ledger) Create(ctx context.Context, in NewTransaction) (*models.Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if !utils.ValidCurrency(currency) {
		return nil, models.ErrInvalidCurrency
	}
	if !in.Method.Valid() {
		return nil, models.ErrInvalidPaymentMethod
	}
	if strings.TrimSpace(in.Reference) == "" {
		return nil, errReferenceRequired
	}

	if err := l.ensureUnique(ctx, in.OrderID, in.Reference); err != nil {
		return nil, err
	}

	t := &models.Transaction{
		OrderID:          in.OrderID,
		PaymentReference: in.Reference,
		Amount:           in.Amount,
		Currency:         currency,
		PaymentMethod:    in.Method,
		Status:           models.TransactionPending,
		GatewayResponse:  in.GatewayResponse,
		RefundAmount:     decimal.Zero,
	}
	if err := l.db.WithContext(ctx).Create(t).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost a race with a concurrent insert; report which key collided
			if uerr := l.ensureUnique(ctx, in.OrderID, in.Reference); uerr != nil {
				return nil, uerr
			}
			return nil, models.ErrDuplicateOrder
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	l.logger.Info("transaction created",
		zap.Uint("transaction_id", t.ID),
		zap.Uint("order_id", t.OrderID),
		zap.String("reference", t.PaymentReference),
		zap.String("gateway", string(t.PaymentMethod)),
		zap.String("amount", t.Amount.StringFixed(2)),
	)
	l.record(ctx, audit.ForTransition(audit.TransactionCreated, t, "", t.Status), false)
	return t, nil
}

func (l *Ledger) ensureUnique(ctx context.Context, orderID uint, reference string) error {
	var n int64
	if err := l.db.WithContext(ctx).Model(&models.Transaction{}).Where("order_id = ?", orderID).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if n > 0 {
		return models.ErrDuplicateOrder
	}
	if err := l.db.WithContext(ctx).Model(&models.Transaction{}).Where("payment_reference = ?", reference).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to check reference: %w", err)
	}
	if n > 0 {
		return models.ErrDuplicateReference
	}
	return nil
}

func (l *Ledger) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return l.first(l.db.WithContext(ctx).Where("payment_reference = ?", reference))
}

func (l *Ledger) FindByID(ctx context.Context, id uint) (*models.Transaction, error) {
	return l.first(l.db.WithContext(ctx).Where("id = ?", id))
}

func (l *Ledger) FindByOrder(ctx context.Context, orderID uint) (*models.Transaction, error) {
	return l.first(l.db.WithContext(ctx).Where("order_id = ?", orderID))
}

// LockByReference loads the transaction and holds its row lock until the
// surrounding database transaction ends.
func (l *Ledger) LockByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return l.first(l.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("payment_reference = ?", reference))
}

func (l *Ledger) LockByID(ctx context.Context, id uint) (*models.Transaction, error) {
	return l.first(l.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (l *Ledger) first(q *gorm.DB) (*models.Transaction, error) {
	var t models.Transaction
	if err := q.First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return &t, nil
}

// CheckTransition reports whether t may move to status without changing anything.
func CheckTransition(t *models.Transaction, to models.TransactionStatus) error {
	if !t.Status.CanTransitionTo(to) {
		return &models.TransitionError{TransactionID: t.ID, From: t.Status, To: to}
	}
	return nil
}

// Transition moves t to status. Disallowed moves are logged, audited and
// returned as *models.TransitionError; t is left untouched.
func (l *Ledger) Transition(ctx context.Context, t *models.Transaction, to models.TransactionStatus) error {
	return l.apply(ctx, t, to, nil)
}

// RecordRefund moves a completed transaction to refunded with the refunded
// amount and reason.
func (l *Ledger) RecordRefund(ctx context.Context, t *models.Transaction, amount decimal.Decimal, reason string) error {
	if t.Status == models.TransactionRefunded {
		return models.ErrAlreadyRefunded
	}
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	if amount.GreaterThan(t.Refundable()) {
		return models.ErrOverRefund
	}

	changes := map[string]interface{}{
		"refund_amount": t.RefundAmount.Add(amount),
	}
	if reason != "" {
		changes["refund_reason"] = reason
	}
	if err := l.apply(ctx, t, models.TransactionRefunded, changes); err != nil {
		return err
	}

	t.RefundAmount = t.RefundAmount.Add(amount)
	if reason != "" {
		t.RefundReason = &reason
	}
	return nil
}

// AttachGatewayResponse stores the latest raw gateway payload. Allowed in
// every status since it is audit metadata.
func (l *Ledger) AttachGatewayResponse(ctx context.Context, t *models.Transaction, payload datatypes.JSON) error {
	if len(payload) == 0 {
		return nil
	}
	err := l.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", t.ID).
		UpdateColumn("gateway_response", payload).Error
	if err != nil {
		return fmt.Errorf("failed to store gateway response: %w", err)
	}
	t.GatewayResponse = payload
	return nil
}

func (l *Ledger) apply(ctx context.Context, t *models.Transaction, to models.TransactionStatus, extra map[string]interface{}) error {
	from := t.Status
	if err := CheckTransition(t, to); err != nil {
		l.logger.Warn("rejected transaction transition",
			zap.Uint("transaction_id", t.ID),
			zap.String("reference", t.PaymentReference),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		e := audit.ForTransition(audit.TransactionTransitionRejected, t, from, to)
		l.record(ctx, e, true)
		return err
	}

	now := time.Now()
	changes := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	for k, v := range extra {
		changes[k] = v
	}

	res := l.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", t.ID, from).
		Updates(changes)
	if res.Error != nil {
		return fmt.Errorf("failed to update transaction %d: %w", t.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrConcurrentUpdate
	}

	t.Status = to
	t.UpdatedAt = now

	l.logger.Info("transaction transitioned",
		zap.Uint("transaction_id", t.ID),
		zap.Uint("order_id", t.OrderID),
		zap.String("reference", t.PaymentReference),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	l.record(ctx, audit.ForTransition(audit.TransactionTransitioned, t, from, to), false)
	return nil
}
