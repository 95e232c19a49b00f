// Package refunds reverses completed transactions through the gateway
// that originally took the payment.
package refunds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yourusername/gpay-checkout/audit"
	"github.com/yourusername/gpay-checkout/gateway"
	"github.com/yourusername/gpay-checkout/ledger"
	"github.com/yourusername/gpay-checkout/models"
	"github.com/yourusername/gpay-checkout/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Reconciler interface {
	Apply(ctx context.Context, db *gorm.DB, t *models.Transaction) error
}

type Deps struct {
	DB             *gorm.DB
	Registry       *gateway.Registry
	Ledger         *ledger.Ledger
	Reconciler     Reconciler
	Notifier       notify.Notifier
	Audit          audit.Sink
	GatewayTimeout time.Duration
	Logger         *zap.Logger
}

type Coordinator struct {
	db             *gorm.DB
	registry       *gateway.Registry
	ledger         *ledger.Ledger
	reconciler     Reconciler
	notifier       notify.Notifier
	audit          audit.Sink
	gatewayTimeout time.Duration
	logger         *zap.Logger
}

func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		db:             d.DB,
		registry:       d.Registry,
		ledger:         d.Ledger,
		reconciler:     d.Reconciler,
		notifier:       d.Notifier,
		audit:          d.Audit,
		gatewayTimeout: d.GatewayTimeout,
		logger:         d.Logger,
	}
	if c.notifier == nil {
		c.notifier = notify.Nop()
	}
	if c.audit == nil {
		c.audit = audit.Nop()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.gatewayTimeout <= 0 {
		c.gatewayTimeout = 10 * time.Second
	}
	return c
}

type Result struct {
	Transaction *models.Transaction `json:"transaction"`
	Refund      *models.Refund      `json:"refund"`
}

// Refund reverses amount of a completed transaction, or everything still
// refundable when amount is nil. The attempt is persisted before the
// gateway is called and no database transaction is held during the call.
//
// A gateway timeout leaves the attempt in the unknown state and the
// transaction untouched; further refunds are refused until an operator
// resolves it.
func (c *Coordinator) Refund(ctx context.Context, transactionID uint, amount *decimal.Decimal, reason string) (*Result, error) {
	var (
		t       *models.Transaction
		attempt *models.Refund
		adapter gateway.Adapter
	)

	err := c.ledger.RunInTx(ctx, func(l *ledger.Ledger, tx *gorm.DB) error {
		var err error
		t, err = l.LockByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.Status == models.TransactionRefunded {
			return models.ErrAlreadyRefunded
		}
		if err := ledger.CheckTransition(t, models.TransactionRefunded); err != nil {
			return err
		}
		adapter, err = c.registry.ForMethod(t.PaymentMethod)
		if err != nil {
			return fmt.Errorf("%w: %s", models.ErrRefundUnsupported, t.PaymentMethod)
		}

		value := t.Refundable()
		if amount != nil {
			value = *amount
		}
		if !value.IsPositive() {
			return models.ErrInvalidAmount
		}
		if value.GreaterThan(t.Refundable()) {
			return models.ErrOverRefund
		}

		var open int64
		err = tx.Model(&models.Refund{}).
			Where("transaction_id = ? AND status IN ?", t.ID, []models.RefundStatus{models.RefundRequested, models.RefundUnknown}).
			Count(&open).Error
		if err != nil {
			return fmt.Errorf("failed to check refund attempts: %w", err)
		}
		if open > 0 {
			return models.ErrRefundInProgress
		}

		attempt = &models.Refund{
			TransactionID:  t.ID,
			IdempotencyKey: uuid.NewString(),
			Amount:         value,
			Reason:         reason,
			Status:         models.RefundRequested,
		}
		if err := tx.Create(attempt).Error; err != nil {
			return fmt.Errorf("failed to record refund attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := c.logger.With(
		zap.Uint("transaction_id", t.ID),
		zap.String("reference", t.PaymentReference),
		zap.String("gateway", string(t.PaymentMethod)),
		zap.Uint("refund_id", attempt.ID),
	)
	c.record(ctx, audit.RefundRequested, t, attempt.Amount.StringFixed(2))
	log.Info("refund requested", zap.String("amount", attempt.Amount.StringFixed(2)))

	callCtx, cancel := context.WithTimeout(ctx, c.gatewayTimeout)
	res, err := adapter.Refund(callCtx, gateway.RefundRequest{
		Reference:      t.PaymentReference,
		Amount:         attempt.Amount,
		Currency:       t.Currency,
		Reason:         reason,
		IdempotencyKey: attempt.IdempotencyKey,
	})
	cancel()
	if err != nil {
		c.fail(ctx, log, t, attempt, err)
		return nil, err
	}

	var alreadyApplied bool
	err = c.ledger.RunInTx(ctx, func(l *ledger.Ledger, tx *gorm.DB) error {
		locked, err := l.LockByID(ctx, t.ID)
		if err != nil {
			return err
		}
		switch err := l.RecordRefund(ctx, locked, attempt.Amount, reason); {
		case errors.Is(err, models.ErrAlreadyRefunded):
			// the gateway's refund webhook arrived first
			alreadyApplied = true
		case err != nil:
			return err
		default:
			if err := c.reconciler.Apply(ctx, tx, locked); err != nil {
				return err
			}
		}

		err = tx.Model(attempt).Updates(map[string]interface{}{
			"status":            models.RefundSucceeded,
			"gateway_refund_id": res.RefundID,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to finish refund attempt: %w", err)
		}
		t = locked
		return nil
	})
	if err != nil {
		// the money has moved; the open attempt blocks retries until an operator reconciles
		log.Error("gateway refunded but ledger update failed", zap.String("gateway_refund_id", res.RefundID), zap.Error(err))
		return nil, err
	}
	attempt.Status = models.RefundSucceeded
	attempt.GatewayRefundID = res.RefundID

	log.Info("refund completed", zap.String("gateway_refund_id", res.RefundID), zap.Bool("already_applied", alreadyApplied))
	if !alreadyApplied {
		c.notifier.TransactionSettled(ctx, t)
	}
	return &Result{Transaction: t, Refund: attempt}, nil
}

func (c *Coordinator) fail(ctx context.Context, log *zap.Logger, t *models.Transaction, attempt *models.Refund, cause error) {
	status := models.RefundUnknown
	event := audit.RefundOutcomeUnknown
	if errors.Is(cause, models.ErrGatewayRejected) {
		status = models.RefundFailed
		event = audit.RefundFailed
	}

	err := c.db.WithContext(context.WithoutCancel(ctx)).Model(attempt).Updates(map[string]interface{}{
		"status": status,
		"error":  cause.Error(),
	}).Error
	if err != nil {
		log.Error("failed to store refund outcome", zap.String("status", string(status)), zap.Error(err))
	}
	attempt.Status = status
	attempt.Error = cause.Error()

	c.record(ctx, event, t, cause.Error())
	if status == models.RefundUnknown {
		log.Error("refund outcome unknown, check the gateway before retrying", zap.Error(cause))
		return
	}
	log.Warn("gateway rejected refund", zap.Error(cause))
}

func (c *Coordinator) record(ctx context.Context, typ audit.EventType, t *models.Transaction, detail string) {
	e := audit.ForTransition(typ, t, t.Status, t.Status)
	e.To = ""
	e.Detail = detail
	c.audit.Record(ctx, e)
}
