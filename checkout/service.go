// Package checkout starts payment attempts for orders and settles the
// manual payment method.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/gpay-checkout/cache"
	"github.com/yourusername/gpay-checkout/gateway"
	"github.com/yourusername/gpay-checkout/ledger"
	"github.com/yourusername/gpay-checkout/models"
	"github.com/yourusername/gpay-checkout/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OrderLoader interface {
	FindOrder(ctx context.Context, db *gorm.DB, id uint) (*models.Order, error)
}

type Reconciler interface {
	Apply(ctx context.Context, db *gorm.DB, t *models.Transaction) error
}

type Deps struct {
	DB             *gorm.DB
	Registry       *gateway.Registry
	Ledger         *ledger.Ledger
	Orders         OrderLoader
	Reconciler     Reconciler
	Notifier       notify.Notifier
	Cache          cache.Store
	LockTTL        time.Duration
	GatewayTimeout time.Duration
	Logger         *zap.Logger
}

type Service struct {
	db             *gorm.DB
	registry       *gateway.Registry
	ledger         *ledger.Ledger
	orders         OrderLoader
	reconciler     Reconciler
	notifier       notify.Notifier
	cache          cache.Store
	lockTTL        time.Duration
	gatewayTimeout time.Duration
	logger         *zap.Logger
	newManualRef   func() string
}

func NewService(d Deps) *Service {
	s := &Service{
		db:             d.DB,
		registry:       d.Registry,
		ledger:         d.Ledger,
		orders:         d.Orders,
		reconciler:     d.Reconciler,
		notifier:       d.Notifier,
		cache:          d.Cache,
		lockTTL:        d.LockTTL,
		gatewayTimeout: d.GatewayTimeout,
		logger:         d.Logger,
		newManualRef:   func() string { return "MAN-" + uuid.NewString() },
	}
	if s.notifier == nil {
		s.notifier = notify.Nop()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Second
	}
	if s.gatewayTimeout <= 0 {
		s.gatewayTimeout = 10 * time.Second
	}
	return s
}

type Request struct {
	OrderID  uint
	Method   models.PaymentMethod
	Customer gateway.Customer
}

type Result struct {
	Transaction *models.Transaction
	Session     *gateway.PaymentSession
}

// Start issues a payment request for the order and records the pending
// transaction. Amount and currency always come from the order. No database
// transaction is open while the gateway is called.
func (s *Service) Start(ctx context.Context, req Request) (*Result, error) {
	if !req.Method.Valid() {
		return nil, models.ErrInvalidPaymentMethod
	}

	order, err := s.orders.FindOrder(ctx, s.db, req.OrderID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.ledger.FindByOrder(ctx, order.ID); err == nil {
		return nil, models.ErrDuplicateOrder
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	customer := req.Customer
	if customer.Email == "" {
		customer.Email = order.CustomerEmail
	}
	if customer.Name == "" {
		customer.Name = order.CustomerName
	}

	log := s.logger.With(zap.Uint("order_id", order.ID), zap.String("gateway", string(req.Method)))

	if req.Method == models.PaymentMethodManual {
		reference := s.newManualRef()
		t, err := s.ledger.Create(ctx, ledger.NewTransaction{
			OrderID:   order.ID,
			Reference: reference,
			Amount:    order.TotalAmount,
			Currency:  order.Currency,
			Method:    models.PaymentMethodManual,
		})
		if err != nil {
			return nil, err
		}
		log.Info("manual payment awaiting settlement", zap.String("reference", reference))
		return &Result{Transaction: t, Session: &gateway.PaymentSession{Reference: reference}}, nil
	}

	adapter, err := s.registry.ForMethod(req.Method)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	session, err := adapter.CreatePaymentRequest(callCtx, gateway.PaymentRequest{
		OrderID:  order.ID,
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		Customer: customer,
	})
	cancel()
	if err != nil {
		log.Warn("payment request failed", zap.Error(err))
		return nil, err
	}

	t, err := s.ledger.Create(ctx, ledger.NewTransaction{
		OrderID:         order.ID,
		Reference:       session.Reference,
		Amount:          order.TotalAmount,
		Currency:        order.Currency,
		Method:          req.Method,
		GatewayResponse: session.Raw,
	})
	if errors.Is(err, models.ErrDuplicateOrder) || errors.Is(err, models.ErrDuplicateReference) {
		// the webhook may have recorded this attempt while we were waiting on the gateway
		existing, ferr := s.ledger.FindByReference(ctx, session.Reference)
		if ferr == nil && existing.OrderID == order.ID {
			log.Info("webhook recorded the transaction first", zap.Uint("transaction_id", existing.ID))
			return &Result{Transaction: existing, Session: session}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	return &Result{Transaction: t, Session: session}, nil
}

func (s *Service) lock(ctx context.Context, orderID uint) (func(), error) {
	if s.cache == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf("checkout:order:%d", orderID)
	token := uuid.NewString()
	ok, err := s.cache.SetNX(ctx, key, token, s.lockTTL)
	if err != nil {
		// the unique order index still prevents a second transaction
		s.logger.Warn("checkout lock unavailable", zap.Uint("order_id", orderID), zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, models.ErrCheckoutInProgress
	}
	return func() {
		released, err := s.cache.DelIfValue(context.WithoutCancel(ctx), key, token)
		if err != nil {
			s.logger.Warn("failed to release checkout lock", zap.Uint("order_id", orderID), zap.Error(err))
			return
		}
		if !released {
			s.logger.Warn("checkout lock expired before release", zap.Uint("order_id", orderID), zap.Duration("ttl", s.lockTTL))
		}
	}, nil
}

// SettleManual completes or fails a manual transaction through the same
// ledger and reconciliation unit of work the webhooks use.
func (s *Service) SettleManual(ctx context.Context, transactionID uint, status models.TransactionStatus) (*models.Transaction, error) {
	if status != models.TransactionCompleted && status != models.TransactionFailed {
		return nil, fmt.Errorf("%w: manual settlement must be completed or failed, got %q", models.ErrInvalidTransition, status)
	}

	var settled *models.Transaction
	err := s.ledger.RunInTx(ctx, func(l *ledger.Ledger, tx *gorm.DB) error {
		t, err := l.LockByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.PaymentMethod != models.PaymentMethodManual {
			return fmt.Errorf("%w: transaction %d uses %s", models.ErrInvalidPaymentMethod, t.ID, t.PaymentMethod)
		}
		if err := l.Transition(ctx, t, status); err != nil {
			return err
		}
		if err := s.reconciler.Apply(ctx, tx, t); err != nil {
			return err
		}
		settled = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.TransactionSettled(ctx, settled)
	return settled, nil
}
