package reconciliation

import (
	"context"

	"github.com/yourusername/gpay-checkout/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store loads and saves the aggregates inside the caller's unit of work.
type Store interface {
	LoadOrder(ctx context.Context, db *gorm.DB, id uint) (*models.Order, error)
	LoadInvoice(ctx context.Context, db *gorm.DB, orderID uint) (*models.Invoice, error)
	SaveOrder(ctx context.Context, db *gorm.DB, order *models.Order) error
	SaveInvoice(ctx context.Context, db *gorm.DB, invoice *models.Invoice) error
}

type Service struct {
	engine *Engine
	store  Store
	logger *zap.Logger
}

func NewService(engine *Engine, store Store, logger *zap.Logger) *Service {
	return &Service{engine: engine, store: store, logger: logger}
}

// Apply reconciles t using db, which must be the open database transaction
// that also carries the ledger change. Any error must roll that back.
func (s *Service) Apply(ctx context.Context, db *gorm.DB, t *models.Transaction) error {
	order, err := s.store.LoadOrder(ctx, db, t.OrderID)
	if err != nil {
		return err
	}
	invoice, err := s.store.LoadInvoice(ctx, db, t.OrderID)
	if err != nil {
		return err
	}

	out, err := s.engine.Reconcile(t, order, invoice)
	if err != nil {
		return err
	}

	if out.OrderChanged {
		if err := s.store.SaveOrder(ctx, db, order); err != nil {
			return err
		}
	}
	if out.Posted != nil {
		if err := s.store.SaveInvoice(ctx, db, invoice); err != nil {
			return err
		}
	}

	fields := []zap.Field{
		zap.Uint("transaction_id", t.ID),
		zap.Uint("order_id", order.ID),
		zap.String("status", string(t.Status)),
		zap.String("order_payment_status", string(order.PaymentStatus)),
	}
	if invoice != nil {
		fields = append(fields,
			zap.Uint("invoice_id", invoice.ID),
			zap.String("paid_amount", invoice.PaidAmount.StringFixed(2)),
			zap.String("invoice_status", string(invoice.Status)),
		)
	}
	s.logger.Info("transaction reconciled", fields...)
	return nil
}
