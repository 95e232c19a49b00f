// Package orders is the payment core's view of the storefront's order and
// invoice tables. It never creates orders.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/gpay-checkout/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// FindOrder reads the order without locking it.
func (r *Repository) FindOrder(ctx context.Context, db *gorm.DB, id uint) (*models.Order, error) {
	var order models.Order
	if err := db.WithContext(ctx).First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return &order, nil
}

// LoadOrder locks and returns the order. db must be inside a transaction
// for the lock to mean anything.
func (r *Repository) LoadOrder(ctx context.Context, db *gorm.DB, id uint) (*models.Order, error) {
	var order models.Order
	err := db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return &order, nil
}

// LoadInvoice returns the order's invoice with its postings, or nil when
// the order has none.
func (r *Repository) LoadInvoice(ctx context.Context, db *gorm.DB, orderID uint) (*models.Invoice, error) {
	var invoice models.Invoice
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Payments", func(q *gorm.DB) *gorm.DB { return q.Order("id") }).
		Where("order_id = ?", orderID).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load invoice for order %d: %w", orderID, err)
	}
	return &invoice, nil
}

// SaveOrder writes only the payment columns.
func (r *Repository) SaveOrder(ctx context.Context, db *gorm.DB, order *models.Order) error {
	err := db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"payment_status":       order.PaymentStatus,
		"payment_method":       order.PaymentMethod,
		"payment_reference":    order.PaymentReference,
		"payment_confirmed_at": order.PaymentConfirmedAt,
		"updated_at":           time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to save order %d: %w", order.ID, err)
	}
	return nil
}

// SaveInvoice inserts new postings (those without an id) and stores the
// derived paid amount and status.
func (r *Repository) SaveInvoice(ctx context.Context, db *gorm.DB, invoice *models.Invoice) error {
	for i := range invoice.Payments {
		p := &invoice.Payments[i]
		if p.ID != 0 {
			continue
		}
		p.InvoiceID = invoice.ID
		if err := db.WithContext(ctx).Create(p).Error; err != nil {
			return fmt.Errorf("failed to post %s to invoice %d: %w", p.Kind, invoice.ID, err)
		}
	}

	err := db.WithContext(ctx).Model(&models.Invoice{}).Where("id = ?", invoice.ID).Updates(map[string]interface{}{
		"paid_amount": invoice.PaidAmount,
		"status":      invoice.Status,
		"updated_at":  time.Now(),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to save invoice %d: %w", invoice.ID, err)
	}
	return nil
}
