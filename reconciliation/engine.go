// Package reconciliation propagates settled transactions into the owning
// order and invoice.
package reconciliation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/gpay-checkout/models"
)

// Engine holds the reconciliation rules. It only mutates the aggregates it
// is given and performs no I/O.
type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Outcome describes what Reconcile changed.
type Outcome struct {
	OrderChanged bool
	Posted       *models.InvoicePayment
}

// Reconcile applies t to order and, when non-nil, invoice. Applying the
// same transaction state twice changes nothing the second time.
func (e *Engine) Reconcile(t *models.Transaction, order *models.Order, invoice *models.Invoice) (*Outcome, error) {
	if order == nil {
		return nil, fmt.Errorf("reconcile transaction %d: order is required", t.ID)
	}
	if order.ID != t.OrderID {
		return nil, fmt.Errorf("reconcile transaction %d: belongs to order %d, got order %d", t.ID, t.OrderID, order.ID)
	}
	if invoice != nil && invoice.OrderID != order.ID {
		return nil, fmt.Errorf("reconcile transaction %d: invoice %d belongs to order %d", t.ID, invoice.ID, invoice.OrderID)
	}

	out := &Outcome{}
	switch t.Status {
	case models.TransactionCompleted:
		out.OrderChanged = e.confirmOrder(t, order)
		if invoice != nil && !invoice.HasPosting(t.ID, models.PostingPayment) {
			out.Posted = e.post(invoice, t.ID, models.PostingPayment, t.Amount)
		}

	case models.TransactionFailed:
		out.OrderChanged = setOrderStatus(order, models.OrderPaymentFailed)
		if order.PaymentReference == "" {
			order.PaymentMethod = t.PaymentMethod
			order.PaymentReference = t.PaymentReference
			out.OrderChanged = true
		}

	case models.TransactionRefunded:
		out.OrderChanged = setOrderStatus(order, models.OrderPaymentRefunded)
		if invoice != nil && !invoice.HasPosting(t.ID, models.PostingRefund) {
			reversal := decimal.Min(t.RefundAmount, sumPostings(invoice))
			if reversal.IsPositive() {
				out.Posted = e.post(invoice, t.ID, models.PostingRefund, reversal.Neg())
			}
		}

	default:
		return nil, fmt.Errorf("reconcile transaction %d: status %s is not settled", t.ID, t.Status)
	}

	return out, nil
}

func (e *Engine) confirmOrder(t *models.Transaction, order *models.Order) bool {
	changed := setOrderStatus(order, models.OrderPaymentConfirmed)
	if order.PaymentConfirmedAt == nil || changed {
		now := e.now()
		order.PaymentConfirmedAt = &now
		changed = true
	}
	if order.PaymentMethod != t.PaymentMethod || order.PaymentReference != t.PaymentReference {
		order.PaymentMethod = t.PaymentMethod
		order.PaymentReference = t.PaymentReference
		changed = true
	}
	return changed
}

func setOrderStatus(order *models.Order, status models.OrderPaymentStatus) bool {
	if order.PaymentStatus == status {
		return false
	}
	order.PaymentStatus = status
	return true
}

func (e *Engine) post(invoice *models.Invoice, transactionID uint, kind models.PostingKind, amount decimal.Decimal) *models.InvoicePayment {
	invoice.Payments = append(invoice.Payments, models.InvoicePayment{
		InvoiceID:     invoice.ID,
		TransactionID: transactionID,
		Kind:          kind,
		Amount:        amount,
		PostedAt:      e.now(),
	})
	Recompute(invoice)
	return &invoice.Payments[len(invoice.Payments)-1]
}

// Recompute derives paid_amount from the postings and the status from
// paid_amount. paid iff paid >= total, partial iff 0 < paid < total. An
// invoice whose payments were all reversed returns to sent; any other
// status is left alone when nothing is paid.
func Recompute(invoice *models.Invoice) {
	paid := sumPostings(invoice)
	invoice.PaidAmount = paid

	switch {
	case paid.IsPositive() && paid.GreaterThanOrEqual(invoice.TotalAmount):
		invoice.Status = models.InvoicePaid
	case paid.IsPositive():
		invoice.Status = models.InvoicePartial
	case invoice.Status == models.InvoicePaid || invoice.Status == models.InvoicePartial:
		invoice.Status = models.InvoiceSent
	}
}

func sumPostings(invoice *models.Invoice) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range invoice.Payments {
		sum = sum.Add(p.Amount)
	}
	if sum.IsNegative() {
		return decimal.Zero
	}
	return sum
}
