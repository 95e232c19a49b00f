// Package audit records payment state transitions and webhook
// verification failures for later investigation.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/yourusername/gpay-checkout/models"
)

type EventType string

const (
	TransactionCreated            EventType = "transaction.created"
	TransactionTransitioned       EventType = "transaction.transitioned"
	TransactionTransitionRejected EventType = "transaction.transition_rejected"
	WebhookSignatureRejected      EventType = "webhook.signature_rejected"
	RefundRequested               EventType = "refund.requested"
	RefundFailed                  EventType = "refund.failed"
	RefundOutcomeUnknown          EventType = "refund.outcome_unknown"
)

type Event struct {
	Type          EventType `json:"type"`
	TransactionID uint      `json:"transaction_id,omitempty"`
	OrderID       uint      `json:"order_id,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	Gateway       string    `json:"gateway,omitempty"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Sink receives audit events. Recording never fails the payment flow,
// so implementations log their own errors.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// ForTransition builds an event describing a status change on t.
func ForTransition(typ EventType, t *models.Transaction, from, to models.TransactionStatus) Event {
	return Event{
		Type:          typ,
		TransactionID: t.ID,
		OrderID:       t.OrderID,
		Reference:     t.PaymentReference,
		Gateway:       string(t.PaymentMethod),
		From:          string(from),
		To:            string(to),
		OccurredAt:    time.Now().UTC(),
	}
}

type multi []Sink

// Multi fans an event out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Record(ctx context.Context, e Event) {
	for _, s := range m {
		s.Record(ctx, e)
	}
}

type nop struct{}

func Nop() Sink { return nop{} }

func (nop) Record(context.Context, Event) {}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Record(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}
