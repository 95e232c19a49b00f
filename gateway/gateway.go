// Package gateway hides the protocol differences between the supported
// payment gateways behind one Adapter interface.
package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/yourusername/gpay-checkout/models"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindCard Kind = "card"
	KindEFT  Kind = "eft"
)

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type PaymentRequest struct {
	OrderID     uint
	Amount      decimal.Decimal
	Currency    string
	Customer    Customer
	Description string
}

// PaymentSession is what the storefront needs to send the customer to the
// gateway. Exactly one of RedirectURL and ClientToken is set.
type PaymentSession struct {
	RedirectURL string         `json:"redirect_url,omitempty"`
	ClientToken string         `json:"client_token,omitempty"`
	Reference   string         `json:"reference"`
	Raw         datatypes.JSON `json:"-"`
}

type EventType string

const (
	EventPaymentSucceeded  EventType = "payment_succeeded"
	EventPaymentFailed     EventType = "payment_failed"
	EventPaymentProcessing EventType = "payment_processing"
	EventPaymentPending    EventType = "payment_pending"
	EventChargeRefunded    EventType = "charge_refunded"
	// EventIgnored marks a verified delivery of a type the ledger does not act on.
	EventIgnored EventType = "ignored"
)

// NormalizedEvent is a gateway callback reduced to what the ledger needs.
type NormalizedEvent struct {
	Type             EventType
	GatewayReference string
	OrderID          uint
	Amount           decimal.Decimal
	Currency         string
	Status           models.TransactionStatus
	Payload          datatypes.JSON
}

func (e *NormalizedEvent) Actionable() bool {
	return e.Type != EventIgnored && e.Status != ""
}

type RefundRequest struct {
	Reference      string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
}

type RefundResult struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// Adapter is implemented once per gateway protocol. Methods that reach the
// network return *Error on failure.
type Adapter interface {
	Kind() Kind
	Method() models.PaymentMethod
	CreatePaymentRequest(ctx context.Context, req PaymentRequest) (*PaymentSession, error)
	VerifyWebhookSignature(raw []byte, signature string) bool
	ParseWebhookEvent(raw []byte) (*NormalizedEvent, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

func KindForMethod(m models.PaymentMethod) (Kind, error) {
	switch m {
	case models.PaymentMethodCard:
		return KindCard, nil
	case models.PaymentMethodInstantEFT:
		return KindEFT, nil
	}
	return "", fmt.Errorf("%w: %s has no gateway", models.ErrUnknownGateway, m)
}

type Registry struct {
	adapters map[Kind]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Kind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

func (r *Registry) Get(kind Kind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownGateway, kind)
	}
	return a, nil
}

func (r *Registry) ForMethod(m models.PaymentMethod) (Adapter, error) {
	kind, err := KindForMethod(m)
	if err != nil {
		return nil, err
	}
	return r.Get(kind)
}
