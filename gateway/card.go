package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/gpay-checkout/models"
	"github.com/yourusername/gpay-checkout/utils"
	"gorm.io/datatypes"
)

// CardSignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const CardSignatureHeader = "Card-Signature"

type CardConfig struct {
	APIURL        string
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// CardGateway talks JSON to the card processor. Amounts travel as integer
// minor units.
type CardGateway struct {
	cfg  CardConfig
	http *httpClient
}

func NewCardGateway(cfg CardConfig) *CardGateway {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &CardGateway{
		cfg:  cfg,
		http: newHTTPClient(KindCard, cfg.HTTPClient, cfg.Timeout),
	}
}

func (g *CardGateway) Kind() Kind { return KindCard }

func (g *CardGateway) Method() models.PaymentMethod { return models.PaymentMethodCard }

type cardIntentRequest struct {
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Description  string            `json:"description,omitempty"`
	ReceiptEmail string            `json:"receipt_email,omitempty"`
	Metadata     map[string]string `json:"metadata"`
}

type cardIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

func (g *CardGateway) CreatePaymentRequest(ctx context.Context, req PaymentRequest) (*PaymentSession, error) {
	minor, err := utils.ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidAmount, err)
	}

	body := cardIntentRequest{
		Amount:       minor,
		Currency:     strings.ToLower(req.Currency),
		Description:  req.Description,
		ReceiptEmail: req.Customer.Email,
		Metadata:     map[string]string{"order_id": strconv.FormatUint(uint64(req.OrderID), 10)},
	}

	var out cardIntentResponse
	if err := g.post(ctx, "/payment_intents", "order-"+body.Metadata["order_id"], body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, unavailable(KindCard, fmt.Errorf("payment intent response has no id"))
	}

	raw, _ := json.Marshal(out)
	return &PaymentSession{
		ClientToken: out.ClientSecret,
		Reference:   out.ID,
		Raw:         datatypes.JSON(raw),
	}, nil
}

// VerifyWebhookSignature accepts the hex digest with or without a "sha256=" prefix.
func (g *CardGateway) VerifyWebhookSignature(raw []byte, signature string) bool {
	if g.cfg.WebhookSecret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(got, SignCardPayload(g.cfg.WebhookSecret, raw))
}

// SignCardPayload returns the raw HMAC-SHA256 of payload.
func SignCardPayload(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

type cardWebhook struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID             string            `json:"id"`
		PaymentIntent  string            `json:"payment_intent"`
		Amount         *int64            `json:"amount"`
		AmountRefunded int64             `json:"amount_refunded"`
		Currency       string            `json:"currency"`
		Metadata       map[string]string `json:"metadata"`
	} `json:"data"`
}

var cardEventStatus = map[EventType]models.TransactionStatus{
	EventPaymentSucceeded:  models.TransactionCompleted,
	EventPaymentFailed:     models.TransactionFailed,
	EventPaymentProcessing: models.TransactionProcessing,
	EventChargeRefunded:    models.TransactionRefunded,
}

func (g *CardGateway) ParseWebhookEvent(raw []byte) (*NormalizedEvent, error) {
	var wh cardWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}
	if wh.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", models.ErrMalformedPayload)
	}

	ev := &NormalizedEvent{
		Type:     EventType(wh.Type),
		Currency: strings.ToUpper(wh.Data.Currency),
		Payload:  datatypes.JSON(raw),
	}

	status, known := cardEventStatus[ev.Type]
	if !known {
		ev.Type = EventIgnored
		ev.GatewayReference = wh.Data.ID
		return ev, nil
	}
	ev.Status = status

	// refund events reference the intent they reverse
	ev.GatewayReference = wh.Data.ID
	if ev.Type == EventChargeRefunded && wh.Data.PaymentIntent != "" {
		ev.GatewayReference = wh.Data.PaymentIntent
	}
	if ev.GatewayReference == "" {
		return nil, fmt.Errorf("%w: missing payment reference", models.ErrMalformedPayload)
	}
	if !utils.ValidCurrency(ev.Currency) {
		return nil, fmt.Errorf("%w: bad currency %q", models.ErrMalformedPayload, wh.Data.Currency)
	}

	minor := wh.Data.AmountRefunded
	if ev.Type != EventChargeRefunded {
		if wh.Data.Amount == nil {
			return nil, fmt.Errorf("%w: missing amount", models.ErrMalformedPayload)
		}
		minor = *wh.Data.Amount
	}
	ev.Amount = utils.FromMinorUnits(minor, ev.Currency)

	if id, ok := wh.Data.Metadata["order_id"]; ok {
		n, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad order_id %q", models.ErrMalformedPayload, id)
		}
		ev.OrderID = uint(n)
	}
	return ev, nil
}

type cardRefundRequest struct {
	PaymentIntent string            `json:"payment_intent"`
	Amount        int64             `json:"amount"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (g *CardGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	minor, err := utils.ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidAmount, err)
	}

	body := cardRefundRequest{PaymentIntent: req.Reference, Amount: minor}
	if req.Reason != "" {
		body.Metadata = map[string]string{"reason": req.Reason}
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := g.post(ctx, "/refunds", req.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	if out.Status == "failed" || out.Status == "canceled" {
		return nil, rejected(KindCard, http.StatusOK, "refund "+out.Status)
	}
	return &RefundResult{RefundID: out.ID, Status: out.Status}, nil
}

func (g *CardGateway) post(ctx context.Context, path, idempotencyKey string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return g.http.do(req, out)
}
