package gateway

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/gpay-checkout/models"
	"github.com/yourusername/gpay-checkout/utils"
	"gorm.io/datatypes"
)

// Signature field lists as published by the gateway. The order is the
// signing order; empty fields are skipped and the passphrase is appended
// last. Changing a list breaks every signature, so add a new version
// instead of editing one.
var (
	itnSignatureFieldsV1 = []string{
		"amount_fee",
		"amount_gross",
		"amount_net",
		"custom_str1",
		"email_address",
		"item_name",
		"m_payment_id",
		"merchant_id",
		"name_first",
		"payment_status",
		"pf_payment_id",
	}

	checkoutSignatureFieldsV1 = []string{
		"amount",
		"cancel_url",
		"custom_str1",
		"email_address",
		"item_name",
		"m_payment_id",
		"merchant_id",
		"merchant_key",
		"name_first",
		"notify_url",
		"return_url",
	}
)

const eftAPIVersion = "v1"

type EFTConfig struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	ProcessURL  string
	APIURL      string
	ReturnURL   string
	CancelURL   string
	NotifyURL   string
	Currency    string
	Timeout     time.Duration
	HTTPClient  *http.Client
	// NewReference generates m_payment_id values. Defaults to "R-" plus a uuid.
	NewReference func() string
	Now          func() time.Time
}

// EFTGateway implements the redirect-and-notify instant EFT protocol.
// Amounts travel as fixed 2-decimal strings.
type EFTGateway struct {
	cfg  EFTConfig
	http *httpClient
}

func NewEFTGateway(cfg EFTConfig) *EFTGateway {
	if cfg.Currency == "" {
		cfg.Currency = "ZAR"
	}
	if cfg.NewReference == nil {
		cfg.NewReference = func() string { return "R-" + uuid.NewString() }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &EFTGateway{
		cfg:  cfg,
		http: newHTTPClient(KindEFT, cfg.HTTPClient, cfg.Timeout),
	}
}

func (g *EFTGateway) Kind() Kind { return KindEFT }

func (g *EFTGateway) Method() models.PaymentMethod { return models.PaymentMethodInstantEFT }

// CreatePaymentRequest builds the signed redirect to the hosted payment
// page. No network call is made.
func (g *EFTGateway) CreatePaymentRequest(_ context.Context, req PaymentRequest) (*PaymentSession, error) {
	if !strings.EqualFold(req.Currency, g.cfg.Currency) {
		return nil, fmt.Errorf("%w: instant EFT only settles %s", models.ErrInvalidCurrency, g.cfg.Currency)
	}
	if !req.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	reference := g.cfg.NewReference()
	itemName := req.Description
	if itemName == "" {
		itemName = fmt.Sprintf("Order #%d", req.OrderID)
	}

	fields := url.Values{}
	fields.Set("merchant_id", g.cfg.MerchantID)
	fields.Set("merchant_key", g.cfg.MerchantKey)
	fields.Set("return_url", g.cfg.ReturnURL)
	fields.Set("cancel_url", g.cfg.CancelURL)
	fields.Set("notify_url", g.cfg.NotifyURL)
	fields.Set("name_first", req.Customer.Name)
	fields.Set("email_address", req.Customer.Email)
	fields.Set("m_payment_id", reference)
	fields.Set("amount", utils.FormatFixed2(req.Amount))
	fields.Set("item_name", itemName)
	fields.Set("custom_str1", strconv.FormatUint(uint64(req.OrderID), 10))
	fields.Set("signature", SignEFTFields(fields, checkoutSignatureFieldsV1, g.cfg.Passphrase))

	redirect := g.cfg.ProcessURL + "?" + fields.Encode()
	raw, _ := json.Marshal(map[string]string{"m_payment_id": reference, "redirect_url": redirect})
	return &PaymentSession{
		RedirectURL: redirect,
		Reference:   reference,
		Raw:         datatypes.JSON(raw),
	}, nil
}

// SignEFTFields hashes the listed fields in order as name=urlencoded(value)
// pairs joined by '&', followed by the passphrase.
func SignEFTFields(values url.Values, fieldList []string, passphrase string) string {
	parts := make([]string, 0, len(fieldList)+1)
	for _, name := range fieldList {
		v := strings.TrimSpace(values.Get(name))
		if v == "" {
			continue
		}
		parts = append(parts, name+"="+url.QueryEscape(v))
	}
	if passphrase != "" {
		parts = append(parts, "passphrase="+url.QueryEscape(strings.TrimSpace(passphrase)))
	}
	sum := md5.Sum([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(sum[:])
}

// SignITN computes the notification signature for values with the current field list.
func SignITN(values url.Values, passphrase string) string {
	return SignEFTFields(values, itnSignatureFieldsV1, passphrase)
}

// VerifyWebhookSignature checks an ITN body. The signature normally
// travels as the "signature" form field; a non-empty argument overrides it.
func (g *EFTGateway) VerifyWebhookSignature(raw []byte, signature string) bool {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return false
	}
	if signature == "" {
		signature = form.Get("signature")
	}
	if signature == "" {
		return false
	}
	if g.cfg.MerchantID != "" && form.Get("merchant_id") != g.cfg.MerchantID {
		return false
	}
	expected := SignITN(form, g.cfg.Passphrase)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(signature)), []byte(expected)) == 1
}

var eftStatus = map[string]struct {
	event  EventType
	status models.TransactionStatus
}{
	"COMPLETE":  {EventPaymentSucceeded, models.TransactionCompleted},
	"FAILED":    {EventPaymentFailed, models.TransactionFailed},
	"CANCELLED": {EventPaymentFailed, models.TransactionFailed},
	"PENDING":   {EventPaymentPending, models.TransactionPending},
}

func (g *EFTGateway) ParseWebhookEvent(raw []byte) (*NormalizedEvent, error) {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	reference := form.Get("m_payment_id")
	if reference == "" {
		return nil, fmt.Errorf("%w: missing m_payment_id", models.ErrMalformedPayload)
	}

	mapped, ok := eftStatus[strings.ToUpper(form.Get("payment_status"))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payment_status %q", models.ErrMalformedPayload, form.Get("payment_status"))
	}

	amount, err := utils.ParseAmount(form.Get("amount_gross"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	ev := &NormalizedEvent{
		Type:             mapped.event,
		GatewayReference: reference,
		Amount:           amount,
		Currency:         g.cfg.Currency,
		Status:           mapped.status,
	}

	if s := form.Get("custom_str1"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad custom_str1 %q", models.ErrMalformedPayload, s)
		}
		ev.OrderID = uint(n)
	}

	payload := make(map[string]string, len(form))
	for k := range form {
		if k == "signature" {
			continue
		}
		payload[k] = form.Get(k)
	}
	if b, err := json.Marshal(payload); err == nil {
		ev.Payload = datatypes.JSON(b)
	}
	return ev, nil
}

// Refund calls the merchant API. API requests are signed over every header
// and body parameter sorted by name, unlike the checkout and ITN lists.
func (g *EFTGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := url.Values{}
	body.Set("m_payment_id", req.Reference)
	body.Set("amount", utils.FormatFixed2(req.Amount))
	body.Set("reason", req.Reason)

	headers := url.Values{}
	headers.Set("merchant-id", g.cfg.MerchantID)
	headers.Set("version", eftAPIVersion)
	headers.Set("timestamp", g.cfg.Now().UTC().Format(time.RFC3339))

	signed := url.Values{}
	for k, v := range headers {
		signed[k] = v
	}
	for k, v := range body {
		signed[k] = v
	}
	names := make([]string, 0, len(signed))
	for k := range signed {
		names = append(names, k)
	}
	sort.Strings(names)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL+"/refunds", strings.NewReader(body.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k := range headers {
		httpReq.Header.Set(k, headers.Get(k))
	}
	httpReq.Header.Set("signature", SignEFTFields(signed, names, g.cfg.Passphrase))
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	var out struct {
		Status string `json:"status"`
		Data   struct {
			RefundID string `json:"refund_id"`
			Message  string `json:"message"`
		} `json:"data"`
	}
	if err := g.http.do(httpReq, &out); err != nil {
		return nil, err
	}
	if !strings.EqualFold(out.Status, "success") {
		return nil, rejected(KindEFT, http.StatusOK, out.Data.Message)
	}
	return &RefundResult{RefundID: out.Data.RefundID, Status: "succeeded"}, nil
}
