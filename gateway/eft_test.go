package gateway

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/gpay-checkout/models"
	"github.com/yourusername/gpay-checkout/testutil"
)

const testPassphrase = "jt7NOE43FZPn"

func newTestEFTGateway(apiURL string) *EFTGateway {
	return NewEFTGateway(EFTConfig{
		MerchantID:   "10000100",
		MerchantKey:  "46f0cd694581a",
		Passphrase:   testPassphrase,
		ProcessURL:   "https://sandbox.eft.example/eng/process",
		APIURL:       apiURL,
		ReturnURL:    "https://shop.example/return",
		CancelURL:    "https://shop.example/cancel",
		NotifyURL:    "https://shop.example/webhooks/eft",
		Currency:     "ZAR",
		Timeout:      time.Second,
		NewReference: func() string { return "R-001" },
		Now:          func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
	})
}

func itnForm(status string) url.Values {
	form := url.Values{}
	form.Set("m_payment_id", "R-001")
	form.Set("pf_payment_id", "1089250")
	form.Set("payment_status", status)
	form.Set("item_name", "Order #42")
	form.Set("amount_gross", "250.00")
	form.Set("amount_fee", "-5.75")
	form.Set("amount_net", "244.25")
	form.Set("custom_str1", "42")
	form.Set("name_first", "Thandi")
	form.Set("email_address", "thandi@example.com")
	form.Set("merchant_id", "10000100")
	return form
}

func signedITN(form url.Values) []byte {
	form.Set("signature", SignITN(form, testPassphrase))
	return []byte(form.Encode())
}

func TestSignEFTFields(t *testing.T) {
	values := url.Values{}
	values.Set("b", "two words")
	values.Set("a", "1")
	values.Set("c", "")

	sum := md5.Sum([]byte("a=1&b=two+words&passphrase=secret"))
	sig := SignEFTFields(values, []string{"a", "b", "c"}, "secret")
	assert.Equal(t, hex.EncodeToString(sum[:]), sig)

	reordered := SignEFTFields(values, []string{"b", "a", "c"}, "secret")
	assert.NotEqual(t, sig, reordered)

	noPass := SignEFTFields(values, []string{"a", "b", "c"}, "")
	assert.NotEqual(t, sig, noPass)
}

func TestEFTCreatePaymentRequest(t *testing.T) {
	g := newTestEFTGateway("http://unused")

	session, err := g.CreatePaymentRequest(context.Background(), PaymentRequest{
		OrderID:  42,
		Amount:   testutil.Dec("250"),
		Currency: "ZAR",
		Customer: Customer{Name: "Thandi", Email: "thandi@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, "R-001", session.Reference)
	assert.Empty(t, session.ClientToken)

	u, err := url.Parse(session.RedirectURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "250.00", q.Get("amount"))
	assert.Equal(t, "R-001", q.Get("m_payment_id"))
	assert.Equal(t, "42", q.Get("custom_str1"))
	assert.Equal(t, "Order #42", q.Get("item_name"))
	assert.Equal(t, SignEFTFields(q, checkoutSignatureFieldsV1, testPassphrase), q.Get("signature"))
}

func TestEFTCreatePaymentRequestRejectsOtherCurrencies(t *testing.T) {
	g := newTestEFTGateway("http://unused")
	_, err := g.CreatePaymentRequest(context.Background(), PaymentRequest{OrderID: 1, Amount: testutil.Dec("10"), Currency: "USD"})
	assert.ErrorIs(t, err, models.ErrInvalidCurrency)
}

func TestEFTVerifyWebhookSignature(t *testing.T) {
	g := newTestEFTGateway("http://unused")

	valid := signedITN(itnForm("COMPLETE"))
	assert.True(t, g.VerifyWebhookSignature(valid, ""))

	t.Run("Altered Field", func(t *testing.T) {
		form, _ := url.ParseQuery(string(valid))
		form.Set("amount_gross", "2500.00")
		assert.False(t, g.VerifyWebhookSignature([]byte(form.Encode()), ""))
	})

	t.Run("Altered Status", func(t *testing.T) {
		tampered := strings.Replace(string(valid), "payment_status=COMPLETE", "payment_status=FAILED", 1)
		assert.False(t, g.VerifyWebhookSignature([]byte(tampered), ""))
	})

	t.Run("Wrong Passphrase", func(t *testing.T) {
		form := itnForm("COMPLETE")
		form.Set("signature", SignITN(form, "other"))
		assert.False(t, g.VerifyWebhookSignature([]byte(form.Encode()), ""))
	})

	t.Run("Other Merchant", func(t *testing.T) {
		form := itnForm("COMPLETE")
		form.Set("merchant_id", "99999")
		assert.False(t, g.VerifyWebhookSignature(signedITN(form), ""))
	})

	t.Run("Missing Signature", func(t *testing.T) {
		assert.False(t, g.VerifyWebhookSignature([]byte(itnForm("COMPLETE").Encode()), ""))
	})

	t.Run("Signature Argument", func(t *testing.T) {
		form := itnForm("COMPLETE")
		sig := SignITN(form, testPassphrase)
		assert.True(t, g.VerifyWebhookSignature([]byte(form.Encode()), strings.ToUpper(sig)))
	})
}

func TestEFTParseWebhookEvent(t *testing.T) {
	g := newTestEFTGateway("http://unused")

	tests := []struct {
		status     string
		wantType   EventType
		wantStatus models.TransactionStatus
	}{
		{"COMPLETE", EventPaymentSucceeded, models.TransactionCompleted},
		{"FAILED", EventPaymentFailed, models.TransactionFailed},
		{"CANCELLED", EventPaymentFailed, models.TransactionFailed},
		{"PENDING", EventPaymentPending, models.TransactionPending},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			ev, err := g.ParseWebhookEvent(signedITN(itnForm(tt.status)))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, ev.Type)
			assert.Equal(t, tt.wantStatus, ev.Status)
			assert.Equal(t, "R-001", ev.GatewayReference)
			assert.Equal(t, uint(42), ev.OrderID)
			assert.Equal(t, "ZAR", ev.Currency)
			testutil.AssertDecimal(t, "250.00", ev.Amount)
			assert.NotContains(t, string(ev.Payload), "signature")
			assert.Contains(t, string(ev.Payload), "1089250")
		})
	}
}

func TestEFTParseWebhookEventMalformed(t *testing.T) {
	g := newTestEFTGateway("http://unused")

	noRef := itnForm("COMPLETE")
	noRef.Del("m_payment_id")
	badStatus := itnForm("REVERSED")
	badAmount := itnForm("COMPLETE")
	badAmount.Set("amount_gross", "lots")
	badOrder := itnForm("COMPLETE")
	badOrder.Set("custom_str1", "forty-two")

	for name, payload := range map[string][]byte{
		"Missing Reference": []byte(noRef.Encode()),
		"Unknown Status":    []byte(badStatus.Encode()),
		"Bad Amount":        []byte(badAmount.Encode()),
		"Bad Order":         []byte(badOrder.Encode()),
		"Bad Encoding":      []byte("%zz"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := g.ParseWebhookEvent(payload)
			assert.ErrorIs(t, err, models.ErrMalformedPayload)
		})
	}
}

func TestEFTRefund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		assert.Equal(t, "10000100", r.Header.Get("merchant-id"))
		assert.Equal(t, "v1", r.Header.Get("version"))
		assert.Len(t, r.Header.Get("signature"), 32)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "100.00", r.PostForm.Get("amount"))
		assert.Equal(t, "R-001", r.PostForm.Get("m_payment_id"))
		w.Write([]byte(`{"status":"success","data":{"refund_id":"rf_77"}}`))
	}))
	defer server.Close()

	g := newTestEFTGateway(server.URL)
	res, err := g.Refund(context.Background(), RefundRequest{Reference: "R-001", Amount: testutil.Dec("100"), Currency: "ZAR", Reason: "duplicate"})

	require.NoError(t, err)
	assert.Equal(t, "rf_77", res.RefundID)
}

func TestEFTRefundFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "Business Failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"failed","data":{"message":"refund window closed"}}`))
			},
			wantErr: models.ErrGatewayRejected,
		},
		{
			name: "Unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantErr: models.ErrGatewayUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := newTestEFTGateway(server.URL).Refund(context.Background(), RefundRequest{Reference: "R-001", Amount: testutil.Dec("1"), Currency: "ZAR"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegistry(t *testing.T) {
	card := newTestCardGateway("http://unused")
	eft := newTestEFTGateway("http://unused")
	r := NewRegistry(card, eft)

	a, err := r.Get(KindEFT)
	require.NoError(t, err)
	assert.Equal(t, KindEFT, a.Kind())

	a, err = r.ForMethod(models.PaymentMethodCard)
	require.NoError(t, err)
	assert.Equal(t, KindCard, a.Kind())

	_, err = r.ForMethod(models.PaymentMethodManual)
	assert.ErrorIs(t, err, models.ErrUnknownGateway)

	_, err = r.Get("crypto")
	assert.ErrorIs(t, err, models.ErrUnknownGateway)
}
