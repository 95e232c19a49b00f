package webhooks

import (
	"context"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/gpay-checkout/audit"
	"github.com/yourusername/gpay-checkout/cache"
	"github.com/yourusername/gpay-checkout/gateway"
	"github.com/yourusername/gpay-checkout/ledger"
	"github.com/yourusername/gpay-checkout/models"
	"github.com/yourusername/gpay-checkout/orders"
	"github.com/yourusername/gpay-checkout/reconciliation"
	"github.com/yourusername/gpay-checkout/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	eftPassphrase = "jt7NOE43FZPn"
	eftMerchant   = "10000100"
	cardSecret    = "whsec_test"
)

type recordingNotifier struct {
	mu      sync.Mutex
	settled []models.TransactionStatus
}

func (n *recordingNotifier) TransactionSettled(_ context.Context, t *models.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, t.Status)
}

type failingReconciler struct{}

func (failingReconciler) Apply(context.Context, *gorm.DB, *models.Transaction) error {
	return errors.New("invoice table locked")
}

type fixture struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	audit    *audit.Recorder
	notifier *recordingNotifier
	pipeline *Pipeline
}

func newFixture(t *testing.T, store cache.Store, reconciler Reconciler) *fixture {
	db := testutil.NewDB(t)
	rec := &audit.Recorder{}
	l := ledger.New(db, rec, zap.NewNop())
	if reconciler == nil {
		reconciler = reconciliation.NewService(reconciliation.NewEngine(), orders.NewRepository(), zap.NewNop())
	}
	registry := gateway.NewRegistry(
		gateway.NewCardGateway(gateway.CardConfig{APIURL: "http://unused", WebhookSecret: cardSecret}),
		gateway.NewEFTGateway(gateway.EFTConfig{MerchantID: eftMerchant, Passphrase: eftPassphrase, Currency: "ZAR"}),
	)
	n := &recordingNotifier{}

	return &fixture{
		db:       db,
		ledger:   l,
		audit:    rec,
		notifier: n,
		pipeline: NewPipeline(Deps{
			DB:         db,
			Registry:   registry,
			Ledger:     l,
			Reconciler: reconciler,
			Notifier:   n,
			Audit:      rec,
			Cache:      store,
			ReplayTTL:  10 * time.Minute,
			Logger:     zap.NewNop(),
		}),
	}
}

func itn(reference, status, amount string, orderID string) []byte {
	form := url.Values{}
	form.Set("m_payment_id", reference)
	form.Set("pf_payment_id", "1089250")
	form.Set("payment_status", status)
	form.Set("item_name", "Order #"+orderID)
	form.Set("amount_gross", amount)
	form.Set("custom_str1", orderID)
	form.Set("merchant_id", eftMerchant)
	form.Set("signature", gateway.SignITN(form, eftPassphrase))
	return []byte(form.Encode())
}

func cardSig(payload []byte) string {
	return hex.EncodeToString(gateway.SignCardPayload(cardSecret, payload))
}

func countDeliveries(t *testing.T, db *gorm.DB, status models.WebhookEventStatus) int64 {
	var n int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Where("status = ?", status).Count(&n).Error)
	return n
}

func TestIngestCheckoutScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore(), nil)
	order := testutil.CreateOrderWithID(t, f.db, 42, "250.00", "ZAR")

	created, err := f.ledger.Create(ctx, ledger.NewTransaction{
		OrderID: 42, Reference: "R-001", Amount: testutil.Dec("250.00"), Currency: "ZAR", Method: models.PaymentMethodInstantEFT,
	})
	require.NoError(t, err)
	require.Equal(t, models.TransactionPending, created.Status)

	payload := itn("R-001", "COMPLETE", "250.00", "42")
	res, err := f.pipeline.Ingest(ctx, gateway.KindEFT, payload, "")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, created.ID, res.TransactionID)
	assert.Equal(t, uint(42), res.OrderID)
	assert.Equal(t, models.TransactionCompleted, res.Status)

	assert.Equal(t, models.TransactionCompleted, testutil.ReloadTransaction(t, f.db, created.ID).Status)
	confirmed := testutil.ReloadOrder(t, f.db, order.ID)
	assert.Equal(t, models.OrderPaymentConfirmed, confirmed.PaymentStatus)
	assert.Equal(t, "R-001", confirmed.PaymentReference)
	require.NotNil(t, confirmed.PaymentConfirmedAt)

	// identical redelivery
	again, err := f.pipeline.Ingest(ctx, gateway.KindEFT, payload, "")
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, created.ID, again.TransactionID)

	assert.Equal(t, int64(1), testutil.CountTransactions(t, f.db))
	unchanged := testutil.ReloadOrder(t, f.db, order.ID)
	assert.Equal(t, confirmed.PaymentStatus, unchanged.PaymentStatus)
	assert.True(t, confirmed.PaymentConfirmedAt.Equal(*unchanged.PaymentConfirmedAt))
	assert.Equal(t, []models.TransactionStatus{models.TransactionCompleted}, f.notifier.settled)
	assert.Equal(t, int64(1), countDeliveries(t, f.db, models.WebhookHandled))
}

func TestIngestIsIdempotentWithoutReplayCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	order := testutil.CreateOrder(t, f.db, "1000.00", "ZAR")
	inv := testutil.CreateInvoice(t, f.db, order.ID, "1000.00", models.InvoiceSent)
	testutil.CreateTransaction(t, f.db, order.ID, "R-100", "400.00", models.PaymentMethodInstantEFT, models.TransactionPending)

	payload := itn("R-100", "COMPLETE", "400.00", "0")
	for i := 0; i < 5; i++ {
		res, err := f.pipeline.Ingest(ctx, gateway.KindEFT, payload, "")
		require.NoError(t, err)
		assert.Equal(t, models.TransactionCompleted, res.Status)
		assert.False(t, res.Duplicate)
	}

	reloaded := testutil.ReloadInvoice(t, f.db, inv.ID)
	testutil.AssertDecimal(t, "400.00", reloaded.PaidAmount)
	assert.Equal(t, models.InvoicePartial, reloaded.Status)
	assert.Len(t, reloaded.Payments, 1)
	assert.Len(t, f.notifier.settled, 1)
}

func TestIngestRejectsTamperedPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, cache.NewMemoryStore(), nil)
	order := testutil.CreateOrder(t, f.db, "250.00", "ZAR")
	tx := testutil.CreateTransaction(t, f.db, order.ID, "R-001", "250.00", models.PaymentMethodInstantEFT, models.TransactionPending)

	form, err := url.ParseQuery(string(itn("R-001", "FAILED", "250.00", "0")))
	require.NoError(t, err)
	form.Set("payment_status", "COMPLETE")

	_, err = f.pipeline.Ingest(ctx, gateway.KindEFT, []byte(form.Encode()), "")
	assert.ErrorIs(t, err, models.ErrUnverifiedSignature)

	assert.Equal(t, models.TransactionPending, testutil.ReloadTransaction(t, f.db, tx.ID).Status)
	assert.Equal(t, models.OrderPaymentPending, testutil.ReloadOrder(t, f.db, order.ID).PaymentStatus)
	assert.Equal(t, []audit.EventType{audit.WebhookSignatureRejected}, f.audit.Types())
	var deliveries int64
	require.NoError(t, f.db.Model(&models.WebhookEvent{}).Count(&deliveries).Error)
	assert.Zero(t, deliveries)
}

func TestIngestCardSignatureHeader(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	order := testutil.CreateOrder(t, f.db, "250.00", "ZAR")
	testutil.CreateTransaction(t, f.db, order.ID, "pi_1", "250.00", models.PaymentMethodCard, models.TransactionPending)

	payload := []byte(`{"id":"evt_1","type":"payment_succeeded","data":{"id":"pi_1","amount":25000,"currency":"zar"}}`)

	_, err := f.pipeline.Ingest(ctx, gateway.KindCard, payload, "deadbeef")
	assert.ErrorIs(t, err, models.ErrUnverifiedSignature)

	res, err := f.pipeline.Ingest(ctx, gateway.KindCard, payload, cardSig(payload))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, res.Status)
}

func TestIngestCreatesTransactionWhenWebhookArrivesFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	order := testutil.CreateOrder(t, f.db, "250.00", "ZAR")

	payload := []byte(`{"id":"evt_1","type":"payment_succeeded","data":{"id":"pi_early","amount":25000,"currency":"zar","metadata":{"order_id":"` +
		uintString(order.ID) + `"}}}`)
	res, err := f.pipeline.Ingest(ctx, gateway.KindCard, payload, cardSig(payload))
	require.NoError(t, err)

	tx, err := f.ledger.FindByReference(ctx, "pi_early")
	require.NoError(t, err)
	assert.Equal(t, res.TransactionID, tx.ID)
	assert.Equal(t, models.TransactionCompleted, tx.Status)
	assert.Equal(t, models.PaymentMethodCard, tx.PaymentMethod)
	testutil.AssertDecimal(t, "250.00", tx.Amount)
	assert.Equal(t, models.OrderPaymentConfirmed, testutil.ReloadOrder(t, f.db, order.ID).PaymentStatus)
	assert.Equal(t, []audit.EventType{audit.TransactionCreated, audit.TransactionTransitioned}, f.audit.Types())
}

func TestIngestPendingEventForUnknownReferenceCreatesPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	order := testutil.CreateOrder(t, f.db, "99.00", "ZAR")

	res, err := f.pipeline.Ingest(ctx, gateway.KindEFT, itn("R-pend", "PENDING", "99.00", uintString(order.ID)), "")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPending, res.Status)
	assert.Empty(t, f.notifier.settled)
	assert.Equal(t, models.OrderPaymentPending, testutil.ReloadOrder(t, f.db, order.ID).PaymentStatus)
}

func TestIngestUnknownReferenceWithoutOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	payload := []byte(`{"id":"evt_1","type":"payment_failed","data":{"id":"pi_orphan","amount":100,"currency":"zar"}}`)
	_, err := f.pipeline.Ingest(ctx, gateway.KindCard, payload, cardSig(payload))
	assert.ErrorIs(t, err, models.ErrUnknownTransaction)
	assert.Equal(t, int64(0), testutil.CountTransactions(t, f.db))
	assert.Equal(t, int64(1), countDeliveries(t, f.db, models.WebhookFailed))
}

func TestIngestCancelledThenComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	order := testutil.CreateOrder(t, f.db, "250.00", "ZAR")
	inv := testutil.CreateInvoice(t, f.db, order.ID, "250.00", models.InvoiceSent)
	tx := testutil.CreateTransaction(t, f.db, order.ID, "R-001", "250.00", models.PaymentMethodInstantEFT, models.TransactionPending)

	res, err := f.pipeline.Ingest(ctx, gateway.KindEFT, itn("R-001", "CANCELLED", "250.00", "0"), "")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionFailed, res.Status)
	assert.Equal(t, models.OrderPaymentFailed, testutil.ReloadOrder(t, f.db, order.ID).PaymentStatus)
	testutil.AssertDecimal(t, "0", testutil.ReloadInvoice(t, f.db, inv.ID).PaidAmount)

	_, err = f.pipeline.Ingest(ctx, gateway.KindEFT, itn("R-001", "COMPLETE", "250.00", "0"), "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, models.TransactionFailed, testutil.ReloadTransaction(t, f.db, tx.ID).Status)
	testutil.AssertDecimal(t, "0", testutil.ReloadInvoice(t, f.db, inv.ID).PaidAmount)
	assert.Contains(t, f.audit.Types(), audit.TransactionTransitionRejected)
}

func TestIngestLateProcessingEventAfterSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	order := testutil.CreateOrder(t, f.db, "250.00", "ZAR")
	tx := testutil.CreateTransaction(t, f.db, order.ID, "pi_1", "250.00", models.PaymentMethodCard, models.TransactionPending)

	succeeded := []byte(`{"id":"evt_1","type":"payment_succeeded","data":{"id":"pi_1","amount":25000,"currency":"zar"}}`)
	res, err := f.pipeline.Ingest(ctx, gateway.KindCard, succeeded, cardSig(succeeded))
	require.NoError(t, err)
	require.Equal(t, models.TransactionCompleted, res.Status)

	processing := []byte(`{"id":"evt_0","type":"payment_processing","data":{"id":"pi_1","amount":25000,"currency":"zar"}}`)
	for i := 0; i < 3; i++ {
		res, err = f.pipeline.Ingest(ctx, gateway.KindCard, processing, cardSig(processing))
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.True(t, res.Ignored)
		assert.Equal(t, models.TransactionCompleted, res.Status)
	}

	assert.Equal(t, models.TransactionCompleted, testutil.ReloadTransaction(t, f.db, tx.ID).Status)
	assert.NotContains(t, f.audit.Types(), audit.TransactionTransitionRejected)
	assert.Equal(t, int64(3), countDeliveries(t, f.db, models.WebhookIgnored))
	assert.Equal(t, int64(0), countDeliveries(t, f.db, models.WebhookFailed))
	assert.Len(t, f.notifier.settled, 1)
}

func TestIngestLatePendingITNAfterCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	order := testutil.CreateOrder(t, f.db, "250.00", "ZAR")
	tx := testutil.CreateTransaction(t, f.db, order.ID, "R-001", "250.00", models.PaymentMethodInstantEFT, models.TransactionPending)

	_, err := f.pipeline.Ingest(ctx, gateway.KindEFT, itn("R-001", "CANCELLED", "250.00", "0"), "")
	require.NoError(t, err)

	res, err := f.pipeline.Ingest(ctx, gateway.KindEFT, itn("R-001", "PENDING", "250.00", "0"), "")
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, models.TransactionFailed, res.Status)
	assert.Equal(t, models.TransactionFailed, testutil.ReloadTransaction(t, f.db, tx.ID).Status)
}

func TestIngestRollsBackWhenReconciliationFails(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	f := newFixture(t, store, failingReconciler{})
	order := testutil.CreateOrder(t, f.db, "250.00", "ZAR")
	tx := testutil.CreateTransaction(t, f.db, order.ID, "R-001", "250.00", models.PaymentMethodInstantEFT, models.TransactionPending)

	payload := itn("R-001", "COMPLETE", "250.00", "0")
	_, err := f.pipeline.Ingest(ctx, gateway.KindEFT, payload, "")
	require.Error(t, err)

	assert.Equal(t, models.TransactionPending, testutil.ReloadTransaction(t, f.db, tx.ID).Status)
	assert.Empty(t, f.notifier.settled)
	assert.Empty(t, f.audit.Events)

	// a failed delivery is not remembered, so the retry is processed again
	_, err = store.Get(ctx, "webhook:eft:"+payloadDigest(payload))
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestIngestCardRefundEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	order := testutil.CreateOrder(t, f.db, "500.00", "ZAR")
	inv := testutil.CreateInvoice(t, f.db, order.ID, "500.00", models.InvoiceSent)
	testutil.CreateTransaction(t, f.db, order.ID, "pi_9", "500.00", models.PaymentMethodCard, models.TransactionPending)

	paid := []byte(`{"id":"evt_1","type":"payment_succeeded","data":{"id":"pi_9","amount":50000,"currency":"zar"}}`)
	_, err := f.pipeline.Ingest(ctx, gateway.KindCard, paid, cardSig(paid))
	require.NoError(t, err)
	testutil.AssertDecimal(t, "500.00", testutil.ReloadInvoice(t, f.db, inv.ID).PaidAmount)

	refunded := []byte(`{"id":"evt_2","type":"charge_refunded","data":{"id":"ch_1","payment_intent":"pi_9","amount":50000,"amount_refunded":50000,"currency":"zar"}}`)
	res, err := f.pipeline.Ingest(ctx, gateway.KindCard, refunded, cardSig(refunded))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionRefunded, res.Status)

	tx, err := f.ledger.FindByReference(ctx, "pi_9")
	require.NoError(t, err)
	testutil.AssertDecimal(t, "500.00", tx.RefundAmount)
	reloaded := testutil.ReloadInvoice(t, f.db, inv.ID)
	testutil.AssertDecimal(t, "0", reloaded.PaidAmount)
	assert.Equal(t, models.OrderPaymentRefunded, testutil.ReloadOrder(t, f.db, order.ID).PaymentStatus)

	// redelivery after the refund is a no-op
	_, err = f.pipeline.Ingest(ctx, gateway.KindCard, refunded, cardSig(refunded))
	require.NoError(t, err)
	testutil.AssertDecimal(t, "0", testutil.ReloadInvoice(t, f.db, inv.ID).PaidAmount)
}

func TestIngestIgnoredEventType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	payload := []byte(`{"id":"evt_1","type":"customer_updated","data":{"id":"cus_1"}}`)
	res, err := f.pipeline.Ingest(ctx, gateway.KindCard, payload, cardSig(payload))
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, int64(0), testutil.CountTransactions(t, f.db))
	assert.Equal(t, int64(1), countDeliveries(t, f.db, models.WebhookIgnored))
}

func TestIngestMalformedAndUnknownGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	_, err := f.pipeline.Ingest(ctx, gateway.KindEFT, itn("R-1", "REVERSED", "1.00", "0"), "")
	assert.ErrorIs(t, err, models.ErrMalformedPayload)
	assert.Equal(t, int64(1), countDeliveries(t, f.db, models.WebhookFailed))

	_, err = f.pipeline.Ingest(ctx, gateway.Kind("crypto"), []byte("{}"), "sig")
	assert.ErrorIs(t, err, models.ErrUnknownGateway)
}

func TestIngestConcurrentRedeliveries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	order := testutil.CreateOrder(t, f.db, "1000.00", "ZAR")
	inv := testutil.CreateInvoice(t, f.db, order.ID, "1000.00", models.InvoiceSent)
	testutil.CreateTransaction(t, f.db, order.ID, "R-777", "1000.00", models.PaymentMethodInstantEFT, models.TransactionPending)

	payload := itn("R-777", "COMPLETE", "1000.00", "0")
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.pipeline.Ingest(ctx, gateway.KindEFT, payload, "")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	reloaded := testutil.ReloadInvoice(t, f.db, inv.ID)
	assert.Len(t, reloaded.Payments, 1)
	testutil.AssertDecimal(t, "1000.00", reloaded.PaidAmount)
	assert.Equal(t, models.InvoicePaid, reloaded.Status)
}

func uintString(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}
