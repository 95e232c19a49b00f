// Package webhooks verifies gateway callbacks and applies them to the
// ledger and the reconciled aggregates in one unit of work.
package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/gpay-checkout/audit"
	"github.com/yourusername/gpay-checkout/cache"
	"github.com/yourusername/gpay-checkout/gateway"
	"github.com/yourusername/gpay-checkout/ledger"
	"github.com/yourusername/gpay-checkout/models"
	"github.com/yourusername/gpay-checkout/notify"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const gatewayRefundReason = "refunded at gateway"

// Reconciler applies a settled transaction inside an open database transaction.
type Reconciler interface {
	Apply(ctx context.Context, db *gorm.DB, t *models.Transaction) error
}

type Deps struct {
	DB         *gorm.DB
	Registry   *gateway.Registry
	Ledger     *ledger.Ledger
	Reconciler Reconciler
	Notifier   notify.Notifier
	Audit      audit.Sink
	Cache      cache.Store
	ReplayTTL  time.Duration
	Logger     *zap.Logger
}

type Pipeline struct {
	db         *gorm.DB
	registry   *gateway.Registry
	ledger     *ledger.Ledger
	reconciler Reconciler
	notifier   notify.Notifier
	audit      audit.Sink
	cache      cache.Store
	replayTTL  time.Duration
	logger     *zap.Logger
}

func NewPipeline(d Deps) *Pipeline {
	p := &Pipeline{
		db:         d.DB,
		registry:   d.Registry,
		ledger:     d.Ledger,
		reconciler: d.Reconciler,
		notifier:   d.Notifier,
		audit:      d.Audit,
		cache:      d.Cache,
		replayTTL:  d.ReplayTTL,
		logger:     d.Logger,
	}
	if p.notifier == nil {
		p.notifier = notify.Nop()
	}
	if p.audit == nil {
		p.audit = audit.Nop()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

type IngestResult struct {
	Accepted      bool                     `json:"accepted"`
	OrderID       uint                     `json:"order_id,omitempty"`
	TransactionID uint                     `json:"transaction_id,omitempty"`
	Status        models.TransactionStatus `json:"status,omitempty"`
	Duplicate     bool                     `json:"duplicate,omitempty"`
	Ignored       bool                     `json:"ignored,omitempty"`
}

// Ingest verifies, parses and applies one delivery. It is safe to call any
// number of times with the same payload. A nil error means the gateway may
// be acknowledged.
func (p *Pipeline) Ingest(ctx context.Context, kind gateway.Kind, raw []byte, signature string) (*IngestResult, error) {
	adapter, err := p.registry.Get(kind)
	if err != nil {
		return nil, err
	}

	digest := payloadDigest(raw)
	log := p.logger.With(zap.String("gateway", string(kind)), zap.String("payload_digest", digest))

	// nothing is parsed or stored before the signature checks out
	if !adapter.VerifyWebhookSignature(raw, signature) {
		log.Warn("webhook signature rejected", zap.Bool("security", true), zap.Int("payload_bytes", len(raw)))
		p.audit.Record(ctx, audit.Event{
			Type:       audit.WebhookSignatureRejected,
			Gateway:    string(kind),
			Detail:     "payload sha256 " + digest,
			OccurredAt: time.Now().UTC(),
		})
		return nil, models.ErrUnverifiedSignature
	}

	replayKey := "webhook:" + string(kind) + ":" + digest
	if cached, ok := p.replayed(ctx, replayKey, log); ok {
		return cached, nil
	}

	ev, err := adapter.ParseWebhookEvent(raw)
	if err != nil {
		log.Warn("malformed webhook payload", zap.Error(err))
		p.logDelivery(ctx, kind, digest, raw, nil, nil, err)
		return nil, err
	}
	log = log.With(zap.String("reference", ev.GatewayReference), zap.String("event", string(ev.Type)))

	if !ev.Actionable() {
		log.Info("ignoring webhook event type")
		result := &IngestResult{Accepted: true, Ignored: true}
		p.logDelivery(ctx, kind, digest, raw, ev, result, nil)
		return result, nil
	}

	result, settled, err := p.applyWithRetry(ctx, adapter, ev)
	if err != nil {
		if isClientError(err) {
			log.Warn("webhook rejected", zap.Error(err))
		} else {
			log.Error("webhook processing failed", zap.Error(err))
		}
		p.logDelivery(ctx, kind, digest, raw, ev, nil, err)
		return nil, err
	}

	if result.Ignored {
		log.Info("ignoring out of order webhook event",
			zap.Uint("transaction_id", result.TransactionID),
			zap.String("current_status", string(result.Status)),
			zap.String("event_status", string(ev.Status)),
		)
	}
	if settled != nil {
		p.notifier.TransactionSettled(ctx, settled)
	}
	p.remember(ctx, replayKey, result, log)
	p.logDelivery(ctx, kind, digest, raw, ev, result, nil)

	log.Info("webhook processed",
		zap.Uint("transaction_id", result.TransactionID),
		zap.Uint("order_id", result.OrderID),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

// applyWithRetry retries once when a concurrent delivery won a race on the
// same reference; the second attempt then sees the committed row.
func (p *Pipeline) applyWithRetry(ctx context.Context, adapter gateway.Adapter, ev *gateway.NormalizedEvent) (*IngestResult, *models.Transaction, error) {
	result, settled, err := p.apply(ctx, adapter, ev)
	if errors.Is(err, models.ErrDuplicateReference) || errors.Is(err, models.ErrConcurrentUpdate) {
		return p.apply(ctx, adapter, ev)
	}
	return result, settled, err
}

func (p *Pipeline) apply(ctx context.Context, adapter gateway.Adapter, ev *gateway.NormalizedEvent) (*IngestResult, *models.Transaction, error) {
	var result *IngestResult
	var settled *models.Transaction

	err := p.ledger.RunInTx(ctx, func(l *ledger.Ledger, tx *gorm.DB) error {
		t, err := l.LockByReference(ctx, ev.GatewayReference)
		if errors.Is(err, models.ErrNotFound) {
			t, err = p.createFromEvent(ctx, l, adapter, ev)
		}
		if err != nil {
			return err
		}

		result = &IngestResult{Accepted: true, OrderID: t.OrderID, TransactionID: t.ID}

		// redelivery of a state we already hold
		if t.Status == ev.Status {
			result.Status = t.Status
			return nil
		}

		// a pending or processing callback that arrives after the final one
		if t.Status.Settled() && !ev.Status.Settled() {
			result.Status = t.Status
			result.Ignored = true
			return nil
		}

		if ev.Status == models.TransactionRefunded {
			amount := ev.Amount
			if !amount.IsPositive() {
				amount = t.Refundable()
			}
			err = l.RecordRefund(ctx, t, amount, gatewayRefundReason)
		} else {
			err = l.Transition(ctx, t, ev.Status)
		}
		if err != nil {
			return err
		}

		if err := l.AttachGatewayResponse(ctx, t, ev.Payload); err != nil {
			return err
		}

		if t.Status.Settled() {
			if err := p.reconciler.Apply(ctx, tx, t); err != nil {
				return err
			}
			settled = t
		}
		result.Status = t.Status
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, settled, nil
}

// createFromEvent handles a callback that beat the checkout response: the
// event carries enough to record the transaction itself.
func (p *Pipeline) createFromEvent(ctx context.Context, l *ledger.Ledger, adapter gateway.Adapter, ev *gateway.NormalizedEvent) (*models.Transaction, error) {
	if ev.OrderID == 0 || !ev.Amount.IsPositive() || ev.Status == models.TransactionRefunded {
		return nil, models.ErrUnknownTransaction
	}
	return l.Create(ctx, ledger.NewTransaction{
		OrderID:         ev.OrderID,
		Reference:       ev.GatewayReference,
		Amount:          ev.Amount,
		Currency:        ev.Currency,
		Method:          adapter.Method(),
		GatewayResponse: ev.Payload,
	})
}

func (p *Pipeline) replayed(ctx context.Context, key string, log *zap.Logger) (*IngestResult, bool) {
	if p.cache == nil {
		return nil, false
	}
	raw, err := p.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			log.Warn("replay cache unavailable", zap.Error(err))
		}
		return nil, false
	}
	var result IngestResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false
	}
	result.Duplicate = true
	log.Info("webhook redelivery served from replay cache", zap.Uint("transaction_id", result.TransactionID))
	return &result, true
}

func (p *Pipeline) remember(ctx context.Context, key string, result *IngestResult, log *zap.Logger) {
	if p.cache == nil || p.replayTTL <= 0 {
		return
	}
	b, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, key, string(b), p.replayTTL); err != nil {
		log.Warn("failed to store webhook replay entry", zap.Error(err))
	}
}

func (p *Pipeline) logDelivery(ctx context.Context, kind gateway.Kind, digest string, raw []byte, ev *gateway.NormalizedEvent, result *IngestResult, procErr error) {
	if p.db == nil {
		return
	}

	row := models.WebhookEvent{
		ID:            uuid.NewString(),
		Gateway:       string(kind),
		PayloadDigest: digest,
		Payload:       deliveryPayload(raw, ev),
		Status:        models.WebhookHandled,
	}
	if ev != nil {
		row.EventType = string(ev.Type)
		row.Reference = ev.GatewayReference
	}
	switch {
	case procErr != nil:
		row.Status = models.WebhookFailed
		row.Error = procErr.Error()
	case result != nil && result.Ignored:
		row.Status = models.WebhookIgnored
	}
	if result != nil && result.TransactionID != 0 {
		id := result.TransactionID
		row.TransactionID = &id
	}

	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		p.logger.Warn("failed to store webhook delivery", zap.String("gateway", string(kind)), zap.Error(err))
	}
}

// deliveryPayload prefers the normalised JSON payload; raw bodies that are
// not JSON are wrapped so the column stays valid JSON.
func deliveryPayload(raw []byte, ev *gateway.NormalizedEvent) datatypes.JSON {
	if ev != nil && len(ev.Payload) > 0 {
		return ev.Payload
	}
	if json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	b, _ := json.Marshal(map[string]string{"raw": string(raw)})
	return datatypes.JSON(b)
}

func payloadDigest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func isClientError(err error) bool {
	return errors.Is(err, models.ErrMalformedPayload) ||
		errors.Is(err, models.ErrUnknownTransaction) ||
		errors.Is(err, models.ErrInvalidTransition) ||
		errors.Is(err, models.ErrDuplicateOrder) ||
		errors.Is(err, models.ErrOverRefund) ||
		errors.Is(err, models.ErrInvalidAmount) ||
		errors.Is(err, models.ErrInvalidCurrency)
}
