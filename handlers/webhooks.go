package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/gpay-checkout/gateway"
	"github.com/yourusername/gpay-checkout/webhooks"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type WebhookIngester interface {
	Ingest(ctx context.Context, kind gateway.Kind, raw []byte, signature string) (*webhooks.IngestResult, error)
}

type WebhookHandler struct {
	pipeline WebhookIngester
	logger   *zap.Logger
}

func NewWebhookHandler(pipeline WebhookIngester, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{pipeline: pipeline, logger: logger}
}

// Card receives JSON events signed in the Card-Signature header.
func (h *WebhookHandler) Card(c *gin.Context) {
	h.ingest(c, gateway.KindCard, c.GetHeader(gateway.CardSignatureHeader))
}

// EFT receives form-encoded ITN posts. The signature travels inside the form.
func (h *WebhookHandler) EFT(c *gin.Context) {
	h.ingest(c, gateway.KindEFT, "")
}

func (h *WebhookHandler) ingest(c *gin.Context, kind gateway.Kind, signature string) {
	// the raw bytes are needed for signature verification, so never bind
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read payload"})
		return
	}

	res, err := h.pipeline.Ingest(c.Request.Context(), kind, raw, signature)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
