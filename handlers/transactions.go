package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/gpay-checkout/models"
	"go.uber.org/zap"
)

type TransactionReader interface {
	FindByID(ctx context.Context, id uint) (*models.Transaction, error)
	FindByReference(ctx context.Context, reference string) (*models.Transaction, error)
}

type ManualSettler interface {
	SettleManual(ctx context.Context, transactionID uint, status models.TransactionStatus) (*models.Transaction, error)
}

type TransactionHandler struct {
	ledger  TransactionReader
	settler ManualSettler
	logger  *zap.Logger
}

func NewTransactionHandler(ledger TransactionReader, settler ManualSettler, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{ledger: ledger, settler: settler, logger: logger}
}

func (h *TransactionHandler) Get(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}

	t, err := h.ledger.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// FindByReference answers GET /transactions?reference=...
func (h *TransactionHandler) FindByReference(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference query parameter is required"})
		return
	}

	t, err := h.ledger.FindByReference(c.Request.Context(), reference)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type SettleManualRequest struct {
	Status string `json:"status" binding:"required,oneof=completed failed"`
}

func (h *TransactionHandler) SettleManual(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}

	var req SettleManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.settler.SettleManual(c.Request.Context(), id, models.TransactionStatus(req.Status))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
