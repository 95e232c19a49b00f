package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/yourusername/gpay-checkout/middleware"
	"github.com/yourusername/gpay-checkout/refunds"
	"github.com/yourusername/gpay-checkout/utils"
	"go.uber.org/zap"
)

type Refunder interface {
	Refund(ctx context.Context, transactionID uint, amount *decimal.Decimal, reason string) (*refunds.Result, error)
}

type RefundHandler struct {
	refunds Refunder
	logger  *zap.Logger
}

func NewRefundHandler(refunder Refunder, logger *zap.Logger) *RefundHandler {
	return &RefundHandler{refunds: refunder, logger: logger}
}

// RefundRequest omits amount for a full refund.
type RefundRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason" binding:"required,max=500"`
}

func (h *RefundHandler) Refund(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}

	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var amount *decimal.Decimal
	if req.Amount != "" {
		parsed, err := utils.ParseAmount(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amount = &parsed
	}

	operator, _ := c.Get(middleware.ContextUserID)
	h.logger.Info("operator refund", zap.Uint("transaction_id", id), zap.Any("operator_id", operator))

	res, err := h.refunds.Refund(c.Request.Context(), id, amount, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func transactionID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction ID"})
		return 0, false
	}
	return uint(id), true
}
