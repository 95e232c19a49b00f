package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/yourusername/gpay-checkout/checkout"
	"github.com/yourusername/gpay-checkout/gateway"
	"github.com/yourusername/gpay-checkout/models"
	"go.uber.org/zap"
)

type CheckoutStarter interface {
	Start(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type CheckoutHandler struct {
	checkout CheckoutStarter
	logger   *zap.Logger
}

func NewCheckoutHandler(starter CheckoutStarter, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: starter, logger: logger}
}

// StartCheckoutRequest carries no amount; the order total is authoritative.
type StartCheckoutRequest struct {
	OrderID       uint   `json:"order_id" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email" binding:"omitempty,email"`
}

type StartCheckoutResponse struct {
	TransactionID uint                     `json:"transaction_id"`
	OrderID       uint                     `json:"order_id"`
	Reference     string                   `json:"reference"`
	Status        models.TransactionStatus `json:"status"`
	Amount        decimal.Decimal          `json:"amount"`
	Currency      string                   `json:"currency"`
	RedirectURL   string                   `json:"redirect_url,omitempty"`
	ClientToken   string                   `json:"client_token,omitempty"`
}

func (h *CheckoutHandler) Start(c *gin.Context) {
	var req StartCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.checkout.Start(c.Request.Context(), checkout.Request{
		OrderID: req.OrderID,
		Method:  models.PaymentMethod(req.PaymentMethod),
		Customer: gateway.Customer{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
		},
	})
	if err != nil {
		if errors.Is(err, models.ErrGatewayUnavailable) || errors.Is(err, models.ErrGatewayRejected) {
			h.logger.Warn("checkout could not reach gateway", zap.Uint("order_id", req.OrderID), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment could not be started", "retryable": true})
			return
		}
		respondError(c, h.logger, err)
		return
	}

	t := res.Transaction
	resp := StartCheckoutResponse{
		TransactionID: t.ID,
		OrderID:       t.OrderID,
		Reference:     t.PaymentReference,
		Status:        t.Status,
		Amount:        t.Amount,
		Currency:      t.Currency,
	}
	if res.Session != nil {
		resp.RedirectURL = res.Session.RedirectURL
		resp.ClientToken = res.Session.ClientToken
	}
	c.JSON(http.StatusCreated, resp)
}
