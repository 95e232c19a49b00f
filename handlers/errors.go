package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/gpay-checkout/gateway"
	"github.com/yourusername/gpay-checkout/models"
	"go.uber.org/zap"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnverifiedSignature):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrMalformedPayload),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidCurrency),
		errors.Is(err, models.ErrInvalidPaymentMethod),
		errors.Is(err, models.ErrOverRefund):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrUnknownGateway),
		errors.Is(err, models.ErrUnknownTransaction):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrDuplicateOrder),
		errors.Is(err, models.ErrDuplicateReference),
		errors.Is(err, models.ErrConcurrentUpdate),
		errors.Is(err, models.ErrAlreadyRefunded),
		errors.Is(err, models.ErrRefundInProgress),
		errors.Is(err, models.ErrCheckoutInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrRefundUnsupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrGatewayUnavailable),
		errors.Is(err, models.ErrGatewayRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err using the shared mapping. Internal errors are
// logged and never echoed to the caller.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		body["retryable"] = gwErr.Kind == gateway.ErrorUnavailable
		if gwErr.Message != "" {
			body["gateway_message"] = gwErr.Message
		}
	}
	c.JSON(status, body)
}
