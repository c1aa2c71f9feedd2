package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"duka/internal/callback"
	"duka/internal/repository"
	"duka/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	resp := ErrorResponse{Error: err.Error()}

	var promoErr *service.PromoError
	if errors.As(err, &promoErr) {
		resp.Reason = string(promoErr.Reason)
	}

	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
		resp.Error = http.StatusText(code)
	}
	c.JSON(code, resp)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrTransactionNotFound),
		errors.Is(err, service.ErrLocationNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrTooManyLines),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidProduct),
		errors.Is(err, service.ErrInvalidCustomer),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidPhoneNumber),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrTrackingNumberRequired),
		errors.Is(err, service.ErrInvalidCallback):
		return http.StatusBadRequest

	// Business rule errors - Unprocessable
	case errors.Is(err, service.ErrProductUnavailable),
		errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrPromoInvalid):
		return http.StatusUnprocessableEntity

	// Conflict errors
	case errors.Is(err, service.ErrOrderNotPending),
		errors.Is(err, service.ErrOrderAlreadyPaid),
		errors.Is(err, service.ErrOrderNotPaid),
		errors.Is(err, service.ErrPaymentInProgress),
		errors.Is(err, service.ErrInvalidStatusTransition),
		errors.Is(err, service.ErrNotRefundable),
		errors.Is(err, repository.ErrStaleState):
		return http.StatusConflict

	// Forbidden
	case errors.Is(err, callback.ErrInvalidToken),
		errors.Is(err, service.ErrCallbackMismatch):
		return http.StatusForbidden

	// Upstream gateway
	case errors.Is(err, service.ErrGatewayUnavailable),
		errors.Is(err, service.ErrGatewayRejected):
		return http.StatusBadGateway

	// Service unavailable
	case errors.Is(err, service.ErrReconcileBusy):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
