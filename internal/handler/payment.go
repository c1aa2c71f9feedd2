package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"duka/internal/middleware"
	"duka/internal/mpesa"
	"duka/internal/service"
)

// PaymentHandler handles gateway callbacks.
type PaymentHandler struct {
	reconciler *service.Reconciler
	log        *slog.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(reconciler *service.Reconciler, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		reconciler: reconciler,
		log:        log,
	}
}

// CallbackAck is the body the gateway expects back from a callback.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var accepted = CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}

// MpesaCallback handles POST /v1/payments/mpesa/callback
//
// Processed, repeated and unknown results are all acknowledged so the gateway stops
// retrying. Malformed bodies and forged tokens get a 4xx. A busy transaction answers 503
// and the gateway retries.
func (h *PaymentHandler) MpesaCallback(c *gin.Context) {
	var env mpesa.CallbackEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		h.log.WarnContext(c.Request.Context(), "malformed mpesa callback", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	cb := env.Body.STKCallback
	result := service.PaymentResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        cb.ResultCode.String(),
		ResultDesc:        cb.ResultDesc,
		ReceiptNumber:     cb.ReceiptNumber(),
		Source:            service.SourceCallback,
	}
	if amount, ok := cb.Amount(); ok {
		result.Amount = &amount
	}
	if claims, ok := middleware.CallbackClaims(c); ok {
		result.ExpectedTransactionID = claims.TransactionID()
	}

	_, err := h.reconciler.Reconcile(c.Request.Context(), result)
	switch {
	case err == nil, errors.Is(err, service.ErrUnknownTransaction):
		respondJSON(c, http.StatusOK, accepted)
	default:
		respondError(c, err)
	}
}
