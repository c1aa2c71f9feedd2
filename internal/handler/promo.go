package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"duka/internal/service"
)

// PromoHandler handles HTTP requests for promo codes.
type PromoHandler struct {
	promoService *service.PromoService
}

// NewPromoHandler creates a new PromoHandler.
func NewPromoHandler(promoService *service.PromoService) *PromoHandler {
	return &PromoHandler{promoService: promoService}
}

// ValidatePromoRequest is the HTTP request body for previewing a promo code.
type ValidatePromoRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// ValidatePromoResponse is the HTTP response for a promo preview.
type ValidatePromoResponse struct {
	Code     string          `json:"code"`
	Valid    bool            `json:"valid"`
	Discount decimal.Decimal `json:"discount"`
}

// Validate handles POST /v1/promos/validate
//
// The preview never consumes a use of the code.
func (h *PromoHandler) Validate(c *gin.Context) {
	var req ValidatePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.Subtotal.IsNegative() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "subtotal must not be negative"})
		return
	}

	eval, err := h.promoService.Evaluate(c.Request.Context(), req.Code, req.Subtotal)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, ValidatePromoResponse{
		Code:     eval.Code,
		Valid:    true,
		Discount: eval.Discount,
	})
}
