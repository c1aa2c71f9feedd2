package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"duka/internal/domain"
	"duka/internal/service"
)

// DeliveryHandler handles HTTP requests for delivery locations.
type DeliveryHandler struct {
	deliveryService *service.DeliveryService
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(deliveryService *service.DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{deliveryService: deliveryService}
}

// DeliveryLocationResponse is one delivery location and its price.
type DeliveryLocationResponse struct {
	LocationID string          `json:"location_id"`
	Label      string          `json:"label"`
	Tier       int             `json:"tier"`
	Price      decimal.Decimal `json:"price"`
}

// ListLocations handles GET /v1/delivery/locations
func (h *DeliveryHandler) ListLocations(c *gin.Context) {
	tiers, err := h.deliveryService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]DeliveryLocationResponse, 0, len(tiers))
	for _, t := range tiers {
		resp = append(resp, deliveryLocationOf(t))
	}
	respondJSON(c, http.StatusOK, gin.H{"locations": resp, "count": len(resp)})
}

// GetLocation handles GET /v1/delivery/locations/:id
func (h *DeliveryHandler) GetLocation(c *gin.Context) {
	tier, err := h.deliveryService.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, deliveryLocationOf(tier))
}

func deliveryLocationOf(t *domain.DeliveryTier) DeliveryLocationResponse {
	return DeliveryLocationResponse{
		LocationID: t.LocationID,
		Label:      t.Label,
		Tier:       t.Tier,
		Price:      t.Price,
	}
}
