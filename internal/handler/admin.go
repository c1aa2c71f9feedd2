package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"duka/internal/service"
)

// AdminHandler handles HTTP requests from support staff.
type AdminHandler struct {
	adminService  *service.AdminService
	statusService *service.StatusService
	poller        *service.Poller
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(adminService *service.AdminService, statusService *service.StatusService, poller *service.Poller) *AdminHandler {
	return &AdminHandler{
		adminService:  adminService,
		statusService: statusService,
		poller:        poller,
	}
}

// TransitionOrderRequest is the HTTP request body for changing an order status.
type TransitionOrderRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// RefundRequest is the HTTP request body for marking a transaction refunded.
type RefundRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ReconcileResponse is the HTTP response for a manual poll.
type ReconcileResponse struct {
	Outcome string           `json:"outcome"`
	Payment *PaymentResponse `json:"payment"`
}

// ListForReview handles GET /v1/admin/orders/review
func (h *AdminHandler) ListForReview(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	views, err := h.statusService.ListForReview(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"orders": views, "count": len(views)})
}

// GetOrder handles GET /v1/admin/orders/:ref
func (h *AdminHandler) GetOrder(c *gin.Context) {
	view, err := h.statusService.GetAdminView(c.Request.Context(), c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, view)
}

// TransitionOrder handles POST /v1/admin/orders/:ref/status
func (h *AdminHandler) TransitionOrder(c *gin.Context) {
	var req TransitionOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.Status == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "status is required"})
		return
	}

	order, err := h.adminService.TransitionOrder(c.Request.Context(), service.TransitionOrderRequest{
		OrderNumber:    c.Param("ref"),
		Status:         req.Status,
		TrackingNumber: req.TrackingNumber,
		Reason:         req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	view, err := h.statusService.GetAdminView(c.Request.Context(), order.OrderNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, view)
}

// PollPayment handles POST /v1/admin/payments/:id/poll
func (h *AdminHandler) PollPayment(c *gin.Context) {
	res, err := h.poller.PollTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	orderNumber := ""
	if res.Order != nil {
		orderNumber = res.Order.OrderNumber
	}
	respondJSON(c, http.StatusOK, ReconcileResponse{
		Outcome: string(res.Outcome),
		Payment: paymentResponseOf(res.Transaction, orderNumber),
	})
}

// RefundPayment handles POST /v1/admin/payments/:id/refund
func (h *AdminHandler) RefundPayment(c *gin.Context) {
	var req RefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	txn, err := h.adminService.RefundTransaction(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, paymentResponseOf(txn, ""))
}
