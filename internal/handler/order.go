package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"duka/internal/domain"
	"duka/internal/service"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	orderService   *service.OrderService
	paymentService *service.PaymentService
	statusService  *service.StatusService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderService *service.OrderService, paymentService *service.PaymentService, statusService *service.StatusService) *OrderHandler {
	return &OrderHandler{
		orderService:   orderService,
		paymentService: paymentService,
		statusService:  statusService,
	}
}

// CartItemRequest is one cart line. UnitPrice is accepted for display only and never trusted.
type CartItemRequest struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CustomerRequest identifies the buyer.
type CustomerRequest struct {
	ID         string `json:"id,omitempty"`
	GuestEmail string `json:"guest_email,omitempty"`
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// CreateOrderRequest is the HTTP request body for creating an order.
type CreateOrderRequest struct {
	Items         []CartItemRequest `json:"items"`
	LocationID    string            `json:"location_id"`
	PromoCode     string            `json:"promo_code,omitempty"`
	PaymentMethod string            `json:"payment_method,omitempty"` // MPESA, CASH_ON_DELIVERY
	Customer      CustomerRequest   `json:"customer"`
}

// InitiatePaymentRequest is the HTTP request body for (re)starting an M-Pesa payment.
type InitiatePaymentRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// OrderItemResponse is one priced order line.
type OrderItemResponse struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// PaymentResponse describes a payment attempt.
type PaymentResponse struct {
	TransactionID     string `json:"transaction_id"`
	OrderNumber       string `json:"order_number"`
	Status            string `json:"status"`
	Amount            string `json:"amount"`
	PhoneNumber       string `json:"phone_number"`
	CheckoutRequestID string `json:"checkout_request_id,omitempty"`
}

// CreateOrderResponse is the HTTP response for creating an order.
type CreateOrderResponse struct {
	ID             string              `json:"id"`
	OrderNumber    string              `json:"order_number"`
	Status         string              `json:"status"`
	PaymentStatus  string              `json:"payment_status"`
	PaymentMethod  string              `json:"payment_method"`
	LocationID     string              `json:"location_id"`
	DeliveryTier   int                 `json:"delivery_tier"`
	Items          []OrderItemResponse `json:"items"`
	Subtotal       decimal.Decimal     `json:"subtotal"`
	DiscountAmount decimal.Decimal     `json:"discount_amount"`
	ShippingCost   decimal.Decimal     `json:"shipping_cost"`
	Total          decimal.Decimal     `json:"total"`
	PromoCode      string              `json:"promo_code,omitempty"`
	CreatedAt      string              `json:"created_at"`
	Payment        *PaymentResponse    `json:"payment,omitempty"`
	PaymentError   string              `json:"payment_error,omitempty"`
}

// CreateOrder handles POST /v1/orders
//
// For M-Pesa orders the STK push is started straight away. A failed push does not fail
// the request: the order exists and the customer can retry the payment.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.LocationID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "location_id is required"})
		return
	}

	items := make([]service.CartItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, service.CartItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), service.CreateOrderRequest{
		Items:         items,
		LocationID:    req.LocationID,
		PromoCode:     req.PromoCode,
		PaymentMethod: req.PaymentMethod,
		Customer: domain.Customer{
			ID:         req.Customer.ID,
			GuestEmail: req.Customer.GuestEmail,
			Name:       req.Customer.Name,
			Phone:      req.Customer.Phone,
		},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := orderResponseOf(order)
	if order.PaymentMethod == domain.PaymentMethodMpesa {
		txn, err := h.paymentService.InitiatePayment(c.Request.Context(), service.InitiatePaymentRequest{
			OrderNumber: order.OrderNumber,
			PhoneNumber: order.Customer.Phone,
		})
		if txn != nil {
			resp.Payment = paymentResponseOf(txn, order.OrderNumber)
		}
		if err != nil {
			resp.PaymentError = err.Error()
		}
	}

	respondJSON(c, http.StatusCreated, resp)
}

// GetStatus handles GET /v1/orders/:ref/status
func (h *OrderHandler) GetStatus(c *gin.Context) {
	view, err := h.statusService.GetStatus(c.Request.Context(), c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, view)
}

// InitiatePayment handles POST /v1/orders/:ref/payments
func (h *OrderHandler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.PhoneNumber == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "phone_number is required"})
		return
	}

	orderNumber := c.Param("ref")
	txn, err := h.paymentService.InitiatePayment(c.Request.Context(), service.InitiatePaymentRequest{
		OrderNumber: orderNumber,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusAccepted, paymentResponseOf(txn, orderNumber))
}

func orderResponseOf(order *domain.Order) CreateOrderResponse {
	items := make([]OrderItemResponse, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, OrderItemResponse{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}

	return CreateOrderResponse{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		LocationID:     order.LocationID,
		DeliveryTier:   order.DeliveryTier,
		Items:          items,
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		ShippingCost:   order.ShippingCost,
		Total:          order.Total,
		PromoCode:      order.PromoCode,
		CreatedAt:      order.CreatedAt.Format(time.RFC3339),
	}
}

func paymentResponseOf(txn *domain.PaymentTransaction, orderNumber string) *PaymentResponse {
	return &PaymentResponse{
		TransactionID:     txn.ID,
		OrderNumber:       orderNumber,
		Status:            string(txn.Status),
		Amount:            txn.Amount.StringFixed(2),
		PhoneNumber:       txn.PhoneNumber,
		CheckoutRequestID: txn.CheckoutRequestID,
	}
}
