package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duka/internal/app"
	"duka/internal/config"
	"duka/internal/domain"
	"duka/internal/handler"
	"duka/internal/logger"
	"duka/internal/middleware"
	"duka/internal/mpesa"
	"duka/internal/redis"
)

const adminSecret = "test-admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type httpHarness struct {
	*harness
	router *gin.Engine
}

func newHTTPHarness(t *testing.T, configure func(*config.Config, **middleware.RateLimiter)) *httpHarness {
	t.Helper()

	h := newHarness(t)
	cfg := &config.Config{
		Server:   config.ServerConfig{AllowedOrigins: []string{"https://shop.example.co.ke"}},
		Admin:    config.AdminConfig{JWTSecret: adminSecret},
		Callback: config.CallbackConfig{TokenSecret: callbackSecret, TokenTTL: time.Hour},
	}
	limiter := middleware.NewRateLimiter(1000, 1000)
	if configure != nil {
		configure(cfg, &limiter)
	}

	log := logger.Discard()
	router, err := app.NewRouter(app.RouterDeps{
		OrderHandler:    handler.NewOrderHandler(h.orders, h.payments, h.status),
		PaymentHandler:  handler.NewPaymentHandler(h.reconciler, log),
		AdminHandler:    handler.NewAdminHandler(h.admin, h.status, h.poller),
		DeliveryHandler: handler.NewDeliveryHandler(h.delivery),
		PromoHandler:    handler.NewPromoHandler(h.promos),
		Signer:          h.signer,
		CacheStore:      h.cache,
		RateLimiter:     limiter,
		Config:          cfg,
		Log:             log,
	})
	require.NoError(t, err)

	return &httpHarness{harness: h, router: router}
}

func (h *httpHarness) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createOrderBody(qty int, promo string) handler.CreateOrderRequest {
	return handler.CreateOrderRequest{
		Items:         []handler.CartItemRequest{{ProductID: sufuria.ProductID, Quantity: qty}},
		LocationID:    locationCBD,
		PromoCode:     promo,
		PaymentMethod: string(domain.PaymentMethodMpesa),
		Customer:      handler.CustomerRequest{GuestEmail: "wanjiru@example.com", Name: "Wanjiru", Phone: customerPhone},
	}
}

// callbackPath is the path and query the gateway was told to call back on.
func (h *httpHarness) callbackPath(t *testing.T, push int) string {
	t.Helper()
	pushes := h.gateway.Pushes()
	require.Greater(t, len(pushes), push)
	u, err := url.Parse(pushes[push].CallbackURL)
	require.NoError(t, err)
	return u.RequestURI()
}

func callbackEnvelope(checkoutID string, code int, amount, receipt string) string {
	if code != 0 {
		return fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"mr-1","CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":"Request cancelled by user"}}}`, checkoutID, code)
	}
	return fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"mr-1","CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":%s},{"Name":"MpesaReceiptNumber","Value":%q},{"Name":"TransactionDate","Value":20261016101530},{"Name":"PhoneNumber","Value":254712345678}]}}}}`, checkoutID, amount, receipt)
}

func adminToken(t *testing.T, secret, role string, expiresIn time.Duration) http.Header {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "support-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

// ──────────────────────────────────────────────
// ORDERS
// ──────────────────────────────────────────────

func TestHTTP_CreateOrder_StartsPayment(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)

	w := h.do(t, http.MethodPost, "/v1/orders", createOrderBody(2, "KARIBU10"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeBody[handler.CreateOrderResponse](t, w)
	assert.NotEmpty(t, resp.OrderNumber)
	assert.Equal(t, "PENDING", resp.Status)
	assert.True(t, resp.Total.Equal(decimal.NewFromInt(2950)))
	require.NotNil(t, resp.Payment)
	assert.Equal(t, "INITIATED", resp.Payment.Status)
	assert.Equal(t, "2950.00", resp.Payment.Amount)
	assert.Equal(t, normalizedPhone, resp.Payment.PhoneNumber)
	assert.Empty(t, resp.PaymentError)
	assert.Equal(t, int32(1), h.gateway.PushCalls)
}

func TestHTTP_CreateOrder_GatewayDown_OrderStillCreated(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)
	h.gateway.PushError = mpesa.ErrUnavailable

	w := h.do(t, http.MethodPost, "/v1/orders", createOrderBody(1, ""), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeBody[handler.CreateOrderResponse](t, w)
	assert.NotEmpty(t, resp.PaymentError)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, "FAILED", resp.Payment.Status)
	assert.Equal(t, 1, h.db.CountOrders())
}

func TestHTTP_CreateOrder_ExpiredPromo_Unprocessable(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)

	w := h.do(t, http.MethodPost, "/v1/orders", createOrderBody(1, "OLDDEAL"), nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	resp := decodeBody[handler.ErrorResponse](t, w)
	assert.Equal(t, "EXPIRED", resp.Reason)
	assert.Equal(t, 0, h.db.CountOrders())
	assert.Equal(t, int32(0), h.gateway.PushCalls)
}

func TestHTTP_CreateOrder_InvalidInput_BadRequest(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)

	noLocation := createOrderBody(1, "")
	noLocation.LocationID = ""

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"items": [`},
		{"missing location", noLocation},
		{"empty cart", handler.CreateOrderRequest{LocationID: locationCBD, Customer: handler.CustomerRequest{Phone: customerPhone}}},
	}

	for _, tt := range tests {
		w := h.do(t, http.MethodPost, "/v1/orders", tt.body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, tt.name)
	}
	assert.Equal(t, 0, h.db.CountOrders())
}

func TestHTTP_CreateOrder_IdempotencyKeyReplaysResponse(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)
	header := http.Header{"Idempotency-Key": {"checkout-7f3a"}}

	first := h.do(t, http.MethodPost, "/v1/orders", createOrderBody(1, ""), header)
	require.Equal(t, http.StatusCreated, first.Code)
	second := h.do(t, http.MethodPost, "/v1/orders", createOrderBody(1, ""), header)
	require.Equal(t, http.StatusCreated, second.Code)

	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, decodeBody[handler.CreateOrderResponse](t, first).OrderNumber, decodeBody[handler.CreateOrderResponse](t, second).OrderNumber)
	assert.Equal(t, 1, h.db.CountOrders())
	assert.Equal(t, int32(1), h.gateway.PushCalls)
}

func TestHTTP_CreateOrder_IdempotencyKeyInFlight_Conflict(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)
	header := http.Header{"Idempotency-Key": {"checkout-busy"}}

	// A first request with this key is still running.
	key := redis.IdempotencyKey(http.MethodPost+" /v1/orders", "checkout-busy")
	claimed, err := h.cache.SetJSONIfAbsent(context.Background(), key, map[string]bool{"in_flight": true}, time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	w := h.do(t, http.MethodPost, "/v1/orders", createOrderBody(1, ""), header)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 0, h.db.CountOrders())
}

func TestHTTP_CreateOrder_ServerErrorNotCached(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)
	header := http.Header{"Idempotency-Key": {"retry-me"}}

	h.db.FailNextCommit(fmt.Errorf("connection reset"))
	w := h.do(t, http.MethodPost, "/v1/orders", createOrderBody(1, ""), header)
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), decodeBody[handler.ErrorResponse](t, w).Error)

	w = h.do(t, http.MethodPost, "/v1/orders", createOrderBody(1, ""), header)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Empty(t, w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, h.db.CountOrders())
}

func TestHTTP_GetStatus(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)
	order := h.createOrder(t, 1, "")

	w := h.do(t, http.MethodGet, "/v1/orders/"+order.OrderNumber+"/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decodeBody[map[string]any](t, w)
	assert.Equal(t, order.OrderNumber, view["order_number"])
	assert.Equal(t, "PENDING", view["status"])

	w = h.do(t, http.MethodGet, "/v1/orders/DK-NOPE/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTP_InitiatePayment(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)
	order := h.createOrder(t, 1, "")
	path := "/v1/orders/" + order.OrderNumber + "/payments"

	w := h.do(t, http.MethodPost, path, handler.InitiatePaymentRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, path, handler.InitiatePaymentRequest{PhoneNumber: "12345"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, path, handler.InitiatePaymentRequest{PhoneNumber: "+254 712 345 678"}, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	payment := decodeBody[handler.PaymentResponse](t, w)
	assert.Equal(t, order.OrderNumber, payment.OrderNumber)
	assert.Equal(t, "1750.00", payment.Amount)

	// A second push while the first is outstanding is refused.
	w = h.do(t, http.MethodPost, path, handler.InitiatePaymentRequest{PhoneNumber: customerPhone}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

// ──────────────────────────────────────────────
// CALLBACKS
// ──────────────────────────────────────────────

func TestHTTP_Callback_ConfirmsOrderAndAcknowledges(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)

	w := h.do(t, http.MethodPost, "/v1/orders", createOrderBody(1, ""), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody[handler.CreateOrderResponse](t, w)
	txn := h.db.Transaction(created.Payment.TransactionID)
	body := callbackEnvelope(txn.CheckoutRequestID, 0, "1750", "QJK4H7X2LP")

	for i := 0; i < 2; i++ {
		w = h.do(t, http.MethodPost, h.callbackPath(t, 0), body, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
	}

	h.waitNotifications(t)
	order := h.db.Order(created.ID)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	assert.Equal(t, domain.OrderPaymentPaid, order.PaymentStatus)
	assert.Equal(t, domain.TransactionCompleted, h.db.Transaction(txn.ID).Status)
	assert.Equal(t, "QJK4H7X2LP", h.db.Transaction(txn.ID).ReceiptNumber)
	assert.Equal(t, 9, h.db.Stock(sufuria))
	assert.Len(t, h.notifier.Sent(), 1)
}

func TestHTTP_Callback_CustomerCancelled(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)
	order := h.createOrder(t, 1, "")
	txn := h.initiate(t, order)

	w := h.do(t, http.MethodPost, h.callbackPath(t, 0), callbackEnvelope(txn.CheckoutRequestID, 1032, "", ""), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, domain.TransactionFailed, h.db.Transaction(txn.ID).Status)
	assert.Equal(t, domain.OrderStatusPending, h.db.Order(order.ID).Status)
	assert.Equal(t, 10, h.db.Stock(sufuria))
}

func TestHTTP_Callback_Rejected(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)
	order := h.createOrder(t, 1, "")
	txn := h.initiate(t, order)
	other := h.initiate(t, h.createOrder(t, 1, ""))
	body := callbackEnvelope(txn.CheckoutRequestID, 0, "1750", "QJK4H7X2LP")

	forged, err := h.signer.CallbackURL(txn.ID, order.OrderNumber)
	require.NoError(t, err)
	u, err := url.Parse(forged)
	require.NoError(t, err)
	q := u.Query()
	q.Set("token", q.Get("token")+"x")
	u.RawQuery = q.Encode()

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing token", "/v1/payments/mpesa/callback", body, http.StatusUnauthorized},
		{"tampered token", u.RequestURI(), body, http.StatusUnauthorized},
		{"token for another transaction", h.callbackPath(t, 1), body, http.StatusForbidden},
		{"malformed body", h.callbackPath(t, 0), `{"Body":`, http.StatusBadRequest},
		{"missing checkout id", h.callbackPath(t, 0), callbackEnvelope("", 0, "1750", "QJK4H7X2LP"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		w := h.do(t, http.MethodPost, tt.path, tt.body, nil)
		assert.Equal(t, tt.want, w.Code, tt.name)
	}

	assert.Equal(t, domain.TransactionInitiated, h.db.Transaction(txn.ID).Status)
	assert.Equal(t, domain.TransactionInitiated, h.db.Transaction(other.ID).Status)
	assert.Equal(t, domain.OrderStatusPending, h.db.Order(order.ID).Status)
}

func TestHTTP_Callback_UnknownCheckout_Acknowledged(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)

	cbURL, err := h.signer.CallbackURL("txn-never-created", "DK-GONE")
	require.NoError(t, err)
	u, err := url.Parse(cbURL)
	require.NoError(t, err)

	w := h.do(t, http.MethodPost, u.RequestURI(), callbackEnvelope("ws_CO_UNKNOWN", 0, "1750", "QJK4H7X2LP"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
	assert.Equal(t, 0, h.db.CountTransactions())
}

func TestHTTP_Callback_AllowList(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, func(cfg *config.Config, _ **middleware.RateLimiter) {
		cfg.Callback.AllowedCIDRs = []string{"196.201.214.0/24"}
	})
	order := h.createOrder(t, 1, "")
	txn := h.initiate(t, order)
	body := callbackEnvelope(txn.CheckoutRequestID, 0, "1750", "QJK4H7X2LP")

	// httptest requests come from 192.0.2.1.
	w := h.do(t, http.MethodPost, h.callbackPath(t, 0), body, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, domain.TransactionInitiated, h.db.Transaction(txn.ID).Status)

	req := httptest.NewRequest(http.MethodPost, h.callbackPath(t, 0), bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "196.201.214.200:443"
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.TransactionCompleted, h.db.Transaction(txn.ID).Status)
}

func TestNewRouter_InvalidAllowList(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := app.NewRouter(app.RouterDeps{
		Signer: h.signer,
		Config: &config.Config{
			Server:   config.ServerConfig{AllowedOrigins: []string{"https://shop.example.co.ke"}},
			Callback: config.CallbackConfig{AllowedCIDRs: []string{"not-a-cidr"}},
		},
		Log: logger.Discard(),
	})
	assert.Error(t, err)
}

// ──────────────────────────────────────────────
// CATALOG LOOKUPS
// ──────────────────────────────────────────────

func TestHTTP_DeliveryLocations(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)

	w := h.do(t, http.MethodGet, "/v1/delivery/locations", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[map[string]any](t, w)
	assert.EqualValues(t, 2, list["count"])

	w = h.do(t, http.MethodGet, "/v1/delivery/locations/"+locationMombasa, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	loc := decodeBody[handler.DeliveryLocationResponse](t, w)
	assert.Equal(t, 3, loc.Tier)
	assert.True(t, loc.Price.Equal(decimal.NewFromInt(600)))

	w = h.do(t, http.MethodGet, "/v1/delivery/locations/kisumu", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTP_ValidatePromo(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)

	w := h.do(t, http.MethodPost, "/v1/promos/validate", handler.ValidatePromoRequest{Code: "karibu10", Subtotal: decimal.NewFromInt(3000)}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[handler.ValidatePromoResponse](t, w)
	assert.True(t, resp.Valid)
	assert.True(t, resp.Discount.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, 0, h.db.PromoUsage("KARIBU10"))

	w = h.do(t, http.MethodPost, "/v1/promos/validate", handler.ValidatePromoRequest{Code: "BIGSPEND", Subtotal: decimal.NewFromInt(3000)}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "BELOW_MINIMUM", decodeBody[handler.ErrorResponse](t, w).Reason)

	w = h.do(t, http.MethodPost, "/v1/promos/validate", handler.ValidatePromoRequest{Code: "KARIBU10", Subtotal: decimal.NewFromInt(-1)}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ──────────────────────────────────────────────
// ADMIN
// ──────────────────────────────────────────────

func TestHTTP_Admin_RequiresAdminToken(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)

	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"no token", nil, http.StatusUnauthorized},
		{"not bearer", http.Header{"Authorization": {"Basic YWRtaW46YWRtaW4="}}, http.StatusUnauthorized},
		{"wrong secret", adminToken(t, "some-other-secret", middleware.AdminRole, time.Hour), http.StatusUnauthorized},
		{"expired", adminToken(t, adminSecret, middleware.AdminRole, -time.Minute), http.StatusUnauthorized},
		{"customer role", adminToken(t, adminSecret, "customer", time.Hour), http.StatusForbidden},
		{"admin", adminToken(t, adminSecret, middleware.AdminRole, time.Hour), http.StatusOK},
	}

	for _, tt := range tests {
		w := h.do(t, http.MethodGet, "/v1/admin/orders/review", nil, tt.header)
		assert.Equal(t, tt.want, w.Code, tt.name)
	}
}

func TestHTTP_Admin_TransitionOrder(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)
	auth := adminToken(t, adminSecret, middleware.AdminRole, time.Hour)

	order := h.createOrder(t, 1, "")
	h.succeed(t, h.initiate(t, order), "QJK4H7X2LP")
	path := "/v1/admin/orders/" + order.OrderNumber + "/status"

	w := h.do(t, http.MethodPost, path, handler.TransitionOrderRequest{Status: "PROCESSING"}, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PROCESSING", decodeBody[map[string]any](t, w)["status"])

	w = h.do(t, http.MethodPost, path, handler.TransitionOrderRequest{Status: "DELIVERED"}, auth)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, http.MethodPost, path, handler.TransitionOrderRequest{Status: "SHIPPED"}, auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, path, handler.TransitionOrderRequest{}, auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, domain.OrderStatusProcessing, h.db.Order(order.ID).Status)
}

func TestHTTP_Admin_PollAndRefund(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, nil)
	auth := adminToken(t, adminSecret, middleware.AdminRole, time.Hour)

	order := h.createOrder(t, 1, "")
	txn := h.initiate(t, order)
	h.gateway.SetQueryResult(txn.CheckoutRequestID, mpesa.ResultSuccess, "The service request is processed successfully.")

	w := h.do(t, http.MethodPost, "/v1/admin/payments/"+txn.ID+"/poll", nil, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	polled := decodeBody[handler.ReconcileResponse](t, w)
	assert.Equal(t, "COMPLETED", polled.Payment.Status)
	assert.Equal(t, order.OrderNumber, polled.Payment.OrderNumber)

	w = h.do(t, http.MethodPost, "/v1/admin/payments/"+txn.ID+"/refund", handler.RefundRequest{Reason: "customer returned goods"}, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "REFUNDED", decodeBody[handler.PaymentResponse](t, w).Status)

	w = h.do(t, http.MethodPost, "/v1/admin/payments/"+txn.ID+"/refund", nil, auth)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, http.MethodPost, "/v1/admin/payments/txn-missing/poll", nil, auth)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ──────────────────────────────────────────────
// RATE LIMITING
// ──────────────────────────────────────────────

func TestHTTP_RateLimit(t *testing.T) {
	t.Parallel()
	h := newHTTPHarness(t, func(_ *config.Config, l **middleware.RateLimiter) {
		*l = middleware.NewRateLimiter(0.001, 2)
	})

	for i := 0; i < 2; i++ {
		w := h.do(t, http.MethodGet, "/v1/delivery/locations", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := h.do(t, http.MethodGet, "/v1/delivery/locations", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Health checks and gateway callbacks are not limited.
	w = h.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
