package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duka/internal/domain"
	"duka/internal/redis"
	"duka/internal/service"
)

// ──────────────────────────────────────────────
// 1. ORDER AGGREGATE BUILDING
// ──────────────────────────────────────────────

func TestCreateOrder_ComputesServerSideTotal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	order := h.createOrder(t, 2, "karibu10")

	assert.True(t, decimal.NewFromInt(3000).Equal(order.Subtotal), "subtotal %s", order.Subtotal)
	assert.True(t, decimal.NewFromInt(300).Equal(order.DiscountAmount), "discount %s", order.DiscountAmount)
	assert.True(t, decimal.NewFromInt(250).Equal(order.ShippingCost), "shipping %s", order.ShippingCost)
	assert.True(t, decimal.NewFromInt(2950).Equal(order.Total), "total %s", order.Total)
	assert.True(t, order.TotalConsistent())

	assert.Equal(t, "KARIBU10", order.PromoCode)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.OrderPaymentPending, order.PaymentStatus)
	assert.Equal(t, domain.PaymentMethodMpesa, order.PaymentMethod)
	assert.Equal(t, 1, order.DeliveryTier)
	assert.Equal(t, normalizedPhone, order.Customer.Phone)
	assert.Regexp(t, `^ORD-\d{12}-[A-HJ-NP-Z2-9]{6}$`, order.OrderNumber)

	require.Len(t, order.Items, 1)
	assert.Equal(t, "Sufuria Set", order.Items[0].Name)
	assert.True(t, decimal.NewFromInt(1500).Equal(order.Items[0].UnitPrice))
	assert.True(t, decimal.NewFromInt(3000).Equal(order.Items[0].LineTotal))

	// Creating an order reserves nothing.
	assert.Equal(t, 10, h.db.Stock(sufuria))
	assert.Equal(t, 0, h.db.PromoUsage("KARIBU10"))
	assert.NotNil(t, h.db.Order(order.ID))
}

func TestCreateOrder_IgnoresClientPrices(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	order, err := h.orders.CreateOrder(context.Background(), service.CreateOrderRequest{
		Items: []service.CartItem{
			{ProductID: sufuria.ProductID, Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
			{ProductID: jikoLarge.ProductID, VariantID: jikoLarge.VariantID, Quantity: 2, UnitPrice: decimal.Zero},
		},
		LocationID: locationMombasa,
		Customer:   domain.Customer{ID: "cust-42", Phone: "+254 712 345 678"},
	})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("8499").Equal(order.Subtotal), "subtotal %s", order.Subtotal)
	assert.True(t, decimal.RequireFromString("9099").Equal(order.Total), "total %s", order.Total)
	assert.Equal(t, "Jiko - Large", order.Items[1].Name)
	assert.Equal(t, 3, order.DeliveryTier)
}

func TestCreateOrder_MergesDuplicateLines(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	order, err := h.orders.CreateOrder(context.Background(), service.CreateOrderRequest{
		Items: []service.CartItem{
			{ProductID: sufuria.ProductID, Quantity: 1},
			{ProductID: sufuria.ProductID, Quantity: 2},
		},
		LocationID:    locationCBD,
		PaymentMethod: "COD",
		Customer:      domain.Customer{GuestEmail: "Otieno@Example.com"},
	})
	require.NoError(t, err)

	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, domain.PaymentMethodCashOnDelivery, order.PaymentMethod)
	assert.Equal(t, "otieno@example.com", order.Customer.GuestEmail)
}

func TestCreateOrder_UnknownLocation_PersistsNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.orders.CreateOrder(context.Background(), service.CreateOrderRequest{
		Items:      []service.CartItem{{ProductID: sufuria.ProductID, Quantity: 1}},
		LocationID: "kisumu-rural",
		Customer:   domain.Customer{GuestEmail: "a@example.com", Phone: customerPhone},
	})

	assert.ErrorIs(t, err, service.ErrLocationNotFound)
	assert.Equal(t, 0, h.db.CountOrders())
	assert.EqualValues(t, 0, h.db.CreateOrderCalls)
}

func TestCreateOrder_PromoRefusals(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		code   string
		reason domain.PromoReason
	}{
		{name: "unknown code", code: "NOPE", reason: domain.PromoReasonNotFound},
		{name: "expired code", code: "OLDDEAL", reason: domain.PromoReasonExpired},
		{name: "usage exhausted", code: "USEDUP", reason: domain.PromoReasonLimitReached},
		{name: "below minimum order", code: "BIGSPEND", reason: domain.PromoReasonBelowMinimum},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			_, err := h.orders.CreateOrder(context.Background(), service.CreateOrderRequest{
				Items:      []service.CartItem{{ProductID: sufuria.ProductID, Quantity: 1}},
				LocationID: locationCBD,
				PromoCode:  tc.code,
				Customer:   domain.Customer{GuestEmail: "a@example.com", Phone: customerPhone},
			})

			require.ErrorIs(t, err, service.ErrPromoInvalid)
			var promoErr *service.PromoError
			require.True(t, errors.As(err, &promoErr))
			assert.Equal(t, tc.reason, promoErr.Reason)
			assert.Equal(t, 0, h.db.CountOrders())
		})
	}
}

func TestCreateOrder_ValidationErrors(t *testing.T) {
	t.Parallel()

	valid := domain.Customer{GuestEmail: "a@example.com", Phone: customerPhone}
	oneSufuria := []service.CartItem{{ProductID: sufuria.ProductID, Quantity: 1}}

	testCases := []struct {
		name    string
		req     service.CreateOrderRequest
		wantErr error
	}{
		{
			name:    "empty cart",
			req:     service.CreateOrderRequest{LocationID: locationCBD, Customer: valid},
			wantErr: service.ErrEmptyCart,
		},
		{
			name: "zero quantity",
			req: service.CreateOrderRequest{
				Items:      []service.CartItem{{ProductID: sufuria.ProductID, Quantity: 0}},
				LocationID: locationCBD, Customer: valid,
			},
			wantErr: service.ErrInvalidQuantity,
		},
		{
			name: "quantity above cap after merge",
			req: service.CreateOrderRequest{
				Items: []service.CartItem{
					{ProductID: sufuria.ProductID, Quantity: 15},
					{ProductID: sufuria.ProductID, Quantity: 15},
				},
				LocationID: locationCBD, Customer: valid,
			},
			wantErr: service.ErrInvalidQuantity,
		},
		{
			name: "missing product id",
			req: service.CreateOrderRequest{
				Items:      []service.CartItem{{Quantity: 1}},
				LocationID: locationCBD, Customer: valid,
			},
			wantErr: service.ErrInvalidProduct,
		},
		{
			name: "inactive product",
			req: service.CreateOrderRequest{
				Items:      []service.CartItem{{ProductID: oldKettle.ProductID, Quantity: 1}},
				LocationID: locationCBD, Customer: valid,
			},
			wantErr: service.ErrProductUnavailable,
		},
		{
			name: "unknown variant",
			req: service.CreateOrderRequest{
				Items:      []service.CartItem{{ProductID: jikoLarge.ProductID, VariantID: "v-missing", Quantity: 1}},
				LocationID: locationCBD, Customer: valid,
			},
			wantErr: service.ErrProductUnavailable,
		},
		{
			name: "more than in stock",
			req: service.CreateOrderRequest{
				Items:      []service.CartItem{{ProductID: jikoLarge.ProductID, VariantID: jikoLarge.VariantID, Quantity: 6}},
				LocationID: locationCBD, Customer: valid,
			},
			wantErr: service.ErrInsufficientStock,
		},
		{
			name:    "no customer identity",
			req:     service.CreateOrderRequest{Items: oneSufuria, LocationID: locationCBD, Customer: domain.Customer{Phone: customerPhone}},
			wantErr: service.ErrInvalidCustomer,
		},
		{
			name:    "mpesa without phone",
			req:     service.CreateOrderRequest{Items: oneSufuria, LocationID: locationCBD, Customer: domain.Customer{ID: "cust-1"}},
			wantErr: service.ErrInvalidPhoneNumber,
		},
		{
			name:    "malformed phone",
			req:     service.CreateOrderRequest{Items: oneSufuria, LocationID: locationCBD, Customer: domain.Customer{ID: "cust-1", Phone: "0812345678"}},
			wantErr: service.ErrInvalidPhoneNumber,
		},
		{
			name:    "unsupported payment method",
			req:     service.CreateOrderRequest{Items: oneSufuria, LocationID: locationCBD, PaymentMethod: "PAYPAL", Customer: valid},
			wantErr: service.ErrInvalidPaymentMethod,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			_, err := h.orders.CreateOrder(context.Background(), tc.req)

			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, 0, h.db.CountOrders())
		})
	}
}

func TestCreateOrder_CashOnDeliveryNeedsNoPhone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	order, err := h.orders.CreateOrder(context.Background(), service.CreateOrderRequest{
		Items:         []service.CartItem{{ProductID: sufuria.ProductID, Quantity: 1}},
		LocationID:    locationCBD,
		PaymentMethod: "cash_on_delivery",
		Customer:      domain.Customer{ID: "cust-7"},
	})
	require.NoError(t, err)
	assert.Empty(t, order.Customer.Phone)
}

func TestCreateOrder_RetriesOrderNumberCollision(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.db.FailOrderCreates = 2

	order := h.createOrder(t, 1, "")

	assert.EqualValues(t, 3, h.db.CreateOrderCalls)
	assert.Equal(t, 1, h.db.CountOrders())
	assert.NotNil(t, h.db.Order(order.ID))
}

func TestCreateOrder_GivesUpAfterRepeatedCollisions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.db.FailOrderCreates = 100

	_, err := h.orders.CreateOrder(context.Background(), service.CreateOrderRequest{
		Items:      []service.CartItem{{ProductID: sufuria.ProductID, Quantity: 1}},
		LocationID: locationCBD,
		Customer:   domain.Customer{GuestEmail: "a@example.com", Phone: customerPhone},
	})

	assert.Error(t, err)
	assert.Equal(t, 0, h.db.CountOrders())
}

// ──────────────────────────────────────────────
// 2. DELIVERY AND PROMO LOOKUPS
// ──────────────────────────────────────────────

func TestDelivery_ResolveAndList(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	tier, err := h.delivery.Resolve(ctx, " mombasa ")
	require.NoError(t, err)
	assert.Equal(t, 3, tier.Tier)
	assert.True(t, decimal.NewFromInt(600).Equal(tier.Price))

	_, err = h.delivery.Resolve(ctx, "")
	assert.ErrorIs(t, err, service.ErrLocationNotFound)

	tiers, err := h.delivery.List(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, locationCBD, tiers[0].LocationID)
	assert.True(t, h.cache.Has(redis.DeliveryTiersKey()))
}

func TestPromo_EvaluateHasNoSideEffects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	eval, err := h.promos.Evaluate(context.Background(), "once200", decimal.NewFromInt(150))
	require.NoError(t, err)

	assert.Equal(t, "ONCE200", eval.Code)
	assert.True(t, decimal.NewFromInt(150).Equal(eval.Discount), "discount capped at subtotal, got %s", eval.Discount)
	assert.Equal(t, 0, h.db.PromoUsage("ONCE200"))
}
