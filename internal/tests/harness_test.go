package tests

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"duka/internal/callback"
	"duka/internal/domain"
	"duka/internal/logger"
	"duka/internal/service"
)

// Catalog fixtures.
var (
	sufuria   = domain.ItemRef{ProductID: "p-sufuria"}
	jikoLarge = domain.ItemRef{ProductID: "p-jiko", VariantID: "v-jiko-large"}
	oldKettle = domain.ItemRef{ProductID: "p-kettle"}
)

const (
	locationCBD     = "nairobi-cbd"
	locationMombasa = "mombasa"
	customerPhone   = "0712345678"
	normalizedPhone = "254712345678"
	callbackSecret  = "test-callback-secret"
)

type harness struct {
	db       *MockDB
	locks    *MockLockStore
	cache    *MockCacheStore
	gateway  *MockGateway
	notifier *MockNotifier
	signer   *callback.Signer

	notifications *service.NotificationService
	delivery      *service.DeliveryService
	promos        *service.PromoService
	orders        *service.OrderService
	payments      *service.PaymentService
	reconciler    *service.Reconciler
	poller        *service.Poller
	status        *service.StatusService
	admin         *service.AdminService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := logger.Discard()
	h := &harness{
		db:       NewMockDB(),
		locks:    NewMockLockStore(),
		cache:    NewMockCacheStore(),
		gateway:  NewMockGateway(),
		notifier: &MockNotifier{},
		signer:   callback.NewSigner(callbackSecret, time.Hour, "https://shop.example.co.ke"),
	}
	seedCatalog(h.db)

	h.notifications = service.NewNotificationService(h.notifier, time.Second, log)
	h.delivery = service.NewDeliveryService(h.db.Tiers(), h.cache, log)
	h.promos = service.NewPromoService(h.db.Promos())
	h.orders = service.NewOrderService(h.db.Catalog(), h.db, h.delivery, h.promos, service.OrderConfig{
		MaxLineQuantity: 20,
		MaxLines:        10,
	}, log)
	h.payments = service.NewPaymentService(h.db.Orders(), h.db.Transactions(), h.gateway, h.signer, h.locks, h.cache, service.PaymentConfig{
		CallbackWindow: 90 * time.Second,
		LockTTL:        5 * time.Second,
	}, log)
	h.reconciler = service.NewReconciler(h.db.Transactions(), h.db, h.locks, h.cache, h.notifications, service.ReconcilerConfig{
		LockTTL:        5 * time.Second,
		LockWait:       2 * time.Second,
		LookupAttempts: 3,
		LookupBackoff:  time.Millisecond,
	}, log)
	h.poller = service.NewPoller(h.db.Transactions(), h.gateway, h.reconciler, service.PollerConfig{
		Interval:         time.Hour,
		CallbackWindow:   90 * time.Second,
		ExpireAfter:      10 * time.Minute,
		BatchSize:        10,
		QueriesPerSecond: 1000,
	}, log)
	h.status = service.NewStatusService(h.db.Orders(), h.db.Transactions(), h.cache, log)
	h.admin = service.NewAdminService(h.db, h.db.Orders(), h.cache, h.notifications, log)
	return h
}

func seedCatalog(db *MockDB) {
	db.AddProduct(&domain.CatalogItem{Ref: sufuria, Name: "Sufuria Set", Price: decimal.NewFromInt(1500), Stock: 10, Active: true})
	db.AddProduct(&domain.CatalogItem{Ref: jikoLarge, Name: "Jiko - Large", Price: decimal.RequireFromString("3499.50"), Stock: 5, Active: true})
	db.AddProduct(&domain.CatalogItem{Ref: oldKettle, Name: "Kettle", Price: decimal.NewFromInt(900), Stock: 3, Active: false})

	db.AddTier(&domain.DeliveryTier{LocationID: locationCBD, Tier: 1, Price: decimal.NewFromInt(250), Label: "Nairobi CBD"})
	db.AddTier(&domain.DeliveryTier{LocationID: locationMombasa, Tier: 3, Price: decimal.NewFromInt(600), Label: "Mombasa"})

	now := time.Now()
	db.AddPromo(&domain.PromoCode{
		Code: "KARIBU10", DiscountType: domain.DiscountPercentage, DiscountValue: decimal.NewFromInt(10),
		ValidFrom: now.Add(-24 * time.Hour), ValidUntil: now.Add(24 * time.Hour), UsageLimit: 100, Active: true,
	})
	db.AddPromo(&domain.PromoCode{
		Code: "ONCE200", DiscountType: domain.DiscountFixed, DiscountValue: decimal.NewFromInt(200),
		UsageLimit: 1, Active: true,
	})
	db.AddPromo(&domain.PromoCode{
		Code: "OLDDEAL", DiscountType: domain.DiscountFixed, DiscountValue: decimal.NewFromInt(100),
		ValidUntil: now.Add(-time.Hour), Active: true,
	})
	db.AddPromo(&domain.PromoCode{
		Code: "USEDUP", DiscountType: domain.DiscountFixed, DiscountValue: decimal.NewFromInt(100),
		UsageLimit: 5, UsageCount: 5, Active: true,
	})
	db.AddPromo(&domain.PromoCode{
		Code: "BIGSPEND", DiscountType: domain.DiscountFixed, DiscountValue: decimal.NewFromInt(500),
		MinOrderValue: decimal.NewFromInt(10000), Active: true,
	})
}

// createOrder places an M-Pesa order for qty sufurias delivered to the CBD.
func (h *harness) createOrder(t *testing.T, qty int, promo string) *domain.Order {
	t.Helper()
	order, err := h.orders.CreateOrder(context.Background(), service.CreateOrderRequest{
		Items:      []service.CartItem{{ProductID: sufuria.ProductID, Quantity: qty}},
		LocationID: locationCBD,
		PromoCode:  promo,
		Customer:   domain.Customer{GuestEmail: "wanjiru@example.com", Name: "Wanjiru", Phone: customerPhone},
	})
	require.NoError(t, err)
	return order
}

// initiate starts an M-Pesa payment and returns the transaction.
func (h *harness) initiate(t *testing.T, order *domain.Order) *domain.PaymentTransaction {
	t.Helper()
	txn, err := h.payments.InitiatePayment(context.Background(), service.InitiatePaymentRequest{
		OrderNumber: order.OrderNumber,
		PhoneNumber: customerPhone,
	})
	require.NoError(t, err)
	require.NotEmpty(t, txn.CheckoutRequestID)
	return txn
}

// succeed delivers a success callback for txn.
func (h *harness) succeed(t *testing.T, txn *domain.PaymentTransaction, receipt string) *service.ReconcileResult {
	t.Helper()
	res, err := h.reconciler.Reconcile(context.Background(), successResult(txn, receipt))
	require.NoError(t, err)
	return res
}

func (h *harness) waitNotifications(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.notifications.Wait(ctx))
}

func successResult(txn *domain.PaymentTransaction, receipt string) service.PaymentResult {
	return service.PaymentResult{
		CheckoutRequestID: txn.CheckoutRequestID,
		MerchantRequestID: txn.MerchantRequestID,
		ResultCode:        "0",
		ResultDesc:        "The service request is processed successfully.",
		ReceiptNumber:     receipt,
		Source:            service.SourceCallback,
	}
}

func failureResult(txn *domain.PaymentTransaction, code, desc string) service.PaymentResult {
	return service.PaymentResult{
		CheckoutRequestID: txn.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        desc,
		Source:            service.SourceCallback,
	}
}
