package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"duka/internal/domain"
	"duka/internal/redis"
	"duka/internal/repository"
)

// PaymentView is the customer-facing state of one payment attempt.
type PaymentView struct {
	TransactionID     string    `json:"transaction_id"`
	Status            string    `json:"status"`
	Amount            string    `json:"amount"`
	PhoneNumber       string    `json:"phone_number"`
	CheckoutRequestID string    `json:"checkout_request_id,omitempty"`
	ResultCode        string    `json:"result_code,omitempty"`
	ResultDescription string    `json:"result_description,omitempty"`
	ReceiptNumber     string    `json:"receipt_number,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// OrderStatusView is the read model served to the storefront.
type OrderStatusView struct {
	OrderNumber    string          `json:"order_number"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"payment_status"`
	PaymentMethod  string          `json:"payment_method"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Total          decimal.Decimal `json:"total"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Payment        *PaymentView    `json:"payment,omitempty"`
}

// LineItemView is one frozen order line.
type LineItemView struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// AdminOrderView is the full order with every payment attempt, for support staff.
type AdminOrderView struct {
	OrderStatusView
	ID             string         `json:"id"`
	CustomerID     string         `json:"customer_id,omitempty"`
	GuestEmail     string         `json:"guest_email,omitempty"`
	CustomerName   string         `json:"customer_name,omitempty"`
	CustomerPhone  string         `json:"customer_phone,omitempty"`
	LocationID     string         `json:"location_id"`
	DeliveryTier   int            `json:"delivery_tier"`
	PromoCode      string         `json:"promo_code,omitempty"`
	ReviewRequired bool           `json:"review_required"`
	ReviewReason   string         `json:"review_reason,omitempty"`
	CancelReason   string         `json:"cancel_reason,omitempty"`
	Items          []LineItemView `json:"items"`
	Transactions   []*PaymentView `json:"transactions"`
}

// StatusService answers "where is my order" queries from stored state only.
// It never calls the payment gateway.
type StatusService struct {
	orderRepo  repository.OrderRepository
	txnRepo    repository.TransactionRepository
	cacheStore redis.CacheStoreInterface
	log        *slog.Logger
}

// NewStatusService creates a new StatusService. cacheStore may be nil.
func NewStatusService(orderRepo repository.OrderRepository, txnRepo repository.TransactionRepository, cacheStore redis.CacheStoreInterface, log *slog.Logger) *StatusService {
	return &StatusService{
		orderRepo:  orderRepo,
		txnRepo:    txnRepo,
		cacheStore: cacheStore,
		log:        log,
	}
}

// GetStatus returns the status view for an order number or a tracking number.
func (s *StatusService) GetStatus(ctx context.Context, ref string) (*OrderStatusView, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrOrderNotFound
	}

	if s.cacheStore != nil {
		var cached OrderStatusView
		if hit, err := s.cacheStore.GetJSON(ctx, redis.OrderStatusKey(ref), &cached); err == nil && hit {
			return &cached, nil
		}
	}

	order, err := s.findOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	txns, err := s.txnRepo.ListByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	view := statusViewOf(order, domain.MostRelevant(txns))
	if s.cacheStore != nil {
		s.cacheView(ctx, order, txns, view)
	}
	return view, nil
}

// cacheView stores view under the order number, the key state changes invalidate, and
// drops it again when the order moved on while the view was built. Writers invalidate
// after commit, so a view stored before their commit is cleared by them and one stored
// after it is cleared here.
func (s *StatusService) cacheView(ctx context.Context, order *domain.Order, txns []*domain.PaymentTransaction, view *OrderStatusView) {
	key := redis.OrderStatusKey(order.OrderNumber)
	if err := s.cacheStore.SetJSON(ctx, key, view, redis.OrderStatusCacheTTL); err != nil {
		s.log.WarnContext(ctx, "cache order status", "order_number", order.OrderNumber, "error", err)
		return
	}

	current, err := s.orderRepo.GetByID(ctx, order.ID)
	var currentTxns []*domain.PaymentTransaction
	if err == nil {
		currentTxns, err = s.txnRepo.ListByOrderID(ctx, order.ID)
	}
	if err == nil && versionOf(current, currentTxns).Equal(versionOf(order, txns)) {
		return
	}
	if err := s.cacheStore.Invalidate(ctx, key); err != nil {
		s.log.WarnContext(ctx, "drop stale order status", "order_number", order.OrderNumber, "error", err)
	}
}

// versionOf is the latest update time across the order and its transactions.
func versionOf(order *domain.Order, txns []*domain.PaymentTransaction) time.Time {
	v := order.UpdatedAt
	for _, t := range txns {
		if t.UpdatedAt.After(v) {
			v = t.UpdatedAt
		}
	}
	return v
}

// GetAdminView returns the order with line items and the full payment history.
func (s *StatusService) GetAdminView(ctx context.Context, ref string) (*AdminOrderView, error) {
	order, err := s.findOrder(ctx, strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	txns, err := s.txnRepo.ListByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return adminViewOf(order, txns), nil
}

// ListForReview returns orders flagged for manual review.
func (s *StatusService) ListForReview(ctx context.Context, limit int) ([]*AdminOrderView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	orders, err := s.orderRepo.ListForReview(ctx, limit)
	if err != nil {
		return nil, err
	}

	views := make([]*AdminOrderView, 0, len(orders))
	for _, order := range orders {
		txns, err := s.txnRepo.ListByOrderID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, adminViewOf(order, txns))
	}
	return views, nil
}

// findOrder tries the order number first and falls back to the tracking number.
func (s *StatusService) findOrder(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, ErrOrderNotFound
	}

	order, err := s.orderRepo.GetByNumber(ctx, ref)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	order, err = s.orderRepo.GetByTrackingNumber(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

func statusViewOf(order *domain.Order, txn *domain.PaymentTransaction) *OrderStatusView {
	view := &OrderStatusView{
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		TrackingNumber: order.TrackingNumber,
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		ShippingCost:   order.ShippingCost,
		Total:          order.Total,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	if txn != nil {
		view.Payment = paymentViewOf(txn)
	}
	return view
}

func adminViewOf(order *domain.Order, txns []*domain.PaymentTransaction) *AdminOrderView {
	view := &AdminOrderView{
		OrderStatusView: *statusViewOf(order, domain.MostRelevant(txns)),
		ID:              order.ID,
		CustomerID:      order.Customer.ID,
		GuestEmail:      order.Customer.GuestEmail,
		CustomerName:    order.Customer.Name,
		CustomerPhone:   order.Customer.Phone,
		LocationID:      order.LocationID,
		DeliveryTier:    order.DeliveryTier,
		PromoCode:       order.PromoCode,
		ReviewRequired:  order.ReviewRequired,
		ReviewReason:    order.ReviewReason,
		CancelReason:    order.CancelReason,
		Items:           make([]LineItemView, 0, len(order.Items)),
		Transactions:    make([]*PaymentView, 0, len(txns)),
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, LineItemView{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	for _, txn := range txns {
		view.Transactions = append(view.Transactions, paymentViewOf(txn))
	}
	return view
}

func paymentViewOf(txn *domain.PaymentTransaction) *PaymentView {
	return &PaymentView{
		TransactionID:     txn.ID,
		Status:            string(txn.Status),
		Amount:            txn.Amount.StringFixed(2),
		PhoneNumber:       txn.PhoneNumber,
		CheckoutRequestID: txn.CheckoutRequestID,
		ResultCode:        txn.ResultCode,
		ResultDescription: txn.ResultDescription,
		ReceiptNumber:     txn.ReceiptNumber,
		CreatedAt:         txn.CreatedAt,
		UpdatedAt:         txn.UpdatedAt,
	}
}
