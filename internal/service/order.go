package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"duka/internal/domain"
	"duka/internal/repository"
)

const (
	orderNumberAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	orderNumberSuffixLen = 6
	orderNumberAttempts  = 5
)

// OrderConfig holds cart limits.
type OrderConfig struct {
	MaxLineQuantity int
	MaxLines        int
}

// OrderService builds priced orders from carts.
type OrderService struct {
	catalogRepo     repository.CatalogRepository
	uow             repository.UnitOfWork
	deliveryService *DeliveryService
	promoService    *PromoService
	cfg             OrderConfig
	log             *slog.Logger
	now             func() time.Time
}

// NewOrderService creates a new OrderService.
func NewOrderService(
	catalogRepo repository.CatalogRepository,
	uow repository.UnitOfWork,
	deliveryService *DeliveryService,
	promoService *PromoService,
	cfg OrderConfig,
	log *slog.Logger,
) *OrderService {
	if cfg.MaxLineQuantity <= 0 {
		cfg.MaxLineQuantity = 100
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = 50
	}
	return &OrderService{
		catalogRepo:     catalogRepo,
		uow:             uow,
		deliveryService: deliveryService,
		promoService:    promoService,
		cfg:             cfg,
		log:             log,
		now:             time.Now,
	}
}

// CartItem is one requested line. UnitPrice is whatever the client displayed and is ignored.
type CartItem struct {
	ProductID string
	VariantID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// CreateOrderRequest contains the parameters for creating an order.
type CreateOrderRequest struct {
	Items         []CartItem
	LocationID    string
	PromoCode     string
	PaymentMethod string
	Customer      domain.Customer
}

// CreateOrder prices the cart from the catalog, resolves delivery and promo, and persists
// a PENDING order. Nothing is written when any step fails. Stock is not reserved here.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	method, ok := domain.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, req.PaymentMethod)
	}

	customer, err := s.validateCustomer(req.Customer, method)
	if err != nil {
		return nil, err
	}

	lines, err := s.validateItems(req.Items)
	if err != nil {
		return nil, err
	}

	items, subtotal, err := s.priceLines(ctx, lines)
	if err != nil {
		return nil, err
	}

	tier, err := s.deliveryService.Resolve(ctx, req.LocationID)
	if err != nil {
		return nil, err
	}

	discount := decimal.Zero
	promoCode := ""
	if strings.TrimSpace(req.PromoCode) != "" {
		eval, err := s.promoService.Evaluate(ctx, req.PromoCode, subtotal)
		if err != nil {
			return nil, err
		}
		discount = eval.Discount
		promoCode = eval.Code
	}

	now := s.now().UTC()
	order := &domain.Order{
		ID:             uuid.New().String(),
		Customer:       customer,
		Items:          items,
		LocationID:     tier.LocationID,
		DeliveryTier:   tier.Tier,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		ShippingCost:   tier.Price,
		Total:          domain.ComputeTotal(subtotal, discount, tier.Price),
		PromoCode:      promoCode,
		PaymentMethod:  method,
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.OrderPaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.persist(ctx, order); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "order created",
		"order_number", order.OrderNumber,
		"total", order.Total.String(),
		"promo_code", order.PromoCode,
		"location_id", order.LocationID,
	)
	return order, nil
}

// persist inserts the order, drawing a fresh number if the generated one is taken.
func (s *OrderService) persist(ctx context.Context, order *domain.Order) error {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		number, err := newOrderNumber(order.CreatedAt)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		err = s.uow.WithinTx(ctx, func(store repository.Store) error {
			return store.Orders().Create(ctx, order)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateOrderNumber) {
			return fmt.Errorf("create order: %w", err)
		}
		s.log.WarnContext(ctx, "order number collision", "order_number", number)
	}
	return fmt.Errorf("create order: %w", repository.ErrDuplicateOrderNumber)
}

func (s *OrderService) validateCustomer(c domain.Customer, method domain.PaymentMethod) (domain.Customer, error) {
	c.ID = strings.TrimSpace(c.ID)
	c.GuestEmail = strings.ToLower(strings.TrimSpace(c.GuestEmail))
	c.Name = strings.TrimSpace(c.Name)

	if c.ID == "" && c.GuestEmail == "" {
		return c, ErrInvalidCustomer
	}
	if c.GuestEmail != "" && !strings.Contains(c.GuestEmail, "@") {
		return c, fmt.Errorf("%w: malformed email", ErrInvalidCustomer)
	}

	if c.Phone != "" || method == domain.PaymentMethodMpesa {
		phone, err := NormalizePhoneNumber(c.Phone)
		if err != nil {
			return c, err
		}
		c.Phone = phone
	}
	return c, nil
}

// validateItems checks quantities and merges lines that point at the same catalog entry.
func (s *OrderService) validateItems(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	if len(items) > s.cfg.MaxLines {
		return nil, fmt.Errorf("%w: %d lines, limit %d", ErrTooManyLines, len(items), s.cfg.MaxLines)
	}

	index := make(map[domain.ItemRef]int, len(items))
	merged := make([]CartItem, 0, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.VariantID = strings.TrimSpace(item.VariantID)
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: line %d", ErrInvalidProduct, i)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d has quantity %d", ErrInvalidQuantity, i, item.Quantity)
		}

		ref := domain.ItemRef{ProductID: item.ProductID, VariantID: item.VariantID}
		if at, ok := index[ref]; ok {
			merged[at].Quantity += item.Quantity
			continue
		}
		index[ref] = len(merged)
		merged = append(merged, item)
	}

	for _, item := range merged {
		if item.Quantity > s.cfg.MaxLineQuantity {
			return nil, fmt.Errorf("%w: %s exceeds %d units", ErrInvalidQuantity, item.ProductID, s.cfg.MaxLineQuantity)
		}
	}
	return merged, nil
}

// priceLines snapshots server-side prices for every line.
func (s *OrderService) priceLines(ctx context.Context, lines []CartItem) ([]domain.LineItem, decimal.Decimal, error) {
	refs := make([]domain.ItemRef, len(lines))
	for i, line := range lines {
		refs[i] = domain.ItemRef{ProductID: line.ProductID, VariantID: line.VariantID}
	}

	catalog, err := s.catalogRepo.Lookup(ctx, refs)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("lookup catalog: %w", err)
	}

	subtotal := decimal.Zero
	items := make([]domain.LineItem, 0, len(lines))
	for i, line := range lines {
		entry, ok := catalog[refs[i]]
		if !ok || !entry.Active {
			return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrProductUnavailable, describeRef(refs[i]))
		}
		if entry.Stock < line.Quantity {
			return nil, decimal.Zero, fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, describeRef(refs[i]), entry.Stock)
		}

		lineTotal := entry.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, domain.LineItem{
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Name:      entry.Name,
			Quantity:  line.Quantity,
			UnitPrice: entry.Price,
			LineTotal: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}
	return items, subtotal, nil
}

func describeRef(ref domain.ItemRef) string {
	if ref.VariantID == "" {
		return ref.ProductID
	}
	return ref.ProductID + "/" + ref.VariantID
}

// newOrderNumber returns ORD-<yymmddHHMMSS>-<6 random characters>.
func newOrderNumber(at time.Time) (string, error) {
	var b strings.Builder
	b.WriteString("ORD-")
	b.WriteString(at.UTC().Format("060102150405"))
	b.WriteByte('-')

	max := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := 0; i < orderNumberSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate order number: %w", err)
		}
		b.WriteByte(orderNumberAlphabet[n.Int64()])
	}
	return b.String(), nil
}
