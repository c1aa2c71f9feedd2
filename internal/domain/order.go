package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the fulfilment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusReturned   OrderStatus = "RETURNED"
)

// orderTransitions lists the permitted edges of the order state machine.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusReturned},
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusReturned
}

// CanTransitionTo reports whether moving from s to next is a documented edge.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderPaymentStatus is the payment projection stored on the order.
type OrderPaymentStatus string

const (
	OrderPaymentPending  OrderPaymentStatus = "PENDING"
	OrderPaymentPaid     OrderPaymentStatus = "PAID"
	OrderPaymentRefunded OrderPaymentStatus = "REFUNDED"
)

// PaymentMethod is how the customer intends to pay.
type PaymentMethod string

const (
	PaymentMethodMpesa          PaymentMethod = "MPESA"
	PaymentMethodCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
)

// ParsePaymentMethod maps client input to a PaymentMethod. Empty input defaults to MPESA.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToUpper(strings.TrimSpace(s))) {
	case "", PaymentMethodMpesa:
		return PaymentMethodMpesa, true
	case PaymentMethodCashOnDelivery, "COD":
		return PaymentMethodCashOnDelivery, true
	}
	return "", false
}

// LineItem is a frozen snapshot of one cart line at order time.
type LineItem struct {
	ProductID string
	VariantID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Ref returns the catalog reference this line was priced from.
func (li LineItem) Ref() ItemRef {
	return ItemRef{ProductID: li.ProductID, VariantID: li.VariantID}
}

// Customer identifies who placed the order. Either ID or GuestEmail is set.
type Customer struct {
	ID         string
	GuestEmail string
	Name       string
	Phone      string
}

// Order is the priced aggregate created at checkout.
type Order struct {
	ID             string
	OrderNumber    string
	Customer       Customer
	Items          []LineItem
	LocationID     string
	DeliveryTier   int
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingCost   decimal.Decimal
	Total          decimal.Decimal
	PromoCode      string
	PaymentMethod  PaymentMethod
	Status         OrderStatus
	PaymentStatus  OrderPaymentStatus
	TrackingNumber string
	ReviewRequired bool
	ReviewReason   string
	CancelReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ConfirmedAt    time.Time
	CancelledAt    time.Time
}

// ComputeTotal applies the order total formula.
func ComputeTotal(subtotal, discount, shipping decimal.Decimal) decimal.Decimal {
	return subtotal.Sub(discount).Add(shipping)
}

// TotalConsistent reports whether the stored total matches its components.
func (o *Order) TotalConsistent() bool {
	return o.Total.Equal(ComputeTotal(o.Subtotal, o.DiscountAmount, o.ShippingCost))
}

// TransitionTo moves the order along a documented edge and stamps the timestamps.
func (o *Order) TransitionTo(next OrderStatus, at time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return &StatusTransitionError{From: o.Status, To: next}
	}
	o.Status = next
	o.UpdatedAt = at
	switch next {
	case OrderStatusConfirmed:
		o.ConfirmedAt = at
	case OrderStatusCancelled:
		o.CancelledAt = at
	}
	return nil
}

// Flag marks the order for manual review, keeping earlier reasons.
func (o *Order) Flag(reason string) {
	o.ReviewRequired = true
	if o.ReviewReason == "" {
		o.ReviewReason = reason
		return
	}
	if !strings.Contains(o.ReviewReason, reason) {
		o.ReviewReason += "; " + reason
	}
}

// StatusTransitionError reports an edge missing from the order state machine.
type StatusTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Is lets errors.Is match ErrInvalidStatusTransition.
func (e *StatusTransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}
